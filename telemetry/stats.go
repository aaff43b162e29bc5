package telemetry

import (
	"log/slog"
	"sort"
)

// WindowStats holds aggregated navigation statistics for a time window.
type WindowStats struct {
	WindowStartTick int32   `csv:"-"`
	WindowEndTick   int32   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Manager state at window end
	Graphs            int    `csv:"graphs"`
	AdditionalGraphs  int    `csv:"additional_graphs"`
	WaitingAdditional int    `csv:"waiting_additional"`
	VirtualEdges      int    `csv:"virtual_edges"`
	LockedVolumes     int    `csv:"locked_volumes"`
	StitchVersion     uint64 `csv:"stitch_version"`
	Bots              int    `csv:"bots"`

	// Streaming during window
	SectorsLoaded   int `csv:"sectors_loaded"`
	SectorsUnloaded int `csv:"sectors_unloaded"`
	DoorToggles     int `csv:"door_toggles"`

	// Planning during window
	PathsFound    int `csv:"paths_found"`
	PathsNotFound int `csv:"paths_not_found"`
	AnchorsLost   int `csv:"anchors_lost"`
	Repaths       int `csv:"repaths"`
	SlicesDenied  int `csv:"slices_denied"`
	Arrivals      int `csv:"arrivals"`

	// Frame counters summed over the window
	AstarLoops         int `csv:"astar_loops"`
	FindNearbyVertices int `csv:"find_nearby_vertices"`
	StitchedCells      int `csv:"stitched_cells"`

	// Distribution of the costs of paths found
	PathCostMean float64 `csv:"path_cost_mean"`
	PathCostP50  float64 `csv:"path_cost_p50"`
	PathCostP90  float64 `csv:"path_cost_p90"`

	// Frames a search stayed in construction before finishing
	FramesPerSearchP50 float64 `csv:"frames_per_search_p50"`
	FramesPerSearchP90 float64 `csv:"frames_per_search_p90"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDistribution calculates mean and percentiles of values.
func ComputeDistribution(values []float64) (mean, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	return mean, Percentile(sorted, 0.50), Percentile(sorted, 0.90)
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", int(s.WindowStartTick)),
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("graphs", s.Graphs),
		slog.Int("additional_graphs", s.AdditionalGraphs),
		slog.Int("waiting_additional", s.WaitingAdditional),
		slog.Int("virtual_edges", s.VirtualEdges),
		slog.Int("locked_volumes", s.LockedVolumes),
		slog.Uint64("stitch_version", s.StitchVersion),
		slog.Int("bots", s.Bots),
		slog.Int("sectors_loaded", s.SectorsLoaded),
		slog.Int("sectors_unloaded", s.SectorsUnloaded),
		slog.Int("door_toggles", s.DoorToggles),
		slog.Int("paths_found", s.PathsFound),
		slog.Int("paths_not_found", s.PathsNotFound),
		slog.Int("anchors_lost", s.AnchorsLost),
		slog.Int("repaths", s.Repaths),
		slog.Int("slices_denied", s.SlicesDenied),
		slog.Int("arrivals", s.Arrivals),
		slog.Int("astar_loops", s.AstarLoops),
		slog.Int("find_nearby_vertices", s.FindNearbyVertices),
		slog.Int("stitched_cells", s.StitchedCells),
		slog.Float64("path_cost_mean", s.PathCostMean),
		slog.Float64("path_cost_p50", s.PathCostP50),
		slog.Float64("path_cost_p90", s.PathCostP90),
		slog.Float64("frames_per_search_p50", s.FramesPerSearchP50),
		slog.Float64("frames_per_search_p90", s.FramesPerSearchP90),
	)
}
