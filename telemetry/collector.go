// Package telemetry provides navigation health tracking, bookmarking, perf phases and run output.
package telemetry

import "github.com/pthm-cable/navgraph/navgraph"

// Collector accumulates navigation events within time windows and produces WindowStats.
type Collector struct {
	windowDurationSec   float64
	windowDurationTicks int32
	dt                  float64

	// Current window tracking
	windowStartTick int32

	// Event counters for current window
	sectorsLoaded   int
	sectorsUnloaded int
	doorToggles     int
	pathsFound      int
	pathsNotFound   int
	anchorsLost     int
	repaths         int
	slicesDenied    int
	arrivals        int
	counters        navgraph.FrameCounters

	pathCosts       []float64
	framesPerSearch []float64
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per tick (used for tick-to-time conversion)
func NewCollector(windowDurationSec, dt float64) *Collector {
	ticksPerWindow := int32(windowDurationSec / dt)
	if ticksPerWindow < 1 {
		ticksPerWindow = 1
	}

	return &Collector{
		windowDurationSec:   windowDurationSec,
		windowDurationTicks: ticksPerWindow,
		dt:                  dt,
	}
}

// RecordStream records one streaming update.
func (c *Collector) RecordStream(loaded, unloaded int) {
	c.sectorsLoaded += loaded
	c.sectorsUnloaded += unloaded
}

// RecordDoorToggle records the doors opening or closing.
func (c *Collector) RecordDoorToggle() {
	c.doorToggles++
}

// RecordPathFound records a finished search and the number of frames it took.
func (c *Collector) RecordPathFound(cost float64, frames int) {
	c.pathsFound++
	c.pathCosts = append(c.pathCosts, cost)
	c.framesPerSearch = append(c.framesPerSearch, float64(frames))
}

// RecordPathNotFound records a search that exhausted its open list.
func (c *Collector) RecordPathNotFound() {
	c.pathsNotFound++
}

// RecordAnchorLost records an agent whose vertex went away with its graph.
func (c *Collector) RecordAnchorLost() {
	c.anchorsLost++
}

// RecordRepath records a path dropped because it stopped being valid.
func (c *Collector) RecordRepath() {
	c.repaths++
}

// RecordSliceDenied records a search that got no time this frame.
func (c *Collector) RecordSliceDenied() {
	c.slicesDenied++
}

// RecordArrival records an agent reaching its goal.
func (c *Collector) RecordArrival() {
	c.arrivals++
}

// RecordFrameCounters adds the counters of one frame.
func (c *Collector) RecordFrameCounters(fc navgraph.FrameCounters) {
	c.counters.AstarLoops += fc.AstarLoops
	c.counters.FindNearbyVertices += fc.FindNearbyVertices
	c.counters.StitchedCells += fc.StitchedCells
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int32) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// ManagerState is the manager and agent state sampled at window end.
type ManagerState struct {
	Graphs            int
	AdditionalGraphs  int
	WaitingAdditional int
	VirtualEdges      int
	LockedVolumes     int
	StitchVersion     uint64
	Bots              int
}

// SampleManager reads the state of m.
func SampleManager(m *navgraph.GraphManager, bots int) ManagerState {
	return ManagerState{
		Graphs:            m.StitchData().GraphCount(),
		AdditionalGraphs:  m.StitchData().AdditionalGraphCount(),
		WaitingAdditional: m.WaitingAdditionalGraphCount(),
		VirtualEdges:      m.VirtualEdgeCount(),
		LockedVolumes:     m.EdgeLocker().Count(),
		StitchVersion:     m.StitchVersion(),
		Bots:              bots,
	}
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(currentTick int32, state ManagerState) WindowStats {
	costMean, costP50, costP90 := ComputeDistribution(c.pathCosts)
	_, framesP50, framesP90 := ComputeDistribution(c.framesPerSearch)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * c.dt,

		Graphs:            state.Graphs,
		AdditionalGraphs:  state.AdditionalGraphs,
		WaitingAdditional: state.WaitingAdditional,
		VirtualEdges:      state.VirtualEdges,
		LockedVolumes:     state.LockedVolumes,
		StitchVersion:     state.StitchVersion,
		Bots:              state.Bots,

		SectorsLoaded:   c.sectorsLoaded,
		SectorsUnloaded: c.sectorsUnloaded,
		DoorToggles:     c.doorToggles,

		PathsFound:    c.pathsFound,
		PathsNotFound: c.pathsNotFound,
		AnchorsLost:   c.anchorsLost,
		Repaths:       c.repaths,
		SlicesDenied:  c.slicesDenied,
		Arrivals:      c.arrivals,

		AstarLoops:         c.counters.AstarLoops,
		FindNearbyVertices: c.counters.FindNearbyVertices,
		StitchedCells:      c.counters.StitchedCells,

		PathCostMean: costMean,
		PathCostP50:  costP50,
		PathCostP90:  costP90,

		FramesPerSearchP50: framesP50,
		FramesPerSearchP90: framesP90,
	}

	// Reset for next window
	c.windowStartTick = currentTick
	c.sectorsLoaded = 0
	c.sectorsUnloaded = 0
	c.doorToggles = 0
	c.pathsFound = 0
	c.pathsNotFound = 0
	c.anchorsLost = 0
	c.repaths = 0
	c.slicesDenied = 0
	c.arrivals = 0
	c.counters.Reset()
	c.pathCosts = c.pathCosts[:0]
	c.framesPerSearch = c.framesPerSearch[:0]

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int32 {
	return c.windowDurationTicks
}
