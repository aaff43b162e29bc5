package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthm-cable/navgraph/navgraph"
)

const namespace = "navgraph"

// Metrics exports navigation state to prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	graphs            prometheus.Gauge
	additionalGraphs  prometheus.Gauge
	waitingAdditional prometheus.Gauge
	virtualEdges      prometheus.Gauge
	lockedVolumes     prometheus.Gauge
	bots              prometheus.Gauge

	astarLoops    prometheus.Counter
	findNearby    prometheus.Counter
	stitchedCells prometheus.Counter
	searches      *prometheus.CounterVec
	sectors       *prometheus.CounterVec

	frameDuration prometheus.Histogram
	pathCost      prometheus.Histogram
}

// NewMetrics registers the navigation metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	return &Metrics{
		graphs:            gauge("graphs", "Resident static graphs."),
		additionalGraphs:  gauge("additional_graphs", "Resident PathObject topologies."),
		waitingAdditional: gauge("waiting_additional_graphs", "PathObject topologies waiting for their anchor cell."),
		virtualEdges:      gauge("virtual_edges", "Live virtual edges."),
		lockedVolumes:     gauge("locked_volumes", "Edge lock volumes in force."),
		bots:              gauge("bots", "Agents in the simulation."),

		astarLoops:    counter("astar_loops_total", "Nodes expanded by path searches."),
		findNearby:    counter("find_nearby_vertices_total", "Nearby vertex queries run."),
		stitchedCells: counter("stitched_cells_total", "Graph cells stitched."),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Finished path searches by outcome.",
		}, []string{"status"}),
		sectors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sectors_streamed_total",
			Help:      "Sectors streamed by direction.",
		}, []string{"direction"}),

		frameDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Wall time of a frame step.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		}),
		pathCost: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "path_cost",
			Help:      "Cost of the paths found.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// ObserveState sets the gauges from a state sample.
func (m *Metrics) ObserveState(s ManagerState) {
	if m == nil {
		return
	}
	m.graphs.Set(float64(s.Graphs))
	m.additionalGraphs.Set(float64(s.AdditionalGraphs))
	m.waitingAdditional.Set(float64(s.WaitingAdditional))
	m.virtualEdges.Set(float64(s.VirtualEdges))
	m.lockedVolumes.Set(float64(s.LockedVolumes))
	m.bots.Set(float64(s.Bots))
}

// ObserveFrame records the counters and wall time of one frame.
func (m *Metrics) ObserveFrame(fc navgraph.FrameCounters, d time.Duration) {
	if m == nil {
		return
	}
	m.astarLoops.Add(float64(fc.AstarLoops))
	m.findNearby.Add(float64(fc.FindNearbyVertices))
	m.stitchedCells.Add(float64(fc.StitchedCells))
	m.frameDuration.Observe(d.Seconds())
}

// ObserveSearch records a finished search.
func (m *Metrics) ObserveSearch(status navgraph.AstarStatus, cost float64) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(status.String()).Inc()
	if status == navgraph.AstarPathFound {
		m.pathCost.Observe(cost)
	}
}

// ObserveStream records a streaming update.
func (m *Metrics) ObserveStream(loaded, unloaded int) {
	if m == nil {
		return
	}
	m.sectors.WithLabelValues("in").Add(float64(loaded))
	m.sectors.WithLabelValues("out").Add(float64(unloaded))
}
