package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pthm-cable/navgraph/navgraph"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveState(ManagerState{Graphs: 4, VirtualEdges: 12, LockedVolumes: 1, Bots: 6})
	m.ObserveFrame(navgraph.FrameCounters{AstarLoops: 30, FindNearbyVertices: 2}, 3*time.Millisecond)
	m.ObserveFrame(navgraph.FrameCounters{AstarLoops: 10}, time.Millisecond)
	m.ObserveSearch(navgraph.AstarPathFound, 25)
	m.ObserveSearch(navgraph.AstarPathNotFound, 0)
	m.ObserveSearch(navgraph.AstarPathFound, 40)
	m.ObserveStream(3, 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.graphs))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.virtualEdges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockedVolumes))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.astarLoops))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.findNearby))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.searches.WithLabelValues("path_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("path_not_found")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sectors.WithLabelValues("in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sectors.WithLabelValues("out")))

	n, err := testutil.GatherAndCount(reg, "navgraph_frame_duration_seconds", "navgraph_path_cost")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveState(ManagerState{Graphs: 1})
	m.ObserveFrame(navgraph.FrameCounters{}, time.Millisecond)
	m.ObserveSearch(navgraph.AstarPathFound, 1)
	m.ObserveStream(1, 1)
}

func TestMetricsWithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveStream(2, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sectors.WithLabelValues("in")))
}
