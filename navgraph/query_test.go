package navgraph

import (
	"testing"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindVertexPtrsInBox3fTruncation(t *testing.T) {
	m := newTestManager()
	_, err := m.AddGraph(sector(t, 0, 0))
	require.NoError(t, err)
	whole := geom.BoxAround(geom.V3(5, 5, 0), 5, 1)

	exact := make([]VertexPtr, 5)
	n, ev := m.FindVertexPtrsInBox3f(whole, exact)
	assert.Equal(t, 5, n)
	assert.False(t, ev.Has(SearchNodeTooMuchNodeCollected), "exactly len(out) matches is not truncation")

	short := make([]VertexPtr, 4)
	n, ev = m.FindVertexPtrsInBox3f(whole, short)
	assert.Equal(t, 4, n)
	assert.True(t, ev.Has(SearchNodeTooMuchNodeCollected))

	n, ev = m.FindVertexPtrsInBox3f(geom.BoxAround(geom.V3(500, 500, 0), 1, 1), exact)
	assert.Zero(t, n)
	assert.True(t, ev.Has(SearchNodeNoNodeFound))

	safe := make([]VertexSafePtr, 5)
	n, _ = m.FindVertexSafePtrsInBox3f(whole, safe)
	require.Equal(t, 5, n)
	for i := range n {
		v, ok := m.ResolveVertex(safe[i])
		require.True(t, ok)
		assert.Equal(t, exact[i], v)
	}
}

func TestFindNearbyGrowsAndCounts(t *testing.T) {
	counters := &FrameCounters{}
	m := newTestManager(WithFrameCounters(counters))
	_, err := m.AddGraph(sector(t, 0, 0))
	require.NoError(t, err)

	out := make([]VertexPtr, 8)
	n, ev := m.FindNearbyVertexPtrs(geom.V3(5, 5, 0), out)
	assert.Equal(t, 5, n)
	assert.Zero(t, ev)

	// Out of reach of the first square; found once it has grown.
	n, _ = m.FindNearbyVertexPtrs(geom.V3(30, 5, 0), out)
	assert.Equal(t, 5, n)

	n, ev = m.FindNearbyVertexPtrs(geom.V3(500, 500, 0), out)
	assert.Zero(t, n)
	assert.True(t, ev.Has(SearchNodeNoNodeFound))
	assert.Equal(t, 3, counters.FindNearbyVertices)

	safe := make([]VertexSafePtr, 8)
	n, _ = m.FindNearbyVertexSafePtrs(geom.V3(5, 5, 0), safe)
	assert.Equal(t, 5, n)
	assert.False(t, safe[0].IsZero())
}

func TestFindNearbyTruncation(t *testing.T) {
	m := newTestManager()
	_, err := m.AddGraph(sector(t, 0, 0))
	require.NoError(t, err)
	center := geom.V3(5, 5, 0)

	exact := make([]VertexPtr, 5)
	n, ev := m.FindNearbyVertexPtrs(center, exact)
	assert.Equal(t, 5, n)
	assert.False(t, ev.Has(SearchNodeTooMuchNodeCollected), "exactly len(out) matches is not truncation")

	short := make([]VertexPtr, 4)
	n, ev = m.FindNearbyVertexPtrs(center, short)
	assert.Equal(t, 4, n)
	assert.True(t, ev.Has(SearchNodeTooMuchNodeCollected))
	assert.Equal(t, exact[:4], short)

	n, ev = m.FindNearbyVertexPtrsInAltitudeRange(center, 1, short)
	assert.Equal(t, 4, n)
	assert.True(t, ev.Has(SearchNodeTooMuchNodeCollected))

	safe := make([]VertexSafePtr, 5)
	n, ev = m.FindNearbyVertexSafePtrs(center, safe)
	assert.Equal(t, 5, n)
	assert.False(t, ev.Has(SearchNodeTooMuchNodeCollected))
	n, ev = m.FindNearbyVertexSafePtrs(center, safe[:4])
	assert.Equal(t, 4, n)
	assert.True(t, ev.Has(SearchNodeTooMuchNodeCollected))
}

func TestFindNearbyAltitudeRange(t *testing.T) {
	b := graph.NewBuilder(graph.GuidFromName("stairs"), testCellSize)
	low := b.AddVertex(geom.V3(5, 5, 0), graph.TerrainDefault)
	high := b.AddVertex(geom.V3(6, 5, 8), graph.TerrainLadder)
	b.AddBidirectionalEdge(low, high)
	g, err := b.Build()
	require.NoError(t, err)

	m := newTestManager()
	_, err = m.AddGraph(g)
	require.NoError(t, err)

	out := make([]VertexPtr, 4)
	n, _ := m.FindNearbyVertexPtrsInAltitudeRange(geom.V3(5, 5, 0), 2, out)
	require.Equal(t, 1, n)
	assert.Equal(t, geom.V3(5, 5, 0), out[0].Position())

	n, _ = m.FindNearbySortedVertexPtrsInAltitudeRange(geom.V3(5, 5, 7), 2, out, nil)
	require.Equal(t, 1, n)
	assert.Equal(t, graph.TerrainLadder, out[0].TerrainType())

	n, _ = m.FindNearbyVertexPtrs(geom.V3(5, 5, 0), out)
	assert.Equal(t, 2, n)

	safe := make([]VertexSafePtr, 4)
	n, _ = m.FindNearbyVertexSafePtrsInAltitudeRange(geom.V3(5, 5, 0), 2, safe)
	require.Equal(t, 1, n)
	v, ok := m.ResolveVertex(safe[0])
	require.True(t, ok)
	assert.Equal(t, geom.V3(5, 5, 0), v.Position())

	costs := make([]float64, 4)
	n, _ = m.FindNearbySortedVertexSafePtrsInAltitudeRange(geom.V3(5, 5, 7), 2, safe, costs, nil)
	require.Equal(t, 1, n)
	v, ok = m.ResolveVertex(safe[0])
	require.True(t, ok)
	assert.Equal(t, graph.TerrainLadder, v.TerrainType())
	assert.InDelta(t, geom.Dist(geom.V3(5, 5, 7), geom.V3(6, 5, 8)), costs[0], 1e-9)
}

func TestFindNearbySorted(t *testing.T) {
	m := newTestManager()
	_, err := m.AddGraph(sector(t, 0, 0))
	require.NoError(t, err)
	center := geom.V3(5, 5, 0)

	// Every boundary vertex costs the same; ties keep the gathering order
	// (boundary vertices east, north, west, south).
	flat := func(pos geom.Vec3, v VertexPtr) (float64, SearchNodeEvent) {
		if v.Position() == center {
			return 0, 0
		}
		return 1, 0
	}
	out := make([]VertexPtr, 5)
	n, ev := m.FindNearbySortedVertexPtrs(center, out, flat)
	require.Equal(t, 5, n)
	assert.Zero(t, ev)
	want := []geom.Vec3{center, geom.V3(9.9, 5, 0), geom.V3(5, 9.9, 0), geom.V3(0.1, 5, 0), geom.V3(5, 0.1, 0)}
	for i, p := range want {
		assert.Equal(t, p, out[i].Position(), "rank %d", i)
	}

	noNorth := func(pos geom.Vec3, v VertexPtr) (float64, SearchNodeEvent) {
		if v.Position().Y > 9 {
			return 0, SearchNodeBlockedByConstraint
		}
		return DistanceCost(pos, v)
	}
	n, ev = m.FindNearbySortedVertexPtrs(center, out, noNorth)
	assert.Equal(t, 4, n)
	assert.True(t, ev.Has(SearchNodeBlockedByConstraint))
	for _, v := range out[:n] {
		assert.NotEqual(t, geom.V3(5, 9.9, 0), v.Position())
	}

	two := make([]VertexPtr, 2)
	n, ev = m.FindNearbySortedVertexPtrs(center, two, nil)
	assert.Equal(t, 2, n)
	assert.True(t, ev.Has(SearchNodeTooMuchNodeCollected))
	assert.Equal(t, center, two[0].Position())

	none := func(geom.Vec3, VertexPtr) (float64, SearchNodeEvent) { return 0, SearchNodeBlockedByConstraint }
	n, ev = m.FindNearbySortedVertexPtrs(center, out, none)
	assert.Zero(t, n)
	assert.True(t, ev.Has(SearchNodeNoNodeFound))
	assert.True(t, ev.Has(SearchNodeBlockedByConstraint))

	safe := make([]VertexSafePtr, 1)
	n, _ = m.FindNearbySortedVertexSafePtrs(geom.V3(9, 5, 0), safe, nil, nil)
	require.Equal(t, 1, n)
	v, ok := m.ResolveVertex(safe[0])
	require.True(t, ok)
	assert.Equal(t, geom.V3(9.9, 5, 0), v.Position())

	// costs shorter than out is filled as far as it goes.
	safe = make([]VertexSafePtr, 3)
	costs := make([]float64, 2)
	n, _ = m.FindNearbySortedVertexSafePtrs(geom.V3(9, 5, 0), safe, costs, nil)
	require.Equal(t, 3, n)
	assert.InDelta(t, 0.9, costs[0], 1e-9)
	assert.InDelta(t, 4, costs[1], 1e-9)
	v, ok = m.ResolveVertex(safe[1])
	require.True(t, ok)
	assert.Equal(t, center, v.Position())
}

func TestBuiltinVertexCosts(t *testing.T) {
	b := graph.NewBuilder(graph.GuidFromName("pond"), testCellSize)
	dry := b.AddVertex(geom.V3(2, 5, 0), graph.TerrainDefault)
	wet := b.AddVertex(geom.V3(8, 5, 0), graph.TerrainWater)
	b.AddBidirectionalEdge(dry, wet)
	g, err := b.Build()
	require.NoError(t, err)

	m := newTestManager()
	_, err = m.AddGraph(g)
	require.NoError(t, err)
	out := make([]VertexPtr, 4)

	n, ev := m.FindNearbySortedVertexPtrs(geom.V3(5, 5, 0), out, TerrainCost(graph.TerrainMask(graph.TerrainDefault)))
	require.Equal(t, 1, n)
	assert.Equal(t, geom.V3(2, 5, 0), out[0].Position())
	assert.True(t, ev.Has(SearchNodeBlockedByLpfConstraint))

	westOnly := CanGoFunc(func(from, to geom.Vec3) bool { return to.X < from.X })
	n, ev = m.FindNearbySortedVertexPtrs(geom.V3(5, 5, 0), out, ReachableCost(westOnly))
	require.Equal(t, 1, n)
	assert.Equal(t, geom.V3(2, 5, 0), out[0].Position())
	assert.True(t, ev.Has(SearchNodeBlockedByCanGo))
}

func TestQueriesBeforeAnyGraph(t *testing.T) {
	m := New(Config{}, WithLogger(quietLogger()))
	out := make([]VertexPtr, 4)
	n, ev := m.FindNearbyVertexPtrs(geom.V3(0, 0, 0), out)
	assert.Zero(t, n)
	assert.True(t, ev.Has(SearchNodeNoNodeFound))
	n, ev = m.FindNearbySortedVertexPtrs(geom.V3(0, 0, 0), out, nil)
	assert.Zero(t, n)
	assert.True(t, ev.Has(SearchNodeNoNodeFound))
}
