package navgraph

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/stretchr/testify/require"
)

const testCellSize = 10.0

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(opts ...Option) *GraphManager {
	cfg := DefaultConfig()
	cfg.CellSize = testCellSize
	return New(cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// sector builds a one-cell graph at cell (cx, cy): a center vertex joined to one
// boundary vertex per side, each inset 0.1 from the border.
func sector(t *testing.T, cx, cy int32) *graph.Graph {
	t.Helper()
	x0, y0 := geom.CellOrigin(geom.CellPos{X: cx, Y: cy}, testCellSize)
	b := graph.NewBuilder(graph.GuidFromName(fmt.Sprintf("sector/%d/%d", cx, cy)), testCellSize)
	c := b.AddVertex(geom.V3(x0+5, y0+5, 0), graph.TerrainDefault)
	sides := []struct {
		dir geom.CardinalDir
		pos geom.Vec3
	}{
		{geom.East, geom.V3(x0+9.9, y0+5, 0)},
		{geom.North, geom.V3(x0+5, y0+9.9, 0)},
		{geom.West, geom.V3(x0+0.1, y0+5, 0)},
		{geom.South, geom.V3(x0+5, y0+0.1, 0)},
	}
	for _, s := range sides {
		v := b.AddBoundaryVertex(s.pos, s.dir, graph.TerrainDefault)
		b.AddBidirectionalEdge(c, v)
	}
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

type edgeKey struct {
	from, to VertexSafePtr
}

func virtualEdgeSet(m *GraphManager) map[edgeKey]VirtualEdgeKind {
	set := make(map[edgeKey]VirtualEdgeKind)
	for _, ve := range m.VirtualEdges() {
		set[edgeKey{ve.From.SafePtr(), ve.To.SafePtr()}] = ve.Kind
	}
	return set
}

func permutations(n int) [][]int {
	var out [][]int
	var rec func(cur []int, used []bool)
	rec = func(cur []int, used []bool) {
		if len(cur) == n {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			rec(append(cur, i), used)
			used[i] = false
		}
	}
	rec(nil, make([]bool, n))
	return out
}

// vertexAt returns the resident vertex at pos.
func vertexAt(t *testing.T, m *GraphManager, pos geom.Vec3) VertexPtr {
	t.Helper()
	out := make([]VertexPtr, 4)
	n, _ := m.FindVertexPtrsInBox3f(geom.BoxAround(pos, 1e-6, 1e-6), out)
	require.Equal(t, 1, n, "expected exactly one vertex at %v", pos)
	return out[0]
}

type countingBudget struct {
	calls, expireAfter int
}

func (b *countingBudget) Expired() bool {
	b.calls++
	return b.calls >= b.expireAfter
}
