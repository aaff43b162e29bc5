package navgraph

import (
	"cmp"
	"iter"
	"math"
	"slices"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
)

// VertexCostFunc scores a candidate vertex for a query centered on pos. A non-zero
// event rejects the candidate and is reported in the query result; use
// SearchNodeBlockedByConstraint unless a more specific reason applies.
type VertexCostFunc func(pos geom.Vec3, v VertexPtr) (cost float64, reject SearchNodeEvent)

// DistanceCost scores candidates by straight-line distance.
func DistanceCost(pos geom.Vec3, v VertexPtr) (float64, SearchNodeEvent) {
	return geom.Dist(pos, v.Position()), 0
}

// ReachableCost scores by distance and rejects candidates the oracle cannot reach from pos.
func ReachableCost(o CanGoOracle) VertexCostFunc {
	return func(pos geom.Vec3, v VertexPtr) (float64, SearchNodeEvent) {
		if !o.CanGo(pos, v.Position()) {
			return 0, SearchNodeBlockedByCanGo
		}
		return geom.Dist(pos, v.Position()), 0
	}
}

// TerrainCost scores by distance and rejects vertices whose terrain is not allowed.
func TerrainCost(mask graph.TerrainMask) VertexCostFunc {
	return func(pos geom.Vec3, v VertexPtr) (float64, SearchNodeEvent) {
		if !mask.Allows(v.TerrainType()) {
			return 0, SearchNodeBlockedByLpfConstraint
		}
		return geom.Dist(pos, v.Position()), 0
	}
}

type scoredVertex struct {
	v    VertexPtr
	cost float64
}

// FindVertexPtrsInBox3f writes into out the vertices inside box, altitude included,
// and returns how many were written. When more vertices match than out can hold,
// the result is truncated and SearchNodeTooMuchNodeCollected is set; finding
// exactly len(out) vertices leaves it clear.
func (m *GraphManager) FindVertexPtrsInBox3f(box geom.Box3, out []VertexPtr) (int, SearchNodeEvent) {
	n, ev := m.collectInBox(box, out)
	if n == 0 {
		ev |= SearchNodeNoNodeFound
	}
	return n, ev
}

// FindVertexSafePtrsInBox3f is FindVertexPtrsInBox3f returning durable handles.
func (m *GraphManager) FindVertexSafePtrsInBox3f(box geom.Box3, out []VertexSafePtr) (int, SearchNodeEvent) {
	buf := m.scratchFor(len(out))
	n, ev := m.FindVertexPtrsInBox3f(box, buf)
	for i := 0; i < n; i++ {
		out[i] = buf[i].SafePtr()
	}
	return n, ev
}

// FindNearbyVertexPtrs gathers the vertices around pos, growing the search square
// by the coverage distance until something is found or the maximum is reached.
func (m *GraphManager) FindNearbyVertexPtrs(pos geom.Vec3, out []VertexPtr) (int, SearchNodeEvent) {
	return m.findNearby(pos, math.Inf(1), out)
}

// FindNearbyVertexPtrsInAltitudeRange is FindNearbyVertexPtrs keeping only vertices
// whose altitude is within diffAltitudeMax of pos.
func (m *GraphManager) FindNearbyVertexPtrsInAltitudeRange(pos geom.Vec3, diffAltitudeMax float64, out []VertexPtr) (int, SearchNodeEvent) {
	return m.findNearby(pos, diffAltitudeMax, out)
}

// FindNearbyVertexSafePtrs is FindNearbyVertexPtrs returning durable handles.
func (m *GraphManager) FindNearbyVertexSafePtrs(pos geom.Vec3, out []VertexSafePtr) (int, SearchNodeEvent) {
	return m.findNearbySafe(pos, math.Inf(1), out)
}

// FindNearbyVertexSafePtrsInAltitudeRange is FindNearbyVertexPtrsInAltitudeRange
// returning durable handles.
func (m *GraphManager) FindNearbyVertexSafePtrsInAltitudeRange(pos geom.Vec3, diffAltitudeMax float64, out []VertexSafePtr) (int, SearchNodeEvent) {
	return m.findNearbySafe(pos, diffAltitudeMax, out)
}

// FindNearbySortedVertexPtrs gathers the vertices around pos, scores each with cost
// and writes the accepted ones into out, lowest cost first. Candidates rejected by
// cost are left out and their reason is added to the event. Equal costs keep the
// order in which candidates were gathered. A nil cost means DistanceCost.
func (m *GraphManager) FindNearbySortedVertexPtrs(pos geom.Vec3, out []VertexPtr, cost VertexCostFunc) (int, SearchNodeEvent) {
	return m.findNearbySorted(pos, math.Inf(1), out, cost)
}

// FindNearbySortedVertexPtrsInAltitudeRange is FindNearbySortedVertexPtrs with the
// altitude filter applied before scoring.
func (m *GraphManager) FindNearbySortedVertexPtrsInAltitudeRange(pos geom.Vec3, diffAltitudeMax float64, out []VertexPtr, cost VertexCostFunc) (int, SearchNodeEvent) {
	return m.findNearbySorted(pos, diffAltitudeMax, out, cost)
}

// FindNearbySortedVertexSafePtrs is FindNearbySortedVertexPtrs returning durable
// handles. When costs is not nil, the score of out[i] is written to costs[i] for
// as many entries as costs can hold.
func (m *GraphManager) FindNearbySortedVertexSafePtrs(pos geom.Vec3, out []VertexSafePtr, costs []float64, cost VertexCostFunc) (int, SearchNodeEvent) {
	return m.findNearbySortedSafe(pos, math.Inf(1), out, costs, cost)
}

// FindNearbySortedVertexSafePtrsInAltitudeRange is
// FindNearbySortedVertexPtrsInAltitudeRange returning durable handles and,
// optionally, their costs.
func (m *GraphManager) FindNearbySortedVertexSafePtrsInAltitudeRange(pos geom.Vec3, diffAltitudeMax float64, out []VertexSafePtr, costs []float64, cost VertexCostFunc) (int, SearchNodeEvent) {
	return m.findNearbySortedSafe(pos, diffAltitudeMax, out, costs, cost)
}

func (m *GraphManager) findNearbySafe(pos geom.Vec3, diffAltitudeMax float64, out []VertexSafePtr) (int, SearchNodeEvent) {
	buf := m.scratchFor(len(out))
	n, ev := m.findNearby(pos, diffAltitudeMax, buf)
	for i := 0; i < n; i++ {
		out[i] = buf[i].SafePtr()
	}
	return n, ev
}

// findNearbySortedSafe cannot borrow the scratch buffer, findNearbySorted gathers
// its candidates there.
func (m *GraphManager) findNearbySortedSafe(pos geom.Vec3, diffAltitudeMax float64, out []VertexSafePtr, costs []float64, cost VertexCostFunc) (int, SearchNodeEvent) {
	buf := make([]VertexPtr, len(out))
	n, ev := m.findNearbySorted(pos, diffAltitudeMax, buf, cost)
	for i := 0; i < n; i++ {
		out[i] = buf[i].SafePtr()
		if i < len(costs) {
			costs[i] = m.scored[i].cost
		}
	}
	return n, ev
}

func (m *GraphManager) findNearby(pos geom.Vec3, diffAltitudeMax float64, out []VertexPtr) (int, SearchNodeEvent) {
	m.counters.addFindNearby()
	if m.grid == nil {
		return 0, SearchNodeNoNodeFound
	}
	step := m.CoverageDistance()
	limit := m.maxCoverage()
	var n int
	var ev SearchNodeEvent
	for r := step; ; r += step {
		r = min(r, limit)
		n, ev = m.collectInBox(geom.BoxAround(pos, r, diffAltitudeMax), out)
		if n > 0 || r >= limit {
			break
		}
	}
	if n == 0 {
		ev |= SearchNodeNoNodeFound
	}
	return n, ev
}

func (m *GraphManager) findNearbySorted(pos geom.Vec3, diffAltitudeMax float64, out []VertexPtr, cost VertexCostFunc) (int, SearchNodeEvent) {
	if cost == nil {
		cost = DistanceCost
	}
	cand := m.scratchFor(max(m.cfg.MaxNearbyVertices, len(out)))
	n, ev := m.findNearby(pos, diffAltitudeMax, cand)
	ev &^= SearchNodeNoNodeFound

	scored := m.scored[:0]
	for _, v := range cand[:n] {
		c, reject := cost(pos, v)
		if reject != 0 {
			ev |= reject
			continue
		}
		scored = append(scored, scoredVertex{v: v, cost: c})
	}
	slices.SortStableFunc(scored, func(a, b scoredVertex) int {
		return cmp.Compare(a.cost, b.cost)
	})
	m.scored = scored

	if len(scored) > len(out) {
		ev |= SearchNodeTooMuchNodeCollected
	}
	w := min(len(scored), len(out))
	for i := 0; i < w; i++ {
		out[i] = scored[i].v
	}
	if w == 0 {
		ev |= SearchNodeNoNodeFound
	}
	return w, ev
}

func (m *GraphManager) maxCoverage() float64 {
	if m.cfg.MaxCoverageDistance > 0 {
		return max(m.cfg.MaxCoverageDistance, m.CoverageDistance())
	}
	return 4 * m.CoverageDistance()
}

func (m *GraphManager) scratchFor(n int) []VertexPtr {
	if cap(m.scratch) < n {
		m.scratch = make([]VertexPtr, n)
	}
	return m.scratch[:n]
}

// collectInBox walks the grid cells under the ground projection of box, visiting
// each graph cell once, and keeps the vertices inside the 3D box.
func (m *GraphManager) collectInBox(box geom.Box3, out []VertexPtr) (int, SearchNodeEvent) {
	if m.grid == nil || box.IsEmpty() {
		return 0, 0
	}
	n := 0
	var ev SearchNodeEvent
	clear(m.seenCells)
	for p := range m.cellsUnder(box) {
		e := m.grid.get(p)
		if e == nil {
			continue
		}
		for _, cr := range e.graphCells {
			if _, ok := m.seenCells[cr]; ok {
				continue
			}
			m.seenCells[cr] = struct{}{}
			f := m.sdm.resolve(vertexRef{frag: cr.frag, gen: cr.gen})
			if f == nil {
				ev |= SearchNodeInvalidVertexID
				continue
			}
			gc := &f.cells[cr.cell]
			if !gc.Box.Intersects(box) {
				continue
			}
			for idx := range gc.Vertices {
				if !box.Contains(gc.Vertices[idx].Position) {
					continue
				}
				if n == len(out) {
					return n, ev | SearchNodeTooMuchNodeCollected
				}
				out[n] = VertexPtr{f: f, cell: cr.cell, idx: uint32(idx)}
				n++
			}
		}
	}
	return n, ev
}

// cellsUnder yields the populated cells under box in row-major order. Boxes wider
// than the populated grid walk the grid instead of the box.
func (m *GraphManager) cellsUnder(box geom.Box3) iter.Seq[geom.CellPos] {
	cs := m.grid.cellSize
	lo := geom.V3(math.Max(box.Min.X, -math.MaxInt32*cs), math.Max(box.Min.Y, -math.MaxInt32*cs), 0)
	hi := geom.V3(math.Min(box.Max.X, math.MaxInt32*cs), math.Min(box.Max.Y, math.MaxInt32*cs), 0)
	cb := geom.NewCellBox(geom.ComputeCellPos(lo, cs), geom.ComputeCellPos(hi, cs))
	if float64(cb.Width())*float64(cb.Height()) <= float64(4*len(m.grid.cells)+9) {
		return cb.Cells()
	}
	keys := make([]geom.CellPos, 0, len(m.grid.cells))
	for p := range m.grid.cells {
		if cb.IsInside(p) {
			keys = append(keys, p)
		}
	}
	slices.SortFunc(keys, func(a, b geom.CellPos) int {
		if c := cmp.Compare(a.Y, b.Y); c != 0 {
			return c
		}
		return cmp.Compare(a.X, b.X)
	})
	return slices.Values(keys)
}
