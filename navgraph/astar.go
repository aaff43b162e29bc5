package navgraph

import (
	"container/heap"
	"slices"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
)

// AstarStatus is the state of a search.
type AstarStatus uint8

const (
	AstarNotStarted AstarStatus = iota
	AstarInConstruction
	AstarPathFound
	AstarPathNotFound
)

func (s AstarStatus) String() string {
	switch s {
	case AstarNotStarted:
		return "not_started"
	case AstarInConstruction:
		return "in_construction"
	case AstarPathFound:
		return "path_found"
	case AstarPathNotFound:
		return "path_not_found"
	}
	return "unknown"
}

// Constraint prices an edge for an entity. Returning false forbids the edge.
type Constraint interface {
	Cost(e EdgePtr, entity any) (float64, bool)
}

// Heuristic estimates the remaining cost from v to goal. It must never overestimate
// for the search to return shortest paths; an overestimating heuristic silently
// degrades the search to best-first.
type Heuristic interface {
	Estimate(v, goal VertexPtr) float64
}

// DistanceConstraint prices an edge by its length.
type DistanceConstraint struct{}

// Cost implements Constraint.
func (DistanceConstraint) Cost(e EdgePtr, _ any) (float64, bool) {
	return e.Length(), true
}

// EuclideanHeuristic estimates by straight-line distance.
type EuclideanHeuristic struct{}

// Estimate implements Heuristic.
func (EuclideanHeuristic) Estimate(v, goal VertexPtr) float64 {
	return geom.Dist(v.Position(), goal.Position())
}

// ZeroHeuristic turns A* into Dijkstra.
type ZeroHeuristic struct{}

// Estimate implements Heuristic.
func (ZeroHeuristic) Estimate(VertexPtr, VertexPtr) float64 { return 0 }

// ConstraintFunc adapts a function to Constraint.
type ConstraintFunc func(e EdgePtr, entity any) (float64, bool)

// Cost implements Constraint.
func (f ConstraintFunc) Cost(e EdgePtr, entity any) (float64, bool) { return f(e, entity) }

// TimeBudget tells a search when the CPU time allotted for this frame is spent.
type TimeBudget interface {
	Expired() bool
}

// AstarRequest describes one search.
type AstarRequest struct {
	Start, End VertexPtr

	Constraint Constraint // nil means DistanceConstraint
	Heuristic  Heuristic  // nil means EuclideanHeuristic
	Entity     any

	// AllowedTerrain skips edges with an endpoint of another terrain. Zero allows all.
	AllowedTerrain graph.TerrainMask

	// EdgeBudget pauses the search once that many edges were relaxed in this call.
	// Zero means no limit. Nodes are always expanded whole, so a call may go over.
	EdgeBudget int
	// TimeBudget pauses the search when it expires. Nil means no limit.
	TimeBudget TimeBudget

	// Counters overrides the manager counters for this call.
	Counters *FrameCounters
}

// Astar runs or resumes a search. It returns AstarInConstruction when a budget
// ran out; call again with the same request and ctx to continue. A ctx that is in
// construction for another manager, start, end or terrain mask, or whose explored
// topology changed since it was paused, restarts from scratch. The path is written to out
// on AstarPathFound.
func (m *GraphManager) Astar(req AstarRequest, ctx *AstarContext, out *Path) AstarStatus {
	if req.Constraint == nil {
		req.Constraint = DistanceConstraint{}
	}
	if req.Heuristic == nil {
		req.Heuristic = EuclideanHeuristic{}
	}
	if req.AllowedTerrain == 0 {
		req.AllowedTerrain = graph.TerrainMaskAll
	}
	counters := req.Counters
	if counters == nil {
		counters = m.counters
	}

	if !req.Start.IsValid() || !req.End.IsValid() {
		ctx.Reset()
		ctx.status = AstarPathNotFound
		return ctx.status
	}
	start, end := req.Start.ref(), req.End.ref()

	key := searchKey{m: m, start: start, end: end, mask: req.AllowedTerrain, version: m.version}
	if ctx.status != AstarInConstruction || !ctx.matches(key) {
		ctx.begin(key)
		if !req.AllowedTerrain.Allows(req.Start.TerrainType()) {
			ctx.status = AstarPathNotFound
			return ctx.status
		}
		ctx.push(start, 0, req.Heuristic.Estimate(req.Start, req.End), -1, edgeRef{})
	}

	relaxed := 0
	for {
		cur, ok := ctx.pop()
		if !ok {
			ctx.status = AstarPathNotFound
			return ctx.status
		}
		node := ctx.nodes[cur]
		if node.ref == end {
			m.constructPath(ctx, cur, out)
			ctx.status = AstarPathFound
			return ctx.status
		}
		counters.addAstarLoop()
		ctx.loops++
		relaxed += m.expand(&req, ctx, cur)

		if req.EdgeBudget > 0 && relaxed >= req.EdgeBudget {
			ctx.status = AstarInConstruction
			return ctx.status
		}
		if req.TimeBudget != nil && req.TimeBudget.Expired() {
			ctx.status = AstarInConstruction
			return ctx.status
		}
	}
}

// expand relaxes every static and virtual out-edge of node cur and returns how
// many edges it offered.
func (m *GraphManager) expand(req *AstarRequest, ctx *AstarContext, cur int32) int {
	ref := ctx.nodes[cur].ref
	from := m.sdm.resolve(ref)
	if from == nil {
		return 0
	}
	n := 0
	fromPos := from.position(ref.cell, ref.idx)
	for _, ei := range from.outRange(ref.cell, ref.idx) {
		e := EdgePtr{f: from, cell: ref.cell, idx: ei}
		to := from.cells[ref.cell].Edges[ei].End
		m.relax(req, ctx, cur, e, from.ref(ref.cell, to), fromPos)
		n++
	}
	if m.stitcher != nil {
		pool := m.stitcher.pool
		for _, vi := range pool.out[ref] {
			m.relax(req, ctx, cur, EdgePtr{pool: pool, vidx: vi}, pool.edges[vi].to, fromPos)
			n++
		}
	}
	return n
}

// relax offers to reach to from node cur through e. The source vertex is known to
// carry an allowed terrain: the start is checked up front and every other node was
// reached through an allowed endpoint.
func (m *GraphManager) relax(req *AstarRequest, ctx *AstarContext, cur int32, e EdgePtr, to vertexRef, fromPos geom.Vec3) {
	idx, seen := ctx.index[to]
	if seen && ctx.nodes[idx].closed {
		return
	}
	tf := m.sdm.resolve(to)
	if tf == nil {
		return
	}
	target := VertexPtr{f: tf, cell: to.cell, idx: to.idx}
	if !req.AllowedTerrain.Allows(target.TerrainType()) {
		return
	}
	if m.locker.Count() > 0 && m.locker.isLocked(fromPos, target.Position()) {
		return
	}
	cost, ok := req.Constraint.Cost(e, req.Entity)
	if !ok {
		return
	}
	g := ctx.nodes[cur].g + cost
	if seen {
		n := &ctx.nodes[idx]
		if g >= n.g {
			return
		}
		n.g = g
		n.f = g + n.h
		n.parent = cur
		n.via = edgeRefOf(e)
		ctx.requeue(idx)
		return
	}
	ctx.push(to, g, req.Heuristic.Estimate(target, req.End), cur, edgeRefOf(e))
}

func (m *GraphManager) constructPath(ctx *AstarContext, goal int32, out *Path) {
	out.Reset()
	chain := ctx.chain[:0]
	for i := goal; i >= 0; i = ctx.nodes[i].parent {
		chain = append(chain, i)
	}
	slices.Reverse(chain)
	ctx.chain = chain

	for k, i := range chain {
		n := &ctx.nodes[i]
		v := VertexPtr{f: m.sdm.frags[n.ref.frag], cell: n.ref.cell, idx: n.ref.idx}
		node := PathNode{Vertex: v.SafePtr(), Position: v.Position(), CostFromStart: n.g}
		if k+1 < len(chain) {
			node.NextEdge = m.edgeSafePtr(ctx.nodes[chain[k+1]].via, v.f)
		}
		out.Nodes = append(out.Nodes, node)
	}
	out.Cost = ctx.nodes[goal].g
}

func (m *GraphManager) edgeSafePtr(via edgeRef, from *fragment) EdgeSafePtr {
	if via.virtual {
		return EdgeSafePtr{virtual: true, vidx: via.vidx, serial: via.serial}
	}
	return EdgeSafePtr{key: from.key, additional: from.kind == fragmentAdditional, cell: via.cell, idx: via.idx}
}

// edgeRef is the durable form of the edge a node was reached through.
type edgeRef struct {
	virtual      bool
	cell, idx    uint32
	vidx, serial uint32
}

func edgeRefOf(e EdgePtr) edgeRef {
	if e.pool != nil {
		return edgeRef{virtual: true, vidx: e.vidx, serial: e.pool.edges[e.vidx].serial}
	}
	return edgeRef{cell: e.cell, idx: e.idx}
}

type astarNode struct {
	ref     vertexRef
	g, h, f float64
	parent  int32
	via     edgeRef
	closed  bool
}

type openItem struct {
	node int32
	f    float64
	seq  uint64
}

type openHeap []openItem

func (h openHeap) Len() int { return len(h) }
func (h openHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].seq < h[j].seq
}
func (h openHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *openHeap) Push(x any) { *h = append(*h, x.(openItem)) }

func (h *openHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// searchKey identifies the search a context is in construction for. A paused
// search only resumes under an equal key.
type searchKey struct {
	m          *GraphManager
	start, end vertexRef
	mask       graph.TerrainMask
	version    uint64

	// Propagation only.
	propagate bool
	maxCost   float64
}

// AstarContext is the resumable state of one search. Reuse it across searches to
// keep its storage; contexts are independent of each other and of the manager, so
// dropping one mid-search is always safe. A context paused on one manager restarts
// when handed to another.
type AstarContext struct {
	status AstarStatus
	key    searchKey

	nodes []astarNode
	index map[vertexRef]int32
	open  openHeap
	seq   uint64
	loops int
	chain []int32
}

// NewAstarContext returns an empty context.
func NewAstarContext() *AstarContext {
	return &AstarContext{index: make(map[vertexRef]int32)}
}

// Reset abandons any search in progress.
func (c *AstarContext) Reset() {
	c.status = AstarNotStarted
	c.nodes = c.nodes[:0]
	if c.index == nil {
		c.index = make(map[vertexRef]int32)
	}
	clear(c.index)
	c.open = c.open[:0]
	c.seq = 0
	c.loops = 0
}

// Status returns the state of the last call.
func (c *AstarContext) Status() AstarStatus { return c.status }

// ExploredCount returns how many vertices the current search has reached.
func (c *AstarContext) ExploredCount() int { return len(c.nodes) }

// Loops returns how many nodes the current search has expanded.
func (c *AstarContext) Loops() int { return c.loops }

func (c *AstarContext) matches(k searchKey) bool {
	return c.key == k
}

func (c *AstarContext) begin(k searchKey) {
	c.Reset()
	c.status = AstarInConstruction
	c.key = k
}

func (c *AstarContext) push(ref vertexRef, g, h float64, parent int32, via edgeRef) {
	idx := int32(len(c.nodes))
	c.nodes = append(c.nodes, astarNode{ref: ref, g: g, h: h, f: g + h, parent: parent, via: via})
	c.index[ref] = idx
	c.seq++
	heap.Push(&c.open, openItem{node: idx, f: g + h, seq: c.seq})
}

// requeue pushes an improved node again; the stale entry is skipped on pop.
func (c *AstarContext) requeue(idx int32) {
	c.seq++
	heap.Push(&c.open, openItem{node: idx, f: c.nodes[idx].f, seq: c.seq})
}

func (c *AstarContext) pop() (int32, bool) {
	for c.open.Len() > 0 {
		it := heap.Pop(&c.open).(openItem)
		n := &c.nodes[it.node]
		if n.closed || it.f != n.f {
			continue
		}
		n.closed = true
		return it.node, true
	}
	return -1, false
}
