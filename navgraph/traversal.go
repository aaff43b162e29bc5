package navgraph

import "github.com/pthm-cable/navgraph/graph"

// PropagationStatus is the state of a propagation.
type PropagationStatus uint8

const (
	// PropagationInProgress means a budget ran out before the frontier was exhausted.
	PropagationInProgress PropagationStatus = iota + 1
	// PropagationDone means every vertex within reach was visited.
	PropagationDone
	// PropagationStopped means the visitor asked to stop.
	PropagationStopped
)

func (s PropagationStatus) String() string {
	switch s {
	case PropagationInProgress:
		return "in_progress"
	case PropagationDone:
		return "done"
	case PropagationStopped:
		return "stopped"
	}
	return "unknown"
}

// PropagationRequest describes an outward exploration from one vertex.
type PropagationRequest struct {
	Start VertexPtr

	// MaxCost bounds the cost from Start of visited vertices. Zero or less means
	// unbounded.
	MaxCost float64

	// Constraint prices each edge. Nil means DistanceConstraint.
	Constraint Constraint
	Entity     any

	// AllowedTerrain skips edges with an endpoint of another terrain. Zero allows all.
	AllowedTerrain graph.TerrainMask

	// EdgeBudget and TimeBudget pause the traversal as they do for Astar.
	EdgeBudget int
	TimeBudget TimeBudget

	// Visit is called once per reached vertex in increasing cost order, Start
	// included at cost zero. Returning false ends the traversal.
	Visit func(v VertexPtr, cost float64) bool

	// Counters overrides the manager counters for this call.
	Counters *FrameCounters
}

// Propagate visits the vertices reachable from req.Start within req.MaxCost,
// cheapest first. It shares the open set, edge pricing, terrain filter and edge
// locks of Astar but has no goal and no heuristic. On PropagationInProgress call
// again with the same request and ctx to continue; vertices already visited are
// not visited again. The restart rules of Astar apply, and a ctx paused in an
// Astar search restarts as a propagation.
func (m *GraphManager) Propagate(req PropagationRequest, ctx *AstarContext) PropagationStatus {
	search := AstarRequest{
		Constraint:     req.Constraint,
		Heuristic:      ZeroHeuristic{},
		Entity:         req.Entity,
		AllowedTerrain: req.AllowedTerrain,
	}
	if search.Constraint == nil {
		search.Constraint = DistanceConstraint{}
	}
	if search.AllowedTerrain == 0 {
		search.AllowedTerrain = graph.TerrainMaskAll
	}
	counters := req.Counters
	if counters == nil {
		counters = m.counters
	}

	if !req.Start.IsValid() {
		ctx.Reset()
		return PropagationDone
	}
	start := req.Start.ref()

	key := searchKey{m: m, start: start, mask: search.AllowedTerrain, version: m.version, propagate: true, maxCost: req.MaxCost}
	if ctx.status != AstarInConstruction || !ctx.matches(key) {
		ctx.begin(key)
		if !search.AllowedTerrain.Allows(req.Start.TerrainType()) {
			ctx.status = AstarNotStarted
			return PropagationDone
		}
		ctx.push(start, 0, 0, -1, edgeRef{})
	}

	relaxed := 0
	for {
		cur, ok := ctx.pop()
		if !ok {
			ctx.status = AstarNotStarted
			return PropagationDone
		}
		node := ctx.nodes[cur]
		if req.MaxCost > 0 && node.g > req.MaxCost {
			ctx.status = AstarNotStarted
			return PropagationDone
		}
		f := m.sdm.resolve(node.ref)
		if f == nil {
			continue
		}
		counters.addAstarLoop()
		ctx.loops++
		if req.Visit != nil && !req.Visit(VertexPtr{f: f, cell: node.ref.cell, idx: node.ref.idx}, node.g) {
			ctx.status = AstarNotStarted
			return PropagationStopped
		}
		relaxed += m.expand(&search, ctx, cur)

		if req.EdgeBudget > 0 && relaxed >= req.EdgeBudget {
			return PropagationInProgress
		}
		if req.TimeBudget != nil && req.TimeBudget.Expired() {
			return PropagationInProgress
		}
	}
}
