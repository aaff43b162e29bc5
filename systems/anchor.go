package systems

import (
	"math/rand"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/navgraph"
	"github.com/pthm-cable/navgraph/telemetry"
)

// AnchorSystem binds agents to graph vertices. Agents waiting to plan get a
// start vertex near their position and a goal vertex near their goal. Agents
// whose vertices were streamed out are sent back to anchoring.
type AnchorSystem struct {
	filter    ecs.Filter3[components.Position, components.Bot, components.Navigation]
	m         *navgraph.GraphManager
	collector *telemetry.Collector

	// DiffAltitudeMax bounds the altitude window of the vertex queries.
	DiffAltitudeMax float64

	goalReach float64
	rng       *rand.Rand
	reach     *navgraph.AstarContext

	out []navgraph.VertexPtr
}

// NewAnchorSystem creates an anchor system over the agents of w.
func NewAnchorSystem(w *ecs.World, m *navgraph.GraphManager, collector *telemetry.Collector, diffAltitudeMax float64) *AnchorSystem {
	return &AnchorSystem{
		filter:          *ecs.NewFilter3[components.Position, components.Bot, components.Navigation](w),
		m:               m,
		collector:       collector,
		DiffAltitudeMax: diffAltitudeMax,
		out:             make([]navgraph.VertexPtr, 1),
	}
}

// SetGoalReach makes the system replace drawn goals with a random vertex whose
// path cost from the start lies between reach/2 and reach. Zero disables it.
func (s *AnchorSystem) SetGoalReach(reach float64, rng *rand.Rand) {
	s.goalReach = reach
	s.rng = rng
	if s.reach == nil {
		s.reach = navgraph.NewAstarContext()
	}
}

// Update runs the anchor system.
func (s *AnchorSystem) Update() {
	query := s.filter.Query()
	for query.Next() {
		pos, bot, nav := query.Get()

		switch nav.State {
		case components.NavPlanning, components.NavFollowing:
			if s.lost(nav) {
				if s.collector != nil {
					s.collector.RecordAnchorLost()
				}
				nav.Replan()
			}
		}
		if nav.State != components.NavAnchoring {
			continue
		}

		var cost navgraph.VertexCostFunc = navgraph.DistanceCost
		if bot.Terrain != 0 {
			cost = navgraph.TerrainCost(bot.Terrain)
		}
		start, ok := s.nearest(pos.Vec(), cost)
		if !ok {
			continue
		}
		goal, ok := s.reachable(start, bot.Terrain)
		if ok {
			nav.GoalPos = goal.Position()
		} else if goal, ok = s.nearest(nav.GoalPos, cost); !ok {
			continue
		}
		nav.Anchor = start.SafePtr()
		nav.Goal = goal.SafePtr()
		nav.ResetSearch()
		nav.State = components.NavPlanning
	}
}

// lost reports whether the start or goal vertex of nav no longer resolves.
// A following agent has left its start vertex behind, so only the goal counts.
func (s *AnchorSystem) lost(nav *components.Navigation) bool {
	if _, ok := nav.Goal.Resolve(s.m); !ok {
		return true
	}
	if nav.State == components.NavPlanning {
		if _, ok := nav.Anchor.Resolve(s.m); !ok {
			return true
		}
	}
	return false
}

func (s *AnchorSystem) nearest(pos geom.Vec3, cost navgraph.VertexCostFunc) (navgraph.VertexPtr, bool) {
	n, _ := s.m.FindNearbySortedVertexPtrsInAltitudeRange(pos, s.DiffAltitudeMax, s.out, cost)
	if n == 0 {
		return navgraph.VertexPtr{}, false
	}
	return s.out[0], true
}

// reachable draws a goal among the vertices start reaches within goalReach.
// Vertices closer than half the reach are skipped so agents still travel.
func (s *AnchorSystem) reachable(start navgraph.VertexPtr, terrain graph.TerrainMask) (navgraph.VertexPtr, bool) {
	if s.goalReach <= 0 {
		return navgraph.VertexPtr{}, false
	}
	var pick navgraph.VertexPtr
	seen := 0
	s.m.Propagate(navgraph.PropagationRequest{
		Start:          start,
		MaxCost:        s.goalReach,
		AllowedTerrain: terrain,
		Visit: func(v navgraph.VertexPtr, cost float64) bool {
			if cost < s.goalReach/2 {
				return true
			}
			seen++
			if s.rng.Intn(seen) == 0 {
				pick = v
			}
			return true
		},
	}, s.reach)
	return pick, seen > 0
}

// TerrainFor returns the terrain mask of an agent.
func TerrainFor(avoidRough bool) graph.TerrainMask {
	if avoidRough {
		return graph.TerrainMaskAll &^ graph.TerrainMask(graph.TerrainRough)
	}
	return 0
}
