package systems

import (
	"math/rand"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/geom"
)

// PointSource yields random reachable-looking goal points.
type PointSource interface {
	RandomPoint(rng *rand.Rand) (geom.Vec3, bool)
}

// GoalSystem gives idle agents a new goal.
type GoalSystem struct {
	filter ecs.Filter1[components.Navigation]
	points PointSource
	rng    *rand.Rand
}

// NewGoalSystem creates a goal system drawing goals from points.
func NewGoalSystem(w *ecs.World, points PointSource, rng *rand.Rand) *GoalSystem {
	return &GoalSystem{
		filter: *ecs.NewFilter1[components.Navigation](w),
		points: points,
		rng:    rng,
	}
}

// Update runs the goal system and returns the number of goals handed out.
func (s *GoalSystem) Update() int {
	n := 0
	query := s.filter.Query()
	for query.Next() {
		nav := query.Get()
		if nav.State != components.NavIdle {
			continue
		}
		goal, ok := s.points.RandomPoint(s.rng)
		if !ok {
			continue
		}
		nav.GoalPos = goal
		nav.Replan()
		n++
	}
	return n
}
