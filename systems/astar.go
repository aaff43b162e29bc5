package systems

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/navgraph"
	"github.com/pthm-cable/navgraph/scheduler"
	"github.com/pthm-cable/navgraph/telemetry"
)

// RoughFactor multiplies the cost of edges touching rough terrain.
const RoughFactor = 1.5

// RoughConstraint prices edges by length, with rough terrain more expensive.
var RoughConstraint = navgraph.ConstraintFunc(func(e navgraph.EdgePtr, _ any) (float64, bool) {
	cost := e.Length()
	if e.Start().TerrainType() == graph.TerrainRough || e.End().TerrainType() == graph.TerrainRough {
		cost *= RoughFactor
	}
	return cost, true
})

// PlannerParams holds tunables for the planner system.
type PlannerParams struct {
	EdgesPerSlice int // 0 = bounded by time only
	MaxPlanFails  int // Failed searches before the agent gives up its goal
}

// PlannerSystem advances the path searches of planning agents. Each search runs
// in a slice of the planning task, so a frame only spends the time the task
// was granted and searches too long for it resume next frame.
type PlannerSystem struct {
	filter ecs.Filter1[components.Navigation]
	botMap *ecs.Map1[components.Bot]
	navMap *ecs.Map1[components.Navigation]

	m         *navgraph.GraphManager
	tm        *scheduler.TimeManager
	task      scheduler.TaskID
	params    PlannerParams
	collector *telemetry.Collector
	metrics   *telemetry.Metrics

	pending []ecs.Entity
}

// NewPlannerSystem creates a planner running searches under task of tm.
func NewPlannerSystem(w *ecs.World, m *navgraph.GraphManager, tm *scheduler.TimeManager, task scheduler.TaskID,
	params PlannerParams, collector *telemetry.Collector, metrics *telemetry.Metrics) *PlannerSystem {
	return &PlannerSystem{
		filter:    *ecs.NewFilter1[components.Navigation](w),
		botMap:    ecs.NewMap1[components.Bot](w),
		navMap:    ecs.NewMap1[components.Navigation](w),
		m:         m,
		tm:        tm,
		task:      task,
		params:    params,
		collector: collector,
		metrics:   metrics,
	}
}

// Update runs the planner system. It returns the number of searches that finished.
func (s *PlannerSystem) Update() int {
	// First pass: collect planning agents (must complete before running searches)
	s.pending = s.pending[:0]
	query := s.filter.Query()
	for query.Next() {
		if nav := query.Get(); nav.State == components.NavPlanning {
			s.pending = append(s.pending, query.Entity())
		}
	}
	n := len(s.pending)
	if n == 0 {
		return 0
	}

	finished := 0
	first := s.tm.Rotate(n)
	for i := range n {
		e := s.pending[(first+i)%n]
		slice, ok := s.tm.Start(s.task)
		if !ok {
			// Every agent left this frame waits for the next one.
			if s.collector != nil {
				for range n - i {
					s.collector.RecordSliceDenied()
				}
			}
			break
		}
		status := s.plan(e, slice)
		slice.Done()
		if status != navgraph.AstarInConstruction {
			finished++
		}
	}
	return finished
}

// plan runs one slice of the search of e.
func (s *PlannerSystem) plan(e ecs.Entity, budget navgraph.TimeBudget) navgraph.AstarStatus {
	bot := s.botMap.Get(e)
	nav := s.navMap.Get(e)

	start, ok := nav.Anchor.Resolve(s.m)
	if !ok {
		nav.Replan()
		return navgraph.AstarNotStarted
	}
	end, ok := nav.Goal.Resolve(s.m)
	if !ok {
		nav.Replan()
		return navgraph.AstarNotStarted
	}
	if nav.Search == nil {
		nav.Search = navgraph.NewAstarContext()
	}

	nav.SearchFrames++
	status := s.m.Astar(navgraph.AstarRequest{
		Start:          start,
		End:            end,
		Constraint:     RoughConstraint,
		Entity:         bot,
		AllowedTerrain: bot.Terrain,
		EdgeBudget:     s.params.EdgesPerSlice,
		TimeBudget:     budget,
	}, nav.Search, &nav.Path)

	switch status {
	case navgraph.AstarPathFound:
		if s.collector != nil {
			s.collector.RecordPathFound(nav.Path.Cost, nav.SearchFrames)
		}
		s.metrics.ObserveSearch(status, nav.Path.Cost)
		nav.Fails = 0
		nav.Index = 0
		nav.SearchFrames = 0
		nav.State = components.NavFollowing

	case navgraph.AstarPathNotFound:
		if s.collector != nil {
			s.collector.RecordPathNotFound()
		}
		s.metrics.ObserveSearch(status, 0)
		nav.Fails++
		nav.Replan()
		if s.params.MaxPlanFails > 0 && nav.Fails >= s.params.MaxPlanFails {
			nav.Fails = 0
			nav.State = components.NavIdle
		}
	}
	return status
}
