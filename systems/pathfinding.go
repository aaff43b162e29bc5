package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/navgraph"
	"github.com/pthm-cable/navgraph/scheduler"
	"github.com/pthm-cable/navgraph/telemetry"
)

// FollowParams holds tunables for the follow system.
type FollowParams struct {
	ArriveRadius float64 // Distance at which a path node counts as reached
	DT           float64 // Seconds per frame, caps the speed so a step never overshoots
}

// FollowSystem steers agents along their paths. Paths are revalidated at most
// once per repath period per agent: a path whose vertices or edges were streamed
// out, or that now crosses a locked volume, is dropped and planned again.
type FollowSystem struct {
	filter ecs.Filter3[components.Position, components.Velocity, components.Bot]
	navMap *ecs.Map1[components.Navigation]

	m         *navgraph.GraphManager
	tm        *scheduler.TimeManager
	repath    scheduler.TaskID
	params    FollowParams
	collector *telemetry.Collector
}

// NewFollowSystem creates a follow system. repath is a periodic task of tm.
func NewFollowSystem(w *ecs.World, m *navgraph.GraphManager, tm *scheduler.TimeManager, repath scheduler.TaskID,
	params FollowParams, collector *telemetry.Collector) *FollowSystem {
	return &FollowSystem{
		filter:    *ecs.NewFilter3[components.Position, components.Velocity, components.Bot](w),
		navMap:    ecs.NewMap1[components.Navigation](w),
		m:         m,
		tm:        tm,
		repath:    repath,
		params:    params,
		collector: collector,
	}
}

// Update runs the follow system and returns the number of agents that arrived.
func (s *FollowSystem) Update() int {
	arrived := 0
	query := s.filter.Query()
	for query.Next() {
		pos, vel, bot := query.Get()
		nav := s.navMap.Get(query.Entity())

		if nav.State != components.NavFollowing {
			vel.Set(geom.Vec3{})
			continue
		}

		if s.tm.RequestPeriodic(s.repath, bot.ID) && !IsPathValid(s.m, nav) {
			if s.collector != nil {
				s.collector.RecordRepath()
			}
			nav.Replan()
			vel.Set(geom.Vec3{})
			continue
		}

		wp, more := GetNextWaypoint(nav, pos.Vec(), s.params.ArriveRadius)
		if !more && geom.Dist(pos.Vec(), wp) <= s.params.ArriveRadius {
			if s.collector != nil {
				s.collector.RecordArrival()
			}
			nav.ResetSearch()
			nav.State = components.NavIdle
			vel.Set(geom.Vec3{})
			arrived++
			continue
		}
		vel.Set(steer(pos.Vec(), wp, bot.Speed, s.params.DT))
	}
	return arrived
}

// steer returns the velocity heading from pos to target at speed, slowed down
// to reach target exactly when it is less than one step of dt away.
func steer(pos, target geom.Vec3, speed, dt float64) geom.Vec3 {
	dist := geom.Dist(pos, target)
	if dist < 1e-9 {
		return geom.Vec3{}
	}
	if dt > 0 && speed*dt > dist {
		speed = dist / dt
	}
	return r3.Scale(speed/dist, r3.Sub(target, pos))
}

// IsPathValid checks if the remaining part of a path can still be walked.
// A path is invalid if:
// - A remaining vertex or edge no longer resolves
// - A remaining edge crosses a locked volume
func IsPathValid(m *navgraph.GraphManager, nav *components.Navigation) bool {
	nodes := nav.Path.Nodes
	if nav.Index >= len(nodes) {
		return false
	}
	for i := nav.Index; i < len(nodes); i++ {
		if _, ok := nodes[i].Vertex.Resolve(m); !ok {
			return false
		}
		if i+1 == len(nodes) {
			break
		}
		e, ok := nodes[i].NextEdge.Resolve(m)
		if !ok || m.IsEdgeLocked(e) {
			return false
		}
	}
	return true
}

// GetNextWaypoint returns the next path node to steer toward.
// Advances the path index if the agent is close enough to the current node.
func GetNextWaypoint(nav *components.Navigation, pos geom.Vec3, arriveRadius float64) (wp geom.Vec3, hasMore bool) {
	nodes := nav.Path.Nodes
	if nav.Index >= len(nodes) {
		return pos, false
	}

	wp = nodes[nav.Index].Position
	if geom.Dist(pos, wp) < arriveRadius && nav.Index+1 < len(nodes) {
		nav.Index++
		wp = nodes[nav.Index].Position
	}

	return wp, nav.Index < len(nodes)-1
}
