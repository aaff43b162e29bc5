// Package components defines ECS components for the navigation agents.
package components

import (
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/navgraph"
)

// NavState is the step of the goal, anchor, plan, follow cycle an agent is in.
type NavState uint8

const (
	NavIdle      NavState = iota // Needs a goal
	NavAnchoring                 // Needs a start and goal vertex
	NavPlanning                  // Search in construction
	NavFollowing                 // Walking a found path
)

func (s NavState) String() string {
	switch s {
	case NavIdle:
		return "idle"
	case NavAnchoring:
		return "anchoring"
	case NavPlanning:
		return "planning"
	case NavFollowing:
		return "following"
	}
	return "unknown"
}

// Bot holds agent identity and movement limits.
type Bot struct {
	ID      uint64
	Speed   float64           // World units per second
	Terrain graph.TerrainMask // Terrain the agent may walk, 0 = all
	Spawn   int32             // Tick the agent was created
}

// Navigation holds an agent's goal, its vertex handles and its search state.
// Vertex handles are safe pointers so they survive sectors streaming out.
type Navigation struct {
	State   NavState
	GoalPos geom.Vec3

	Anchor navgraph.VertexSafePtr // Start vertex of the current search
	Goal   navgraph.VertexSafePtr

	Search       *navgraph.AstarContext
	SearchFrames int // Frames the current search has been in construction

	Path  navgraph.Path
	Index int // Next path node to reach

	Fails int // Consecutive searches that found no path
}

// ResetSearch drops the path and any search in construction, keeping storage.
func (n *Navigation) ResetSearch() {
	if n.Search != nil {
		n.Search.Reset()
	}
	n.SearchFrames = 0
	n.Path.Reset()
	n.Index = 0
}

// Replan sends the agent back to anchoring for the same goal.
func (n *Navigation) Replan() {
	n.ResetSearch()
	n.Anchor = navgraph.VertexSafePtr{}
	n.Goal = navgraph.VertexSafePtr{}
	n.State = NavAnchoring
}
