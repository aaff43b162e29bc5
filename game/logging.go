package game

import (
	"log/slog"

	"github.com/pthm-cable/navgraph/components"
)

// NavCounts is the number of agents in each navigation state.
type NavCounts struct {
	Idle, Anchoring, Planning, Following int
}

// LogValue implements slog.LogValuer.
func (c NavCounts) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("idle", c.Idle),
		slog.Int("anchoring", c.Anchoring),
		slog.Int("planning", c.Planning),
		slog.Int("following", c.Following),
	)
}

// NavCounts counts agents by navigation state.
func (g *Game) NavCounts() NavCounts {
	var c NavCounts
	query := g.agentQuery.Query()
	for query.Next() {
		_, nav := query.Get()
		switch nav.State {
		case components.NavIdle:
			c.Idle++
		case components.NavAnchoring:
			c.Anchoring++
		case components.NavPlanning:
			c.Planning++
		case components.NavFollowing:
			c.Following++
		}
	}
	return c
}

// logWorldState logs the current world state.
func (g *Game) logWorldState() {
	g.logger.Info("world",
		"tick", g.tick,
		"sim_time", g.tm.SimTime(),
		"agents", g.NavCounts(),
		"sectors", len(g.streamer.Resident()),
		"doors_open", g.streamer.DoorsOpen(),
		"scheduler", g.tm.FrameStats(),
	)
}
