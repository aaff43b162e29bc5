package game

import (
	"github.com/pthm-cable/navgraph/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (g *Game) flushTelemetry() {
	if !g.collector.ShouldFlush(g.tick) {
		return
	}

	state := telemetry.SampleManager(g.m, g.botCount)
	stats := g.collector.Flush(g.tick, state)
	perfStats := g.perf.Stats()
	g.metrics.ObserveState(state)
	if g.statsCallback != nil {
		g.statsCallback(stats, perfStats)
	}

	if g.logStats {
		g.logger.Info("stats", "window", stats)
		g.logger.Info("perf", "perf", perfStats)
		g.logWorldState()
	}

	if err := g.output.WriteWindow(stats); err != nil {
		g.logger.Error("failed to write window stats", "error", err)
	}
	if err := g.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
		g.logger.Error("failed to write perf", "error", err)
	}
	if g.cfg.Telemetry.DumpVirtualEdges {
		if err := g.output.WriteVirtualEdges(g.m, stats.WindowEndTick); err != nil {
			g.logger.Error("failed to write virtual edges", "error", err)
		}
	}

	for _, bm := range g.bookmarks.Check(stats) {
		g.logger.Info("bookmark", "bookmark", bm)
		if err := g.output.WriteBookmark(bm); err != nil {
			g.logger.Error("failed to write bookmark", "error", err)
		}
	}
}
