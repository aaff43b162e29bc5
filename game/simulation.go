package game

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/telemetry"
)

// Step runs a single frame of the simulation.
func (g *Game) Step(ctx context.Context) error {
	ctx, span := g.tracer.Start(ctx, "game.Step", trace.WithAttributes(
		attribute.Int("tick", int(g.tick)),
	))
	defer span.End()

	g.perf.StartTick()
	g.tm.BeginFrame(g.cfg.Derived.FrameDT)
	g.counters.Reset()

	// 1. Stream sectors around agents and their goals
	g.perf.StartPhase(telemetry.PhaseStream)
	if err := g.updateStreaming(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "streaming failed")
		g.perf.EndTick()
		return fmt.Errorf("tick %d: %w", g.tick, err)
	}

	// 2. Open or close doors
	g.perf.StartPhase(telemetry.PhaseDoors)
	if g.streamer.UpdateDoors(g.tm.SimTime()) {
		g.collector.RecordDoorToggle()
	}

	// 3. Hand out goals and bind agents to vertices
	g.perf.StartPhase(telemetry.PhaseAnchor)
	g.retireBots()
	g.goals.Update()
	g.anchor.Update()

	// 4. Advance searches within the frame budget
	g.perf.StartPhase(telemetry.PhasePlan)
	g.planner.Update()

	// 5. Walk paths
	g.perf.StartPhase(telemetry.PhaseFollow)
	g.follow.Update()
	g.movement.Update(g.cfg.Sim.DT)

	g.tick++

	// 6. Telemetry
	g.perf.StartPhase(telemetry.PhaseTelemetry)
	g.collector.RecordFrameCounters(g.counters)
	g.flushTelemetry()

	d := g.perf.EndTick()
	g.metrics.ObserveFrame(g.counters, d)
	return nil
}

// updateStreaming keeps the sectors of every populated sector and of every
// pending goal resident.
func (g *Game) updateStreaming(ctx context.Context) error {
	g.spatialGrid.Rebuild(g.posFilter)
	g.focus = append(g.focus[:0], g.spatialGrid.Focus(g.posMap)...)

	query := g.agentQuery.Query()
	for query.Next() {
		_, nav := query.Get()
		if nav.State != components.NavIdle {
			g.focus = append(g.focus, nav.GoalPos)
		}
	}

	stats, err := g.streamer.Update(ctx, g.focus)
	g.collector.RecordStream(stats.Loaded, stats.Unloaded)
	g.metrics.ObserveStream(stats.Loaded, stats.Unloaded)
	return err
}
