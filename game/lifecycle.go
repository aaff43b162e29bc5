package game

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/systems"
)

// spawnInitialPopulation creates the starting agents at random ground points.
// Their sectors stream in on the first step.
func (g *Game) spawnInitialPopulation() {
	gen := g.streamer.Generator()
	for range g.cfg.Bots.Count {
		x := g.rng.Float64() * g.cfg.Derived.WorldW
		y := g.rng.Float64() * g.cfg.Derived.WorldH
		g.spawnBot(geom.V3(x, y, gen.Altitude(x, y)))
	}
}

// spawnBot creates an idle agent at pos.
func (g *Game) spawnBot(pos geom.Vec3) ecs.Entity {
	g.nextID++
	var p components.Position
	p.Set(pos)
	vel := components.Velocity{}
	bot := components.Bot{
		ID:      g.nextID,
		Speed:   g.cfg.Bots.Speed,
		Terrain: systems.TerrainFor(g.cfg.Bots.AvoidRough),
		Spawn:   g.tick,
	}
	nav := components.Navigation{State: components.NavIdle}

	entity := g.botMapper.NewEntity(&p, &vel, &bot, &nav)
	g.botCount++
	return entity
}

// retireBots replaces idle agents older than the configured lifespan with fresh
// ones at a random resident point.
func (g *Game) retireBots() int {
	lifespan := g.cfg.Derived.BotLifespan
	if lifespan <= 0 {
		return 0
	}
	maxAge := int32(lifespan.Seconds() / g.cfg.Sim.DT)

	// First pass: collect retiring agents (must complete before modifying)
	type retiree struct {
		entity ecs.Entity
		id     uint64
	}
	var toRemove []retiree

	query := g.agentQuery.Query()
	for query.Next() {
		bot, nav := query.Get()
		if nav.State == components.NavIdle && g.tick-bot.Spawn >= maxAge {
			toRemove = append(toRemove, retiree{entity: query.Entity(), id: bot.ID})
		}
	}

	// Second pass: remove and replace (query iteration complete)
	for _, r := range toRemove {
		g.tm.ForgetRequester(r.id)
		g.botMapper.Remove(r.entity)
		g.botCount--

		if pos, ok := g.streamer.RandomPoint(g.rng); ok {
			g.spawnBot(pos)
		}
	}
	return len(toRemove)
}
