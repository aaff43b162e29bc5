package systems

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mlange-42/ark/ecs"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/navgraph"
	"github.com/pthm-cable/navgraph/scheduler"
	"github.com/pthm-cable/navgraph/telemetry"
	"github.com/pthm-cable/navgraph/world"
)

const frameDT = 50 * time.Millisecond

// testConfig describes an open 3x1 sector strip: no obstacles, rough patches,
// jitter or doors.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.World.SectorsX, cfg.World.SectorsY = 3, 1
	cfg.World.ObstacleRate = 0
	cfg.World.RoughRate = 0
	cfg.World.Jitter = 0
	cfg.World.DoorEvery = 0
	return cfg
}

// newManager returns a manager holding the given sectors, stitched.
func newManager(t *testing.T, cfg *config.Config, sectors ...world.SectorPos) *navgraph.GraphManager {
	t.Helper()
	m := navgraph.New(cfg.Graph.ManagerConfig(),
		navgraph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		navgraph.WithCanGo(world.StepOracle{MaxStep: cfg.Graph.MaxStep}),
	)
	gen := world.NewGenerator(cfg)
	require.NoError(t, m.StartMultipleInsertion())
	for _, p := range sectors {
		g, err := gen.Sector(p)
		require.NoError(t, err)
		_, err = m.AddGraph(g)
		require.NoError(t, err)
	}
	require.NoError(t, m.EndMultipleInsertion())
	return m
}

// fixture is an ECS world of agents.
type fixture struct {
	w      *ecs.World
	mapper *ecs.Map4[components.Position, components.Velocity, components.Bot, components.Navigation]
	navMap *ecs.Map1[components.Navigation]
	botMap *ecs.Map1[components.Bot]
	posMap *ecs.Map1[components.Position]
	nextID uint64
}

func newFixture() *fixture {
	w := ecs.NewWorld()
	return &fixture{
		w:      w,
		mapper: ecs.NewMap4[components.Position, components.Velocity, components.Bot, components.Navigation](w),
		navMap: ecs.NewMap1[components.Navigation](w),
		botMap: ecs.NewMap1[components.Bot](w),
		posMap: ecs.NewMap1[components.Position](w),
	}
}

// spawn adds an agent at pos heading for goal, waiting to be anchored.
func (f *fixture) spawn(pos, goal geom.Vec3) ecs.Entity {
	f.nextID++
	var p components.Position
	p.Set(pos)
	vel := components.Velocity{}
	bot := components.Bot{ID: f.nextID, Speed: 4}
	nav := components.Navigation{State: components.NavAnchoring, GoalPos: goal}
	return f.mapper.NewEntity(&p, &vel, &bot, &nav)
}

func (f *fixture) nav(e ecs.Entity) *components.Navigation {
	return f.navMap.Get(e)
}

func (f *fixture) bot(e ecs.Entity) *components.Bot {
	return f.botMap.Get(e)
}

// newScheduler returns an unbounded time manager with a planning task and a
// repath task of one second.
func newScheduler() (*scheduler.TimeManager, scheduler.TaskID, scheduler.TaskID) {
	tm := scheduler.NewTimeManager(0)
	plan := tm.RegisterAperiodicTask("astar")
	repath := tm.RegisterPeriodicTask("repath", time.Second)
	return tm, plan, repath
}

func flush(c *telemetry.Collector) telemetry.WindowStats {
	return c.Flush(1, telemetry.ManagerState{})
}
