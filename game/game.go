// Package game runs the headless navigation simulation: a streamed sector world,
// agents that plan and walk paths over it, and the telemetry around them.
package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mlange-42/ark/ecs"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pthm-cable/navgraph/components"
	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/navgraph"
	"github.com/pthm-cable/navgraph/scheduler"
	"github.com/pthm-cable/navgraph/systems"
	"github.com/pthm-cable/navgraph/telemetry"
	"github.com/pthm-cable/navgraph/world"
)

// Scheduler task names.
const (
	TaskAstar  = "astar"
	TaskRepath = "repath"
)

// Options configures a Game.
type Options struct {
	Seed           int64   // 0 = config seed
	LogStats       bool    // Log window stats and world state at every flush
	StatsWindowSec float64 // 0 = config
	OutputDir      string  // CSV and config output, empty = disabled
	StepsPerUpdate int     // Frames per UpdateHeadless call

	Logger     *slog.Logger          // nil = discard
	Registerer prometheus.Registerer // nil = no metrics
	Clock      func() time.Time      // nil = wall clock

	// StatsCallback is called with every flushed window, nil = none.
	StatsCallback func(telemetry.WindowStats, telemetry.PerfStats)
}

// Game holds the complete simulation state.
type Game struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer
	rng    *rand.Rand

	// Navigation runtime
	m          *navgraph.GraphManager
	counters   navgraph.FrameCounters
	streamer   *world.Streamer
	tm         *scheduler.TimeManager
	astarTask  scheduler.TaskID
	repathTask scheduler.TaskID

	// Agents
	world      *ecs.World
	botMapper  *ecs.Map4[components.Position, components.Velocity, components.Bot, components.Navigation]
	posFilter  *ecs.Filter1[components.Position]
	agentQuery *ecs.Filter2[components.Bot, components.Navigation]
	posMap     *ecs.Map1[components.Position]

	spatialGrid *systems.SpatialGrid
	goals       *systems.GoalSystem
	anchor      *systems.AnchorSystem
	planner     *systems.PlannerSystem
	follow      *systems.FollowSystem
	movement    *systems.MovementSystem

	// Telemetry
	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	bookmarks *telemetry.BookmarkDetector
	output    *telemetry.OutputManager
	metrics   *telemetry.Metrics

	// State
	tick           int32
	nextID         uint64
	botCount       int
	stepsPerUpdate int
	logStats       bool
	statsCallback  func(telemetry.WindowStats, telemetry.PerfStats)
	focus          []geom.Vec3
}

// NewGameWithOptions creates a game from cfg. cfg is updated with the seed of opts.
func NewGameWithOptions(cfg *config.Config, opts Options) (*Game, error) {
	if opts.Seed != 0 {
		cfg.Sim.Seed = opts.Seed
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	statsWindow := cfg.Telemetry.StatsWindow
	if opts.StatsWindowSec > 0 {
		statsWindow = opts.StatsWindowSec
	}
	steps := opts.StepsPerUpdate
	if steps < 1 {
		steps = 1
	}

	w := ecs.NewWorld()
	g := &Game{
		cfg:            cfg,
		logger:         logger,
		tracer:         otel.Tracer("github.com/pthm-cable/navgraph/game"),
		rng:            rand.New(rand.NewSource(cfg.Sim.Seed)),
		world:          w,
		botMapper:      ecs.NewMap4[components.Position, components.Velocity, components.Bot, components.Navigation](w),
		posFilter:      ecs.NewFilter1[components.Position](w),
		agentQuery:     ecs.NewFilter2[components.Bot, components.Navigation](w),
		posMap:         ecs.NewMap1[components.Position](w),
		perf:           telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
		collector:      telemetry.NewCollector(statsWindow, cfg.Sim.DT),
		bookmarks:      telemetry.NewBookmarkDetector(10),
		stepsPerUpdate: steps,
		logStats:       opts.LogStats,
		statsCallback:  opts.StatsCallback,
	}
	if opts.Registerer != nil {
		g.metrics = telemetry.NewMetrics(opts.Registerer)
	}

	g.m = navgraph.New(cfg.Graph.ManagerConfig(),
		navgraph.WithLogger(logger),
		navgraph.WithCanGo(world.StepOracle{MaxStep: cfg.Graph.MaxStep}),
		navgraph.WithFrameCounters(&g.counters),
	)
	g.streamer = world.NewStreamer(cfg, g.m, logger)

	var schedOpts []scheduler.Option
	if opts.Clock != nil {
		schedOpts = append(schedOpts, scheduler.WithClock(opts.Clock))
	}
	g.tm = scheduler.NewTimeManager(cfg.Derived.FrameBudget, schedOpts...)
	g.astarTask = g.tm.RegisterAperiodicTask(TaskAstar)
	g.tm.SetTaskBudget(g.astarTask, cfg.Derived.TaskBudget)
	g.tm.SetMaxCallsPerFrame(g.astarTask, cfg.Astar.MaxCallsPerFrame)
	g.repathTask = g.tm.RegisterPeriodicTask(TaskRepath, cfg.Derived.RepathPeriod)

	g.spatialGrid = systems.NewSpatialGrid(cfg.Derived.WorldW, cfg.Derived.WorldH, cfg.Derived.SectorSize)
	g.goals = systems.NewGoalSystem(w, g.streamer, g.rng)
	g.anchor = systems.NewAnchorSystem(w, g.m, g.collector, cfg.Astar.DiffAltitudeMax)
	g.anchor.SetGoalReach(cfg.Bots.GoalReach, g.rng)
	g.planner = systems.NewPlannerSystem(w, g.m, g.tm, g.astarTask, systems.PlannerParams{
		EdgesPerSlice: cfg.Astar.EdgesPerSlice,
		MaxPlanFails:  cfg.Bots.MaxPlanFails,
	}, g.collector, g.metrics)
	g.follow = systems.NewFollowSystem(w, g.m, g.tm, g.repathTask, systems.FollowParams{
		ArriveRadius: cfg.Bots.ArriveRadius,
		DT:           cfg.Sim.DT,
	}, g.collector)
	g.movement = systems.NewMovementSystem(w, systems.Bounds{Width: cfg.Derived.WorldW, Height: cfg.Derived.WorldH})

	output, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	g.output = output
	if err := g.output.WriteConfig(cfg); err != nil {
		g.output.Close()
		return nil, fmt.Errorf("writing config: %w", err)
	}

	g.spawnInitialPopulation()
	return g, nil
}

// UpdateHeadless runs the configured number of simulation steps.
func (g *Game) UpdateHeadless(ctx context.Context) error {
	for range g.stepsPerUpdate {
		if err := g.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run steps the simulation until maxTicks frames ran (0 = unlimited) or ctx is done.
func (g *Game) Run(ctx context.Context, maxTicks int) error {
	for maxTicks <= 0 || int(g.tick) < maxTicks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Unload streams every sector out and closes the output files.
func (g *Game) Unload() error {
	return errors.Join(g.streamer.Close(), g.output.Close())
}

// Tick returns the current simulation tick.
func (g *Game) Tick() int32 {
	return g.tick
}

// Manager returns the graph manager.
func (g *Game) Manager() *navgraph.GraphManager {
	return g.m
}

// Streamer returns the sector streamer.
func (g *Game) Streamer() *world.Streamer {
	return g.streamer
}

// BotCount returns the number of agents.
func (g *Game) BotCount() int {
	return g.botCount
}
