// Package config provides configuration loading and access for the navigation runtime.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/navgraph"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all runtime configuration parameters.
type Config struct {
	Sim       SimConfig       `yaml:"sim"`
	Graph     GraphConfig     `yaml:"graph"`
	Astar     AstarConfig     `yaml:"astar"`
	World     WorldConfig     `yaml:"world"`
	Bots      BotsConfig      `yaml:"bots"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimConfig holds frame loop parameters.
type SimConfig struct {
	DT            float64 `yaml:"dt"`              // Simulated seconds per frame
	FrameBudgetMS float64 `yaml:"frame_budget_ms"` // CPU time for deferred tasks per frame, 0 = unbounded
	Seed          int64   `yaml:"seed"`
}

// GraphConfig holds GraphManager tunables.
type GraphConfig struct {
	CellSize             float64 `yaml:"cell_size"`
	CoordSystem          string  `yaml:"coord_system"` // z_up or y_up
	StitchTolerance      float64 `yaml:"stitch_tolerance"`
	CoverageDistance     float64 `yaml:"coverage_distance"`
	MaxCoverageDistance  float64 `yaml:"max_coverage_distance"`
	AdditionalLinkRadius float64 `yaml:"additional_link_radius"`
	MaxNearbyVertices    int     `yaml:"max_nearby_vertices"`
	MaxStep              float64 `yaml:"max_step"` // Largest altitude change a virtual edge may bridge
}

// AstarConfig holds path search scheduling parameters.
type AstarConfig struct {
	EdgesPerSlice    int     `yaml:"edges_per_slice"` // 0 = bounded by time only
	TaskBudgetMS     float64 `yaml:"task_budget_ms"`
	MaxCallsPerFrame int     `yaml:"max_calls_per_frame"`
	DiffAltitudeMax  float64 `yaml:"diff_altitude_max"` // Anchoring altitude window
}

// WorldConfig holds the procedural sector world.
type WorldConfig struct {
	SectorCells      int     `yaml:"sector_cells"` // Cells per sector side
	VertexSpacing    float64 `yaml:"vertex_spacing"`
	SectorsX         int     `yaml:"sectors_x"`
	SectorsY         int     `yaml:"sectors_y"`
	StreamRadius     float64 `yaml:"stream_radius"`
	ObstacleRate     float64 `yaml:"obstacle_rate"` // Fraction of lattice vertices dropped
	RoughRate        float64 `yaml:"rough_rate"`
	Jitter           float64 `yaml:"jitter"` // Fraction of the spacing
	Height           float64 `yaml:"height"` // Terrain altitude amplitude
	DoorEvery        int     `yaml:"door_every"` // One door per N sectors, 0 = none
	DoorTogglePeriod float64 `yaml:"door_toggle_period"`
	Workers          int     `yaml:"workers"`
	BlobDir          string  `yaml:"blob_dir"` // Sector cache, empty = generate in memory
}

// BotsConfig holds the path-following agents.
type BotsConfig struct {
	Count        int     `yaml:"count"`
	Speed        float64 `yaml:"speed"`
	ArriveRadius float64 `yaml:"arrive_radius"`
	RepathPeriod float64 `yaml:"repath_period"` // Seconds between path validity checks
	MaxPlanFails int     `yaml:"max_plan_fails"`
	AvoidRough   bool    `yaml:"avoid_rough"` // Plan around rough terrain
	Lifespan     float64 `yaml:"lifespan"`    // Seconds before an idle agent is replaced, 0 = never
	GoalReach    float64 `yaml:"goal_reach"`  // Goals drawn among vertices within this path cost, 0 = anywhere
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"`
	PerfCollectorWindow int     `yaml:"perf_collector_window"`
	DumpVirtualEdges    bool    `yaml:"dump_virtual_edges"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	FrameDT      time.Duration
	FrameBudget  time.Duration
	TaskBudget   time.Duration
	RepathPeriod time.Duration
	BotLifespan  time.Duration
	SectorSize   float64 // SectorCells * CellSize
	WorldW       float64
	WorldH       float64
	Coord        graph.CoordSystem
}

// ManagerConfig converts the graph section to the GraphManager configuration.
func (g GraphConfig) ManagerConfig() navgraph.Config {
	coord := graph.CoordSystemZUp
	if g.CoordSystem == "y_up" {
		coord = graph.CoordSystemYUp
	}
	return navgraph.Config{
		CellSize:             g.CellSize,
		CoordSystem:          coord,
		StitchTolerance:      g.StitchTolerance,
		CoverageDistance:     g.CoverageDistance,
		MaxCoverageDistance:  g.MaxCoverageDistance,
		AdditionalLinkRadius: g.AdditionalLinkRadius,
		MaxNearbyVertices:    g.MaxNearbyVertices,
	}
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Recompute(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Recompute validates c and recomputes the derived values after fields changed.
func (c *Config) Recompute() error {
	if err := c.validate(); err != nil {
		return err
	}
	c.computeDerived()
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.Graph.CellSize <= 0:
		return fmt.Errorf("graph.cell_size must be positive, got %v", c.Graph.CellSize)
	case c.Graph.CoordSystem != "z_up" && c.Graph.CoordSystem != "y_up":
		return fmt.Errorf("graph.coord_system must be z_up or y_up, got %q", c.Graph.CoordSystem)
	case c.World.VertexSpacing <= 0:
		return fmt.Errorf("world.vertex_spacing must be positive, got %v", c.World.VertexSpacing)
	case c.World.SectorCells < 1:
		return fmt.Errorf("world.sector_cells must be at least 1, got %d", c.World.SectorCells)
	case c.World.Jitter < 0 || c.World.Jitter >= 0.5:
		return fmt.Errorf("world.jitter must be in [0, 0.5), got %v", c.World.Jitter)
	case c.Sim.DT <= 0:
		return fmt.Errorf("sim.dt must be positive, got %v", c.Sim.DT)
	}
	// Lattice vertices must never straddle a cell border.
	per := c.Graph.CellSize / c.World.VertexSpacing
	if math.Abs(per-math.Round(per)) > 1e-9 || per < 1 {
		return fmt.Errorf("graph.cell_size (%v) must be a multiple of world.vertex_spacing (%v)",
			c.Graph.CellSize, c.World.VertexSpacing)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	ms := func(v float64) time.Duration { return time.Duration(v * float64(time.Millisecond)) }
	sec := func(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

	c.Derived.FrameDT = sec(c.Sim.DT)
	c.Derived.FrameBudget = ms(c.Sim.FrameBudgetMS)
	c.Derived.TaskBudget = ms(c.Astar.TaskBudgetMS)
	c.Derived.RepathPeriod = sec(c.Bots.RepathPeriod)
	c.Derived.BotLifespan = sec(c.Bots.Lifespan)
	c.Derived.SectorSize = float64(c.World.SectorCells) * c.Graph.CellSize
	c.Derived.WorldW = float64(c.World.SectorsX) * c.Derived.SectorSize
	c.Derived.WorldH = float64(c.World.SectorsY) * c.Derived.SectorSize
	c.Derived.Coord = c.Graph.ManagerConfig().CoordSystem

	if c.World.Workers <= 0 {
		c.World.Workers = 4
	}
	if c.Telemetry.PerfCollectorWindow <= 0 {
		c.Telemetry.PerfCollectorWindow = 60
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
