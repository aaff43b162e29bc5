// Package navgraph is the runtime navigation-graph manager. It keeps a set of
// independently generated sector graphs and PathObject topologies resident,
// stitches them together with virtual edges as they stream in and out, answers
// nearby-vertex queries and runs time-sliced A* searches over the result.
//
// A GraphManager is not safe for concurrent use. Callers serialize access from
// their simulation frame.
package navgraph

import (
	"log/slog"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
)

// Config holds the tunables of a GraphManager.
type Config struct {
	// CellSize of the managed graphs. Zero adopts the cell size of the first graph added.
	CellSize    float64
	CoordSystem graph.CoordSystem

	// StitchTolerance is the maximum distance between two facing boundary vertices
	// for them to be linked.
	StitchTolerance float64

	// CoverageDistance is the step nearby queries grow by. Zero means CellSize.
	CoverageDistance float64
	// MaxCoverageDistance bounds nearby queries. Zero means 4 steps.
	MaxCoverageDistance float64

	// AdditionalLinkRadius is how far a PathObject connection vertex reaches into
	// the static graph.
	AdditionalLinkRadius float64

	// MaxNearbyVertices caps the candidates gathered by sorted queries before scoring.
	MaxNearbyVertices int
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		StitchTolerance:      0.5,
		AdditionalLinkRadius: 1.5,
		MaxNearbyVertices:    64,
	}
}

// CanGoOracle answers whether an entity can move in a straight line between two points.
// The stitcher consults it before creating a virtual edge.
type CanGoOracle interface {
	CanGo(from, to geom.Vec3) bool
}

// CanGoFunc adapts a function to CanGoOracle.
type CanGoFunc func(from, to geom.Vec3) bool

// CanGo implements CanGoOracle.
func (f CanGoFunc) CanGo(from, to geom.Vec3) bool { return f(from, to) }

type alwaysCanGo struct{}

func (alwaysCanGo) CanGo(geom.Vec3, geom.Vec3) bool { return true }

// Option configures a GraphManager.
type Option func(*GraphManager)

// WithLogger sets the logger for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(m *GraphManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCanGo sets the geometry oracle consulted while stitching.
func WithCanGo(o CanGoOracle) Option {
	return func(m *GraphManager) {
		if o != nil {
			m.canGo = o
		}
	}
}

// WithFrameCounters makes queries and searches accumulate into c.
// The caller owns c and resets it every frame.
func WithFrameCounters(c *FrameCounters) Option {
	return func(m *GraphManager) {
		m.counters = c
	}
}

// FrameCounters accumulates work done during one frame so a scheduler can
// estimate CPU cost. They carry no correctness meaning.
type FrameCounters struct {
	AstarLoops         int
	FindNearbyVertices int
	StitchedCells      int
}

// Reset zeroes every counter.
func (c *FrameCounters) Reset() {
	*c = FrameCounters{}
}

func (c *FrameCounters) addAstarLoop() {
	if c != nil {
		c.AstarLoops++
	}
}

func (c *FrameCounters) addFindNearby() {
	if c != nil {
		c.FindNearbyVertices++
	}
}

func (c *FrameCounters) addStitchedCell() {
	if c != nil {
		c.StitchedCells++
	}
}

// LogValue implements slog.LogValuer.
func (c FrameCounters) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("astar_loops", c.AstarLoops),
		slog.Int("find_nearby", c.FindNearbyVertices),
		slog.Int("stitched_cells", c.StitchedCells),
	)
}
