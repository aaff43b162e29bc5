// Package world streams a procedural sector world into a GraphManager.
//
// The world is a rectangle of square sectors. Each sector is an independently
// generated navigation graph covering SectorCells x SectorCells grid cells, with
// boundary vertices inset from the sector border so that neighbouring sectors
// stitch at runtime. Some sectors carry a door: a PathObject link bridging a hole
// in the lattice that opens and closes over time.
package world

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
)

// boundaryInset is the distance between a boundary vertex and its sector border,
// as a fraction of the cell size.
const boundaryInset = 0.01

// SectorPos identifies a sector of the world.
type SectorPos struct {
	X, Y int32
}

func (p SectorPos) String() string {
	return fmt.Sprintf("sector/%d/%d", p.X, p.Y)
}

// Guid returns the stable identity of the sector graph.
func (p SectorPos) Guid() graph.GuidCompound {
	return graph.GuidFromName(p.String())
}

// DoorGuid returns the stable identity of the sector door.
func (p SectorPos) DoorGuid() graph.GuidCompound {
	return graph.GuidFromName(fmt.Sprintf("door/%d/%d", p.X, p.Y))
}

func (p SectorPos) hash() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d,%d", p.X, p.Y)
	return h.Sum64()
}

// Generator produces sector graphs. Generation is deterministic per seed and
// sector, and safe to call from several goroutines.
type Generator struct {
	CellSize     float64
	SectorCells  int
	Spacing      float64
	Jitter       float64
	ObstacleRate float64
	RoughRate    float64
	Height       float64
	DoorEvery    int
	Seed         int64
	Coord        graph.CoordSystem

	terrain *perlin
}

// NewGenerator reads the world and graph sections of cfg.
func NewGenerator(cfg *config.Config) Generator {
	return Generator{
		CellSize:     cfg.Graph.CellSize,
		SectorCells:  cfg.World.SectorCells,
		Spacing:      cfg.World.VertexSpacing,
		Jitter:       cfg.World.Jitter,
		ObstacleRate: cfg.World.ObstacleRate,
		RoughRate:    cfg.World.RoughRate,
		Height:       cfg.World.Height,
		DoorEvery:    cfg.World.DoorEvery,
		Seed:         cfg.Sim.Seed,
		Coord:        cfg.Derived.Coord,
		terrain:      newPerlin(cfg.Sim.Seed),
	}
}

// SectorSize returns the side length of a sector in world units.
func (g Generator) SectorSize() float64 {
	return float64(g.SectorCells) * g.CellSize
}

// Origin returns the lower corner of the sector.
func (g Generator) Origin(p SectorPos) (x, y float64) {
	s := g.SectorSize()
	return float64(p.X) * s, float64(p.Y) * s
}

// Center returns the middle of the sector at ground altitude.
func (g Generator) Center(p SectorPos) geom.Vec3 {
	x0, y0 := g.Origin(p)
	h := g.SectorSize() / 2
	return g.ground(x0+h, y0+h)
}

// SectorAt returns the sector containing pos.
func (g Generator) SectorAt(pos geom.Vec3) SectorPos {
	s := g.SectorSize()
	return SectorPos{X: int32(math.Floor(pos.X / s)), Y: int32(math.Floor(pos.Y / s))}
}

// terrainFrequency scales world units to noise space.
const terrainFrequency = 0.06

// Altitude is the terrain height at (x, y). A generator without terrain is flat.
func (g Generator) Altitude(x, y float64) float64 {
	if g.terrain == nil {
		return 0
	}
	return g.Height * g.terrain.fbm(x*terrainFrequency, y*terrainFrequency, 3)
}

func (g Generator) ground(x, y float64) geom.Vec3 {
	return geom.V3(x, y, g.Altitude(x, y))
}

func (g Generator) perSide() int {
	return int(math.Round(g.SectorSize() / g.Spacing))
}

// lattice is the sampled layout of one sector before it becomes a graph.
type lattice struct {
	n       int
	pos     []geom.Vec3
	present []bool
	terrain []graph.TerrainType
	door    bool
}

func (l *lattice) at(i, j int) int { return j*l.n + i }

func (g Generator) sample(p SectorPos) *lattice {
	rng := rand.New(rand.NewSource(g.Seed ^ int64(p.hash())))
	n := g.perSide()
	l := &lattice{
		n:       n,
		pos:     make([]geom.Vec3, n*n),
		present: make([]bool, n*n),
		terrain: make([]graph.TerrainType, n*n),
		door:    g.hasDoor(p),
	}
	x0, y0 := g.Origin(p)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			// Draw every value for every vertex so the stream does not depend on outcomes.
			jx := (rng.Float64()*2 - 1) * g.Jitter * g.Spacing
			jy := (rng.Float64()*2 - 1) * g.Jitter * g.Spacing
			obstacle := rng.Float64() < g.ObstacleRate
			rough := rng.Float64() < g.RoughRate

			k := l.at(i, j)
			x := x0 + g.Spacing/2 + float64(i)*g.Spacing + jx
			y := y0 + g.Spacing/2 + float64(j)*g.Spacing + jy
			l.pos[k] = g.ground(x, y)
			l.present[k] = !obstacle
			l.terrain[k] = graph.TerrainDefault
			if rough {
				l.terrain[k] = graph.TerrainRough
			}
		}
	}
	if l.door {
		// The door bridges the hole left by the middle vertex.
		mid := n / 2
		l.present[l.at(mid, mid)] = false
		l.present[l.at(mid-1, mid)] = true
		l.present[l.at(mid+1, mid)] = true
	}
	return l
}

func (g Generator) hasDoor(p SectorPos) bool {
	return g.DoorEvery > 0 && g.perSide() >= 3 && p.hash()%uint64(g.DoorEvery) == 0
}

// Sector generates the graph of sector p.
func (g Generator) Sector(p SectorPos) (*graph.Graph, error) {
	l := g.sample(p)
	n := l.n
	x0, y0 := g.Origin(p)
	s := g.SectorSize()
	inset := boundaryInset * g.CellSize

	b := graph.NewBuilder(p.Guid(), g.CellSize).
		SetCoordSystem(g.Coord).
		SetCellBox(geom.NewCellBox(
			geom.ComputeCellPos(geom.V3(x0+inset, y0+inset, 0), g.CellSize),
			geom.ComputeCellPos(geom.V3(x0+s-inset, y0+s-inset, 0), g.CellSize),
		))

	ids := make([]uint32, n*n)
	for k := range l.pos {
		if l.present[k] {
			ids[k] = b.AddVertex(l.pos[k], l.terrain[k])
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			k := l.at(i, j)
			if !l.present[k] {
				continue
			}
			if i+1 < n && l.present[l.at(i+1, j)] {
				b.AddBidirectionalEdge(ids[k], ids[l.at(i+1, j)])
			}
			if j+1 < n && l.present[l.at(i, j+1)] {
				b.AddBidirectionalEdge(ids[k], ids[l.at(i, j+1)])
			}
		}
	}

	// Boundary vertices sit on the unjittered row and column lines so that both
	// sides of a border agree on their position.
	boundary := func(k int, x, y float64, dir geom.CardinalDir) {
		if !l.present[k] {
			return
		}
		v := b.AddBoundaryVertex(g.ground(x, y), dir, graph.TerrainDefault)
		b.AddBidirectionalEdge(ids[k], v)
	}
	for j := 0; j < n; j++ {
		y := y0 + g.Spacing/2 + float64(j)*g.Spacing
		boundary(l.at(n-1, j), x0+s-inset, y, geom.East)
		boundary(l.at(0, j), x0+inset, y, geom.West)
	}
	for i := 0; i < n; i++ {
		x := x0 + g.Spacing/2 + float64(i)*g.Spacing
		boundary(l.at(i, n-1), x, y0+s-inset, geom.North)
		boundary(l.at(i, 0), x, y0+inset, geom.South)
	}

	gr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", p, err)
	}
	return gr, nil
}

// Door returns the door of sector p, if it has one. The door links the two
// lattice vertices on each side of the sector middle.
func (g Generator) Door(p SectorPos) (*graph.AdditionalGraph, bool) {
	if !g.hasDoor(p) {
		return nil, false
	}
	x0, y0 := g.Origin(p)
	mid := g.perSide() / 2
	y := y0 + g.Spacing/2 + float64(mid)*g.Spacing
	a := g.ground(x0+g.Spacing/2+float64(mid-1)*g.Spacing, y)
	c := g.ground(x0+g.Spacing/2+float64(mid+1)*g.Spacing, y)
	return graph.NewLinkGraph(p.DoorGuid(), a, c, graph.TerrainDoor), true
}

// DoorVolume is the volume locked while the door of p is closed. It covers the
// middle of the door link and nothing of the lattice around it.
func (g Generator) DoorVolume(p SectorPos) geom.Box3 {
	x0, y0 := g.Origin(p)
	mid := g.perSide() / 2
	c := g.ground(x0+g.Spacing/2+float64(mid)*g.Spacing, y0+g.Spacing/2+float64(mid)*g.Spacing)
	return geom.BoxAround(c, g.Spacing/4, 2*g.Height+g.Spacing)
}
