// Package graph holds the immutable navigation data produced offline: sector
// graphs partitioned into cells, and the additional graphs injected by PathObjects.
// Nothing in this package is mutated once a Graph has been built or decoded.
package graph

import (
	"errors"

	"github.com/pthm-cable/navgraph/geom"
)

var (
	// ErrEdgeSpansCells is returned when an edge joins vertices that are neither in the
	// same cell nor in 4-adjacent cells.
	ErrEdgeSpansCells = errors.New("graph: edge spans non-adjacent cells")
	// ErrBadVertex is returned for an edge referencing an unknown vertex.
	ErrBadVertex = errors.New("graph: edge references unknown vertex")
	// ErrEmptyGraph is returned when building a graph without vertices.
	ErrEmptyGraph = errors.New("graph: no vertices")
	// ErrBadCellSize is returned for a non-positive cell size.
	ErrBadCellSize = errors.New("graph: cell size must be positive")
)

// CoordSystem tags the world coordinate convention a graph was generated in.
type CoordSystem uint8

const (
	CoordSystemZUp CoordSystem = iota
	CoordSystemYUp
)

// TerrainType is a single-bit terrain tag carried by vertices.
type TerrainType uint32

const (
	TerrainDefault TerrainType = 1 << iota
	TerrainWater
	TerrainRough
	TerrainDoor
	TerrainLadder
)

// TerrainMask is a set of allowed terrain types.
type TerrainMask uint32

// TerrainMaskAll allows every terrain type.
const TerrainMaskAll TerrainMask = ^TerrainMask(0)

// Allows reports whether t is in the mask.
func (m TerrainMask) Allows(t TerrainType) bool {
	return uint32(m)&uint32(t) != 0
}

// GraphVertex is one navigable point.
type GraphVertex struct {
	Position geom.Vec3
}

// GraphEdge is a one-way connection between two vertices of the same cell.
type GraphEdge struct {
	Start, End uint32
}

// VertexRange is a contiguous run of vertex indices.
type VertexRange struct {
	First, Count uint32
}

// Contains reports whether idx falls in the range.
func (r VertexRange) Contains(idx uint32) bool {
	return idx >= r.First && idx < r.First+r.Count
}

// GraphCell holds the vertices and edges of one grid cell of a Graph.
// Boundary vertices come first, grouped per direction in East, North, West,
// South order (LinkVertices), followed by interior vertices.
type GraphCell struct {
	CellPos          geom.CellPos
	Box              geom.Box3
	Vertices         []GraphVertex
	Edges            []GraphEdge
	TerrainTypes     []TerrainType // empty when every vertex is TerrainDefault
	LinkVertices     [geom.NumCardinalDirs]VertexRange
	InteriorVertices VertexRange
}

// VertexCount returns the number of vertices.
func (c *GraphCell) VertexCount() int { return len(c.Vertices) }

// EdgeCount returns the number of edges.
func (c *GraphCell) EdgeCount() int { return len(c.Edges) }

// VertexPosition returns the position of vertex idx.
func (c *GraphCell) VertexPosition(idx uint32) geom.Vec3 {
	return c.Vertices[idx].Position
}

// VertexTerrainType returns the terrain of vertex idx.
func (c *GraphCell) VertexTerrainType(idx uint32) TerrainType {
	if int(idx) < len(c.TerrainTypes) {
		return c.TerrainTypes[idx]
	}
	return TerrainDefault
}

// IsBoundaryVertex reports whether vertex idx sits on a cell border.
func (c *GraphCell) IsBoundaryVertex(idx uint32) bool {
	return idx < c.InteriorVertices.First
}

// BoundaryDir returns the border vertex idx sits on.
func (c *GraphCell) BoundaryDir(idx uint32) (geom.CardinalDir, bool) {
	for d := geom.East; d < geom.NumCardinalDirs; d++ {
		if c.LinkVertices[d].Contains(idx) {
			return d, true
		}
	}
	return 0, false
}

// BoundaryVertexCount returns the number of boundary vertices on side d.
func (c *GraphCell) BoundaryVertexCount(d geom.CardinalDir) int {
	return int(c.LinkVertices[d].Count)
}

// BoundaryVertexIdx returns the cell-local index of the k-th boundary vertex on side d.
func (c *GraphCell) BoundaryVertexIdx(d geom.CardinalDir, k int) uint32 {
	return c.LinkVertices[d].First + uint32(k)
}

// Graph is one offline-generated sector: a rectangle of cells sharing a cell size.
type Graph struct {
	Guid        GuidCompound
	CellSize    float64
	CoordSystem CoordSystem
	CellBox     geom.CellBox
	Cells       []GraphCell
}

// IsCompatibleWith reports whether g and o can be managed together.
func (g *Graph) IsCompatibleWith(o *Graph) bool {
	return g.CellSize == o.CellSize && g.CoordSystem == o.CoordSystem
}

// Cell returns the cell at pos, or nil.
func (g *Graph) Cell(pos geom.CellPos) *GraphCell {
	for i := range g.Cells {
		if g.Cells[i].CellPos == pos {
			return &g.Cells[i]
		}
	}
	return nil
}

// VertexCount returns the number of vertices across all cells.
func (g *Graph) VertexCount() int {
	n := 0
	for i := range g.Cells {
		n += len(g.Cells[i].Vertices)
	}
	return n
}

// EdgeCount returns the number of edges across all cells.
func (g *Graph) EdgeCount() int {
	n := 0
	for i := range g.Cells {
		n += len(g.Cells[i].Edges)
	}
	return n
}

// AdditionalVertex is a vertex of a PathObject topology.
// Connect marks vertices that must be linked to the surrounding static graph.
type AdditionalVertex struct {
	Position geom.Vec3
	Terrain  TerrainType
	Connect  bool
}

// AdditionalGraph is the topology a PathObject (door, ladder, lift) injects at runtime.
type AdditionalGraph struct {
	Guid     GuidCompound
	Vertices []AdditionalVertex
	Edges    []GraphEdge
}

// Validate checks edge indices.
func (a *AdditionalGraph) Validate() error {
	if len(a.Vertices) == 0 {
		return ErrEmptyGraph
	}
	for _, e := range a.Edges {
		if int(e.Start) >= len(a.Vertices) || int(e.End) >= len(a.Vertices) {
			return ErrBadVertex
		}
	}
	return nil
}

// ConnectionVertices returns the indices of vertices flagged Connect.
func (a *AdditionalGraph) ConnectionVertices() []uint32 {
	var out []uint32
	for i, v := range a.Vertices {
		if v.Connect {
			out = append(out, uint32(i))
		}
	}
	return out
}

// NewLinkGraph builds the two-vertex bidirectional topology used by doors and ladders.
func NewLinkGraph(guid GuidCompound, a, b geom.Vec3, terrain TerrainType) *AdditionalGraph {
	return &AdditionalGraph{
		Guid: guid,
		Vertices: []AdditionalVertex{
			{Position: a, Terrain: terrain, Connect: true},
			{Position: b, Terrain: terrain, Connect: true},
		},
		Edges: []GraphEdge{{Start: 0, End: 1}, {Start: 1, End: 0}},
	}
}
