package graph

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/pthm-cable/navgraph/geom"
)

type builderVertex struct {
	pos      geom.Vec3
	terrain  TerrainType
	boundary bool
	dir      geom.CardinalDir
	cell     geom.CellPos
}

type splitKey struct {
	cell   geom.CellPos
	dir    geom.CardinalDir
	qx, qy int64
}

// Builder partitions world-space vertices and edges into a cell-aligned Graph.
// It is the offline partitioner: vertices go to the cell ComputeCellPos assigns,
// and an edge joining two adjacent cells is cut at the shared border into two
// boundary vertices that the runtime stitcher links back together.
type Builder struct {
	guid     GuidCompound
	cellSize float64
	coord    CoordSystem
	cellBox  geom.CellBox
	hasBox   bool

	vertices []builderVertex
	edges    []GraphEdge
}

// NewBuilder creates a builder for a graph with the given identity and cell size.
func NewBuilder(guid GuidCompound, cellSize float64) *Builder {
	return &Builder{guid: guid, cellSize: cellSize}
}

// SetCoordSystem overrides the default Z-up coordinate system.
func (b *Builder) SetCoordSystem(c CoordSystem) *Builder {
	b.coord = c
	return b
}

// SetCellBox declares the sector rectangle. By default it is the union of occupied cells.
func (b *Builder) SetCellBox(box geom.CellBox) *Builder {
	b.cellBox = box
	b.hasBox = true
	return b
}

// AddVertex adds an interior vertex and returns its builder index.
func (b *Builder) AddVertex(pos geom.Vec3, terrain TerrainType) uint32 {
	if terrain == 0 {
		terrain = TerrainDefault
	}
	b.vertices = append(b.vertices, builderVertex{
		pos:     pos,
		terrain: terrain,
		cell:    geom.ComputeCellPos(pos, b.cellSize),
	})
	return uint32(len(b.vertices) - 1)
}

// AddBoundaryVertex adds a vertex lying on side dir of its cell, to be stitched to
// a facing boundary vertex of a neighboring graph.
func (b *Builder) AddBoundaryVertex(pos geom.Vec3, dir geom.CardinalDir, terrain TerrainType) uint32 {
	idx := b.AddVertex(pos, terrain)
	b.vertices[idx].boundary = true
	b.vertices[idx].dir = dir
	return idx
}

// AddEdge adds a one-way edge between two builder vertices.
func (b *Builder) AddEdge(from, to uint32) {
	b.edges = append(b.edges, GraphEdge{Start: from, End: to})
}

// AddBidirectionalEdge adds both one-way edges.
func (b *Builder) AddBidirectionalEdge(a, c uint32) {
	b.AddEdge(a, c)
	b.AddEdge(c, a)
}

// Build produces the immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	if b.cellSize <= 0 || math.IsNaN(b.cellSize) {
		return nil, ErrBadCellSize
	}
	if len(b.vertices) == 0 {
		return nil, ErrEmptyGraph
	}

	verts := slices.Clone(b.vertices)
	splits := make(map[splitKey]uint32)
	split := func(cell geom.CellPos, dir geom.CardinalDir, p geom.Vec3, terrain TerrainType) uint32 {
		key := splitKey{cell: cell, dir: dir, qx: quantize(p.X), qy: quantize(p.Y)}
		if idx, ok := splits[key]; ok {
			return idx
		}
		verts = append(verts, builderVertex{pos: p, terrain: terrain, boundary: true, dir: dir, cell: cell})
		idx := uint32(len(verts) - 1)
		splits[key] = idx
		return idx
	}

	local := make([]GraphEdge, 0, len(b.edges))
	for _, e := range b.edges {
		if int(e.Start) >= len(b.vertices) || int(e.End) >= len(b.vertices) {
			return nil, fmt.Errorf("%w: %d->%d", ErrBadVertex, e.Start, e.End)
		}
		va, vb := verts[e.Start], verts[e.End]
		if va.cell == vb.cell {
			local = append(local, e)
			continue
		}
		dir, ok := va.cell.DirTo(vb.cell)
		if !ok {
			return nil, fmt.Errorf("%w: %v->%v", ErrEdgeSpansCells, va.cell, vb.cell)
		}
		p := b.borderCrossing(va.pos, vb.pos, va.cell, dir)
		pa := split(va.cell, dir, p, va.terrain)
		pb := split(vb.cell, dir.Opposite(), p, vb.terrain)
		local = append(local, GraphEdge{Start: e.Start, End: pa}, GraphEdge{Start: pb, End: e.End})
	}

	// Group vertices per cell, boundary first in direction order, interior last.
	byCell := make(map[geom.CellPos][]uint32)
	for i, v := range verts {
		byCell[v.cell] = append(byCell[v.cell], uint32(i))
	}
	positions := make([]geom.CellPos, 0, len(byCell))
	for p := range byCell {
		positions = append(positions, p)
	}
	slices.SortFunc(positions, func(a, c geom.CellPos) int {
		if r := cmp.Compare(a.Y, c.Y); r != 0 {
			return r
		}
		return cmp.Compare(a.X, c.X)
	})

	type loc struct{ cell, idx uint32 }
	remap := make([]loc, len(verts))
	g := &Graph{
		Guid:        b.guid,
		CellSize:    b.cellSize,
		CoordSystem: b.coord,
		CellBox:     geom.EmptyCellBox(),
		Cells:       make([]GraphCell, len(positions)),
	}

	for ci, pos := range positions {
		members := byCell[pos]
		slices.SortStableFunc(members, func(x, y uint32) int {
			return cmp.Compare(vertexRank(verts[x]), vertexRank(verts[y]))
		})

		cell := &g.Cells[ci]
		cell.CellPos = pos
		cell.Box = geom.EmptyBox3()
		cell.Vertices = make([]GraphVertex, len(members))
		hasTerrain := false
		for li, wi := range members {
			v := verts[wi]
			remap[wi] = loc{cell: uint32(ci), idx: uint32(li)}
			cell.Vertices[li] = GraphVertex{Position: v.pos}
			cell.Box.Extend(v.pos)
			if v.terrain != TerrainDefault {
				hasTerrain = true
			}
			if v.boundary {
				r := &cell.LinkVertices[v.dir]
				if r.Count == 0 {
					r.First = uint32(li)
				}
				r.Count++
			}
		}
		interior := uint32(0)
		for d := geom.East; d < geom.NumCardinalDirs; d++ {
			r := cell.LinkVertices[d]
			if r.Count == 0 {
				cell.LinkVertices[d].First = interior
			}
			interior = max(interior, r.First+r.Count)
		}
		cell.InteriorVertices = VertexRange{First: interior, Count: uint32(len(members)) - interior}
		if hasTerrain {
			cell.TerrainTypes = make([]TerrainType, len(members))
			for li, wi := range members {
				cell.TerrainTypes[li] = verts[wi].terrain
			}
		}
		g.CellBox.Extend(pos)
	}

	for _, e := range local {
		from, to := remap[e.Start], remap[e.End]
		if from.cell != to.cell {
			return nil, fmt.Errorf("%w: split produced cross-cell edge", ErrEdgeSpansCells)
		}
		cell := &g.Cells[from.cell]
		cell.Edges = append(cell.Edges, GraphEdge{Start: from.idx, End: to.idx})
	}

	if b.hasBox {
		g.CellBox = b.cellBox
	}
	return g, nil
}

// borderCrossing returns where segment a-c crosses side dir of cell.
func (b *Builder) borderCrossing(a, c geom.Vec3, cell geom.CellPos, dir geom.CardinalDir) geom.Vec3 {
	ox, oy := geom.CellOrigin(cell, b.cellSize)
	var t float64
	switch dir {
	case geom.East:
		t = (ox + b.cellSize - a.X) / (c.X - a.X)
	case geom.West:
		t = (ox - a.X) / (c.X - a.X)
	case geom.North:
		t = (oy + b.cellSize - a.Y) / (c.Y - a.Y)
	case geom.South:
		t = (oy - a.Y) / (c.Y - a.Y)
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		t = 0.5
	}
	return geom.Lerp(a, c, min(max(t, 0), 1))
}

func vertexRank(v builderVertex) int {
	if v.boundary {
		return int(v.dir)
	}
	return int(geom.NumCardinalDirs)
}

func quantize(f float64) int64 {
	return int64(math.Round(f * 1e4))
}
