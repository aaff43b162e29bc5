package navgraph

import (
	"math"
	"slices"

	"github.com/pthm-cable/navgraph/geom"
)

type boundaryEntry struct {
	v   vertexRef
	dir geom.CardinalDir
	pos geom.Vec3
}

type connectionEntry struct {
	v   vertexRef
	pos geom.Vec3
}

type cellRef struct {
	frag, gen, cell uint32
}

type cellEntry struct {
	boundary    []boundaryEntry
	graphCells  []cellRef
	connections []connectionEntry
	staticCount int
}

func (e *cellEntry) isEmpty() bool {
	return len(e.boundary) == 0 && len(e.graphCells) == 0 && len(e.connections) == 0
}

// CellGrid is the uniform spatial index. Each populated cell lists the boundary
// vertices falling in it, the graph cells overlapping it and the PathObject
// connection vertices anchored to it.
type CellGrid struct {
	cellSize float64
	cells    map[geom.CellPos]*cellEntry
}

func newCellGrid(cellSize float64) *CellGrid {
	return &CellGrid{cellSize: cellSize, cells: make(map[geom.CellPos]*cellEntry)}
}

// CellSize returns the grid cell size.
func (g *CellGrid) CellSize() float64 { return g.cellSize }

// CellCount returns the number of populated cells.
func (g *CellGrid) CellCount() int { return len(g.cells) }

// BoundaryEntryCount returns the number of boundary vertices indexed in cell p.
func (g *CellGrid) BoundaryEntryCount(p geom.CellPos) int {
	if e := g.cells[p]; e != nil {
		return len(e.boundary)
	}
	return 0
}

// HasStaticGraph reports whether a static graph cell overlaps p.
func (g *CellGrid) HasStaticGraph(p geom.CellPos) bool {
	e := g.cells[p]
	return e != nil && e.staticCount > 0
}

func (g *CellGrid) get(p geom.CellPos) *cellEntry {
	return g.cells[p]
}

func (g *CellGrid) entry(p geom.CellPos) *cellEntry {
	e := g.cells[p]
	if e == nil {
		e = &cellEntry{}
		g.cells[p] = e
	}
	return e
}

func (g *CellGrid) compact(p geom.CellPos) {
	if e := g.cells[p]; e != nil && e.isEmpty() {
		delete(g.cells, p)
	}
}

// coverage returns the grid cells a graph cell is registered in.
func (g *CellGrid) coverage(f *fragment, ci int) geom.CellBox {
	c := &f.cells[ci]
	cb := geom.NewCellBox(c.CellPos, c.CellPos)
	if !c.Box.IsEmpty() {
		cb.Union(c.Box.CellBox(g.cellSize))
	}
	return cb
}

func (g *CellGrid) register(f *fragment) {
	for ci := range f.cells {
		c := &f.cells[ci]
		for d := geom.East; d < geom.NumCardinalDirs; d++ {
			r := c.LinkVertices[d]
			for idx := r.First; idx < r.First+r.Count; idx++ {
				pos := c.Vertices[idx].Position
				e := g.entry(geom.ComputeCellPos(pos, g.cellSize))
				e.boundary = append(e.boundary, boundaryEntry{v: f.ref(uint32(ci), idx), dir: d, pos: pos})
			}
		}
		ref := cellRef{frag: f.id, gen: f.gen, cell: uint32(ci)}
		for p := range g.coverage(f, ci).Cells() {
			e := g.entry(p)
			e.graphCells = append(e.graphCells, ref)
			if f.kind == fragmentStatic {
				e.staticCount++
			}
		}
	}
}

func (g *CellGrid) unregister(f *fragment) {
	for ci := range f.cells {
		c := &f.cells[ci]
		for d := geom.East; d < geom.NumCardinalDirs; d++ {
			r := c.LinkVertices[d]
			for idx := r.First; idx < r.First+r.Count; idx++ {
				p := geom.ComputeCellPos(c.Vertices[idx].Position, g.cellSize)
				if e := g.cells[p]; e != nil {
					e.boundary = slices.DeleteFunc(e.boundary, func(b boundaryEntry) bool {
						return b.v.frag == f.id && b.v.gen == f.gen
					})
					g.compact(p)
				}
			}
		}
		for p := range g.coverage(f, ci).Cells() {
			e := g.cells[p]
			if e == nil {
				continue
			}
			before := len(e.graphCells)
			e.graphCells = slices.DeleteFunc(e.graphCells, func(r cellRef) bool {
				return r.frag == f.id && r.gen == f.gen && r.cell == uint32(ci)
			})
			if f.kind == fragmentStatic {
				e.staticCount -= before - len(e.graphCells)
			}
			g.compact(p)
		}
	}
}

func (g *CellGrid) addConnection(c connectionEntry) {
	e := g.entry(geom.ComputeCellPos(c.pos, g.cellSize))
	e.connections = append(e.connections, c)
}

func (g *CellGrid) removeConnections(f *fragment) {
	for idx, v := range f.ag.Vertices {
		if !v.Connect {
			continue
		}
		p := geom.ComputeCellPos(v.Position, g.cellSize)
		if e := g.cells[p]; e != nil {
			e.connections = slices.DeleteFunc(e.connections, func(c connectionEntry) bool {
				return c.v.frag == f.id && c.v.gen == f.gen && c.v.idx == uint32(idx)
			})
			g.compact(p)
		}
	}
}

// stitcher creates and destroys virtual edges as fragments come and go.
type stitcher struct {
	grid       *CellGrid
	sdm        *StitchDataManager
	pool       *virtualEdgePool
	canGo      CanGoOracle
	tolerance  float64
	linkRadius float64

	seenCells map[cellRef]struct{}
	seenConns map[vertexRef]struct{}
}

func newStitcher(grid *CellGrid, sdm *StitchDataManager, canGo CanGoOracle, tolerance, linkRadius float64) *stitcher {
	return &stitcher{
		grid:       grid,
		sdm:        sdm,
		pool:       newVirtualEdgePool(sdm),
		canGo:      canGo,
		tolerance:  tolerance,
		linkRadius: linkRadius,
		seenCells:  make(map[cellRef]struct{}),
		seenConns:  make(map[vertexRef]struct{}),
	}
}

// link creates a->b and b->a where the oracle allows. It returns the number created.
func (s *stitcher) link(a vertexRef, apos geom.Vec3, b vertexRef, bpos geom.Vec3, kind VirtualEdgeKind) int {
	n := 0
	if !s.pool.exists(a, b) && s.canGo.CanGo(apos, bpos) && s.pool.create(a, b, kind) {
		n++
	}
	if !s.pool.exists(b, a) && s.canGo.CanGo(bpos, apos) && s.pool.create(b, a, kind) {
		n++
	}
	return n
}

// stitchFragment links every boundary vertex of f to the facing boundary vertices
// found in the surrounding cells. Both sides must already be registered.
func (s *stitcher) stitchFragment(f *fragment, counters *FrameCounters) int {
	n := 0
	for ci := range f.cells {
		c := &f.cells[ci]
		for d := geom.East; d < geom.NumCardinalDirs; d++ {
			r := c.LinkVertices[d]
			for idx := r.First; idx < r.First+r.Count; idx++ {
				n += s.stitchVertex(boundaryEntry{v: f.ref(uint32(ci), idx), dir: d, pos: c.Vertices[idx].Position})
			}
		}
		counters.addStitchedCell()
	}
	return n
}

// reach is the number of cells around a boundary vertex that may hold a vertex
// within stitch tolerance.
func (s *stitcher) reach() int32 {
	return max(1, int32(math.Ceil(s.tolerance/s.grid.cellSize)))
}

func (s *stitcher) stitchVertex(b boundaryEntry) int {
	n := 0
	home := geom.ComputeCellPos(b.pos, s.grid.cellSize)
	want := b.dir.Opposite()
	for p := range geom.NewCellBox(home, home).Enlarge(s.reach()).Cells() {
		e := s.grid.get(p)
		if e == nil {
			continue
		}
		for _, o := range e.boundary {
			if o.dir != want || (o.v.frag == b.v.frag && o.v.cell == b.v.cell) {
				continue
			}
			if s.sdm.resolve(o.v) == nil {
				continue
			}
			if geom.Dist(b.pos, o.pos) > s.tolerance {
				continue
			}
			n += s.link(b.v, b.pos, o.v, o.pos, VirtualEdgeStitch)
		}
	}
	return n
}

// linkAdditional registers the connection vertices of an additional fragment and
// links them into the static graph.
func (s *stitcher) linkAdditional(f *fragment) int {
	n := 0
	for idx, v := range f.ag.Vertices {
		if !v.Connect {
			continue
		}
		c := connectionEntry{v: f.ref(0, uint32(idx)), pos: v.Position}
		s.grid.addConnection(c)
		n += s.linkConnection(c)
	}
	f.linked = true
	return n
}

// unlinkAdditional drops every virtual edge of an additional fragment and its
// connection registrations.
func (s *stitcher) unlinkAdditional(f *fragment) int {
	n := s.pool.sweep(func(frag uint32) bool { return frag == f.id })
	s.grid.removeConnections(f)
	f.linked = false
	return n
}

// linkConnection links one connection vertex to every resident static vertex within
// the link radius.
func (s *stitcher) linkConnection(c connectionEntry) int {
	n := 0
	box := geom.BoxAround(c.pos, s.linkRadius, s.linkRadius)
	clear(s.seenCells)
	for p := range box.CellBox(s.grid.cellSize).Cells() {
		e := s.grid.get(p)
		if e == nil {
			continue
		}
		for _, cr := range e.graphCells {
			if _, ok := s.seenCells[cr]; ok {
				continue
			}
			s.seenCells[cr] = struct{}{}
			f := s.sdm.resolve(vertexRef{frag: cr.frag, gen: cr.gen})
			if f == nil || f.kind != fragmentStatic {
				continue
			}
			gc := &f.cells[cr.cell]
			if !gc.Box.Intersects(box) {
				continue
			}
			for idx := range gc.Vertices {
				vpos := gc.Vertices[idx].Position
				if geom.Dist(c.pos, vpos) > s.linkRadius {
					continue
				}
				n += s.link(c.v, c.pos, f.ref(cr.cell, uint32(idx)), vpos, VirtualEdgeAdditional)
			}
		}
	}
	return n
}

// relinkNear links the connection vertices around a freshly stitched static
// fragment to it, so the result does not depend on which came first.
func (s *stitcher) relinkNear(f *fragment) int {
	n := 0
	reach := int32(math.Ceil(s.linkRadius / s.grid.cellSize))
	clear(s.seenConns)
	for ci := range f.cells {
		for p := range s.grid.coverage(f, ci).Enlarge(reach).Cells() {
			e := s.grid.get(p)
			if e == nil {
				continue
			}
			for _, c := range e.connections {
				if _, ok := s.seenConns[c.v]; ok {
					continue
				}
				s.seenConns[c.v] = struct{}{}
				n += s.linkConnection(c)
			}
		}
	}
	return n
}
