package navgraph

import (
	"cmp"
	"slices"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
)

type fragmentKind uint8

const (
	fragmentStatic fragmentKind = iota
	fragmentAdditional
)

// fragment is the runtime record of one resident Graph or AdditionalGraph.
// The immutable cell data is shared with the loaded graph; only the adjacency
// index and residency bookkeeping live here.
type fragment struct {
	id   uint32
	gen  uint32
	kind fragmentKind
	guid graph.GuidCompound
	key  string

	g     *graph.Graph
	ag    *graph.AdditionalGraph
	cells []graph.GraphCell

	// outStart[c][v]..outStart[c][v+1] indexes outEdges[c], the cell's edges sorted by start vertex.
	outStart [][]uint32
	outEdges [][]uint32

	refCount int
	resident bool
	pending  bool // registered in the grid but not yet stitched

	// additional graphs only
	linked bool
	anchor geom.CellPos
}

func newFragment(kind fragmentKind, guid graph.GuidCompound, cells []graph.GraphCell) *fragment {
	f := &fragment{
		kind:     kind,
		guid:     guid,
		key:      guid.Key(),
		cells:    cells,
		outStart: make([][]uint32, len(cells)),
		outEdges: make([][]uint32, len(cells)),
		refCount: 1,
		resident: true,
	}
	for ci := range cells {
		f.outStart[ci], f.outEdges[ci] = buildOutIndex(&cells[ci])
	}
	return f
}

func buildOutIndex(c *graph.GraphCell) (start, edges []uint32) {
	n := len(c.Vertices)
	start = make([]uint32, n+1)
	for _, e := range c.Edges {
		start[e.Start+1]++
	}
	for i := 1; i <= n; i++ {
		start[i] += start[i-1]
	}
	edges = make([]uint32, len(c.Edges))
	for i := range edges {
		edges[i] = uint32(i)
	}
	slices.SortStableFunc(edges, func(a, b uint32) int {
		return cmp.Compare(c.Edges[a].Start, c.Edges[b].Start)
	})
	return start, edges
}

// additionalCell turns a PathObject topology into one synthesized cell whose
// vertices are all interior.
func additionalCell(ag *graph.AdditionalGraph, cellSize float64) graph.GraphCell {
	c := graph.GraphCell{
		Box:          geom.EmptyBox3(),
		Vertices:     make([]graph.GraphVertex, len(ag.Vertices)),
		Edges:        slices.Clone(ag.Edges),
		TerrainTypes: make([]graph.TerrainType, len(ag.Vertices)),
	}
	for i, v := range ag.Vertices {
		c.Vertices[i] = graph.GraphVertex{Position: v.Position}
		c.Box.Extend(v.Position)
		t := v.Terrain
		if t == 0 {
			t = graph.TerrainDefault
		}
		c.TerrainTypes[i] = t
	}
	c.InteriorVertices = graph.VertexRange{First: 0, Count: uint32(len(ag.Vertices))}
	if cellSize > 0 {
		c.CellPos = geom.ComputeCellPos(ag.Vertices[anchorVertex(ag)].Position, cellSize)
	}
	return c
}

// anchorVertex is the first connection vertex, or vertex 0 when none is flagged.
func anchorVertex(ag *graph.AdditionalGraph) int {
	for i, v := range ag.Vertices {
		if v.Connect {
			return i
		}
	}
	return 0
}

func (f *fragment) ref(cell, idx uint32) vertexRef {
	return vertexRef{frag: f.id, gen: f.gen, cell: cell, idx: idx}
}

func (f *fragment) position(cell, idx uint32) geom.Vec3 {
	return f.cells[cell].Vertices[idx].Position
}

func (f *fragment) outRange(cell, idx uint32) []uint32 {
	s := f.outStart[cell]
	return f.outEdges[cell][s[idx]:s[idx+1]]
}

// vertexRef is the durable internal address of a vertex: a fragment slot plus the
// generation that slot had when the reference was taken.
type vertexRef struct {
	frag, gen uint32
	cell, idx uint32
}

// StitchDataManager owns the resident fragments, indexed by slot and by GUID.
type StitchDataManager struct {
	frags   []*fragment
	free    []uint32
	nextGen uint32

	static     map[string]*fragment
	additional map[string]*fragment
}

func newStitchDataManager() *StitchDataManager {
	return &StitchDataManager{
		static:     make(map[string]*fragment),
		additional: make(map[string]*fragment),
	}
}

func (s *StitchDataManager) insert(f *fragment) {
	s.nextGen++
	f.gen = s.nextGen
	if n := len(s.free); n > 0 {
		f.id = s.free[n-1]
		s.free = s.free[:n-1]
		s.frags[f.id] = f
	} else {
		f.id = uint32(len(s.frags))
		s.frags = append(s.frags, f)
	}
	s.index(f.kind)[f.key] = f
}

// detach drops the GUID index entry so the fragment can no longer be found.
func (s *StitchDataManager) detach(f *fragment) {
	f.resident = false
	idx := s.index(f.kind)
	if idx[f.key] == f {
		delete(idx, f.key)
	}
}

// release frees the slot. The fragment must already be detached.
func (s *StitchDataManager) release(f *fragment) {
	if s.frags[f.id] == f {
		s.frags[f.id] = nil
		s.free = append(s.free, f.id)
	}
}

func (s *StitchDataManager) index(k fragmentKind) map[string]*fragment {
	if k == fragmentAdditional {
		return s.additional
	}
	return s.static
}

// resolve returns the resident fragment r points into, or nil.
func (s *StitchDataManager) resolve(r vertexRef) *fragment {
	if int(r.frag) >= len(s.frags) {
		return nil
	}
	f := s.frags[r.frag]
	if f == nil || f.gen != r.gen || !f.resident {
		return nil
	}
	return f
}

func (s *StitchDataManager) lookup(k fragmentKind, key string) *fragment {
	return s.index(k)[key]
}

// GraphCount returns the number of resident static graphs.
func (s *StitchDataManager) GraphCount() int { return len(s.static) }

// AdditionalGraphCount returns the number of resident additional graphs.
func (s *StitchDataManager) AdditionalGraphCount() int { return len(s.additional) }

// StitchedGraph is the runtime wrapper around one resident Graph.
type StitchedGraph struct {
	f *fragment
	m *GraphManager
}

// Guid returns the graph identity.
func (sg *StitchedGraph) Guid() graph.GuidCompound { return sg.f.guid }

// Graph returns the immutable graph data.
func (sg *StitchedGraph) Graph() *graph.Graph { return sg.f.g }

// RefCount returns how many AddGraph calls are holding the graph.
func (sg *StitchedGraph) RefCount() int { return sg.f.refCount }

// IsResident reports whether the graph is still managed.
func (sg *StitchedGraph) IsResident() bool { return sg.f.resident }

// Vertex returns the vertex at (cell, idx).
func (sg *StitchedGraph) Vertex(cell, idx uint32) (VertexPtr, bool) {
	return sg.f.vertex(cell, idx)
}

// LinkedBoundaryVertexCount returns how many boundary vertices on side dir
// currently have at least one virtual edge.
func (sg *StitchedGraph) LinkedBoundaryVertexCount(dir geom.CardinalDir) int {
	if !sg.f.resident {
		return 0
	}
	n := 0
	for ci := range sg.f.cells {
		c := &sg.f.cells[ci]
		r := c.LinkVertices[dir]
		for idx := r.First; idx < r.First+r.Count; idx++ {
			if sg.m.stitcher.pool.hasLinks(sg.f.ref(uint32(ci), idx)) {
				n++
			}
		}
	}
	return n
}

// AdditionalStitchedGraph is the runtime wrapper around one resident AdditionalGraph.
type AdditionalStitchedGraph struct {
	f *fragment
	m *GraphManager
}

// Guid returns the PathObject topology identity.
func (ag *AdditionalStitchedGraph) Guid() graph.GuidCompound { return ag.f.guid }

// Graph returns the immutable topology.
func (ag *AdditionalStitchedGraph) Graph() *graph.AdditionalGraph { return ag.f.ag }

// RefCount returns how many AddAdditionalGraph calls are holding the topology.
func (ag *AdditionalStitchedGraph) RefCount() int { return ag.f.refCount }

// IsResident reports whether the topology is still managed.
func (ag *AdditionalStitchedGraph) IsResident() bool { return ag.f.resident }

// IsLinked reports whether the topology is connected to the static graph.
// It is false while waiting for its anchor cell.
func (ag *AdditionalStitchedGraph) IsLinked() bool { return ag.f.resident && ag.f.linked }

// Vertex returns the vertex at idx.
func (ag *AdditionalStitchedGraph) Vertex(idx uint32) (VertexPtr, bool) {
	return ag.f.vertex(0, idx)
}
