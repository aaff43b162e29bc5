package navgraph

import (
	"fmt"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
)

// VertexPtr is the fast handle to a resident vertex. It is only valid while its
// fragment stays resident: do not keep one across a frame, store a VertexSafePtr
// instead. Methods other than IsValid must not be called on an invalid handle.
type VertexPtr struct {
	f         *fragment
	cell, idx uint32
}

func (f *fragment) vertex(cell, idx uint32) (VertexPtr, bool) {
	if f == nil || !f.resident || int(cell) >= len(f.cells) || int(idx) >= len(f.cells[cell].Vertices) {
		return VertexPtr{}, false
	}
	return VertexPtr{f: f, cell: cell, idx: idx}, true
}

// IsValid reports whether the vertex can still be dereferenced.
func (v VertexPtr) IsValid() bool {
	return v.f != nil && v.f.resident
}

// Position returns the world position.
func (v VertexPtr) Position() geom.Vec3 {
	return v.f.position(v.cell, v.idx)
}

// TerrainType returns the vertex terrain tag.
func (v VertexPtr) TerrainType() graph.TerrainType {
	return v.f.cells[v.cell].VertexTerrainType(v.idx)
}

// IsAdditional reports whether the vertex belongs to a PathObject topology.
func (v VertexPtr) IsAdditional() bool {
	return v.f.kind == fragmentAdditional
}

// IsBoundary reports whether the vertex sits on a cell border of a static graph.
func (v VertexPtr) IsBoundary() bool {
	return v.f.kind == fragmentStatic && v.f.cells[v.cell].IsBoundaryVertex(v.idx)
}

// BoundaryDir returns the border a boundary vertex sits on.
func (v VertexPtr) BoundaryDir() (geom.CardinalDir, bool) {
	if v.f.kind != fragmentStatic {
		return 0, false
	}
	return v.f.cells[v.cell].BoundaryDir(v.idx)
}

// Guid returns the identity of the owning graph.
func (v VertexPtr) Guid() graph.GuidCompound { return v.f.guid }

// CellPos returns the grid cell of the owning GraphCell.
func (v VertexPtr) CellPos() geom.CellPos { return v.f.cells[v.cell].CellPos }

// CellIndex returns the index of the owning GraphCell inside its graph.
func (v VertexPtr) CellIndex() uint32 { return v.cell }

// Index returns the vertex index inside its GraphCell.
func (v VertexPtr) Index() uint32 { return v.idx }

// SafePtr returns the durable handle for v.
func (v VertexPtr) SafePtr() VertexSafePtr {
	if v.f == nil {
		return VertexSafePtr{}
	}
	return VertexSafePtr{key: v.f.key, additional: v.f.kind == fragmentAdditional, cell: v.cell, idx: v.idx}
}

func (v VertexPtr) ref() vertexRef {
	return v.f.ref(v.cell, v.idx)
}

func (v VertexPtr) String() string {
	if v.f == nil {
		return "vertex(nil)"
	}
	return fmt.Sprintf("vertex(%s/%d/%d)", v.f.guid, v.cell, v.idx)
}

// VertexSafePtr is the durable handle to a vertex: the owning graph GUID plus the
// local index. It survives streaming and resolves to nothing once the graph is gone.
type VertexSafePtr struct {
	key        string
	additional bool
	cell, idx  uint32
}

// IsZero reports whether the handle was never set.
func (s VertexSafePtr) IsZero() bool { return s.key == "" }

// Resolve returns the fast handle if the owning graph is resident.
func (s VertexSafePtr) Resolve(m *GraphManager) (VertexPtr, bool) {
	return m.ResolveVertex(s)
}

// EdgePtr is the fast handle to an edge: either a static edge of a resident graph
// or a virtual edge created by stitching. The same residency rule as VertexPtr applies.
type EdgePtr struct {
	f         *fragment
	cell, idx uint32

	pool *virtualEdgePool
	vidx uint32
}

// IsVirtual reports whether the edge was created by the stitcher.
func (e EdgePtr) IsVirtual() bool { return e.pool != nil }

// IsValid reports whether the edge can still be dereferenced.
func (e EdgePtr) IsValid() bool {
	if e.pool != nil {
		return e.pool.isLive(e.vidx)
	}
	return e.f != nil && e.f.resident
}

// Start returns the source vertex.
func (e EdgePtr) Start() VertexPtr {
	if e.pool != nil {
		return e.pool.vertexPtr(e.pool.edges[e.vidx].from)
	}
	return VertexPtr{f: e.f, cell: e.cell, idx: e.f.cells[e.cell].Edges[e.idx].Start}
}

// End returns the destination vertex.
func (e EdgePtr) End() VertexPtr {
	if e.pool != nil {
		return e.pool.vertexPtr(e.pool.edges[e.vidx].to)
	}
	return VertexPtr{f: e.f, cell: e.cell, idx: e.f.cells[e.cell].Edges[e.idx].End}
}

// Length returns the straight-line length of the edge.
func (e EdgePtr) Length() float64 {
	return geom.Dist(e.Start().Position(), e.End().Position())
}

// SafePtr returns the durable handle for e.
func (e EdgePtr) SafePtr() EdgeSafePtr {
	if e.pool != nil {
		return EdgeSafePtr{virtual: true, vidx: e.vidx, serial: e.pool.edges[e.vidx].serial}
	}
	if e.f == nil {
		return EdgeSafePtr{}
	}
	return EdgeSafePtr{key: e.f.key, additional: e.f.kind == fragmentAdditional, cell: e.cell, idx: e.idx}
}

func (e EdgePtr) String() string {
	if e.pool != nil {
		return fmt.Sprintf("virtual_edge(%d)", e.vidx)
	}
	if e.f == nil {
		return "edge(nil)"
	}
	return fmt.Sprintf("edge(%s/%d/%d)", e.f.guid, e.cell, e.idx)
}

// EdgeSafePtr is the durable handle to an edge. A virtual edge handle stays valid
// only as long as that exact virtual edge lives; re-stitching creates a new one.
type EdgeSafePtr struct {
	key        string
	additional bool
	cell, idx  uint32

	virtual      bool
	vidx, serial uint32
}

// IsZero reports whether the handle was never set.
func (s EdgeSafePtr) IsZero() bool { return s.key == "" && !s.virtual }

// IsVirtual reports whether the handle refers to a virtual edge.
func (s EdgeSafePtr) IsVirtual() bool { return s.virtual }

// Resolve returns the fast handle if the edge still exists.
func (s EdgeSafePtr) Resolve(m *GraphManager) (EdgePtr, bool) {
	return m.ResolveEdge(s)
}
