package navgraph

import (
	"iter"

	"github.com/pthm-cable/navgraph/geom"
)

// PathNode is one vertex of a path with the edge leaving it.
// NextEdge is zero on the last node.
type PathNode struct {
	Vertex        VertexSafePtr
	Position      geom.Vec3
	NextEdge      EdgeSafePtr
	CostFromStart float64
}

// Path is the result of a completed search.
type Path struct {
	Nodes []PathNode
	Cost  float64
}

// Reset empties the path, keeping its storage.
func (p *Path) Reset() {
	p.Nodes = p.Nodes[:0]
	p.Cost = 0
}

// Len returns the number of vertices.
func (p *Path) Len() int { return len(p.Nodes) }

// IsEmpty reports whether the path has no vertex.
func (p *Path) IsEmpty() bool { return len(p.Nodes) == 0 }

// Vertices yields the vertex handles from start to goal.
func (p *Path) Vertices() iter.Seq[VertexSafePtr] {
	return func(yield func(VertexSafePtr) bool) {
		for i := range p.Nodes {
			if !yield(p.Nodes[i].Vertex) {
				return
			}
		}
	}
}

// Edges yields the traversed edge handles from start to goal.
func (p *Path) Edges() iter.Seq[EdgeSafePtr] {
	return func(yield func(EdgeSafePtr) bool) {
		for i := 0; i+1 < len(p.Nodes); i++ {
			if !yield(p.Nodes[i].NextEdge) {
				return
			}
		}
	}
}

// Positions yields the world positions from start to goal.
func (p *Path) Positions() iter.Seq2[int, geom.Vec3] {
	return func(yield func(int, geom.Vec3) bool) {
		for i := range p.Nodes {
			if !yield(i, p.Nodes[i].Position) {
				return
			}
		}
	}
}

// IsValid reports whether every vertex and edge of the path still resolves in m.
func (p *Path) IsValid(m *GraphManager) bool {
	for i := range p.Nodes {
		if _, ok := m.ResolveVertex(p.Nodes[i].Vertex); !ok {
			return false
		}
		if i+1 < len(p.Nodes) {
			if _, ok := m.ResolveEdge(p.Nodes[i].NextEdge); !ok {
				return false
			}
		}
	}
	return true
}
