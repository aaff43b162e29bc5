package navgraph

import "slices"

// VirtualEdgeKind tells what created a virtual edge.
type VirtualEdgeKind uint8

const (
	// VirtualEdgeStitch joins facing boundary vertices of two graph cells.
	VirtualEdgeStitch VirtualEdgeKind = iota
	// VirtualEdgeAdditional joins a PathObject connection vertex to the static graph.
	VirtualEdgeAdditional
)

func (k VirtualEdgeKind) String() string {
	if k == VirtualEdgeAdditional {
		return "additional"
	}
	return "stitch"
}

// VirtualEdge is a snapshot of one live virtual edge.
type VirtualEdge struct {
	From, To VertexPtr
	Kind     VirtualEdgeKind
	Serial   uint32
}

type virtualEdge struct {
	from, to vertexRef
	serial   uint32
	kind     VirtualEdgeKind
	live     bool
}

// virtualEdgePool is the arena of virtual edges. Slots are stable integer indices;
// fragments never own them, so removing a fragment is a sweep over the pool
// comparing fragment slots.
type virtualEdgePool struct {
	sdm    *StitchDataManager
	edges  []virtualEdge
	free   []uint32
	serial uint32
	live   int

	out map[vertexRef][]uint32
	in  map[vertexRef][]uint32
}

func newVirtualEdgePool(sdm *StitchDataManager) *virtualEdgePool {
	return &virtualEdgePool{
		sdm: sdm,
		out: make(map[vertexRef][]uint32),
		in:  make(map[vertexRef][]uint32),
	}
}

func (p *virtualEdgePool) exists(from, to vertexRef) bool {
	for _, vi := range p.out[from] {
		if p.edges[vi].to == to {
			return true
		}
	}
	return false
}

// create adds from->to unless it already exists.
func (p *virtualEdgePool) create(from, to vertexRef, kind VirtualEdgeKind) bool {
	if from == to || p.exists(from, to) {
		return false
	}
	p.serial++
	e := virtualEdge{from: from, to: to, serial: p.serial, kind: kind, live: true}
	var vi uint32
	if n := len(p.free); n > 0 {
		vi = p.free[n-1]
		p.free = p.free[:n-1]
		p.edges[vi] = e
	} else {
		vi = uint32(len(p.edges))
		p.edges = append(p.edges, e)
	}
	p.out[from] = append(p.out[from], vi)
	p.in[to] = append(p.in[to], vi)
	p.live++
	return true
}

func (p *virtualEdgePool) remove(vi uint32) {
	e := &p.edges[vi]
	if !e.live {
		return
	}
	p.out[e.from] = dropIndex(p.out[e.from], vi)
	if len(p.out[e.from]) == 0 {
		delete(p.out, e.from)
	}
	p.in[e.to] = dropIndex(p.in[e.to], vi)
	if len(p.in[e.to]) == 0 {
		delete(p.in, e.to)
	}
	*e = virtualEdge{}
	p.free = append(p.free, vi)
	p.live--
}

// sweep removes every edge with an endpoint in a fragment slot for which doomed
// returns true, and returns how many were removed.
func (p *virtualEdgePool) sweep(doomed func(frag uint32) bool) int {
	n := 0
	for vi := range p.edges {
		e := &p.edges[vi]
		if e.live && (doomed(e.from.frag) || doomed(e.to.frag)) {
			p.remove(uint32(vi))
			n++
		}
	}
	return n
}

func (p *virtualEdgePool) isLive(vi uint32) bool {
	return int(vi) < len(p.edges) && p.edges[vi].live
}

func (p *virtualEdgePool) hasLinks(r vertexRef) bool {
	return len(p.out[r]) > 0 || len(p.in[r]) > 0
}

func (p *virtualEdgePool) vertexPtr(r vertexRef) VertexPtr {
	return VertexPtr{f: p.sdm.frags[r.frag], cell: r.cell, idx: r.idx}
}

func (p *virtualEdgePool) snapshot(vi uint32) VirtualEdge {
	e := p.edges[vi]
	return VirtualEdge{From: p.vertexPtr(e.from), To: p.vertexPtr(e.to), Kind: e.kind, Serial: e.serial}
}

func dropIndex(s []uint32, v uint32) []uint32 {
	if i := slices.Index(s, v); i >= 0 {
		return slices.Delete(s, i, i+1)
	}
	return s
}
