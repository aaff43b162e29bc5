package navgraph

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
)

var (
	// ErrNilGraph is returned when adding a nil graph.
	ErrNilGraph = errors.New("navgraph: nil graph")
	// ErrIncompatibleGraph is returned when a graph's cell size or coordinate
	// system differs from the managed ones. Nothing is modified.
	ErrIncompatibleGraph = errors.New("navgraph: incompatible graph")
	// ErrGraphNotFound is returned when removing a graph that is not resident.
	ErrGraphNotFound = errors.New("navgraph: graph not found")
	// ErrBatchInProgress is returned when starting a batch while another is open.
	ErrBatchInProgress = errors.New("navgraph: batch already in progress")
	// ErrNoBatch is returned when ending a batch that was not started.
	ErrNoBatch = errors.New("navgraph: no batch in progress")
)

type batchMode uint8

const (
	batchNone batchMode = iota
	batchInsertion
	batchRemoval
)

// GraphManager is the per-world facade: it owns the resident fragments, the cell
// grid, the stitcher and the edge locks, and answers queries and A* searches.
type GraphManager struct {
	cfg      Config
	logger   *slog.Logger
	canGo    CanGoOracle
	counters *FrameCounters

	reference *graph.Graph // cell size and coordinate system every graph must match
	coverage  float64

	sdm      *StitchDataManager
	grid     *CellGrid
	stitcher *stitcher
	locker   *EdgeLocker

	batch         batchMode
	pendingInsert []*fragment
	pendingRemove []*fragment
	waiting       []*fragment

	version uint64

	seenCells map[cellRef]struct{}
	scratch   []VertexPtr
	scored    []scoredVertex
}

// New creates an empty GraphManager.
func New(cfg Config, opts ...Option) *GraphManager {
	def := DefaultConfig()
	if cfg.StitchTolerance <= 0 {
		cfg.StitchTolerance = def.StitchTolerance
	}
	if cfg.AdditionalLinkRadius <= 0 {
		cfg.AdditionalLinkRadius = def.AdditionalLinkRadius
	}
	if cfg.MaxNearbyVertices <= 0 {
		cfg.MaxNearbyVertices = def.MaxNearbyVertices
	}
	m := &GraphManager{
		cfg:       cfg,
		logger:    slog.Default(),
		canGo:     alwaysCanGo{},
		sdm:       newStitchDataManager(),
		locker:    newEdgeLocker(),
		coverage:  cfg.CoverageDistance,
		seenCells: make(map[cellRef]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.CellSize > 0 {
		m.adopt(cfg.CellSize, cfg.CoordSystem)
	}
	return m
}

func (m *GraphManager) adopt(cellSize float64, coord graph.CoordSystem) {
	m.reference = &graph.Graph{CellSize: cellSize, CoordSystem: coord}
	m.grid = newCellGrid(cellSize)
	m.stitcher = newStitcher(m.grid, m.sdm, m.canGo, m.cfg.StitchTolerance, m.cfg.AdditionalLinkRadius)
}

// CellSize returns the managed cell size, zero until known.
func (m *GraphManager) CellSize() float64 {
	if m.reference == nil {
		return 0
	}
	return m.reference.CellSize
}

// CellPos returns the grid cell containing pos.
func (m *GraphManager) CellPos(pos geom.Vec3) geom.CellPos {
	return geom.ComputeCellPos(pos, m.CellSize())
}

// CoverageDistance returns the step nearby queries grow by.
func (m *GraphManager) CoverageDistance() float64 {
	if m.coverage > 0 {
		return m.coverage
	}
	return m.CellSize()
}

// SetCoverageDistance overrides the nearby query step. Zero restores the cell size.
func (m *GraphManager) SetCoverageDistance(d float64) {
	m.coverage = max(d, 0)
}

// StitchVersion changes whenever the searchable topology changes.
func (m *GraphManager) StitchVersion() uint64 { return m.version }

// Grid returns the spatial index, nil until the cell size is known.
func (m *GraphManager) Grid() *CellGrid { return m.grid }

// StitchData returns the fragment registry.
func (m *GraphManager) StitchData() *StitchDataManager { return m.sdm }

// EdgeLocker returns the edge lock registry.
func (m *GraphManager) EdgeLocker() *EdgeLocker { return m.locker }

// AddGraph makes g resident and stitches it to its neighbors. Adding a graph whose
// GUID is already resident only increments its reference count.
func (m *GraphManager) AddGraph(g *graph.Graph) (*StitchedGraph, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if g.CellSize <= 0 || (m.reference != nil && !m.reference.IsCompatibleWith(g)) {
		m.logger.Warn("incompatible graph rejected",
			"guid", g.Guid.String(),
			"cell_size", g.CellSize,
			"coord_system", g.CoordSystem,
			"want_cell_size", m.CellSize(),
		)
		return nil, fmt.Errorf("%w: %s has cell size %g", ErrIncompatibleGraph, g.Guid, g.CellSize)
	}
	if f := m.sdm.lookup(fragmentStatic, g.Guid.Key()); f != nil {
		f.refCount++
		return &StitchedGraph{f: f, m: m}, nil
	}
	if m.reference == nil {
		m.adopt(g.CellSize, g.CoordSystem)
	}

	f := newFragment(fragmentStatic, g.Guid, g.Cells)
	f.g = g
	m.sdm.insert(f)
	m.grid.register(f)
	m.version++
	m.logger.Debug("graph added", "guid", g.Guid.String(), "cells", len(g.Cells), "batched", m.batch == batchInsertion)

	if m.batch == batchInsertion {
		f.pending = true
		m.pendingInsert = append(m.pendingInsert, f)
	} else {
		m.stitchInserted([]*fragment{f})
	}
	return &StitchedGraph{f: f, m: m}, nil
}

// RemoveGraph releases one reference to the graph identified by guid. When the last
// reference goes, its virtual edges are swept before it leaves the grid.
func (m *GraphManager) RemoveGraph(guid graph.GuidCompound) error {
	return m.release(fragmentStatic, guid)
}

// AddAdditionalGraph makes a PathObject topology resident. It is linked to the
// static graph right away if its anchor cell is covered, otherwise it waits.
func (m *GraphManager) AddAdditionalGraph(ag *graph.AdditionalGraph) (*AdditionalStitchedGraph, error) {
	if ag == nil {
		return nil, ErrNilGraph
	}
	if err := ag.Validate(); err != nil {
		return nil, fmt.Errorf("navgraph: additional graph %s: %w", ag.Guid, err)
	}
	if f := m.sdm.lookup(fragmentAdditional, ag.Guid.Key()); f != nil {
		f.refCount++
		return &AdditionalStitchedGraph{f: f, m: m}, nil
	}

	f := newFragment(fragmentAdditional, ag.Guid, []graph.GraphCell{additionalCell(ag, m.CellSize())})
	f.ag = ag
	m.sdm.insert(f)
	m.version++

	if m.anchorAvailable(f) {
		m.linkAdditional(f)
	} else {
		m.waiting = append(m.waiting, f)
		m.logger.Debug("additional graph waiting for anchor", "guid", ag.Guid.String())
	}
	return &AdditionalStitchedGraph{f: f, m: m}, nil
}

// RemoveAdditionalGraph releases one reference to a PathObject topology.
func (m *GraphManager) RemoveAdditionalGraph(guid graph.GuidCompound) error {
	return m.release(fragmentAdditional, guid)
}

func (m *GraphManager) release(kind fragmentKind, guid graph.GuidCompound) error {
	f := m.sdm.lookup(kind, guid.Key())
	if f == nil {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, guid)
	}
	f.refCount--
	if f.refCount > 0 {
		return nil
	}
	if m.batch == batchRemoval {
		m.sdm.detach(f)
		m.pendingRemove = append(m.pendingRemove, f)
		m.version++
		return nil
	}
	m.removeFragments([]*fragment{f})
	return nil
}

// StartMultipleInsertion defers stitching of the graphs added until EndMultipleInsertion.
func (m *GraphManager) StartMultipleInsertion() error {
	if m.batch != batchNone {
		return ErrBatchInProgress
	}
	m.batch = batchInsertion
	return nil
}

// EndMultipleInsertion stitches every graph added since StartMultipleInsertion.
func (m *GraphManager) EndMultipleInsertion() error {
	if m.batch != batchInsertion {
		return ErrNoBatch
	}
	m.batch = batchNone
	frags := m.pendingInsert
	m.pendingInsert = nil
	m.stitchInserted(frags)
	return nil
}

// StartMultipleRemoval defers the virtual edge sweep of removed graphs until
// EndMultipleRemoval. Removed graphs stop resolving immediately.
func (m *GraphManager) StartMultipleRemoval() error {
	if m.batch != batchNone {
		return ErrBatchInProgress
	}
	m.batch = batchRemoval
	return nil
}

// EndMultipleRemoval sweeps every graph removed since StartMultipleRemoval in one pass.
func (m *GraphManager) EndMultipleRemoval() error {
	if m.batch != batchRemoval {
		return ErrNoBatch
	}
	m.batch = batchNone
	frags := m.pendingRemove
	m.pendingRemove = nil
	if len(frags) > 0 {
		m.removeFragments(frags)
	}
	return nil
}

func (m *GraphManager) stitchInserted(frags []*fragment) {
	n := 0
	for _, f := range frags {
		if !f.resident {
			continue
		}
		f.pending = false
		n += m.stitcher.stitchFragment(f, m.counters)
	}
	for _, f := range frags {
		if f.resident {
			n += m.stitcher.relinkNear(f)
		}
	}
	n += m.LinkWaitingAdditionalGraphs()
	if n > 0 {
		m.version++
	}
	m.logger.Debug("graphs stitched", "graphs", len(frags), "virtual_edges", n, "live_virtual_edges", m.VirtualEdgeCount())
}

func (m *GraphManager) removeFragments(frags []*fragment) {
	doomed := make(map[uint32]struct{}, len(frags))
	for _, f := range frags {
		m.sdm.detach(f)
		doomed[f.id] = struct{}{}
	}
	swept := 0
	if m.stitcher != nil {
		swept = m.stitcher.pool.sweep(func(frag uint32) bool {
			_, ok := doomed[frag]
			return ok
		})
	}
	for _, f := range frags {
		switch {
		case f.kind == fragmentStatic:
			m.grid.unregister(f)
		case f.linked:
			m.grid.removeConnections(f)
			m.grid.unregister(f)
			f.linked = false
		}
		m.dropPending(f)
		m.sdm.release(f)
		m.logger.Debug("graph removed", "guid", f.guid.String(), "additional", f.kind == fragmentAdditional)
	}
	m.version++
	m.unlinkOrphanedAdditionalGraphs()
	m.logger.Debug("virtual edges swept", "removed", swept, "live_virtual_edges", m.VirtualEdgeCount())
}

func (m *GraphManager) dropPending(f *fragment) {
	for i, p := range m.pendingInsert {
		if p == f {
			m.pendingInsert = append(m.pendingInsert[:i], m.pendingInsert[i+1:]...)
			break
		}
	}
	for i, p := range m.waiting {
		if p == f {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			break
		}
	}
}

// unlinkOrphanedAdditionalGraphs puts back on the waiting list the topologies whose
// anchor cell lost its last static graph.
func (m *GraphManager) unlinkOrphanedAdditionalGraphs() {
	for _, f := range m.sdm.frags {
		if f == nil || f.kind != fragmentAdditional || !f.resident || !f.linked {
			continue
		}
		if m.grid.HasStaticGraph(f.anchor) {
			continue
		}
		m.stitcher.unlinkAdditional(f)
		m.grid.unregister(f)
		m.waiting = append(m.waiting, f)
		m.logger.Debug("additional graph unlinked, waiting again", "guid", f.guid.String())
	}
}

func (m *GraphManager) anchorOf(f *fragment) geom.CellPos {
	return geom.ComputeCellPos(f.ag.Vertices[anchorVertex(f.ag)].Position, m.CellSize())
}

func (m *GraphManager) anchorAvailable(f *fragment) bool {
	return m.grid != nil && m.grid.HasStaticGraph(m.anchorOf(f))
}

func (m *GraphManager) linkAdditional(f *fragment) int {
	f.anchor = m.anchorOf(f)
	f.cells[0].CellPos = f.anchor
	m.grid.register(f)
	n := m.stitcher.linkAdditional(f)
	m.version++
	return n
}

// LinkWaitingAdditionalGraphs links every waiting PathObject topology whose anchor
// cell is now covered by a static graph, and returns the number of virtual edges
// created. AddGraph calls it; it is safe to call at any time.
func (m *GraphManager) LinkWaitingAdditionalGraphs() int {
	n := 0
	kept := m.waiting[:0]
	for _, f := range m.waiting {
		if !f.resident {
			continue
		}
		if !m.anchorAvailable(f) {
			kept = append(kept, f)
			continue
		}
		created := m.linkAdditional(f)
		n += created
		m.logger.Debug("waiting additional graph linked", "guid", f.guid.String(), "virtual_edges", created)
	}
	clear(m.waiting[len(kept):])
	m.waiting = kept
	return n
}

// WaitingAdditionalGraphCount returns the number of topologies waiting for their anchor.
func (m *GraphManager) WaitingAdditionalGraphCount() int { return len(m.waiting) }

// StitchedGraph returns the resident graph with the given identity.
func (m *GraphManager) StitchedGraph(guid graph.GuidCompound) (*StitchedGraph, bool) {
	f := m.sdm.lookup(fragmentStatic, guid.Key())
	if f == nil {
		return nil, false
	}
	return &StitchedGraph{f: f, m: m}, true
}

// AdditionalStitchedGraph returns the resident topology with the given identity.
func (m *GraphManager) AdditionalStitchedGraph(guid graph.GuidCompound) (*AdditionalStitchedGraph, bool) {
	f := m.sdm.lookup(fragmentAdditional, guid.Key())
	if f == nil {
		return nil, false
	}
	return &AdditionalStitchedGraph{f: f, m: m}, true
}

// ResolveVertex turns a durable handle back into a fast one. It fails once the
// owning graph has left, and never aliases a vertex of another graph.
func (m *GraphManager) ResolveVertex(s VertexSafePtr) (VertexPtr, bool) {
	if s.IsZero() {
		return VertexPtr{}, false
	}
	kind := fragmentStatic
	if s.additional {
		kind = fragmentAdditional
	}
	return m.sdm.lookup(kind, s.key).vertex(s.cell, s.idx)
}

// ResolveEdge turns a durable edge handle back into a fast one.
func (m *GraphManager) ResolveEdge(s EdgeSafePtr) (EdgePtr, bool) {
	if s.virtual {
		if m.stitcher == nil || !m.stitcher.pool.isLive(s.vidx) || m.stitcher.pool.edges[s.vidx].serial != s.serial {
			return EdgePtr{}, false
		}
		return EdgePtr{pool: m.stitcher.pool, vidx: s.vidx}, true
	}
	if s.IsZero() {
		return EdgePtr{}, false
	}
	kind := fragmentStatic
	if s.additional {
		kind = fragmentAdditional
	}
	f := m.sdm.lookup(kind, s.key)
	if f == nil || int(s.cell) >= len(f.cells) || int(s.idx) >= len(f.cells[s.cell].Edges) {
		return EdgePtr{}, false
	}
	return EdgePtr{f: f, cell: s.cell, idx: s.idx}, true
}

// VirtualEdgeCount returns the number of live virtual edges.
func (m *GraphManager) VirtualEdgeCount() int {
	if m.stitcher == nil {
		return 0
	}
	return m.stitcher.pool.live
}

// VirtualEdge returns the live virtual edge at pool index idx.
func (m *GraphManager) VirtualEdge(idx uint32) (VirtualEdge, bool) {
	if m.stitcher == nil || !m.stitcher.pool.isLive(idx) {
		return VirtualEdge{}, false
	}
	return m.stitcher.pool.snapshot(idx), true
}

// VirtualEdges yields every live virtual edge with its pool index.
func (m *GraphManager) VirtualEdges() iter.Seq2[uint32, VirtualEdge] {
	return func(yield func(uint32, VirtualEdge) bool) {
		if m.stitcher == nil {
			return
		}
		p := m.stitcher.pool
		for vi := range p.edges {
			if !p.edges[vi].live {
				continue
			}
			if !yield(uint32(vi), p.snapshot(uint32(vi))) {
				return
			}
		}
	}
}

// IsVertexLinked reports whether v has at least one virtual edge.
func (m *GraphManager) IsVertexLinked(v VertexPtr) bool {
	return m.stitcher != nil && v.IsValid() && m.stitcher.pool.hasLinks(v.ref())
}

// Vertices yields every vertex of every resident graph and topology, once.
func (m *GraphManager) Vertices() iter.Seq[VertexPtr] {
	return func(yield func(VertexPtr) bool) {
		for _, f := range m.sdm.frags {
			if f == nil || !f.resident {
				continue
			}
			for ci := range f.cells {
				for idx := range f.cells[ci].Vertices {
					if !yield(VertexPtr{f: f, cell: uint32(ci), idx: uint32(idx)}) {
						return
					}
				}
			}
		}
	}
}

// Edges yields every static edge of every resident graph, then every live virtual edge.
func (m *GraphManager) Edges() iter.Seq[EdgePtr] {
	return func(yield func(EdgePtr) bool) {
		for _, f := range m.sdm.frags {
			if f == nil || !f.resident {
				continue
			}
			for ci := range f.cells {
				for idx := range f.cells[ci].Edges {
					if !yield(EdgePtr{f: f, cell: uint32(ci), idx: uint32(idx)}) {
						return
					}
				}
			}
		}
		if m.stitcher == nil {
			return
		}
		p := m.stitcher.pool
		for vi := range p.edges {
			if p.edges[vi].live && !yield(EdgePtr{pool: p, vidx: uint32(vi)}) {
				return
			}
		}
	}
}

// OutEdges yields the edges leaving v: its static edges, then its virtual edges.
func (m *GraphManager) OutEdges(v VertexPtr) iter.Seq[EdgePtr] {
	return func(yield func(EdgePtr) bool) {
		if !v.IsValid() {
			return
		}
		for _, ei := range v.f.outRange(v.cell, v.idx) {
			if !yield(EdgePtr{f: v.f, cell: v.cell, idx: ei}) {
				return
			}
		}
		if m.stitcher == nil {
			return
		}
		for _, vi := range m.stitcher.pool.out[v.ref()] {
			if !yield(EdgePtr{pool: m.stitcher.pool, vidx: vi}) {
				return
			}
		}
	}
}

// LockEdgesInVolume locks every edge touching box, including edges of graphs
// streamed in later, until UnlockEdges.
func (m *GraphManager) LockEdgesInVolume(box geom.Box3) LockID {
	m.version++
	return m.locker.lock(box)
}

// UnlockEdges releases a lock. It reports whether the lock existed.
func (m *GraphManager) UnlockEdges(id LockID) bool {
	if !m.locker.unlock(id) {
		return false
	}
	m.version++
	return true
}

// IsEdgeLocked reports whether e lies in a locked volume.
func (m *GraphManager) IsEdgeLocked(e EdgePtr) bool {
	return m.locker.isLocked(e.Start().Position(), e.End().Position())
}
