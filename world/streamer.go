package world

import (
	"bufio"
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/navgraph"
)

const tracerName = "github.com/pthm-cable/navgraph/world"

type source uint8

const (
	sourceCache source = iota
	sourceBlob
	sourceGenerated
)

type residentSector struct {
	g      *graph.Graph
	door   *graph.AdditionalGraph
	lock   navgraph.LockID
	locked bool
}

// StreamStats describes one Update.
type StreamStats struct {
	Loaded    int
	Unloaded  int
	Resident  int
	FromCache int
	FromBlob  int
	Generated int
	Duration  time.Duration
}

// LogValue implements slog.LogValuer.
func (s StreamStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("loaded", s.Loaded),
		slog.Int("unloaded", s.Unloaded),
		slog.Int("resident", s.Resident),
		slog.Int("from_cache", s.FromCache),
		slog.Int("from_blob", s.FromBlob),
		slog.Int("generated", s.Generated),
		slog.Int64("duration_us", s.Duration.Microseconds()),
	)
}

// Streamer keeps the sectors around a set of focus points resident in a
// GraphManager. Sector graphs are produced on a worker pool; every call into the
// manager happens on the caller goroutine.
type Streamer struct {
	gen    Generator
	m      *navgraph.GraphManager
	logger *slog.Logger
	tracer trace.Tracer

	radius  float64
	sx, sy  int32
	workers int
	blobDir string
	order   binary.ByteOrder

	resident map[SectorPos]*residentSector
	cache    map[SectorPos]*graph.Graph

	doorPeriod time.Duration
	doorsOpen  bool
}

// NewStreamer creates a streamer over the world described by cfg.
func NewStreamer(cfg *config.Config, m *navgraph.GraphManager, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		gen:        NewGenerator(cfg),
		m:          m,
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		radius:     cfg.World.StreamRadius,
		sx:         int32(cfg.World.SectorsX),
		sy:         int32(cfg.World.SectorsY),
		workers:    max(1, cfg.World.Workers),
		blobDir:    cfg.World.BlobDir,
		order:      binary.LittleEndian,
		resident:   make(map[SectorPos]*residentSector),
		cache:      make(map[SectorPos]*graph.Graph),
		doorPeriod: time.Duration(cfg.World.DoorTogglePeriod * float64(time.Second)),
		doorsOpen:  true,
	}
}

// Generator returns the sector generator.
func (s *Streamer) Generator() Generator { return s.gen }

// InBounds reports whether p is part of the world.
func (s *Streamer) InBounds(p SectorPos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < s.sx && p.Y < s.sy
}

// SectorAt returns the sector containing pos.
func (s *Streamer) SectorAt(pos geom.Vec3) SectorPos { return s.gen.SectorAt(pos) }

// IsResident reports whether p is loaded.
func (s *Streamer) IsResident(p SectorPos) bool {
	_, ok := s.resident[p]
	return ok
}

// Resident returns the loaded sectors in row order.
func (s *Streamer) Resident() []SectorPos {
	out := make([]SectorPos, 0, len(s.resident))
	for p := range s.resident {
		out = append(out, p)
	}
	slices.SortFunc(out, compareSectors)
	return out
}

// DoorsOpen reports the current door state.
func (s *Streamer) DoorsOpen() bool { return s.doorsOpen }

func compareSectors(a, b SectorPos) int {
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.X, b.X)
}

// wanted returns the in-bounds sectors whose center lies within the stream
// radius of a focus point, plus the sector under each focus point.
func (s *Streamer) wanted(focus []geom.Vec3) map[SectorPos]struct{} {
	want := make(map[SectorPos]struct{})
	size := s.gen.SectorSize()
	reach := int32(math.Ceil(s.radius/size)) + 1
	for _, f := range focus {
		at := s.gen.SectorAt(f)
		if s.InBounds(at) {
			want[at] = struct{}{}
		}
		for y := at.Y - reach; y <= at.Y+reach; y++ {
			for x := at.X - reach; x <= at.X+reach; x++ {
				p := SectorPos{X: x, Y: y}
				if !s.InBounds(p) {
					continue
				}
				if geom.Dist2D(s.gen.Center(p), f) <= s.radius {
					want[p] = struct{}{}
				}
			}
		}
	}
	return want
}

// Update loads the sectors around focus and unloads the others. Removals and
// insertions each run as one batch so that stitching is done once per side.
func (s *Streamer) Update(ctx context.Context, focus []geom.Vec3) (StreamStats, error) {
	ctx, span := s.tracer.Start(ctx, "world.Streamer.Update",
		trace.WithAttributes(attribute.Int("focus_points", len(focus))))
	defer span.End()

	start := time.Now()
	var stats StreamStats
	want := s.wanted(focus)

	var gone, missing []SectorPos
	for p := range s.resident {
		if _, ok := want[p]; !ok {
			gone = append(gone, p)
		}
	}
	for p := range want {
		if _, ok := s.resident[p]; !ok {
			missing = append(missing, p)
		}
	}
	slices.SortFunc(gone, compareSectors)
	slices.SortFunc(missing, compareSectors)

	if len(gone) > 0 {
		if err := s.unload(gone); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "unload failed")
			return stats, err
		}
		stats.Unloaded = len(gone)
	}

	if len(missing) > 0 {
		graphs, err := s.fetch(ctx, missing, &stats)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			return stats, err
		}
		if err := s.insert(missing, graphs); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert failed")
			return stats, err
		}
		stats.Loaded = len(missing)
	}

	stats.Resident = len(s.resident)
	stats.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("loaded", stats.Loaded),
		attribute.Int("unloaded", stats.Unloaded),
		attribute.Int("resident", stats.Resident),
	)
	if stats.Loaded > 0 || stats.Unloaded > 0 {
		s.logger.Debug("sectors streamed", "stats", stats)
	}
	return stats, nil
}

func (s *Streamer) unload(ps []SectorPos) error {
	var errs []error
	for _, p := range ps {
		rs := s.resident[p]
		if rs.door == nil {
			continue
		}
		if rs.locked {
			s.m.UnlockEdges(rs.lock)
		}
		errs = append(errs, s.m.RemoveAdditionalGraph(rs.door.Guid))
	}

	if err := s.m.StartMultipleRemoval(); err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, p := range ps {
		errs = append(errs, s.m.RemoveGraph(p.Guid()))
		delete(s.resident, p)
	}
	errs = append(errs, s.m.EndMultipleRemoval())
	return errors.Join(errs...)
}

func (s *Streamer) insert(ps []SectorPos, graphs []*graph.Graph) error {
	var errs []error
	if err := s.m.StartMultipleInsertion(); err != nil {
		return err
	}
	for i, p := range ps {
		if _, err := s.m.AddGraph(graphs[i]); err != nil {
			errs = append(errs, fmt.Errorf("adding %s: %w", p, err))
			continue
		}
		s.resident[p] = &residentSector{g: graphs[i]}
	}
	errs = append(errs, s.m.EndMultipleInsertion())

	// Doors go in once their sector is stitched so that they link right away.
	for _, p := range ps {
		rs, ok := s.resident[p]
		if !ok {
			continue
		}
		door, ok := s.gen.Door(p)
		if !ok {
			continue
		}
		if _, err := s.m.AddAdditionalGraph(door); err != nil {
			errs = append(errs, fmt.Errorf("adding door of %s: %w", p, err))
			continue
		}
		rs.door = door
		if !s.doorsOpen {
			rs.lock = s.m.LockEdgesInVolume(s.gen.DoorVolume(p))
			rs.locked = true
		}
	}
	return errors.Join(errs...)
}

// fetch produces the graphs of ps, in order. Cached graphs are reused and the
// rest are read from the blob directory or generated on the worker pool.
func (s *Streamer) fetch(ctx context.Context, ps []SectorPos, stats *StreamStats) ([]*graph.Graph, error) {
	out := make([]*graph.Graph, len(ps))
	from := make([]source, len(ps))
	var todo []int
	for i, p := range ps {
		if g, ok := s.cache[p]; ok {
			out[i] = g
			stats.FromCache++
			continue
		}
		todo = append(todo, i)
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, i := range todo {
		eg.Go(func() error {
			g, src, err := s.load(egctx, ps[i])
			if err != nil {
				return err
			}
			out[i], from[i] = g, src
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, i := range todo {
		s.cache[ps[i]] = out[i]
		switch from[i] {
		case sourceBlob:
			stats.FromBlob++
		case sourceGenerated:
			stats.Generated++
		}
	}
	return out, nil
}

// load runs on a worker. It must not touch the manager or the streamer maps.
func (s *Streamer) load(ctx context.Context, p SectorPos) (*graph.Graph, source, error) {
	_, span := s.tracer.Start(ctx, "world.Streamer.loadSector",
		trace.WithAttributes(attribute.String("sector", p.String())))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	if s.blobDir != "" {
		g, err := s.readBlob(p)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("source", "blob"))
			return g, sourceBlob, nil
		case !errors.Is(err, fs.ErrNotExist):
			s.logger.Warn("regenerating unreadable sector blob", "sector", p.String(), "error", err)
		}
	}

	g, err := s.gen.Sector(p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, 0, err
	}
	span.SetAttributes(
		attribute.String("source", "generated"),
		attribute.Int("vertices", g.VertexCount()),
		attribute.Int("edges", g.EdgeCount()),
	)

	if s.blobDir != "" {
		if err := s.writeBlob(p, g); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "blob write failed")
			return nil, 0, err
		}
	}
	return g, sourceGenerated, nil
}

// BlobPath returns the cache file of sector p.
func (s *Streamer) BlobPath(p SectorPos) string {
	return filepath.Join(s.blobDir, fmt.Sprintf("sector_%d_%d.nav", p.X, p.Y))
}

func (s *Streamer) readBlob(p SectorPos) (*graph.Graph, error) {
	f, err := os.Open(s.BlobPath(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := graph.DecodeGraph(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.BlobPath(p), err)
	}
	// Blobs written for another world layout are stale.
	if !g.Guid.Equal(p.Guid()) || g.CellSize != s.gen.CellSize {
		return nil, fmt.Errorf("%w: %s was written for another world", graph.ErrBadBlob, s.BlobPath(p))
	}
	return g, nil
}

func (s *Streamer) writeBlob(p SectorPos, g *graph.Graph) error {
	if err := os.MkdirAll(s.blobDir, 0755); err != nil {
		return fmt.Errorf("creating blob dir: %w", err)
	}
	f, err := os.Create(s.BlobPath(p))
	if err != nil {
		return fmt.Errorf("creating blob: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := graph.EncodeGraph(w, g, s.order); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", p, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing blob: %w", err)
	}
	return f.Close()
}

// ExportSector writes the graph of p as a blob.
func (s *Streamer) ExportSector(w io.Writer, p SectorPos, order binary.ByteOrder) error {
	g, ok := s.cache[p]
	if !ok {
		var err error
		if g, err = s.gen.Sector(p); err != nil {
			return err
		}
	}
	return graph.EncodeGraph(w, g, order)
}

// UpdateDoors opens or closes every resident door according to the toggle
// period. Doors start open and never close when the period is zero. It reports
// whether the doors changed state.
func (s *Streamer) UpdateDoors(simTime time.Duration) bool {
	open := true
	if s.doorPeriod > 0 {
		open = (simTime/s.doorPeriod)%2 == 0
	}
	if open == s.doorsOpen {
		return false
	}
	s.doorsOpen = open

	n := 0
	for _, p := range s.Resident() {
		rs := s.resident[p]
		if rs.door == nil {
			continue
		}
		switch {
		case open && rs.locked:
			s.m.UnlockEdges(rs.lock)
			rs.locked = false
		case !open && !rs.locked:
			rs.lock = s.m.LockEdgesInVolume(s.gen.DoorVolume(p))
			rs.locked = true
		}
		n++
	}
	s.logger.Debug("doors toggled", "open", open, "doors", n)
	return true
}

// RandomPoint returns a ground point inside a random resident sector.
func (s *Streamer) RandomPoint(rng *rand.Rand) (geom.Vec3, bool) {
	res := s.Resident()
	if len(res) == 0 {
		return geom.Vec3{}, false
	}
	p := res[rng.Intn(len(res))]
	x0, y0 := s.gen.Origin(p)
	size := s.gen.SectorSize()
	return s.gen.ground(x0+rng.Float64()*size, y0+rng.Float64()*size), true
}

// Close unloads every sector.
func (s *Streamer) Close() error {
	res := s.Resident()
	if len(res) == 0 {
		return nil
	}
	return s.unload(res)
}
