package world

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/navgraph"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig describes a 3x1 sector strip without doors.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.World.SectorsX, cfg.World.SectorsY = 3, 1
	cfg.World.StreamRadius = 40
	cfg.World.DoorEvery = 0
	cfg.World.BlobDir = ""
	return cfg
}

func newManager(cfg *config.Config) *navgraph.GraphManager {
	return navgraph.New(cfg.Graph.ManagerConfig(),
		navgraph.WithLogger(quietLogger()),
		navgraph.WithCanGo(StepOracle{MaxStep: cfg.Graph.MaxStep}),
	)
}

func lockedEdges(m *navgraph.GraphManager) int {
	n := 0
	for e := range m.Edges() {
		if m.IsEdgeLocked(e) {
			n++
		}
	}
	return n
}

func nearest(t *testing.T, m *navgraph.GraphManager, pos geom.Vec3) navgraph.VertexPtr {
	t.Helper()
	out := make([]navgraph.VertexPtr, 1)
	n, _ := m.FindNearbySortedVertexPtrs(pos, out, navgraph.DistanceCost)
	require.Equal(t, 1, n, "no vertex near %v", pos)
	return out[0]
}

func TestGeneratorIsDeterministic(t *testing.T) {
	gen := NewGenerator(testConfig(t))
	a, err := gen.Sector(SectorPos{1, 0})
	require.NoError(t, err)
	b, err := gen.Sector(SectorPos{1, 0})
	require.NoError(t, err)
	c, err := gen.Sector(SectorPos{2, 0})
	require.NoError(t, err)

	require.Equal(t, a.VertexCount(), b.VertexCount())
	require.Equal(t, a.EdgeCount(), b.EdgeCount())
	for i := range a.Cells {
		assert.Equal(t, a.Cells[i].Vertices, b.Cells[i].Vertices)
	}
	assert.True(t, a.Guid.Equal(SectorPos{1, 0}.Guid()))
	assert.False(t, a.Guid.Equal(c.Guid))
	assert.Len(t, a.Cells, gen.SectorCells*gen.SectorCells)
}

func TestGeneratorLayout(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.ObstacleRate = 0
	cfg.World.Jitter = 0
	gen := NewGenerator(cfg)

	g, err := gen.Sector(SectorPos{0, 0})
	require.NoError(t, err)
	n := gen.perSide()
	// Full lattice, one boundary vertex per row and column on each side, and a
	// pair per edge crossing one of the three inner cell borders of each row and column.
	assert.Equal(t, n*n+4*n+2*(2*3*n), g.VertexCount())

	x0, _ := gen.Origin(SectorPos{1, 0})
	assert.Equal(t, gen.SectorSize(), x0)
	assert.Equal(t, SectorPos{1, 0}, gen.SectorAt(geom.V3(x0+0.5, 3, 0)))
	assert.Equal(t, SectorPos{-1, -1}, gen.SectorAt(geom.V3(-0.5, -0.5, 0)))
	c := gen.Center(SectorPos{0, 0})
	assert.InDelta(t, gen.Altitude(c.X, c.Y), c.Z, 1e-12)
}

func TestGeneratorDoor(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.DoorEvery = 1
	gen := NewGenerator(cfg)
	p := SectorPos{0, 0}

	door, ok := gen.Door(p)
	require.True(t, ok)
	require.Len(t, door.Vertices, 2)
	assert.Equal(t, graph.TerrainDoor, door.Vertices[0].Terrain)
	assert.True(t, door.Guid.Equal(p.DoorGuid()))

	vol := gen.DoorVolume(p)
	mid := geom.Lerp(door.Vertices[0].Position, door.Vertices[1].Position, 0.5)
	assert.True(t, vol.ContainsXY(mid))
	assert.True(t, vol.SegmentTouches(door.Vertices[0].Position, door.Vertices[1].Position))

	g, err := gen.Sector(p)
	require.NoError(t, err)
	for _, cell := range g.Cells {
		for _, v := range cell.Vertices {
			assert.False(t, vol.ContainsXY(v.Position), "lattice vertex %v inside the door hole", v.Position)
		}
	}

	cfg.World.DoorEvery = 0
	_, ok = NewGenerator(cfg).Door(p)
	assert.False(t, ok)
}

func TestStreamerLoadsAndUnloads(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.ObstacleRate = 0
	m := newManager(cfg)
	s := NewStreamer(cfg, m, quietLogger())
	ctx := context.Background()

	stats, err := s.Update(ctx, []geom.Vec3{geom.V3(16, 16, 0)})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, 2, stats.Generated)
	assert.Equal(t, []SectorPos{{0, 0}, {1, 0}}, s.Resident())
	assert.Equal(t, 2, m.StitchData().GraphCount())
	assert.Positive(t, m.VirtualEdgeCount(), "neighbouring sectors stitch")

	var path navgraph.Path
	status := m.Astar(navgraph.AstarRequest{
		Start: nearest(t, m, geom.V3(5, 16, 0)),
		End:   nearest(t, m, geom.V3(59, 16, 0)),
	}, navgraph.NewAstarContext(), &path)
	require.Equal(t, navgraph.AstarPathFound, status)
	assert.Greater(t, path.Cost, 50.0)

	stats, err = s.Update(ctx, []geom.Vec3{geom.V3(80, 16, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Loaded)
	assert.Equal(t, 1, stats.Unloaded)
	assert.Equal(t, []SectorPos{{1, 0}, {2, 0}}, s.Resident())
	assert.False(t, s.IsResident(SectorPos{0, 0}))

	stats, err = s.Update(ctx, []geom.Vec3{geom.V3(16, 16, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FromCache)
	assert.Zero(t, stats.Generated)

	stats, err = s.Update(ctx, []geom.Vec3{geom.V3(-500, 16, 0)})
	require.NoError(t, err)
	assert.Zero(t, stats.Resident)
	assert.Zero(t, m.StitchData().GraphCount())
	assert.Zero(t, m.VirtualEdgeCount())
}

func TestStreamerBlobCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.BlobDir = t.TempDir()
	focus := []geom.Vec3{geom.V3(16, 16, 0)}
	cfg.World.StreamRadius = 1

	first := NewStreamer(cfg, newManager(cfg), quietLogger())
	stats, err := first.Update(context.Background(), focus)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Generated)
	_, err = os.Stat(first.BlobPath(SectorPos{0, 0}))
	require.NoError(t, err)

	m := newManager(cfg)
	second := NewStreamer(cfg, m, quietLogger())
	stats, err = second.Update(context.Background(), focus)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FromBlob)
	assert.Zero(t, stats.Generated)
	sg, ok := m.StitchedGraph(SectorPos{0, 0}.Guid())
	require.True(t, ok)
	want, err := first.Generator().Sector(SectorPos{0, 0})
	require.NoError(t, err)
	assert.Equal(t, want.VertexCount(), sg.Graph().VertexCount())

	require.NoError(t, os.WriteFile(first.BlobPath(SectorPos{0, 0}), []byte("garbage"), 0644))
	third := NewStreamer(cfg, newManager(cfg), quietLogger())
	stats, err = third.Update(context.Background(), focus)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Generated, "unreadable blobs are regenerated")
}

func TestStreamerCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	m := newManager(cfg)
	s := NewStreamer(cfg, m, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Update(ctx, []geom.Vec3{geom.V3(16, 16, 0)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Resident())
	assert.Zero(t, m.StitchData().GraphCount())
}

func TestStreamerDoors(t *testing.T) {
	cfg := testConfig(t)
	cfg.World.SectorsX = 1
	cfg.World.DoorEvery = 1
	cfg.World.DoorTogglePeriod = 5
	m := newManager(cfg)
	s := NewStreamer(cfg, m, quietLogger())

	_, err := s.Update(context.Background(), []geom.Vec3{geom.V3(16, 16, 0)})
	require.NoError(t, err)
	ag, ok := m.AdditionalStitchedGraph(SectorPos{0, 0}.DoorGuid())
	require.True(t, ok)
	assert.True(t, ag.IsLinked())
	assert.True(t, s.DoorsOpen())
	assert.Zero(t, lockedEdges(m))

	assert.False(t, s.UpdateDoors(4*time.Second))
	assert.True(t, s.UpdateDoors(5*time.Second))
	assert.False(t, s.DoorsOpen())
	assert.Equal(t, 1, m.EdgeLocker().Count())
	assert.Equal(t, 2, lockedEdges(m), "both directions of the door link")

	assert.True(t, s.UpdateDoors(10*time.Second))
	assert.Zero(t, lockedEdges(m))
	assert.Zero(t, m.EdgeLocker().Count())

	// Sectors loaded while doors are closed come in locked.
	require.True(t, s.UpdateDoors(15*time.Second))
	require.NoError(t, s.Close())
	assert.Zero(t, m.EdgeLocker().Count())
	assert.Zero(t, m.StitchData().AdditionalGraphCount())
	_, err = s.Update(context.Background(), []geom.Vec3{geom.V3(16, 16, 0)})
	require.NoError(t, err)
	assert.Equal(t, 1, m.EdgeLocker().Count())

	require.NoError(t, s.Close())
	assert.Zero(t, m.StitchData().GraphCount())
}

func TestExportSector(t *testing.T) {
	cfg := testConfig(t)
	s := NewStreamer(cfg, newManager(cfg), quietLogger())
	p := SectorPos{2, 0}

	var buf bytes.Buffer
	require.NoError(t, s.ExportSector(&buf, p, binary.BigEndian))
	g, err := graph.DecodeGraph(&buf)
	require.NoError(t, err)
	want, err := s.Generator().Sector(p)
	require.NoError(t, err)
	assert.True(t, g.Guid.Equal(p.Guid()))
	assert.Equal(t, want.VertexCount(), g.VertexCount())
	assert.Equal(t, want.EdgeCount(), g.EdgeCount())
}

func TestRandomPoint(t *testing.T) {
	cfg := testConfig(t)
	s := NewStreamer(cfg, newManager(cfg), quietLogger())
	rng := rand.New(rand.NewSource(1))

	_, ok := s.RandomPoint(rng)
	assert.False(t, ok)

	_, err := s.Update(context.Background(), []geom.Vec3{geom.V3(16, 16, 0)})
	require.NoError(t, err)
	for range 20 {
		p, ok := s.RandomPoint(rng)
		require.True(t, ok)
		assert.True(t, s.IsResident(s.SectorAt(p)))
	}
}

func TestStepOracle(t *testing.T) {
	tests := []struct {
		name     string
		oracle   StepOracle
		from, to geom.Vec3
		want     bool
	}{
		{"flat", StepOracle{MaxStep: 1}, geom.V3(0, 0, 0), geom.V3(1, 0, 0), true},
		{"step up", StepOracle{MaxStep: 1}, geom.V3(0, 0, 0), geom.V3(0, 0, 1), true},
		{"too high", StepOracle{MaxStep: 1}, geom.V3(0, 0, 0), geom.V3(0, 0, 1.5), false},
		{"too low", StepOracle{MaxStep: 1}, geom.V3(0, 0, 2), geom.V3(0, 0, 0), false},
		{"unbounded", StepOracle{}, geom.V3(0, 0, 0), geom.V3(0, 0, 100), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.oracle.CanGo(tt.from, tt.to))
		})
	}
}

func TestPerlinNoise(t *testing.T) {
	p := newPerlin(7)
	q := newPerlin(7)

	// Gradient noise vanishes on the integer lattice.
	for _, c := range [][2]float64{{0, 0}, {3, 5}, {-2, 11}} {
		assert.InDelta(t, 0, p.noise(c[0], c[1]), 1e-12)
	}

	rng := rand.New(rand.NewSource(1))
	for range 200 {
		x, y := rng.Float64()*100, rng.Float64()*100
		v := p.fbm(x, y, 3)
		assert.Equal(t, v, q.fbm(x, y, 3))
		assert.LessOrEqual(t, math.Abs(v), 2.0)
		assert.InDelta(t, v, p.fbm(x+1e-4, y, 3), 1e-2)
	}
	assert.Zero(t, p.fbm(1.5, 1.5, 0))
}
