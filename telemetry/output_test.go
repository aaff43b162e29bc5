package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/geom"
	"github.com/pthm-cable/navgraph/graph"
	"github.com/pthm-cable/navgraph/navgraph"
)

// stitchedPair returns a manager holding two one-cell graphs joined across x=10.
func stitchedPair(t *testing.T) *navgraph.GraphManager {
	t.Helper()
	m := navgraph.New(navgraph.DefaultConfig(), navgraph.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for cx := int32(0); cx < 2; cx++ {
		x0 := float64(cx) * 10
		b := graph.NewBuilder(graph.GuidFromName(fmt.Sprintf("pair/%d", cx)), 10)
		c := b.AddVertex(geom.V3(x0+5, 5, 0), graph.TerrainDefault)
		e := b.AddBoundaryVertex(geom.V3(x0+9.9, 5, 0), geom.East, graph.TerrainDefault)
		w := b.AddBoundaryVertex(geom.V3(x0+0.1, 5, 0), geom.West, graph.TerrainDefault)
		b.AddBidirectionalEdge(c, e)
		b.AddBidirectionalEdge(c, w)
		g, err := b.Build()
		require.NoError(t, err)
		_, err = m.AddGraph(g)
		require.NoError(t, err)
	}
	require.Positive(t, m.VirtualEdgeCount())
	return m
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	require.NoError(t, err)
	assert.Nil(t, om)

	// Every method is a no-op on a nil manager.
	assert.NoError(t, om.WriteWindow(WindowStats{}))
	assert.NoError(t, om.WritePerf(PerfStats{}, 0))
	assert.NoError(t, om.WriteBookmark(Bookmark{}))
	assert.NoError(t, om.WriteVirtualEdges(nil, 0))
	assert.NoError(t, om.WriteConfig(nil))
	assert.Equal(t, "", om.Dir())
	assert.NoError(t, om.Close())
}

func TestOutputManagerWritesHeadersOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, om.Dir())

	require.NoError(t, om.WriteWindow(WindowStats{WindowEndTick: 10, PathsFound: 3}))
	require.NoError(t, om.WriteWindow(WindowStats{WindowEndTick: 20, PathsFound: 4}))
	require.NoError(t, om.WritePerf(PerfStats{PhasePct: map[string]float64{PhasePlan: 40}}, 20))
	require.NoError(t, om.WriteBookmark(Bookmark{Type: BookmarkSteadyState, Tick: 20, Description: "quiet"}))

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, om.WriteConfig(cfg))
	require.NoError(t, om.Close())

	windows := readLines(t, filepath.Join(dir, "windows.csv"))
	require.Len(t, windows, 3)
	assert.True(t, strings.HasPrefix(windows[0], "window_end,sim_time,graphs"))
	assert.True(t, strings.HasPrefix(windows[2], "20,"))

	perf := readLines(t, filepath.Join(dir, "perf.csv"))
	require.Len(t, perf, 2)
	assert.Contains(t, perf[0], "plan_pct")

	bookmarks := readLines(t, filepath.Join(dir, "bookmarks.csv"))
	assert.Equal(t, []string{"type,tick,description", "steady_state,20,quiet"}, bookmarks)

	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
}

func TestOutputManagerVirtualEdges(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	require.NoError(t, err)

	m := stitchedPair(t)
	require.NoError(t, om.WriteVirtualEdges(m, 5))
	require.NoError(t, om.WriteVirtualEdges(m, 6))
	require.NoError(t, om.Close())

	lines := readLines(t, filepath.Join(dir, "virtual_edges.csv"))
	n := m.VirtualEdgeCount()
	require.Len(t, lines, 1+2*n)
	assert.True(t, strings.HasPrefix(lines[0], "window_end,index,serial,kind"))
	assert.Contains(t, lines[1], ",stitch,")
}
