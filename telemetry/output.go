package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/navgraph/config"
	"github.com/pthm-cable/navgraph/navgraph"
)

// VirtualEdgeRecord is one row of virtual_edges.csv.
type VirtualEdgeRecord struct {
	WindowEnd int32   `csv:"window_end"`
	Index     uint32  `csv:"index"`
	Serial    uint32  `csv:"serial"`
	Kind      string  `csv:"kind"`
	From      string  `csv:"from"`
	To        string  `csv:"to"`
	FromX     float64 `csv:"from_x"`
	FromY     float64 `csv:"from_y"`
	FromZ     float64 `csv:"from_z"`
	ToX       float64 `csv:"to_x"`
	ToY       float64 `csv:"to_y"`
	ToZ       float64 `csv:"to_z"`
}

// csvFile is an output file that writes its header with the first record.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func createCSV(dir, name string) (*csvFile, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvFile{f: f}, nil
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir          string
	windows      *csvFile
	perf         *csvFile
	virtualEdges *csvFile
	bookmarks    *csvFile
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	files := []struct {
		dst  **csvFile
		name string
	}{
		{&om.windows, "windows.csv"},
		{&om.perf, "perf.csv"},
		{&om.virtualEdges, "virtual_edges.csv"},
		{&om.bookmarks, "bookmarks.csv"},
	}
	for _, spec := range files {
		f, err := createCSV(dir, spec.name)
		if err != nil {
			om.Close()
			return nil, err
		}
		*spec.dst = f
	}
	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteWindow writes a window stats record to windows.csv.
func (om *OutputManager) WriteWindow(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := om.windows.write([]WindowStats{stats}); err != nil {
		return fmt.Errorf("writing window stats: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int32) error {
	if om == nil {
		return nil
	}
	if err := om.perf.write([]PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteVirtualEdges dumps every live virtual edge of m to virtual_edges.csv.
func (om *OutputManager) WriteVirtualEdges(m *navgraph.GraphManager, windowEnd int32) error {
	if om == nil {
		return nil
	}
	records := make([]VirtualEdgeRecord, 0, m.VirtualEdgeCount())
	for idx, ve := range m.VirtualEdges() {
		from, to := ve.From.Position(), ve.To.Position()
		records = append(records, VirtualEdgeRecord{
			WindowEnd: windowEnd,
			Index:     idx,
			Serial:    ve.Serial,
			Kind:      ve.Kind.String(),
			From:      ve.From.String(),
			To:        ve.To.String(),
			FromX:     from.X,
			FromY:     from.Y,
			FromZ:     from.Z,
			ToX:       to.X,
			ToY:       to.Y,
			ToZ:       to.Z,
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := om.virtualEdges.write(records); err != nil {
		return fmt.Errorf("writing virtual edges: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := om.bookmarks.write([]Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.windows, om.perf, om.virtualEdges, om.bookmarks} {
		if c == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
