package telemetry

import (
	"math"
	"testing"

	"github.com/pthm-cable/navgraph/navgraph"
)

func TestCollectorWindows(t *testing.T) {
	c := NewCollector(1.0, 0.25)
	if c.WindowDurationTicks() != 4 {
		t.Fatalf("expected 4 ticks per window, got %d", c.WindowDurationTicks())
	}
	if c.ShouldFlush(3) {
		t.Error("window should not be complete at tick 3")
	}
	if !c.ShouldFlush(4) {
		t.Error("window should be complete at tick 4")
	}

	c.RecordStream(3, 1)
	c.RecordDoorToggle()
	c.RecordPathFound(10, 1)
	c.RecordPathFound(30, 3)
	c.RecordPathNotFound()
	c.RecordRepath()
	c.RecordSliceDenied()
	c.RecordAnchorLost()
	c.RecordArrival()
	c.RecordFrameCounters(navgraph.FrameCounters{AstarLoops: 5, FindNearbyVertices: 2, StitchedCells: 1})
	c.RecordFrameCounters(navgraph.FrameCounters{AstarLoops: 7})

	s := c.Flush(4, ManagerState{Graphs: 2, VirtualEdges: 8, Bots: 3})
	if s.WindowStartTick != 0 || s.WindowEndTick != 4 || s.SimTimeSec != 1.0 {
		t.Errorf("unexpected window bounds %d..%d at %v", s.WindowStartTick, s.WindowEndTick, s.SimTimeSec)
	}
	if s.SectorsLoaded != 3 || s.SectorsUnloaded != 1 || s.DoorToggles != 1 {
		t.Errorf("unexpected streaming counters %+v", s)
	}
	if s.PathsFound != 2 || s.PathsNotFound != 1 || s.Repaths != 1 || s.SlicesDenied != 1 || s.AnchorsLost != 1 || s.Arrivals != 1 {
		t.Errorf("unexpected planning counters %+v", s)
	}
	if s.AstarLoops != 12 || s.FindNearbyVertices != 2 || s.StitchedCells != 1 {
		t.Errorf("unexpected frame counters %+v", s)
	}
	if s.PathCostMean != 20 || s.PathCostP50 != 20 || math.Abs(s.FramesPerSearchP90-2.8) > 1e-9 {
		t.Errorf("unexpected distributions mean=%v p50=%v frames_p90=%v", s.PathCostMean, s.PathCostP50, s.FramesPerSearchP90)
	}
	if s.Graphs != 2 || s.VirtualEdges != 8 || s.Bots != 3 {
		t.Errorf("manager state not carried %+v", s)
	}

	next := c.Flush(8, ManagerState{})
	if next.WindowStartTick != 4 {
		t.Errorf("next window should start at 4, got %d", next.WindowStartTick)
	}
	if next.PathsFound != 0 || next.AstarLoops != 0 || next.PathCostMean != 0 {
		t.Errorf("counters not reset: %+v", next)
	}
}

func TestCollectorMinimumWindow(t *testing.T) {
	c := NewCollector(0.01, 1)
	if c.WindowDurationTicks() != 1 {
		t.Errorf("expected a one tick minimum, got %d", c.WindowDurationTicks())
	}
}
