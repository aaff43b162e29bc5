package telemetry

import (
	"testing"
	"time"
)

// steppedClock advances by a fixed step on every read.
func steppedClock(step time.Duration) func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseStream)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhasePlan)
		time.Sleep(200 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration")
	}
	if _, ok := stats.PhaseAvg[PhaseStream]; !ok {
		t.Error("expected stream phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhasePlan]; !ok {
		t.Error("expected plan phase to be tracked")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)
	pc.now = steppedClock(time.Millisecond)

	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseFollow)
		if d := pc.EndTick(); d != 2*time.Millisecond {
			t.Fatalf("tick %d lasted %v, want 2ms", i, d)
		}
	}

	stats := pc.Stats()
	if stats.AvgTickDuration != 2*time.Millisecond {
		t.Errorf("avg tick = %v, want 2ms", stats.AvgTickDuration)
	}
	if stats.TicksPerSecond != 500 {
		t.Errorf("ticks per second = %v, want 500", stats.TicksPerSecond)
	}
	if stats.PhasePct[PhaseFollow] != 50 {
		t.Errorf("follow share = %v%%, want 50%%", stats.PhasePct[PhaseFollow])
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseAnchor)
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase(PhasePlan)
		time.Sleep(100 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()
	if stats.PhasePct[PhasePlan] <= stats.PhasePct[PhaseAnchor] {
		t.Errorf("expected plan (%v%%) > anchor (%v%%)", stats.PhasePct[PhasePlan], stats.PhasePct[PhaseAnchor])
	}

	row := stats.ToCSV(42)
	if row.WindowEnd != 42 || row.PlanPct != stats.PhasePct[PhasePlan] {
		t.Errorf("unexpected csv row %+v", row)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()

	if stats.AvgTickDuration != 0 {
		t.Error("expected zero avg tick duration for empty collector")
	}
	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map")
	}
	if stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}
