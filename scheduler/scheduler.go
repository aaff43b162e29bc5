// Package scheduler shares the CPU time of a frame between deferred tasks.
//
// Aperiodic tasks (path searches, nearby queries) ask for a Slice each time they
// want to run; a Slice is granted while both the frame and the task have time
// left, and reports through Expired when the task must yield. Periodic tasks are
// rate limited per requester on simulated time.
package scheduler

import (
	"log/slog"
	"time"
)

// TaskID identifies a registered task.
type TaskID uint32

// InvalidTaskID is returned by lookups of unknown names.
const InvalidTaskID TaskID = ^TaskID(0)

type aperiodicTask struct {
	name     string
	budget   time.Duration // 0: bounded by the frame only
	maxCalls int           // 0: unlimited
	used     time.Duration
	calls    int
	denied   int
}

type periodicTask struct {
	name   string
	period time.Duration
	last   map[uint64]time.Duration
}

// TimeManager hands out per-frame time slices.
type TimeManager struct {
	now         func() time.Time
	frameBudget time.Duration

	frame      uint64
	frameStart time.Time
	simTime    time.Duration
	delta      time.Duration
	used       time.Duration
	rotation   int

	aperiodic []aperiodicTask
	periodic  []periodicTask
	byName    map[string]TaskID
	periodics map[string]TaskID
}

// Option configures a TimeManager.
type Option func(*TimeManager)

// WithClock replaces the wall clock, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(tm *TimeManager) { tm.now = now }
}

// NewTimeManager creates a manager granting at most frameBudget per frame to
// aperiodic tasks. A zero budget never runs out.
func NewTimeManager(frameBudget time.Duration, opts ...Option) *TimeManager {
	tm := &TimeManager{
		now:         time.Now,
		frameBudget: frameBudget,
		byName:      make(map[string]TaskID),
		periodics:   make(map[string]TaskID),
	}
	for _, o := range opts {
		o(tm)
	}
	tm.frameStart = tm.now()
	return tm
}

// RegisterAperiodicTask returns the id of the named task, creating it if needed.
func (tm *TimeManager) RegisterAperiodicTask(name string) TaskID {
	if id, ok := tm.byName[name]; ok {
		return id
	}
	id := TaskID(len(tm.aperiodic))
	tm.aperiodic = append(tm.aperiodic, aperiodicTask{name: name})
	tm.byName[name] = id
	return id
}

// RegisterPeriodicTask returns the id of the named periodic task, creating it if needed.
func (tm *TimeManager) RegisterPeriodicTask(name string, period time.Duration) TaskID {
	if id, ok := tm.periodics[name]; ok {
		tm.periodic[id].period = period
		return id
	}
	id := TaskID(len(tm.periodic))
	tm.periodic = append(tm.periodic, periodicTask{name: name, period: period, last: make(map[uint64]time.Duration)})
	tm.periodics[name] = id
	return id
}

// AperiodicTaskByName returns InvalidTaskID for unknown names.
func (tm *TimeManager) AperiodicTaskByName(name string) TaskID {
	if id, ok := tm.byName[name]; ok {
		return id
	}
	return InvalidTaskID
}

// SetTaskBudget caps the time the task may use per frame. Zero removes the cap.
func (tm *TimeManager) SetTaskBudget(id TaskID, d time.Duration) {
	if t := tm.task(id); t != nil {
		t.budget = d
	}
}

// SetMaxCallsPerFrame caps how many slices the task gets per frame. Zero removes the cap.
func (tm *TimeManager) SetMaxCallsPerFrame(id TaskID, n int) {
	if t := tm.task(id); t != nil {
		t.maxCalls = n
	}
}

func (tm *TimeManager) task(id TaskID) *aperiodicTask {
	if int(id) >= len(tm.aperiodic) {
		return nil
	}
	return &tm.aperiodic[id]
}

// BeginFrame starts a frame of simulated length delta and resets the per-frame
// consumption of every task.
func (tm *TimeManager) BeginFrame(delta time.Duration) {
	tm.frame++
	tm.frameStart = tm.now()
	tm.delta = delta
	tm.simTime += delta
	tm.used = 0
	for i := range tm.aperiodic {
		t := &tm.aperiodic[i]
		t.used, t.calls, t.denied = 0, 0, 0
	}
}

// Frame returns the number of frames begun.
func (tm *TimeManager) Frame() uint64 { return tm.frame }

// SimTime returns the sum of the frame deltas.
func (tm *TimeManager) SimTime() time.Duration { return tm.simTime }

// FrameDelta returns the simulated length of the current frame.
func (tm *TimeManager) FrameDelta() time.Duration { return tm.delta }

// NoMoreTime reports whether the frame budget is spent.
func (tm *TimeManager) NoMoreTime() bool {
	return tm.frameBudget > 0 && tm.now().Sub(tm.frameStart) >= tm.frameBudget
}

// AvailableTime returns how long the task may still run this frame, or -1 when
// neither the task nor the frame is bounded.
func (tm *TimeManager) AvailableTime(id TaskID) time.Duration {
	t := tm.task(id)
	if t == nil {
		return 0
	}
	left := time.Duration(-1)
	if tm.frameBudget > 0 {
		left = max(0, tm.frameBudget-tm.now().Sub(tm.frameStart))
	}
	if t.budget > 0 {
		taskLeft := max(0, t.budget-t.used)
		if left < 0 || taskLeft < left {
			left = taskLeft
		}
	}
	return left
}

// Start asks for a slice of the task. It is denied when the frame or the task
// has no time left, or the task reached its call cap.
func (tm *TimeManager) Start(id TaskID) (Slice, bool) {
	t := tm.task(id)
	if t == nil {
		return Slice{}, false
	}
	if tm.NoMoreTime() || (t.maxCalls > 0 && t.calls >= t.maxCalls) || (t.budget > 0 && t.used >= t.budget) {
		t.denied++
		return Slice{}, false
	}
	now := tm.now()
	s := Slice{tm: tm, id: id, start: now}
	if avail := tm.AvailableTime(id); avail >= 0 {
		s.deadline = now.Add(avail)
	}
	t.calls++
	return s, true
}

// Rotate returns the index at which a loop over n requesters should begin this
// call, so that requesters denied late in one frame go first in the next.
func (tm *TimeManager) Rotate(n int) int {
	if n <= 0 {
		return 0
	}
	tm.rotation = (tm.rotation + 1) % n
	return tm.rotation
}

// RequestPeriodic grants the task to requester when at least the task period of
// simulated time passed since its last grant.
func (tm *TimeManager) RequestPeriodic(id TaskID, requester uint64) bool {
	if int(id) >= len(tm.periodic) {
		return false
	}
	p := &tm.periodic[id]
	if last, ok := p.last[requester]; ok && tm.simTime-last < p.period {
		return false
	}
	p.last[requester] = tm.simTime
	return true
}

// ForgetRequester drops the periodic history of a requester that left.
func (tm *TimeManager) ForgetRequester(requester uint64) {
	for i := range tm.periodic {
		delete(tm.periodic[i].last, requester)
	}
}

// FrameConsumption returns the time the task used this frame.
func (tm *TimeManager) FrameConsumption(id TaskID) time.Duration {
	if t := tm.task(id); t != nil {
		return t.used
	}
	return 0
}

// FrameCalls returns how many slices the task got this frame.
func (tm *TimeManager) FrameCalls(id TaskID) int {
	if t := tm.task(id); t != nil {
		return t.calls
	}
	return 0
}

// FrameStats summarizes the current frame.
func (tm *TimeManager) FrameStats() FrameStats {
	fs := FrameStats{Frame: tm.frame, Used: tm.used, Elapsed: tm.now().Sub(tm.frameStart)}
	for _, t := range tm.aperiodic {
		fs.Calls += t.calls
		fs.Denied += t.denied
	}
	return fs
}

// FrameStats is the scheduler view of one frame.
type FrameStats struct {
	Frame   uint64
	Used    time.Duration
	Elapsed time.Duration
	Calls   int
	Denied  int
}

// LogValue implements slog.LogValuer.
func (fs FrameStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("frame", fs.Frame),
		slog.Int64("used_us", fs.Used.Microseconds()),
		slog.Int64("elapsed_us", fs.Elapsed.Microseconds()),
		slog.Int("calls", fs.Calls),
		slog.Int("denied", fs.Denied),
	)
}

// Slice is a granted run of an aperiodic task.
type Slice struct {
	tm       *TimeManager
	id       TaskID
	start    time.Time
	deadline time.Time
}

// Expired reports whether the slice ran out of time. It satisfies the budget
// interface of path searches.
func (s Slice) Expired() bool {
	if s.tm == nil {
		return true
	}
	if s.deadline.IsZero() {
		return false
	}
	return !s.tm.now().Before(s.deadline)
}

// Done records the time the slice used against its task and the frame.
func (s Slice) Done() time.Duration {
	if s.tm == nil {
		return 0
	}
	d := s.tm.now().Sub(s.start)
	if t := s.tm.task(s.id); t != nil {
		t.used += d
	}
	s.tm.used += d
	return d
}
