package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(budget time.Duration) (*TimeManager, *fakeClock) {
	c := &fakeClock{t: time.Unix(1000, 0)}
	return NewTimeManager(budget, WithClock(c.now)), c
}

func TestSliceExpiresWithFrameBudget(t *testing.T) {
	tm, clock := newTestManager(2 * time.Millisecond)
	astar := tm.RegisterAperiodicTask("astar")
	tm.BeginFrame(16 * time.Millisecond)

	s, ok := tm.Start(astar)
	require.True(t, ok)
	assert.False(t, s.Expired())
	clock.advance(time.Millisecond)
	assert.False(t, s.Expired())
	clock.advance(time.Millisecond)
	assert.True(t, s.Expired())
	assert.Equal(t, 2*time.Millisecond, s.Done())

	assert.True(t, tm.NoMoreTime())
	_, ok = tm.Start(astar)
	assert.False(t, ok, "frame budget spent")
	fs := tm.FrameStats()
	assert.Equal(t, 1, fs.Calls)
	assert.Equal(t, 1, fs.Denied)

	tm.BeginFrame(16 * time.Millisecond)
	assert.False(t, tm.NoMoreTime())
	assert.Zero(t, tm.FrameConsumption(astar))
	_, ok = tm.Start(astar)
	assert.True(t, ok)
}

func TestTaskBudgetAndCallCap(t *testing.T) {
	tm, clock := newTestManager(10 * time.Millisecond)
	astar := tm.RegisterAperiodicTask("astar")
	nearby := tm.RegisterAperiodicTask("nearby")
	assert.Equal(t, astar, tm.RegisterAperiodicTask("astar"))
	assert.Equal(t, nearby, tm.AperiodicTaskByName("nearby"))
	assert.Equal(t, InvalidTaskID, tm.AperiodicTaskByName("missing"))

	tm.SetTaskBudget(astar, 3*time.Millisecond)
	tm.SetMaxCallsPerFrame(nearby, 2)
	tm.BeginFrame(16 * time.Millisecond)

	s, ok := tm.Start(astar)
	require.True(t, ok)
	assert.Equal(t, 3*time.Millisecond, tm.AvailableTime(astar))
	clock.advance(3 * time.Millisecond)
	assert.True(t, s.Expired(), "task budget is tighter than the frame")
	s.Done()
	_, ok = tm.Start(astar)
	assert.False(t, ok)
	assert.Equal(t, 3*time.Millisecond, tm.FrameConsumption(astar))

	for range 2 {
		s, ok := tm.Start(nearby)
		require.True(t, ok)
		s.Done()
	}
	_, ok = tm.Start(nearby)
	assert.False(t, ok, "call cap reached")
	assert.Equal(t, 2, tm.FrameCalls(nearby))
	assert.Equal(t, 7*time.Millisecond, tm.AvailableTime(nearby))
}

func TestUnboundedSliceNeverExpires(t *testing.T) {
	tm, clock := newTestManager(0)
	id := tm.RegisterAperiodicTask("astar")
	tm.BeginFrame(time.Second)
	s, ok := tm.Start(id)
	require.True(t, ok)
	clock.advance(time.Hour)
	assert.False(t, s.Expired())
	assert.Equal(t, time.Duration(-1), tm.AvailableTime(id))
	assert.True(t, Slice{}.Expired(), "a zero slice is never usable")
}

func TestRequestPeriodic(t *testing.T) {
	tm, _ := newTestManager(0)
	repath := tm.RegisterPeriodicTask("repath", 500*time.Millisecond)

	tm.BeginFrame(100 * time.Millisecond)
	assert.True(t, tm.RequestPeriodic(repath, 1))
	assert.True(t, tm.RequestPeriodic(repath, 2), "requesters are independent")
	assert.False(t, tm.RequestPeriodic(repath, 1))

	for range 4 {
		tm.BeginFrame(100 * time.Millisecond)
		assert.False(t, tm.RequestPeriodic(repath, 1))
	}
	tm.BeginFrame(100 * time.Millisecond)
	assert.True(t, tm.RequestPeriodic(repath, 1))
	assert.Equal(t, 600*time.Millisecond, tm.SimTime())

	tm.ForgetRequester(2)
	assert.True(t, tm.RequestPeriodic(repath, 2))
	assert.False(t, tm.RequestPeriodic(TaskID(7), 1))
}

func TestRotate(t *testing.T) {
	tm, _ := newTestManager(0)
	var got []int
	for range 4 {
		got = append(got, tm.Rotate(3))
	}
	assert.Equal(t, []int{1, 2, 0, 1}, got)
	assert.Zero(t, tm.Rotate(0))
}
