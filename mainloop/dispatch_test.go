package mainloop

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newClockLoop returns a loop that is never run, with a fake clock, so the
// dispatch and timeout logic can be driven directly.
func newClockLoop(t *testing.T, opts ...LoopOption) (*Loop, *fakeClock) {
	t.Helper()
	l := newTestLoop(t, opts...)
	clock := newFakeClock()
	l.now = clock.Now
	return l, clock
}

func TestDispatchTimers_earliestDeadlineFirst(t *testing.T) {
	l, clock := newClockLoop(t)
	var rec recorder

	for _, d := range []int{60, 20, 40, 10, 50, 30} {
		_, err := l.ScheduleTimer(1, time.Duration(d)*time.Millisecond, rec.cb(fmt.Sprintf("%dms", d)))
		require.NoError(t, err)
	}

	clock.Advance(time.Second)
	l.dispatchTimers()

	assert.Equal(t, []string{"10ms", "20ms", "30ms", "40ms", "50ms", "60ms"}, rec.snapshot())
	assert.Equal(t, 0, l.Len(), "one-shot timers are released")
}

func TestDispatchTimers_neverEarly(t *testing.T) {
	l, clock := newClockLoop(t, WithTimerResolution(10*time.Millisecond))
	var rec recorder

	_, _ = l.ScheduleTimer(1, 25*time.Millisecond, rec.cb("a"))
	_, _ = l.ScheduleTimer(1, 50*time.Millisecond, rec.cb("b"))

	clock.Advance(24 * time.Millisecond)
	l.dispatchTimers()
	assert.Empty(t, rec.snapshot(), "within one resolution is not yet due")

	clock.Advance(time.Millisecond)
	l.dispatchTimers()
	assert.Equal(t, []string{"a"}, rec.snapshot())

	clock.Advance(16 * time.Millisecond)
	l.dispatchTimers()
	assert.Equal(t, []string{"a"}, rec.snapshot())

	clock.Advance(9 * time.Millisecond)
	l.dispatchTimers()
	assert.Equal(t, []string{"a", "b"}, rec.snapshot())
}

func TestDispatchTimers_coalescedByWait(t *testing.T) {
	// deadlines 3ms apart: the clamped wait covers both, one pass fires both
	l, clock := newClockLoop(t, WithTimerResolution(10*time.Millisecond))
	var rec recorder

	_, _ = l.ScheduleTimer(1, 22*time.Millisecond, rec.cb("b"))
	_, _ = l.ScheduleTimer(1, 20*time.Millisecond, rec.cb("a"))

	clock.Advance(18 * time.Millisecond)
	assert.Equal(t, 10, l.calculateTimeout())
	clock.Advance(10 * time.Millisecond)
	l.dispatchTimers()
	assert.Equal(t, []string{"a", "b"}, rec.snapshot())
}

func TestDispatchTimers_oneShotReleasedBeforeCallback(t *testing.T) {
	l, clock := newClockLoop(t)

	var seen int
	var countDuring int
	id, err := l.ScheduleTimer(3, time.Millisecond, func(id EventID, group GroupID) {
		seen++
		countDuring = l.Count(id, group)
	})
	require.NoError(t, err)

	clock.Advance(time.Second)
	l.dispatchTimers()
	l.dispatchTimers()

	assert.Equal(t, 1, seen)
	assert.Equal(t, 0, countDuring)
	assert.Equal(t, 0, l.Count(id, AnyGroup))
}

func TestDispatchTimers_periodicAdvancedBeforeCallback(t *testing.T) {
	l, clock := newClockLoop(t)
	start := clock.Now()

	var deadlines []time.Time
	id, err := l.SchedulePeriodicTimer(2, 30*time.Millisecond, func(id EventID, _ GroupID) {
		l.mu.Lock()
		deadlines = append(deadlines, l.table.slots[id].deadline)
		l.mu.Unlock()
	})
	require.NoError(t, err)

	clock.Advance(30 * time.Millisecond)
	l.dispatchTimers()
	require.Len(t, deadlines, 1)
	assert.Equal(t, start.Add(60*time.Millisecond), deadlines[0], "on time keeps phase")

	// far behind: fires once, then waits a full interval
	clock.Advance(70 * time.Millisecond)
	l.dispatchTimers()
	l.dispatchTimers()
	require.Len(t, deadlines, 2)
	assert.Equal(t, start.Add(130*time.Millisecond), deadlines[1])

	clock.Advance(29 * time.Millisecond)
	l.dispatchTimers()
	assert.Len(t, deadlines, 2)
	clock.Advance(time.Millisecond)
	l.dispatchTimers()
	assert.Len(t, deadlines, 3)
	assert.Equal(t, 1, l.Count(id, 2), "periodic timers are never auto-removed")
}

func TestNextPeriod(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(40*time.Millisecond), nextPeriod(base.Add(10*time.Millisecond), 30*time.Millisecond, base.Add(10*time.Millisecond)))
	assert.Equal(t, base.Add(40*time.Millisecond), nextPeriod(base.Add(10*time.Millisecond), 30*time.Millisecond, base.Add(5*time.Millisecond)))
	assert.Equal(t, base.Add(45*time.Millisecond), nextPeriod(base.Add(10*time.Millisecond), 30*time.Millisecond, base.Add(15*time.Millisecond)))
}

func TestDispatchTimers_registrationDuringDispatchWaitsForNextPass(t *testing.T) {
	l, clock := newClockLoop(t)
	var rec recorder

	_, err := l.ScheduleTimer(1, time.Millisecond, func(EventID, GroupID) {
		rec.add("first")
		_, err := l.ScheduleTimer(1, 0, rec.cb("nested"))
		require.NoError(t, err)
	})
	require.NoError(t, err)
	_, err = l.ScheduleTimer(1, 2*time.Millisecond, rec.cb("second"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	l.dispatchTimers()
	assert.Equal(t, []string{"first", "second"}, rec.snapshot())

	l.dispatchTimers()
	assert.Equal(t, []string{"first", "second", "nested"}, rec.snapshot())
}

func TestDispatchTimers_selfReschedulingPeriodic(t *testing.T) {
	// a one-shot that re-arms itself as a periodic timer, as an LED blink does
	l, clock := newClockLoop(t, WithTimerResolution(0))
	var rec recorder

	_, err := l.ScheduleTimer(7, 10*time.Millisecond, func(EventID, GroupID) {
		rec.add("off")
		_, err := l.SchedulePeriodicTimer(7, 30*time.Millisecond, rec.cb("off"))
		require.NoError(t, err)
	})
	require.NoError(t, err)
	_, err = l.SchedulePeriodicTimer(7, 30*time.Millisecond, rec.cb("on"))
	require.NoError(t, err)

	for range 7 {
		clock.Advance(10 * time.Millisecond)
		l.dispatchTimers()
	}
	assert.Equal(t, []string{"off", "on", "off", "on", "off"}, rec.snapshot())

	assert.Equal(t, 2, l.Cancel(AnyEvent, 7))
}

func TestDispatchTimers_cancelFromCallback(t *testing.T) {
	l, clock := newClockLoop(t)
	var rec recorder

	var later EventID
	_, err := l.ScheduleTimer(1, time.Millisecond, func(EventID, GroupID) {
		rec.add("a")
		assert.Equal(t, 1, l.Cancel(later, AnyGroup))
	})
	require.NoError(t, err)
	later, err = l.ScheduleTimer(1, 2*time.Millisecond, rec.cb("b"))
	require.NoError(t, err)

	clock.Advance(time.Second)
	l.dispatchTimers()
	assert.Equal(t, []string{"a"}, rec.snapshot())
}

func TestDispatchTimers_panicRecovered(t *testing.T) {
	l, clock := newClockLoop(t)
	var rec recorder

	_, _ = l.ScheduleTimer(1, time.Millisecond, func(EventID, GroupID) { panic("boom") })
	_, _ = l.ScheduleTimer(1, 2*time.Millisecond, rec.cb("after"))

	clock.Advance(time.Second)
	require.NotPanics(t, l.dispatchTimers)
	assert.Equal(t, []string{"after"}, rec.snapshot())
	assert.Equal(t, uint64(1), l.Metrics().Panics)
	assert.Equal(t, uint64(2), l.Metrics().TimersFired)
}

func TestCalculateTimeout(t *testing.T) {
	l, _ := newClockLoop(t,
		WithTimerResolution(10*time.Millisecond),
		WithIdleTimeout(5*time.Second),
	)
	assert.Equal(t, 5000, l.calculateTimeout(), "no timers")

	id, _ := l.ScheduleTimer(1, 5*time.Millisecond, func(EventID, GroupID) {})
	assert.Equal(t, 10, l.calculateTimeout(), "raised to the resolution")
	l.Cancel(id, AnyGroup)

	id, _ = l.ScheduleTimer(1, 0, func(EventID, GroupID) {})
	assert.Equal(t, 0, l.calculateTimeout(), "already due")
	l.Cancel(id, AnyGroup)

	_, _ = l.ScheduleTimer(1, 250*time.Millisecond, func(EventID, GroupID) {})
	assert.Equal(t, 250, l.calculateTimeout())

	_, _ = l.ScheduleTimer(1, -time.Second, func(EventID, GroupID) {})
	assert.Equal(t, 0, l.calculateTimeout(), "negative delays are due immediately")
}

func TestCalculateTimeout_cappedByIdle(t *testing.T) {
	l, _ := newClockLoop(t, WithIdleTimeout(time.Second))
	_, _ = l.ScheduleTimer(1, time.Hour, func(EventID, GroupID) {})
	assert.Equal(t, 1000, l.calculateTimeout())
}

func TestTimeoutMillis(t *testing.T) {
	assert.Equal(t, 0, timeoutMillis(-time.Second))
	assert.Equal(t, 0, timeoutMillis(0))
	assert.Equal(t, 1, timeoutMillis(time.Microsecond))
	assert.Equal(t, 11, timeoutMillis(10*time.Millisecond+time.Nanosecond))
	assert.Equal(t, maxWaitMillis, timeoutMillis(1<<62))
}
