package mainloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Loop is the reactor. Create it with New, register events from any
// goroutine, then call Run on the goroutine that should execute callbacks.
type Loop struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	opts    *loopOptions
	metrics counters

	// now is the clock used for deadlines, replaced in tests
	now func() time.Time

	loopDone chan struct{}

	// wakeMu guards the wakeup descriptors against use after close
	wakeMu sync.RWMutex
	poller poller
	table  table

	ioScratch []ioWatch

	state           loopState
	loopGoroutineID atomic.Uint64
	wakePending     atomic.Bool

	// mu guards table and the poller's descriptor set
	mu sync.Mutex

	wakeBuf       [8]byte
	wakePipe      int
	wakePipeWrite int
	fdsClosed     bool
}

// New allocates the event table, the wakeup channel and the readiness
// poller. Failure to create either system resource is reported as a
// *ResourceError.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	limiter, err := newLimiter(cfg.logRates)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		logger:   cfg.logger,
		limiter:  limiter,
		opts:     cfg,
		now:      time.Now,
		loopDone: make(chan struct{}),
		table:    newTable(cfg.initialSlots, cfg.maxSlots),
	}
	if cfg.metricsEnabled {
		l.metrics.latency = new(latencyWindow)
	}

	l.wakePipe, l.wakePipeWrite, err = createWakeFd()
	if err != nil {
		return nil, &ResourceError{Op: "wakeup", Err: err}
	}

	if err := l.poller.init(); err != nil {
		l.closeWakeFDs()
		return nil, &ResourceError{Op: "poller", Err: err}
	}

	if err := l.poller.add(l.wakePipe); err != nil {
		_ = l.poller.close()
		l.closeWakeFDs()
		return nil, &ResourceError{Op: "poller", Err: err}
	}

	return l, nil
}

func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	if len(rates) == 0 {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mainloop: log rate limits: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Run executes the loop on the calling goroutine, which is locked to its OS
// thread until Run returns. It blocks until Shutdown or Close is called, ctx
// is done, or the readiness wait fails.
//
// Run returns nil after Shutdown or Close, ctx.Err() after cancellation, and
// a *PollError if the readiness wait failed. In every case the event table
// is released and the wakeup channel closed before Run returns; the loop
// cannot be run again.
func (l *Loop) Run(ctx context.Context) error {
	if l.OnLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.tryTransition(StateAwake, StateRunning) {
		if l.state.load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	defer close(l.loopDone)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	stop := context.AfterFunc(ctx, l.submitWakeup)
	defer stop()

	l.logger.Debug().Log(`loop started`)

	err := l.run(ctx)

	l.terminate()

	switch err.(type) {
	case nil:
		l.logger.Debug().Log(`loop stopped`)
	case *PollError:
		l.logger.Err().Err(err).Log(`loop stopped`)
	default:
		l.logger.Debug().Err(err).Log(`loop stopped`)
	}
	return err
}

func (l *Loop) run(ctx context.Context) error {
	for {
		if l.state.load() != StateRunning {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ready, err := l.poller.wait(l.calculateTimeout())
		if err != nil {
			return &PollError{Err: err}
		}
		l.metrics.iterations.Add(1)

		for _, fd := range ready {
			if fd == l.wakePipe {
				l.drainWakeUpPipe()
				l.metrics.wakeups.Add(1)
				continue
			}
			l.dispatchIO(fd)
		}

		l.dispatchTimers()
	}
}

// calculateTimeout returns the wait in milliseconds until the earliest
// timer deadline. A positive wait shorter than the timer resolution is
// raised to the resolution, so near deadlines share one wake cycle. With no
// timers the idle timeout is used.
func (l *Loop) calculateTimeout() int {
	l.mu.Lock()
	deadline, ok := l.table.nextDeadline()
	l.mu.Unlock()

	if !ok {
		return timeoutMillis(l.opts.idleTimeout)
	}
	remaining := deadline.Sub(l.now())
	if remaining <= 0 {
		return 0
	}
	if remaining < l.opts.timerResolution {
		remaining = l.opts.timerResolution
	}
	if remaining > l.opts.idleTimeout {
		remaining = l.opts.idleTimeout
	}
	return timeoutMillis(remaining)
}

// timeoutMillis converts a wait duration to milliseconds, rounding up so the
// loop does not wake before the deadline it computed.
func timeoutMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := (d + time.Millisecond - 1) / time.Millisecond
	if n > time.Duration(maxWaitMillis) {
		return maxWaitMillis
	}
	return int(n)
}

const maxWaitMillis = 1<<31 - 1

// dispatchIO invokes every I/O watch registered on fd. A watch cancelled
// before its turn, including by an earlier callback in the same pass, is
// skipped.
func (l *Loop) dispatchIO(fd int) {
	l.mu.Lock()
	watches := l.table.watchesFor(l.ioScratch[:0], fd)
	l.ioScratch = watches
	l.mu.Unlock()

	for _, w := range watches {
		l.mu.Lock()
		if !l.table.live(w.idx, w.gen) {
			l.mu.Unlock()
			continue
		}
		s := l.table.slots[w.idx]
		l.mu.Unlock()

		l.metrics.ioCallbacks.Add(1)
		l.safeExecute(s.cb, EventID(w.idx), s.group)
	}
}

// dispatchTimers fires every due timer in earliest-deadline-first order.
// One-shot slots are released and periodic deadlines advanced before the
// callback runs. Each timer fires at most once per pass, and timers
// registered during the pass wait for the next one.
func (l *Loop) dispatchTimers() {
	l.mu.Lock()
	l.table.resetProcessed()
	l.mu.Unlock()

	now := l.now()
	for {
		l.mu.Lock()
		i, ok := l.table.nextDue(now)
		if !ok {
			l.mu.Unlock()
			return
		}
		s := &l.table.slots[i]
		s.processed = true
		cb, group := s.cb, s.group
		if s.kind == KindTimer {
			l.table.release(i)
		} else {
			s.deadline = nextPeriod(s.deadline, s.interval, now)
		}
		l.mu.Unlock()

		l.metrics.timersFired.Add(1)
		l.safeExecute(cb, EventID(i), group)
	}
}

// nextPeriod advances a periodic deadline by one interval. A timer that
// fell behind is moved to one interval after now, keeping consecutive
// firings at least one interval apart.
func nextPeriod(deadline time.Time, interval time.Duration, now time.Time) time.Time {
	next := deadline.Add(interval)
	if earliest := now.Add(interval); next.Before(earliest) {
		return earliest
	}
	return next
}

// safeExecute runs a callback, recovering and logging a panic.
func (l *Loop) safeExecute(cb Callback, id EventID, group GroupID) {
	var start time.Time
	if l.metrics.latency != nil {
		start = time.Now()
		defer func() {
			l.metrics.latency.record(time.Since(start))
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			l.metrics.panics.Add(1)
			if _, ok := l.limiter.Allow(`panic`); ok {
				l.logger.Warning().
					Int(`event`, int(id)).
					Int(`group`, int(group)).
					Str(`panic`, fmt.Sprint(r)).
					Log(`callback panicked`)
			}
		}
	}()

	cb(id, group)
}

// ScheduleTimer registers a one-shot timer that fires once, delay after the
// call. A negative delay is treated as zero.
func (l *Loop) ScheduleTimer(group GroupID, delay time.Duration, cb Callback) (EventID, error) {
	if delay < 0 {
		delay = 0
	}
	return l.addTimer(KindTimer, group, delay, 0, cb)
}

// SchedulePeriodicTimer registers a timer that first fires interval after
// the call, then every interval until cancelled. The deadline advances by
// interval on each firing, so an on-time timer keeps its phase; a timer
// that fell behind skips the missed firings rather than bunching them.
func (l *Loop) SchedulePeriodicTimer(group GroupID, interval time.Duration, cb Callback) (EventID, error) {
	if interval <= 0 {
		return -1, ErrInvalidInterval
	}
	return l.addTimer(KindPeriodicTimer, group, interval, interval, cb)
}

func (l *Loop) addTimer(kind Kind, group GroupID, delay, interval time.Duration, cb Callback) (EventID, error) {
	if cb == nil {
		return -1, ErrNilCallback
	}

	l.mu.Lock()
	i, err := l.allocLocked(kind)
	if err != nil {
		l.mu.Unlock()
		return -1, err
	}
	s := &l.table.slots[i]
	s.group = group
	s.cb = cb
	s.deadline = l.now().Add(delay)
	s.interval = interval
	// not eligible until the next dispatch pass
	s.processed = true
	l.mu.Unlock()

	l.wakeIfForeign()
	return EventID(i), nil
}

// WatchIO registers a watch that fires whenever fd is read-ready or in an
// error state, on every wait cycle, until cancelled. The same descriptor may
// be watched more than once; each watch fires.
func (l *Loop) WatchIO(group GroupID, fd int, cb Callback) (EventID, error) {
	if cb == nil {
		return -1, ErrNilCallback
	}
	if fd < 0 {
		return -1, ErrInvalidFD
	}

	l.mu.Lock()
	i, err := l.allocLocked(KindIO)
	if err != nil {
		l.mu.Unlock()
		return -1, err
	}
	if err := l.poller.add(fd); err != nil {
		l.table.release(i)
		l.mu.Unlock()
		return -1, fmt.Errorf("mainloop: watch fd %d: %w", fd, err)
	}
	s := &l.table.slots[i]
	s.group = group
	s.cb = cb
	s.fd = fd
	l.mu.Unlock()

	l.wakeIfForeign()
	return EventID(i), nil
}

// allocLocked claims a slot. l.mu must be held.
func (l *Loop) allocLocked(kind Kind) (int, error) {
	if l.state.load() == StateTerminated {
		return -1, ErrLoopTerminated
	}
	i, grew, err := l.table.alloc(kind)
	if err != nil {
		return -1, err
	}
	if grew {
		l.metrics.tableGrowths.Add(1)
		l.logger.Debug().
			Int(`size`, len(l.table.slots)).
			Log(`event table extended`)
	}
	return i, nil
}

// Cancel removes every event matching id and group, returning the number
// removed. A non-negative id selects only that event, which must also be
// in group unless group is negative; a negative id selects every event in
// group, or every event if group is also negative. An unknown id matches
// nothing.
//
// The matching slots are empty when Cancel returns, and a cancelled event
// is not dispatched again. A dispatch already in flight on the loop
// goroutine still completes: a callback that is executing, or that the loop
// has already taken from the table, is not interrupted.
func (l *Loop) Cancel(id EventID, group GroupID) int {
	var n int

	l.mu.Lock()
	for i := range l.table.slots {
		if !l.table.matches(i, id, group) {
			continue
		}
		old, _ := l.table.release(i)
		n++
		if old.kind == KindIO {
			if err := l.poller.remove(old.fd); err != nil {
				l.warnLimited(`poller_remove`, func(b *logiface.Builder[logiface.Event]) {
					b.Int(`fd`, old.fd).Err(err).Log(`failed to remove descriptor from wait set`)
				})
			}
		}
	}
	l.mu.Unlock()

	if n > 0 {
		l.wakeIfForeign()
	}
	return n
}

// Count returns the number of events Cancel would remove, without removing
// them.
func (l *Loop) Count(id EventID, group GroupID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table.count(id, group)
}

// Len returns the number of registered events.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.table.active
}

// Cap returns the number of event table slots, empty or not.
func (l *Loop) Cap() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.table.slots)
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.load()
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.loopDone
}

// Metrics returns a snapshot of the loop statistics.
func (l *Loop) Metrics() Metrics {
	l.mu.Lock()
	m := Metrics{
		ActiveSlots: l.table.active,
		TableSize:   len(l.table.slots),
	}
	l.mu.Unlock()

	m.Iterations = l.metrics.iterations.Load()
	m.Wakeups = l.metrics.wakeups.Load()
	m.TimersFired = l.metrics.timersFired.Load()
	m.IOCallbacks = l.metrics.ioCallbacks.Load()
	m.Panics = l.metrics.panics.Load()
	m.TableGrowths = l.metrics.tableGrowths.Load()
	if l.metrics.latency != nil {
		m.Latency = l.metrics.latency.snapshot()
	}
	return m
}

// Shutdown requests that Run return. It may be called from any goroutine,
// including a callback, and is a no-op unless the loop is running.
func (l *Loop) Shutdown() {
	if l.state.tryTransition(StateRunning, StateTerminating) {
		l.submitWakeup()
	}
}

// Close releases a loop that was never run, or requests shutdown of a
// running one, in which case resources are released as Run returns.
func (l *Loop) Close() error {
	for {
		switch current := l.state.load(); current {
		case StateTerminated:
			return ErrLoopTerminated
		case StateTerminating:
			return nil
		case StateRunning:
			if l.state.tryTransition(current, StateTerminating) {
				l.submitWakeup()
				return nil
			}
		case StateAwake:
			if l.state.tryTransition(current, StateTerminating) {
				l.terminate()
				close(l.loopDone)
				return nil
			}
		}
	}
}

// terminate releases the event table and closes the descriptors.
func (l *Loop) terminate() {
	l.mu.Lock()
	l.state.store(StateTerminated)
	l.table = table{}
	l.ioScratch = nil
	l.mu.Unlock()

	l.closeFDs()
}

// OnLoopThread reports whether the caller is executing on the goroutine
// running the loop. It is false when the loop is not running.
func (l *Loop) OnLoopThread() bool {
	return l.isLoopThread()
}

// wakeIfForeign signals the wakeup channel unless called from the loop
// goroutine, which re-evaluates deadlines after dispatch anyway.
func (l *Loop) wakeIfForeign() {
	if l.state.load() != StateRunning || l.isLoopThread() {
		return
	}
	l.submitWakeup()
}

// submitWakeup writes a token to the wakeup channel, unless one is already
// pending.
func (l *Loop) submitWakeup() {
	if !l.wakePending.CompareAndSwap(false, true) {
		return
	}
	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.fdsClosed {
		return
	}
	if _, err := writeFD(l.wakePipeWrite, wakeToken[:]); err != nil {
		l.wakePending.Store(false)
		l.warnLimited(`wakeup`, func(b *logiface.Builder[logiface.Event]) {
			b.Err(err).Log(`failed to signal wakeup channel`)
		})
	}
}

// drainWakeUpPipe discards pending wakeup tokens. The pending flag is
// cleared after reading, so a token written concurrently is never lost.
func (l *Loop) drainWakeUpPipe() {
	for {
		if _, err := readFD(l.wakePipe, l.wakeBuf[:]); err != nil {
			break
		}
	}
	l.wakePending.Store(false)
}

// warnLimited logs a warning, subject to the log rate limits for category.
func (l *Loop) warnLimited(category string, fn func(b *logiface.Builder[logiface.Event])) {
	b := l.logger.Warning()
	if !b.Enabled() {
		return
	}
	if _, ok := l.limiter.Allow(category); !ok {
		b.Release()
		return
	}
	fn(b)
}

// closeFDs closes the poller and the wakeup channel.
func (l *Loop) closeFDs() {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.fdsClosed {
		return
	}
	l.fdsClosed = true
	_ = l.poller.close()
	l.closeWakeFDs()
}

func (l *Loop) closeWakeFDs() {
	_ = closeFD(l.wakePipe)
	if l.wakePipeWrite != l.wakePipe {
		_ = closeFD(l.wakePipeWrite)
	}
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID parses the current goroutine id from the stack header.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
