package mainloop

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultTimerResolution is the minimum wait, see WithTimerResolution.
	DefaultTimerResolution = 10 * time.Millisecond

	// DefaultIdleTimeout is the wait used when no timer is registered.
	DefaultIdleTimeout = time.Hour

	// DefaultInitialSlots is the initial size of the event table.
	DefaultInitialSlots = 6
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger          *logiface.Logger[logiface.Event]
	logRates        map[time.Duration]int
	timerResolution time.Duration
	idleTimeout     time.Duration
	initialSlots    int
	maxSlots        int
	metricsEnabled  bool
}

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithTimerResolution sets the minimum positive wait. A timer whose deadline
// is less than d away is waited for d, which coalesces near-simultaneous
// timers into one wake cycle. Timers may fire up to d late, never early.
func WithTimerResolution(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d < 0 {
			return fmt.Errorf("mainloop: negative timer resolution: %s", d)
		}
		opts.timerResolution = d
		return nil
	}}
}

// WithIdleTimeout sets how long the loop waits when no timer is registered.
func WithIdleTimeout(d time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if d <= 0 {
			return fmt.Errorf("mainloop: idle timeout must be positive: %s", d)
		}
		opts.idleTimeout = d
		return nil
	}}
}

// WithInitialSlots sets the number of slots allocated up front. The table
// grows by one slot at a time beyond that.
func WithInitialSlots(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n < 0 {
			return fmt.Errorf("mainloop: negative initial slots: %d", n)
		}
		opts.initialSlots = n
		return nil
	}}
}

// WithMaxSlots bounds the event table. Registrations that would grow it
// past n fail with a ResourceError wrapping ErrTableFull. Zero means no
// bound.
func WithMaxSlots(n int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n < 0 {
			return fmt.Errorf("mainloop: negative max slots: %d", n)
		}
		opts.maxSlots = n
		return nil
	}}
}

// WithLogRateLimits sets the per-category limits applied to repeated
// warnings (recovered panics, descriptor removal failures). See
// catrate.NewLimiter for the format. A nil or empty map disables limiting.
func WithLogRateLimits(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logRates = rates
		return nil
	}}
}

// WithMetrics enables callback latency sampling, reported by Loop.Metrics.
// Counters are always maintained.
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		timerResolution: DefaultTimerResolution,
		idleTimeout:     DefaultIdleTimeout,
		initialSlots:    DefaultInitialSlots,
		logRates: map[time.Duration]int{
			time.Second: 5,
			time.Minute: 30,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.maxSlots > 0 && cfg.initialSlots > cfg.maxSlots {
		cfg.initialSlots = cfg.maxSlots
	}
	return cfg, nil
}
