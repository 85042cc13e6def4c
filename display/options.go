package display

import (
	"time"

	"github.com/joeycumines/logiface"
	"github.com/yeaphone/handset/mainloop"
)

// Default event groups. Each group is cancelled as a unit, so they must not
// be shared with other collaborators on the same loop.
const (
	DefaultBlinkGroup mainloop.GroupID = 100
	DefaultClockGroup mainloop.GroupID = 101
	DefaultRingGroup  mainloop.GroupID = 102
	DefaultHopGroup   mainloop.GroupID = 103
)

const (
	// DefaultRingIcon is the icon toggled by Ringer.
	DefaultRingIcon = "RINGTONE"

	// DefaultDateDelay is how long ShowDate waits after a call counter ran.
	DefaultDateDelay = 5 * time.Second
)

// Groups are the event groups used by a Display.
type Groups struct {
	Blink mainloop.GroupID
	Clock mainloop.GroupID
	Ring  mainloop.GroupID
	// Hop carries updates requested from other goroutines onto the loop.
	Hop mainloop.GroupID
}

type options struct {
	logger      *logiface.Logger[logiface.Event]
	now         func() time.Time
	ringIcon    string
	groups      Groups
	dateDelay   time.Duration
	ledInverted bool
}

// Option configures a Display.
type Option func(*options)

func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now for the clock and call counter.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithInvertedLED is for handsets whose LED is lit when its icon is hidden.
func WithInvertedLED(inverted bool) Option {
	return func(o *options) { o.ledInverted = inverted }
}

func WithRingIcon(icon string) Option {
	return func(o *options) {
		if icon != "" {
			o.ringIcon = icon
		}
	}
}

func WithGroups(groups Groups) Option {
	return func(o *options) { o.groups = groups }
}

// WithDateDelay sets how long ShowDate keeps a finished call's duration on
// screen.
func WithDateDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.dateDelay = d
		}
	}
}
