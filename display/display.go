// Package display drives the handset LED and display lines from a
// mainloop.Loop: LED blinking, the idle clock, the call duration counter and
// the ringer icon with a minimum ring time.
//
// Methods may be called from any goroutine. Calls made off the loop
// goroutine are carried onto it by a zero-delay timer, so all sink writes and
// all display state changes happen on the loop, in call order.
package display

import (
	"fmt"
	"time"

	"github.com/yeaphone/handset/mainloop"
)

// RingerState is the requested ringer state, see Display.Ringer.
type RingerState int

const (
	// RingerOff hides the ring icon immediately.
	RingerOff RingerState = iota
	// RingerOn shows the ring icon and starts the minimum ring time.
	RingerOn
	// RingerOffDelayed hides the ring icon once the minimum ring time has
	// elapsed.
	RingerOffDelayed
)

func (s RingerState) String() string {
	switch s {
	case RingerOff:
		return "off"
	case RingerOn:
		return "on"
	case RingerOffDelayed:
		return "off-delayed"
	default:
		return fmt.Sprintf("RingerState(%d)", int(s))
	}
}

const (
	blankWeekdays = "\t\t       "
	blankLine1    = "                 "
	blankLine2    = "         "
	blankLine3    = "            "
)

// Display drives a handset display through a Sink.
type Display struct {
	loop *mainloop.Loop
	sink Sink
	opts options

	// fields below are only touched on the loop goroutine

	counterBase    time.Time
	ringOffDelayed bool
	dateAfterCount bool
}

// New creates a Display. Nothing is written until a method is called.
func New(loop *mainloop.Loop, sink Sink, opts ...Option) *Display {
	d := &Display{
		loop: loop,
		sink: sink,
		opts: options{
			now:       time.Now,
			ringIcon:  DefaultRingIcon,
			dateDelay: DefaultDateDelay,
			groups: Groups{
				Blink: DefaultBlinkGroup,
				Clock: DefaultClockGroup,
				Ring:  DefaultRingGroup,
				Hop:   DefaultHopGroup,
			},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&d.opts)
		}
	}
	return d
}

// Blink turns the LED on for on, then off for off, repeatedly. With off zero
// the LED stays on; with on zero it stays off.
func (d *Display) Blink(on, off time.Duration) {
	d.do(func() { d.blink(on, off) })
}

// LEDOn turns the LED on, stopping any blink.
func (d *Display) LEDOn() { d.Blink(1, 0) }

// LEDOff turns the LED off, stopping any blink.
func (d *Display) LEDOff() { d.Blink(0, 0) }

func (d *Display) blink(on, off time.Duration) {
	blink := d.opts.groups.Blink
	d.loop.Cancel(mainloop.AnyEvent, blink)

	if on <= 0 {
		d.ledOff(0, blink)
		return
	}

	d.ledOn(0, blink)
	if off <= 0 {
		return
	}

	period := on + off
	d.schedule(func() (mainloop.EventID, error) {
		// first off re-arms itself as a periodic timer, in phase with the on timer
		return d.loop.ScheduleTimer(blink, on, func(id mainloop.EventID, group mainloop.GroupID) {
			d.schedule(func() (mainloop.EventID, error) {
				return d.loop.SchedulePeriodicTimer(blink, period, d.ledOff)
			})
			d.ledOff(id, group)
		})
	})
	d.schedule(func() (mainloop.EventID, error) {
		return d.loop.SchedulePeriodicTimer(blink, period, d.ledOn)
	})
}

func (d *Display) ledOn(mainloop.EventID, mainloop.GroupID) {
	if d.opts.ledInverted {
		d.control("hide_icon", "LED")
	} else {
		d.control("show_icon", "LED")
	}
}

func (d *Display) ledOff(mainloop.EventID, mainloop.GroupID) {
	if d.opts.ledInverted {
		d.control("show_icon", "LED")
	} else {
		d.control("hide_icon", "LED")
	}
}

// ShowDate shows the date and time, updated every second. After a call
// counter, the final duration stays on screen for the date delay first.
func (d *Display) ShowDate() {
	d.do(d.showDate)
}

func (d *Display) showDate() {
	clock := d.opts.groups.Clock
	d.loop.Cancel(mainloop.AnyEvent, clock)

	if d.dateAfterCount {
		d.schedule(func() (mainloop.EventID, error) {
			return d.loop.ScheduleTimer(clock, d.opts.dateDelay, func(mainloop.EventID, mainloop.GroupID) {
				d.dateAfterCount = false
				d.showDate()
			})
		})
		return
	}

	d.renderDate(0, clock)
	d.schedule(func() (mainloop.EventID, error) {
		return d.loop.SchedulePeriodicTimer(clock, time.Second, d.renderDate)
	})
}

func (d *Display) renderDate(mainloop.EventID, mainloop.GroupID) {
	line1, line2 := formatDate(d.opts.now())
	d.control("line2", line2)
	d.control("line1", line1)
}

// formatDate renders the clock lines: line1 holds month, day, hour, minute
// and second, line2 marks the weekday.
func formatDate(t time.Time) (line1, line2 string) {
	weekdays := []byte(blankWeekdays)
	weekdays[int(t.Weekday())+2] = '.'
	line1 = fmt.Sprintf("%2d.%2d.%2d.%02d\t\t\t %02d",
		int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	return line1, string(weekdays)
}

// StartCounter replaces the clock with the elapsed time since the call, in
// hours, minutes and seconds, updated every second.
func (d *Display) StartCounter() {
	d.do(func() {
		clock := d.opts.groups.Clock
		d.loop.Cancel(mainloop.AnyEvent, clock)
		d.dateAfterCount = true
		d.counterBase = d.opts.now()
		d.renderCounter(0, clock)
		d.schedule(func() (mainloop.EventID, error) {
			return d.loop.SchedulePeriodicTimer(clock, time.Second, d.renderCounter)
		})
	})
}

// StopCounter freezes the counter. Call ShowDate to return to the clock.
func (d *Display) StopCounter() {
	d.do(func() {
		d.loop.Cancel(mainloop.AnyEvent, d.opts.groups.Clock)
	})
}

func (d *Display) renderCounter(mainloop.EventID, mainloop.GroupID) {
	d.control("line1", formatCounter(d.opts.now().Sub(d.counterBase)))
	d.control("line2", blankWeekdays)
}

func formatCounter(elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	total := int(elapsed / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	return fmt.Sprintf("      %2d.%02d\t\t\t %02d", h, m, s)
}

// Ringer sets the ring icon. RingerOn shows it and holds it for at least
// minRing; a RingerOffDelayed within that time hides it when minRing
// elapses instead of immediately.
func (d *Display) Ringer(state RingerState, minRing time.Duration) {
	d.do(func() { d.ringer(state, minRing) })
}

func (d *Display) ringer(state RingerState, minRing time.Duration) {
	ring := d.opts.groups.Ring
	icon := d.opts.ringIcon

	switch state {
	case RingerOn:
		if d.loop.Cancel(mainloop.AnyEvent, ring) > 0 {
			d.control("hide_icon", icon)
		}
		d.ringOffDelayed = false
		d.schedule(func() (mainloop.EventID, error) {
			return d.loop.ScheduleTimer(ring, minRing, func(mainloop.EventID, mainloop.GroupID) {
				if d.ringOffDelayed {
					d.ringOffDelayed = false
					d.control("hide_icon", icon)
				}
			})
		})
		d.control("show_icon", icon)

	case RingerOffDelayed:
		if d.loop.Count(mainloop.AnyEvent, ring) > 0 {
			d.ringOffDelayed = true
		} else {
			d.control("hide_icon", icon)
		}

	default:
		d.control("hide_icon", icon)
		d.loop.Cancel(mainloop.AnyEvent, ring)
		d.ringOffDelayed = false
	}
}

// SetText writes the third display line.
func (d *Display) SetText(text string) {
	d.do(func() { d.control("line3", text) })
}

// HideAll stops the ringer, LED and counter and blanks every line.
func (d *Display) HideAll() {
	d.do(func() {
		d.ringer(RingerOff, 0)
		d.blink(0, 0)
		d.loop.Cancel(mainloop.AnyEvent, d.opts.groups.Clock)
		d.control("line1", blankLine1)
		d.control("line2", blankLine2)
		d.control("line3", blankLine3)
	})
}

// Close cancels every pending display event, including updates not yet
// carried onto the loop. It does not write to the sink.
func (d *Display) Close() {
	g := d.opts.groups
	for _, group := range [...]mainloop.GroupID{g.Hop, g.Blink, g.Clock, g.Ring} {
		d.loop.Cancel(mainloop.AnyEvent, group)
	}
}

// do runs fn now if called on the loop goroutine, otherwise as soon as the
// loop runs it. Once the loop has terminated fn runs on the caller, so a
// final HideAll still reaches the sink.
func (d *Display) do(fn func()) {
	if d.loop.OnLoopThread() || d.loop.State() == mainloop.StateTerminated {
		fn()
		return
	}
	d.schedule(func() (mainloop.EventID, error) {
		return d.loop.ScheduleTimer(d.opts.groups.Hop, 0, func(mainloop.EventID, mainloop.GroupID) { fn() })
	})
}

// schedule registers an event, logging a failure. A display update that
// cannot be scheduled is dropped.
func (d *Display) schedule(register func() (mainloop.EventID, error)) {
	if _, err := register(); err != nil {
		d.opts.logger.Warning().
			Err(err).
			Log(`display: failed to schedule update`)
	}
}

func (d *Display) control(name, value string) {
	if err := d.sink.Control(name, value); err != nil {
		d.opts.logger.Warning().
			Str(`control`, name).
			Err(err).
			Log(`display: control write failed`)
	}
}
