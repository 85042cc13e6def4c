// Package input reads key events from a Linux evdev device watched by a
// mainloop.Loop, and detects long key presses with a loop timer.
package input

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/yeaphone/handset/mainloop"
	"golang.org/x/sys/unix"
)

const (
	// DefaultLongPress is how long a key must be held to count as a long
	// press.
	DefaultLongPress = time.Second

	// DefaultGroup is the event group of the device watch and long press
	// timer.
	DefaultGroup mainloop.GroupID = 200
)

// ErrShortRead reports a read that did not return a whole input event. The
// reader stops watching the device when it occurs.
var ErrShortRead = errors.New("input: short read")

// Handler receives input from a Reader, on the loop goroutine.
type Handler interface {
	HandleKey(ev KeyEvent)
	// HandleLongKey is called when a key has been held for the long press
	// duration. HandleKey has already seen the press.
	HandleLongKey(code uint16)
	// HandleError is called once if the device fails, after which the
	// reader is stopped.
	HandleError(err error)
}

// HandlerFuncs implements Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Key     func(ev KeyEvent)
	LongKey func(code uint16)
	Error   func(err error)
}

func (x HandlerFuncs) HandleKey(ev KeyEvent) {
	if x.Key != nil {
		x.Key(ev)
	}
}

func (x HandlerFuncs) HandleLongKey(code uint16) {
	if x.LongKey != nil {
		x.LongKey(code)
	}
}

func (x HandlerFuncs) HandleError(err error) {
	if x.Error != nil {
		x.Error(err)
	}
}

type options struct {
	logger    *logiface.Logger[logiface.Event]
	longPress time.Duration
	group     mainloop.GroupID
}

// Option configures a Reader.
type Option func(*options)

func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(o *options) { o.logger = logger }
}

// WithLongPress sets the long press duration. Zero disables long press
// detection.
func WithLongPress(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.longPress = d
		}
	}
}

func WithGroup(group mainloop.GroupID) Option {
	return func(o *options) { o.group = group }
}

// Reader decodes key events from a device descriptor.
type Reader struct {
	loop    *mainloop.Loop
	handler Handler
	opts    options
	buf     []byte
	fd      int

	// loop goroutine only
	longTimer mainloop.EventID
	shift     bool
}

// NewReader watches fd, which should be non-blocking, and delivers its key
// events to handler. The caller keeps ownership of fd and closes it after
// Close.
func NewReader(loop *mainloop.Loop, fd int, handler Handler, opts ...Option) (*Reader, error) {
	r := &Reader{
		loop:      loop,
		handler:   handler,
		fd:        fd,
		buf:       make([]byte, EventSize),
		longTimer: -1,
		opts: options{
			longPress: DefaultLongPress,
			group:     DefaultGroup,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&r.opts)
		}
	}
	if _, err := loop.WatchIO(r.opts.group, fd, r.onReadable); err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	return r, nil
}

// Close stops watching the device and cancels a pending long press.
func (r *Reader) Close() {
	r.loop.Cancel(mainloop.AnyEvent, r.opts.group)
}

func (r *Reader) onReadable(mainloop.EventID, mainloop.GroupID) {
	for {
		n, err := unix.Read(r.fd, r.buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		case err != nil:
			r.fail(err)
			return
		case n == 0:
			r.fail(io.EOF)
			return
		case n != EventSize:
			r.fail(fmt.Errorf("%w: expected %d bytes, got %d", ErrShortRead, EventSize, n))
			return
		}

		if ev := decodeEvent(r.buf); ev.typ == evKey {
			r.handleKey(ev)
		}
	}
}

func (r *Reader) handleKey(ev rawEvent) {
	if ev.code == ShiftCode {
		r.shift = ev.value != 0
		r.cancelLongPress()
	} else {
		switch ev.value {
		case 0:
			r.cancelLongPress()
		case 1:
			r.armLongPress(ev.code)
		}
	}

	r.handler.HandleKey(KeyEvent{
		Time:  ev.time,
		Code:  ev.code,
		Value: ev.value,
		Shift: r.shift,
	})
}

func (r *Reader) armLongPress(code uint16) {
	r.cancelLongPress()
	if r.opts.longPress <= 0 {
		return
	}
	id, err := r.loop.ScheduleTimer(r.opts.group, r.opts.longPress, func(mainloop.EventID, mainloop.GroupID) {
		r.longTimer = -1
		r.handler.HandleLongKey(code)
	})
	if err != nil {
		r.opts.logger.Warning().
			Err(err).
			Log(`input: failed to schedule long press timer`)
		return
	}
	r.longTimer = id
}

func (r *Reader) cancelLongPress() {
	if r.longTimer >= 0 {
		r.loop.Cancel(r.longTimer, r.opts.group)
		r.longTimer = -1
	}
}

func (r *Reader) fail(err error) {
	r.opts.logger.Err().
		Int(`fd`, r.fd).
		Err(err).
		Log(`input: device read failed`)
	r.Close()
	r.handler.HandleError(err)
}
