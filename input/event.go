package input

import (
	"encoding/binary"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// evKey is the input event type of key presses and releases.
const evKey = 0x01

// ShiftCode is the key code of the handset's shift key (KEY_LEFTSHIFT).
const ShiftCode = 42

// timevalSize is the size of struct timeval, which leads each event.
const timevalSize = int(unsafe.Sizeof(unix.Timeval{}))

// EventSize is the size of struct input_event on this platform.
const EventSize = timevalSize + 8

// KeyEvent is a key press, release or autorepeat from the handset keypad.
type KeyEvent struct {
	Time time.Time
	// Value is 1 for press, 0 for release and 2 for autorepeat.
	Value int32
	Code  uint16
	// Shift reports whether the shift key was held.
	Shift bool
}

// Pressed reports whether the event is a press or autorepeat.
func (e KeyEvent) Pressed() bool { return e.Value != 0 }

type rawEvent struct {
	time  time.Time
	value int32
	typ   uint16
	code  uint16
}

// decodeEvent decodes one struct input_event, in host byte order. b must
// be EventSize bytes.
func decodeEvent(b []byte) (ev rawEvent) {
	var sec, usec int64
	if timevalSize == 16 {
		sec = int64(binary.NativeEndian.Uint64(b[0:]))
		usec = int64(binary.NativeEndian.Uint64(b[8:]))
	} else {
		sec = int64(int32(binary.NativeEndian.Uint32(b[0:])))
		usec = int64(int32(binary.NativeEndian.Uint32(b[4:])))
	}
	ev.time = time.Unix(sec, usec*int64(time.Microsecond))
	ev.typ = binary.NativeEndian.Uint16(b[timevalSize:])
	ev.code = binary.NativeEndian.Uint16(b[timevalSize+2:])
	ev.value = int32(binary.NativeEndian.Uint32(b[timevalSize+4:]))
	return ev
}
