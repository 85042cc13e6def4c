package display

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yeaphone/handset/mainloop"
)

// CallType selects the call direction marker on line1.
type CallType int

const (
	CallNone CallType = iota
	CallIncoming
	CallOutgoing
)

func (t CallType) String() string {
	switch t {
	case CallNone:
		return "none"
	case CallIncoming:
		return "incoming"
	case CallOutgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("CallType(%d)", int(t))
	}
}

// StoreType selects the store marker on line1.
type StoreType int

const (
	StoreNone StoreType = iota
	StoreOn
)

func (t StoreType) String() string {
	switch t {
	case StoreNone:
		return "none"
	case StoreOn:
		return "on"
	default:
		return fmt.Sprintf("StoreType(%d)", int(t))
	}
}

const (
	// RingtoneMaxLen bounds a ringtone upload.
	RingtoneMaxLen = 256

	// ringtoneMinLen is the shortest ringtone the driver accepts, exclusive.
	ringtoneMinLen = 4
)

// ErrRingtoneTooShort is returned for ringtone data of four bytes or less.
var ErrRingtoneTooShort = errors.New("display: ringtone too short")

// SetCallType shows the incoming or outgoing call marker, or clears both.
// Tabs leave the other line1 segments untouched.
func (d *Display) SetCallType(t CallType) {
	d.do(func() { d.control("line1", callTypeLine(t)) })
}

func callTypeLine(t CallType) string {
	line := []byte("\t\t\t\t\t\t\t\t\t\t\t  ")
	switch t {
	case CallIncoming:
		line[11] = '.'
	case CallOutgoing:
		line[12] = '.'
	}
	return string(line)
}

// SetStoreType shows or clears the store marker.
func (d *Display) SetStoreType(t StoreType) {
	d.do(func() { d.control("line1", storeTypeLine(t)) })
}

func storeTypeLine(t StoreType) string {
	line := []byte("\t\t\t\t\t\t\t\t\t\t\t\t\t ")
	if t == StoreOn {
		line[13] = '.'
	}
	return string(line)
}

// Ringtone uploads a ringtone, with its first byte replaced by volume. Data
// beyond RingtoneMaxLen is dropped. The ringer is stopped first, since the
// device must not be ringing while its ringtone is replaced.
func (d *Display) Ringtone(data []byte, volume byte) error {
	if len(data) <= ringtoneMinLen {
		return fmt.Errorf("%w: %d bytes", ErrRingtoneTooShort, len(data))
	}
	buf := make([]byte, min(len(data), RingtoneMaxLen))
	copy(buf, data)
	buf[0] = volume

	d.do(func() {
		if d.loop.Cancel(mainloop.AnyEvent, d.opts.groups.Ring) > 0 {
			d.control("hide_icon", d.opts.ringIcon)
		}
		d.ringOffDelayed = false
		d.control("ringtone", string(buf))
	})
	return nil
}

// RingtoneDir is where ReadRingtone looks up relative names, under $HOME.
const RingtoneDir = ".yeaphone/ringtone"

// ReadRingtone reads up to RingtoneMaxLen bytes of a ringtone file. A
// relative name is resolved against RingtoneDir in the home directory.
func ReadRingtone(name string) ([]byte, error) {
	path := name
	if !filepath.IsAbs(name) {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("display: ringtone %s: %w", name, err)
		}
		path = filepath.Join(home, RingtoneDir, name)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, RingtoneMaxLen))
	if err != nil {
		return nil, fmt.Errorf("display: ringtone %s: %w", path, err)
	}
	if len(data) <= ringtoneMinLen {
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrRingtoneTooShort, path, len(data))
	}
	return data, nil
}
