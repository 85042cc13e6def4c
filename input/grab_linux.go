//go:build linux

package input

import "golang.org/x/sys/unix"

// Grab takes exclusive access to an evdev device, so its key presses stop
// reaching the console and other readers. Closing fd releases the grab.
func Grab(fd int) error {
	return unix.IoctlSetInt(fd, evIOCGrab, 1)
}

// Ungrab releases a grab taken by Grab.
func Ungrab(fd int) error {
	return unix.IoctlSetInt(fd, evIOCGrab, 0)
}
