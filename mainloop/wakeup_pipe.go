//go:build unix && !linux

package mainloop

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking pipe for wake-up notifications.
func createWakeFd() (int, int, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return -1, -1, err
		}
	}
	return p[0], p[1], nil
}
