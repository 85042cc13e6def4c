//go:build unix

package mainloop

import (
	"golang.org/x/sys/unix"
)

// wakeToken is written to the wakeup channel. An eventfd requires exactly
// eight bytes; a pipe accepts them as well.
var wakeToken = [8]byte{1}

func closeFD(fd int) error {
	return unix.Close(fd)
}

func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}
