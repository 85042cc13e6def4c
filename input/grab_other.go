//go:build !linux

package input

import "errors"

// Grab is only supported on Linux.
func Grab(int) error { return errors.ErrUnsupported }

// Ungrab is only supported on Linux.
func Ungrab(int) error { return errors.ErrUnsupported }
