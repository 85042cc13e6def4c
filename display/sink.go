package display

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink receives display control writes, e.g. ("show_icon", "LED") or
// ("line1", "..."). Implementations are called from the loop goroutine only.
type Sink interface {
	Control(name, value string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name, value string) error

func (f SinkFunc) Control(name, value string) error { return f(name, value) }

// DirSink writes each control to the file of the same name in Dir, which is
// normally the sysfs attribute directory of the handset driver. The files
// must already exist.
type DirSink struct {
	Dir string
}

func (x DirSink) Control(name, value string) error {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) || name == "." || name == ".." {
		return fmt.Errorf("display: invalid control name %q", name)
	}
	f, err := os.OpenFile(filepath.Join(x.Dir, name), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
