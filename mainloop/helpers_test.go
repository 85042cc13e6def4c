package mainloop

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newTestLoop creates a loop that is closed, and waited for if running,
// when the test ends.
func newTestLoop(t *testing.T, opts ...LoopOption) *Loop {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = l.Close()
		select {
		case <-l.Done():
		case <-time.After(5 * time.Second):
			t.Error("loop did not stop")
		}
	})
	return l
}

// runLoop starts l on a new goroutine and waits until Run has taken it out
// of StateAwake. The loop may already have stopped again if a callback shut
// it down.
func runLoop(t *testing.T, l *Loop) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()
	require.Eventually(t, func() bool { return l.State() != StateAwake }, time.Second, time.Millisecond)
	return errCh
}

// testCreateIOFD creates a non-blocking pipe suitable for WatchIO.
func testCreateIOFD(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	for _, fd := range p {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

// watched reports whether fd is in the loop's wait set.
func watched(l *Loop, fd int) bool {
	l.poller.mu.Lock()
	defer l.poller.mu.Unlock()
	return l.poller.refs[fd] > 0
}

func drainFD(fd int) {
	var buf [64]byte
	for {
		if n, err := unix.Read(fd, buf[:]); err != nil || n == 0 {
			return
		}
	}
}

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects labels from callbacks.
type recorder struct {
	events []string
	mu     sync.Mutex
}

func (r *recorder) add(label string) {
	r.mu.Lock()
	r.events = append(r.events, label)
	r.mu.Unlock()
}

func (r *recorder) cb(label string) Callback {
	return func(EventID, GroupID) { r.add(label) }
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// syncBuffer is a goroutine safe log sink.
type syncBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

func newTestLogger(w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}
