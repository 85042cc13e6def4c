//go:build linux

package mainloop

import (
	"sync"

	"golang.org/x/sys/unix"
)

// poller waits for read-readiness using epoll. Descriptors are reference
// counted: several watches may share one descriptor, and it leaves the
// epoll set when the last watch is removed.
type poller struct {
	refs   map[int]int
	ready  []int
	events [64]unix.EpollEvent
	mu     sync.Mutex
	epfd   int
}

func (p *poller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.refs = make(map[int]int)
	return nil
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs = nil
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}

// add registers interest in fd. Errors and hangups are always reported by
// epoll, so only EPOLLIN is requested.
func (p *poller) add(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.refs[fd]; n > 0 {
		p.refs[fd] = n + 1
		return nil
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.refs[fd] = 1
	return nil
}

// remove drops one reference to fd.
func (p *poller) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.refs[fd]
	if n > 1 {
		p.refs[fd] = n - 1
		return nil
	}
	if n == 0 {
		return nil
	}
	delete(p.refs, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeoutMs and returns the ready descriptors. The
// returned slice is reused by the next call. EINTR yields no descriptors
// and no error.
func (p *poller) wait(timeoutMs int) ([]int, error) {
	n, err := unix.EpollWait(p.epfd, p.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		p.ready = append(p.ready, int(p.events[i].Fd))
	}
	return p.ready, nil
}
