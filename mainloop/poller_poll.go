//go:build unix && !linux

package mainloop

import (
	"sync"

	"golang.org/x/sys/unix"
)

// poller waits for read-readiness using poll(2). The descriptor set is
// rebuilt from the reference counts on every wait.
type poller struct {
	refs   map[int]int
	ready  []int
	pollfd []unix.PollFd
	mu     sync.Mutex
}

func (p *poller) init() error {
	p.refs = make(map[int]int)
	return nil
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs = nil
	return nil
}

func (p *poller) add(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == nil {
		return unix.EBADF
	}
	p.refs[fd]++
	return nil
}

func (p *poller) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch n := p.refs[fd]; {
	case n > 1:
		p.refs[fd] = n - 1
	case n == 1:
		delete(p.refs, fd)
	}
	return nil
}

func (p *poller) wait(timeoutMs int) ([]int, error) {
	p.mu.Lock()
	p.pollfd = p.pollfd[:0]
	for fd := range p.refs {
		p.pollfd = append(p.pollfd, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	p.mu.Unlock()

	n, err := unix.Poll(p.pollfd, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	p.ready = p.ready[:0]
	if n == 0 {
		return p.ready, nil
	}
	for _, pfd := range p.pollfd {
		if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			p.ready = append(p.ready, int(pfd.Fd))
		}
	}
	return p.ready, nil
}
