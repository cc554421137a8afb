// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package aio

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrPollerClosed is returned for operations on a closed [Poller].
var ErrPollerClosed = errors.New("aio: poller closed")

// Poller translates epoll readiness into [Reactor.Ready] marks. It owns the
// one blocking syscall for all file descriptors added to it, running
// edge-triggered so each readiness transition is reported once; the
// reactor's one-shot registrations carry the same contract through to the
// awaiting computations.
//
// An eventfd doubles as the shutdown signal, the same wake-pipe trick the
// usual event loops use to interrupt a blocking wait.
type Poller struct {
	log     *zap.Logger
	reactor *Reactor
	epfd    int
	wakefd  int
	done    chan struct{}

	mu      sync.Mutex
	sources map[int32]SourceID
	closed  bool
	err     error
}

// NewPoller constructs a poller feeding r and starts its wait loop.
// A nil logger defaults to zap.NewNop().
func NewPoller(r *Reactor, log *zap.Logger) (*Poller, error) {
	if log == nil {
		log = zap.NewNop()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, err
	}
	p := &Poller{
		log:     log,
		reactor: r,
		epfd:    epfd,
		wakefd:  wakefd,
		done:    make(chan struct{}),
		sources: make(map[int32]SourceID),
	}
	go p.run()
	return p, nil
}

// Add registers fd with the poller and returns the reactor source identity
// its readiness is reported under. The descriptor must be non-blocking.
func (p *Poller) Add(fd int) (SourceID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPollerClosed
	}
	if _, dup := p.sources[int32(fd)]; dup {
		return 0, errors.New("aio: fd already added")
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, err
	}
	src := p.reactor.AllocSource()
	p.sources[int32(fd)] = src
	return src, nil
}

// Remove deregisters fd from the poller.
func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.sources[int32(fd)]; !ok {
		return nil
	}
	delete(p.sources, int32(fd))
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *Poller) run() {
	defer close(p.done)
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// Fatal to this poller instance; surfaced via Err.
			p.mu.Lock()
			closed := p.closed
			if !closed {
				p.err = err
			}
			p.mu.Unlock()
			if !closed {
				p.log.Error("poller failed", zap.Error(err))
			}
			return
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == p.wakefd {
				var buf [8]byte
				_, _ = unix.Read(p.wakefd, buf[:])
				p.mu.Lock()
				closed := p.closed
				p.mu.Unlock()
				if closed {
					return
				}
				continue
			}
			p.mu.Lock()
			src, ok := p.sources[ev.Fd]
			p.mu.Unlock()
			if !ok {
				continue
			}
			if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				p.reactor.Ready(src, InterestReadable)
			}
			if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				p.reactor.Ready(src, InterestWritable)
			}
		}
	}
}

// Err returns the fatal error that stopped the poller, if any.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops the wait loop and releases the poller's descriptors.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	one := [8]byte{0: 1}
	_, _ = unix.Write(p.wakefd, one[:])
	<-p.done

	unix.Close(p.epfd)
	unix.Close(p.wakefd)
	return p.Err()
}
