/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build linux

package eventloop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/carverauto/l2audit/pkg/logger"
)

const maxEpollEvents = 64

// Poller waits on an epoll set and hands readiness to a Dispatcher. Each
// registration is one-shot: it fires at most once and a fresh Watch is needed
// to observe the descriptor again.
type Poller struct {
	epfd     int
	wakeFd   int
	dispatch Dispatcher
	logger   logger.Logger

	mu      sync.Mutex
	watches map[int]*fdWatch
	closed  bool

	wg sync.WaitGroup
}

type fdWatch struct {
	poller *Poller
	fd     int
	fn     Handler

	// loop goroutine only
	released bool
	fired    bool
}

// NewPoller creates the epoll set. Start must be called before events flow.
func NewPoller(d Dispatcher, log logger.Logger) (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)

		return nil, fmt.Errorf("eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)

		return nil, fmt.Errorf("register wake fd: %w", err)
	}

	return &Poller{
		epfd:     epfd,
		wakeFd:   wakeFd,
		dispatch: d,
		logger:   log,
		watches:  make(map[int]*fdWatch),
	}, nil
}

// Start launches the wait goroutine.
func (p *Poller) Start() {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		p.wait()
	}()
}

func (p *Poller) wait() {
	events := make([]unix.EpollEvent, maxEpollEvents)

	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			p.logger.Error().Err(err).Msg("epoll_wait failed, poller exiting")

			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.wakeFd {
				return
			}

			p.mu.Lock()
			w := p.watches[fd]
			p.mu.Unlock()

			if w == nil {
				continue
			}

			ev := fromEpoll(events[i].Events)
			if !p.dispatch.Post(func() { w.deliver(ev) }) {
				return
			}
		}
	}
}

// Watch arms a one-shot registration for fd. fn runs on the loop goroutine.
func (p *Poller) Watch(fd int, events Events, fn Handler) (Watch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPollerClosed
	}

	if _, exists := p.watches[fd]; exists {
		return nil, fmt.Errorf("%w: fd %d", ErrAlreadyWatched, fd)
	}

	ev := unix.EpollEvent{Events: toEpoll(events) | unix.EPOLLONESHOT, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return nil, fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}

	w := &fdWatch{poller: p, fd: fd, fn: fn}
	p.watches[fd] = w

	return w, nil
}

// Len returns the number of live registrations.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.watches)
}

// Close stops the wait goroutine and releases the epoll set.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	p.mu.Unlock()

	var one [8]byte

	binary.LittleEndian.PutUint64(one[:], 1)

	if _, err := unix.Write(p.wakeFd, one[:]); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to wake poller")
	}

	p.wg.Wait()

	err := unix.Close(p.epfd)
	if cerr := unix.Close(p.wakeFd); err == nil {
		err = cerr
	}

	return err
}

func (w *fdWatch) deliver(ev Events) {
	if w.released || w.fired {
		return
	}

	w.fired = true
	w.fn(ev)
}

func (w *fdWatch) Release() {
	if w.released {
		return
	}

	w.released = true

	p := w.poller

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watches[w.fd] != w {
		return
	}

	delete(p.watches, w.fd)

	if !p.closed {
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, w.fd, nil); err != nil {
			p.logger.Debug().Err(err).Int("fd", w.fd).Msg("epoll_ctl del failed")
		}
	}
}

func toEpoll(e Events) uint32 {
	var ev uint32

	if e&Readable != 0 {
		ev |= unix.EPOLLIN
	}

	if e&Writable != 0 {
		ev |= unix.EPOLLOUT
	}

	return ev
}

func fromEpoll(ev uint32) Events {
	var e Events

	if ev&unix.EPOLLIN != 0 {
		e |= Readable
	}

	if ev&unix.EPOLLOUT != 0 {
		e |= Writable
	}

	if ev&unix.EPOLLERR != 0 {
		e |= Error
	}

	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= Hangup
	}

	return e
}
