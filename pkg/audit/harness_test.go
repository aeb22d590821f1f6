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

package audit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/l2cap"
	"github.com/carverauto/l2audit/pkg/logger"
	"github.com/carverauto/l2audit/pkg/timeout"
)

var errFakeWatch = errors.New("fd already watched")

type fakeConn struct {
	fd        int
	sockErr   error
	sendErr   error
	recvErr   error
	responses [][]byte
	sent      [][]byte
	closes    int
}

func (c *fakeConn) Fd() int { return c.fd }

func (c *fakeConn) SocketError() error { return c.sockErr }

func (c *fakeConn) Send(b []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}

	c.sent = append(c.sent, append([]byte(nil), b...))

	return nil
}

func (c *fakeConn) Recv(b []byte) (int, error) {
	if c.recvErr != nil {
		return 0, c.recvErr
	}

	if len(c.responses) == 0 {
		return 0, l2cap.ErrWouldBlock
	}

	r := c.responses[0]
	c.responses = c.responses[1:]

	return copy(b, r), nil
}

func (c *fakeConn) Close() error {
	c.closes++

	return nil
}

type fakeDialer struct {
	nextFd   int
	conns    []*fakeConn
	byTarget map[l2cap.Address]*fakeConn
	fail     map[l2cap.Address]error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		nextFd:   100,
		byTarget: make(map[l2cap.Address]*fakeConn),
		fail:     make(map[l2cap.Address]error),
	}
}

func (d *fakeDialer) Dial(_, remote l2cap.Address) (Conn, error) {
	if err := d.fail[remote]; err != nil {
		return nil, err
	}

	d.nextFd++

	c := &fakeConn{fd: d.nextFd}
	d.conns = append(d.conns, c)
	d.byTarget[remote] = c

	return c, nil
}

// open counts connections that were dialed and not yet closed.
func (d *fakeDialer) open() int {
	n := 0

	for _, c := range d.conns {
		if c.closes == 0 {
			n++
		}
	}

	return n
}

type fakeWatch struct {
	reactor  *fakeReactor
	fd       int
	events   eventloop.Events
	fn       eventloop.Handler
	released bool
}

func (w *fakeWatch) Release() {
	if w.released {
		return
	}

	w.released = true
	w.reactor.released++

	if w.reactor.active[w.fd] == w {
		delete(w.reactor.active, w.fd)
	}
}

type fakeReactor struct {
	active   map[int]*fakeWatch
	acquired int
	released int
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{active: make(map[int]*fakeWatch)}
}

func (r *fakeReactor) Watch(fd int, events eventloop.Events, fn eventloop.Handler) (eventloop.Watch, error) {
	if _, exists := r.active[fd]; exists {
		return nil, fmt.Errorf("%w: %d", errFakeWatch, fd)
	}

	w := &fakeWatch{reactor: r, fd: fd, events: events, fn: fn}
	r.active[fd] = w
	r.acquired++

	return w, nil
}

type fakeLiveWatch struct {
	live      *fakeLiveness
	requestor string
	onExit    func()
	released  bool
}

func (w *fakeLiveWatch) Release() {
	if w.released {
		return
	}

	w.released = true
	w.live.released++
}

type fakeLiveness struct {
	watches  []*fakeLiveWatch
	acquired int
	released int
	err      error
}

func (l *fakeLiveness) Watch(requestor string, onExit func()) (Releaser, error) {
	if l.err != nil {
		return nil, l.err
	}

	w := &fakeLiveWatch{live: l, requestor: requestor, onExit: onExit}
	l.watches = append(l.watches, w)
	l.acquired++

	return w, nil
}

func (l *fakeLiveness) exit(requestor string) {
	for _, w := range append([]*fakeLiveWatch(nil), l.watches...) {
		if w.requestor == requestor && !w.released {
			w.onExit()
		}
	}
}

func (l *fakeLiveness) live() int {
	return l.acquired - l.released
}

type callbackQueue chan func()

func (q callbackQueue) Post(fn func()) bool {
	q <- fn

	return true
}

type harness struct {
	t         *testing.T
	engine    *Engine
	dialer    *fakeDialer
	reactor   *fakeReactor
	timers    *timeout.Supervisor
	clock     *clock.Mock
	queue     callbackQueue
	liveness  *fakeLiveness
	admission *MockAdmissionState
}

type harnessOption func(*harnessOptions)

type harnessOptions struct {
	cfg       *Config
	admission func(*MockAdmissionState)
	meter     metric.Meter
}

func withConfig(cfg Config) harnessOption {
	return func(o *harnessOptions) { o.cfg = &cfg }
}

func withAdmission(fn func(*MockAdmissionState)) harnessOption {
	return func(o *harnessOptions) { o.admission = fn }
}

func withMeter(m metric.Meter) harnessOption {
	return func(o *harnessOptions) { o.meter = m }
}

func allowAll(m *MockAdmissionState) {
	m.EXPECT().DiscoveryActive().Return(false).AnyTimes()
	m.EXPECT().BondingActive().Return(false).AnyTimes()
	m.EXPECT().PinRequestPending(gomock.Any()).Return(false).AnyTimes()
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	o := harnessOptions{admission: allowAll}
	for _, opt := range opts {
		opt(&o)
	}

	ctrl := gomock.NewController(t)
	admission := NewMockAdmissionState(ctrl)
	o.admission(admission)

	mock := clock.NewMock()
	queue := make(callbackQueue, 64)

	h := &harness{
		t:         t,
		dialer:    newFakeDialer(),
		reactor:   newFakeReactor(),
		timers:    timeout.NewSupervisor(mock, queue),
		clock:     mock,
		queue:     queue,
		liveness:  &fakeLiveness{},
		admission: admission,
	}

	engine, err := NewEngine(o.cfg, Dependencies{
		Dialer:    h.dialer,
		Reactor:   h.reactor,
		Timers:    h.timers,
		Liveness:  h.liveness,
		Admission: admission,
		Clock:     mock,
		Meter:     o.meter,
	}, logger.NewTestLogger())
	require.NoError(t, err)

	h.engine = engine

	return h
}

func (h *harness) start(target, requestor string) (*Probe, error) {
	return h.engine.StartProbe(StartRequest{
		Target:      l2cap.MustParseAddress(target),
		Requestor:   requestor,
		AdapterPath: "/org/bluez/hci0",
	})
}

func (h *harness) mustStart(target, requestor string) *Probe {
	h.t.Helper()

	p, err := h.start(target, requestor)
	require.NoError(h.t, err)

	return p
}

func (h *harness) conn(p *Probe) *fakeConn {
	h.t.Helper()

	c, ok := h.dialer.byTarget[p.Target]
	require.True(h.t, ok, "no connection dialed for %s", p.Target)

	return c
}

func (h *harness) fire(p *Probe, ev eventloop.Events) {
	h.t.Helper()

	w, ok := h.reactor.active[h.conn(p).fd]
	require.True(h.t, ok, "no watch armed for %s", p.Target)

	w.fn(ev)
}

func (h *harness) connected(p *Probe) {
	h.t.Helper()

	h.fire(p, eventloop.Writable)
}

func (h *harness) respond(p *Probe, b []byte) {
	h.t.Helper()

	c := h.conn(p)
	c.responses = append(c.responses, b)

	h.fire(p, eventloop.Readable)
}

// advance moves the clock and runs every expiry it posted.
func (h *harness) advance(d time.Duration) {
	h.clock.Add(d)

	for {
		select {
		case fn := <-h.queue:
			fn()
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

// requireReleased checks that p and everything it owned are gone.
func (h *harness) requireReleased(p *Probe) {
	h.t.Helper()

	require.True(h.t, p.Finished())
	require.Nil(h.t, h.engine.registry.Find(p.Target))
	require.Nil(h.t, p.conn)
	require.Nil(h.t, p.io)
	require.Nil(h.t, p.timer)
	require.Nil(h.t, p.liveness)

	if c, ok := h.dialer.byTarget[p.Target]; ok {
		require.Equal(h.t, 1, c.closes, "connection closes")

		_, armed := h.reactor.active[c.fd]
		require.False(h.t, armed, "watch still armed")
	}
}

// requireIdle checks that nothing is held once every probe is gone.
func (h *harness) requireIdle() {
	h.t.Helper()

	require.Zero(h.t, h.engine.Len())
	require.Zero(h.t, h.dialer.open(), "open connections")
	require.Equal(h.t, h.reactor.acquired, h.reactor.released, "watches acquired/released")
	require.Zero(h.t, h.timers.Pending(), "pending deadlines")
	require.Zero(h.t, h.liveness.live(), "liveness watches")
}

func mtuResponse(mtu uint16) []byte {
	return l2cap.EncodeInfoResponse(l2cap.DefaultIdent, l2cap.InfoTypeConnectionlessMTU, l2cap.ResultSuccess, uint32(mtu))
}

func featuresResponse(mask uint32) []byte {
	return l2cap.EncodeInfoResponse(l2cap.DefaultIdent, l2cap.InfoTypeExtendedFeatures, l2cap.ResultSuccess, mask)
}

func notSupported(t l2cap.InfoType) []byte {
	return l2cap.EncodeInfoResponse(l2cap.DefaultIdent, t, l2cap.ResultNotSupported, 0)
}
