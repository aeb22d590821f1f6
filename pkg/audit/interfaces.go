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
	"time"

	"github.com/carverauto/l2audit/pkg/eventloop"
	"github.com/carverauto/l2audit/pkg/l2cap"
	"github.com/carverauto/l2audit/pkg/timeout"
)

//go:generate mockgen -destination=mock_audit.go -package=audit github.com/carverauto/l2audit/pkg/audit AdmissionState

// AdmissionState exposes the daemon-wide activity that blocks a new probe.
type AdmissionState interface {
	DiscoveryActive() bool
	BondingActive() bool
	PinRequestPending(addr l2cap.Address) bool
}

// Conn is a non-blocking signaling channel to one remote device.
type Conn interface {
	Fd() int
	SocketError() error
	Send(b []byte) error
	Recv(b []byte) (int, error)
	Close() error
}

// Dialer starts a non-blocking connect from local to remote.
type Dialer interface {
	Dial(local, remote l2cap.Address) (Conn, error)
}

// Reactor delivers one-shot readiness for a descriptor.
type Reactor interface {
	Watch(fd int, events eventloop.Events, fn eventloop.Handler) (eventloop.Watch, error)
}

// Scheduler arms and disarms probe deadlines.
type Scheduler interface {
	Schedule(d time.Duration, onExpire func()) *timeout.Handle
	Cancel(h *timeout.Handle) bool
}

// Releaser detaches a registration.
type Releaser interface {
	Release()
}

// Liveness reports when an IPC requestor goes away.
type Liveness interface {
	Watch(requestor string, onExit func()) (Releaser, error)
}

// SocketDialer adapts l2cap.Dialer to Dialer.
type SocketDialer struct {
	Dialer l2cap.Dialer
}

func (d SocketDialer) Dial(local, remote l2cap.Address) (Conn, error) {
	s, err := d.Dialer.Dial(local, remote)
	if err != nil {
		return nil, err
	}

	return s, nil
}

var (
	_ Dialer    = SocketDialer{}
	_ Reactor   = (*eventloop.Poller)(nil)
	_ Scheduler = (*timeout.Supervisor)(nil)
)
