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

package l2cap

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Dialer opens raw L2CAP signaling sockets.
type Dialer struct{}

// Socket is a non-blocking raw L2CAP signaling socket. It is not safe for
// concurrent use.
type Socket struct {
	fd int
}

// Dial creates a raw signaling socket bound to local and starts a
// non-blocking connect to remote. Completion is signaled by the socket
// becoming writable; SocketError then reports the outcome.
func (Dialer) Dial(local, remote Address) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("create raw l2cap socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrL2{Addr: local}); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("bind raw l2cap socket to %s: %w", local, err)
	}

	err = unix.Connect(fd, &unix.SockaddrL2{Addr: remote})
	if err != nil && !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EAGAIN) {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("connect raw l2cap socket to %s: %w", remote, err)
	}

	return &Socket{fd: fd}, nil
}

// Fd returns the underlying descriptor, or -1 once closed.
func (s *Socket) Fd() int {
	return s.fd
}

// SocketError returns the pending SO_ERROR of the socket, nil when the
// connect completed successfully.
func (s *Socket) SocketError() error {
	if s.fd < 0 {
		return ErrSocketClosed
	}

	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("read socket error: %w", err)
	}

	if v != 0 {
		return unix.Errno(v)
	}

	return nil
}

// Send writes one signaling packet.
func (s *Socket) Send(b []byte) error {
	if s.fd < 0 {
		return ErrSocketClosed
	}

	n, err := unix.Write(s.fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return err
	}

	if n != len(b) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(b))
	}

	return nil
}

// Recv reads one signaling packet into b.
func (s *Socket) Recv(b []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrSocketClosed
	}

	n, err := unix.Read(s.fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, ErrWouldBlock
		}

		return 0, err
	}

	return n, nil
}

// Close releases the descriptor. Calling it more than once is a no-op.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}

	fd := s.fd
	s.fd = -1

	return unix.Close(fd)
}
