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

//go:build !linux

package l2cap

// Dialer opens raw L2CAP signaling sockets.
type Dialer struct{}

// Socket is unavailable on this platform.
type Socket struct{}

// Dial always fails on non-linux platforms.
func (Dialer) Dial(_, _ Address) (*Socket, error) {
	return nil, ErrUnsupportedPlatform
}

func (*Socket) Fd() int { return -1 }

func (*Socket) SocketError() error { return ErrUnsupportedPlatform }

func (*Socket) Send(_ []byte) error { return ErrUnsupportedPlatform }

func (*Socket) Recv(_ []byte) (int, error) { return 0, ErrUnsupportedPlatform }

func (*Socket) Close() error { return nil }
