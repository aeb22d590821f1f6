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

package l2cap

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress is returned for strings that are not XX:XX:XX:XX:XX:XX.
	ErrInvalidAddress = errors.New("invalid bluetooth address")

	// Codec errors. All of them wrap ErrProtocol.
	ErrProtocol          = errors.New("l2cap protocol error")
	ErrTruncated         = fmt.Errorf("%w: truncated signaling packet", ErrProtocol)
	ErrUnexpectedCommand = fmt.Errorf("%w: unexpected signaling command", ErrProtocol)
	ErrUnexpectedResult  = fmt.Errorf("%w: unexpected info result", ErrProtocol)
	ErrUnknownInfoType   = fmt.Errorf("%w: unknown info type", ErrProtocol)

	// Socket errors
	ErrWouldBlock          = errors.New("socket not ready")
	ErrSocketClosed        = errors.New("socket closed")
	ErrUnsupportedPlatform = errors.New("raw l2cap sockets are only supported on linux")
)

// UnexpectedResultError carries the result code of an info response that is
// neither success nor "not supported".
type UnexpectedResultError struct {
	Code uint16
}

func (e *UnexpectedResultError) Error() string {
	return fmt.Sprintf("%v: 0x%04x", ErrUnexpectedResult, e.Code)
}

func (*UnexpectedResultError) Unwrap() error {
	return ErrUnexpectedResult
}
