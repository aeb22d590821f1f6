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
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 6-byte Bluetooth device address stored in display order,
// most significant byte first.
type Address [6]byte

// AddrAny is BDADDR_ANY, used to bind to whichever local adapter routes the connection.
var AddrAny = Address{}

const addressStringLen = 17

// ParseAddress parses the canonical XX:XX:XX:XX:XX:XX form.
func ParseAddress(s string) (Address, error) {
	var addr Address

	if len(s) != addressStringLen {
		return addr, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	for i := range addr {
		off := i * 3

		if i > 0 && s[off-1] != ':' {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}

		b, err := hex.DecodeString(s[off : off+2])
		if err != nil {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
		}

		addr[i] = b[0]
	}

	return addr, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}

	return addr
}

func (a Address) String() string {
	var sb strings.Builder

	sb.Grow(addressStringLen)

	for i, b := range a {
		if i > 0 {
			sb.WriteByte(':')
		}

		fmt.Fprintf(&sb, "%02X", b)
	}

	return sb.String()
}

// IsAny reports whether the address is BDADDR_ANY.
func (a Address) IsAny() bool {
	return a == AddrAny
}
