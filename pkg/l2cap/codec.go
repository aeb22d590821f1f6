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

// Package l2cap implements the subset of the L2CAP signaling channel used to
// audit a remote device: the information request/response pair and a raw,
// non-blocking signaling socket.
package l2cap

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// CommandCode identifies a signaling command.
type CommandCode uint8

const (
	CommandInfoRequest  CommandCode = 0x0a
	CommandInfoResponse CommandCode = 0x0b
)

// InfoType selects what an information request asks for.
type InfoType uint16

const (
	InfoTypeConnectionlessMTU InfoType = 0x0001
	InfoTypeExtendedFeatures  InfoType = 0x0002
)

func (t InfoType) String() string {
	switch t {
	case InfoTypeConnectionlessMTU:
		return "connectionless_mtu"
	case InfoTypeExtendedFeatures:
		return "extended_features"
	default:
		return fmt.Sprintf("info_type(0x%04x)", uint16(t))
	}
}

// InfoResult is the result code carried by an information response.
type InfoResult uint16

const (
	ResultSuccess      InfoResult = 0x0000
	ResultNotSupported InfoResult = 0x0001
)

const (
	CommandHeaderSize = 4
	InfoRequestSize   = 2
	InfoResponseSize  = 4

	mtuPayloadSize      = 2
	featuresPayloadSize = 4

	// ResponseBufferSize is large enough for either supported info response.
	ResponseBufferSize = CommandHeaderSize + InfoResponseSize + featuresPayloadSize

	// DefaultIdent is the transaction identifier used for audit requests.
	DefaultIdent uint8 = 42
)

// FeatureMask is the extended feature mask reported by a remote device.
type FeatureMask uint32

const (
	FeatureFlowControl    FeatureMask = 0x01
	FeatureRetransmission FeatureMask = 0x02
	FeatureBidirQoS       FeatureMask = 0x04
)

var featureNames = []struct {
	bit  FeatureMask
	name string
}{
	{FeatureFlowControl, "flow_control"},
	{FeatureRetransmission, "retransmission"},
	{FeatureBidirQoS, "bidirectional_qos"},
}

// Modes lists the named modes set in the mask.
func (m FeatureMask) Modes() []string {
	var modes []string

	for _, f := range featureNames {
		if m&f.bit != 0 {
			modes = append(modes, f.name)
		}
	}

	return modes
}

func (m FeatureMask) String() string {
	s := fmt.Sprintf("0x%08x", uint32(m))
	if modes := m.Modes(); len(modes) > 0 {
		s += " (" + strings.Join(modes, ",") + ")"
	}

	return s
}

// InfoResponse is a decoded information response. MTU and FeatureMask are only
// meaningful when Result is ResultSuccess and Type selects them.
type InfoResponse struct {
	Ident       uint8
	Type        InfoType
	Result      InfoResult
	MTU         uint16
	FeatureMask FeatureMask
}

// Supported reports whether the remote answered with a value.
func (r *InfoResponse) Supported() bool {
	return r.Result == ResultSuccess
}

// EncodeInfoRequest builds a signaling command header followed by an
// information request for t. Multi-byte fields are little endian.
func EncodeInfoRequest(ident uint8, t InfoType) []byte {
	buf := make([]byte, CommandHeaderSize+InfoRequestSize)

	buf[0] = byte(CommandInfoRequest)
	buf[1] = ident
	binary.LittleEndian.PutUint16(buf[2:4], InfoRequestSize)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(t))

	return buf
}

// EncodeInfoResponse builds a successful information response carrying value.
// It is the responder side of EncodeInfoRequest and is used by test peers.
func EncodeInfoResponse(ident uint8, t InfoType, result InfoResult, value uint32) []byte {
	var payload int

	if result == ResultSuccess {
		switch t {
		case InfoTypeConnectionlessMTU:
			payload = mtuPayloadSize
		case InfoTypeExtendedFeatures:
			payload = featuresPayloadSize
		}
	}

	buf := make([]byte, CommandHeaderSize+InfoResponseSize+payload)

	buf[0] = byte(CommandInfoResponse)
	buf[1] = ident
	binary.LittleEndian.PutUint16(buf[2:4], uint16(InfoResponseSize+payload))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(t))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(result))

	switch payload {
	case mtuPayloadSize:
		binary.LittleEndian.PutUint16(buf[8:], uint16(value))
	case featuresPayloadSize:
		binary.LittleEndian.PutUint32(buf[8:], value)
	}

	return buf
}

// DecodeInfoResponse parses an information response. Bytes past the length
// declared in the command header are ignored. A "not supported" result is not
// an error; any other non-success result yields *UnexpectedResultError.
func DecodeInfoResponse(b []byte) (InfoResponse, error) {
	var rsp InfoResponse

	if len(b) < CommandHeaderSize+InfoResponseSize {
		return rsp, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}

	if code := CommandCode(b[0]); code != CommandInfoResponse {
		return rsp, fmt.Errorf("%w: 0x%02x", ErrUnexpectedCommand, uint8(code))
	}

	length := int(binary.LittleEndian.Uint16(b[2:4]))
	if length < InfoResponseSize || length > len(b)-CommandHeaderSize {
		return rsp, fmt.Errorf("%w: header declares %d bytes, have %d", ErrTruncated, length, len(b)-CommandHeaderSize)
	}

	b = b[:CommandHeaderSize+length]

	rsp.Ident = b[1]
	rsp.Type = InfoType(binary.LittleEndian.Uint16(b[4:6]))
	rsp.Result = InfoResult(binary.LittleEndian.Uint16(b[6:8]))

	switch rsp.Result {
	case ResultSuccess:
	case ResultNotSupported:
		return rsp, nil
	default:
		return rsp, &UnexpectedResultError{Code: uint16(rsp.Result)}
	}

	data := b[CommandHeaderSize+InfoResponseSize:]

	switch rsp.Type {
	case InfoTypeConnectionlessMTU:
		if len(data) < mtuPayloadSize {
			return rsp, fmt.Errorf("%w: mtu payload is %d bytes", ErrTruncated, len(data))
		}

		rsp.MTU = binary.LittleEndian.Uint16(data)
	case InfoTypeExtendedFeatures:
		if len(data) < featuresPayloadSize {
			return rsp, fmt.Errorf("%w: feature mask payload is %d bytes", ErrTruncated, len(data))
		}

		rsp.FeatureMask = FeatureMask(binary.LittleEndian.Uint32(data))
	default:
		return rsp, fmt.Errorf("%w: %s", ErrUnknownInfoType, rsp.Type)
	}

	return rsp, nil
}
