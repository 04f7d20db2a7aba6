// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mgcp defines the media gateway control contract used by media session
// controllers, and a shared front-end that serializes requests to a gateway backend.
package mgcp

import "strconv"

type (
	SessionID    string
	EndpointID   string
	ConnectionID string
	LinkID       string
)

// TxID correlates a reply with the request that caused it.
type TxID uint64

func (t TxID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// MediaGatewayInfo describes the media server a session is provisioned on.
type MediaGatewayInfo struct {
	Name    string
	Address string
	Codecs  []string
}

type ConnectionMode string

const (
	ModeSendRecv ConnectionMode = "sendrecv"
	ModeSendOnly ConnectionMode = "sendonly"
	ModeRecvOnly ConnectionMode = "recvonly"
	ModeInactive ConnectionMode = "inactive"
)

type ConnectionState int

const (
	ConnectionClosed ConnectionState = iota
	ConnectionHalfOpen
	ConnectionOpen
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionClosed:
		return "CLOSED"
	case ConnectionHalfOpen:
		return "HALF_OPEN"
	case ConnectionOpen:
		return "OPEN"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
	}
}

type LinkState int

const (
	LinkClosed LinkState = iota
	LinkOpen
)

func (s LinkState) String() string {
	switch s {
	case LinkClosed:
		return "CLOSED"
	case LinkOpen:
		return "OPEN"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
	}
}
