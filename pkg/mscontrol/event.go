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

package mscontrol

import (
	"github.com/livekit/mscontrol/pkg/mgcp"
)

type EventKind int

const (
	EventCreate EventKind = iota
	EventClose
	EventMute
	EventUnmute
	EventUpdate
	EventJoin
	EventLeave
	EventReply
	EventConnectionState
	EventLinkState
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "CreateMediaSession"
	case EventClose:
		return "CloseMediaSession"
	case EventMute:
		return "Mute"
	case EventUnmute:
		return "Unmute"
	case EventUpdate:
		return "UpdateMediaSession"
	case EventJoin:
		return "AcquireInternalLink"
	case EventLeave:
		return "ReleaseInternalLink"
	case EventReply:
		return "Reply"
	case EventConnectionState:
		return "ConnectionStateChanged"
	case EventLinkState:
		return "LinkStateChanged"
	case EventTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Event is everything a controller reacts to: signaling commands, gateway
// messages and its own request timer. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// CreateMediaSession, UpdateMediaSession
	RemoteSDP []byte
	// UpdateMediaSession, AcquireInternalLink
	Mode mgcp.ConnectionMode
	// AcquireInternalLink
	Peer mgcp.EndpointID

	// Reply
	Reply mgcp.Reply
	// Err marks a request that could not be sent.
	Err error

	// ConnectionStateChanged
	Conn      mgcp.ConnectionID
	ConnState mgcp.ConnectionState
	LocalSDP  []byte

	// LinkStateChanged
	Link      mgcp.LinkID
	LinkState mgcp.LinkState

	// Timeout
	generation uint64
}

func CreateMediaSession(offer []byte) Event {
	return Event{Kind: EventCreate, RemoteSDP: offer}
}

func CloseMediaSession() Event {
	return Event{Kind: EventClose}
}

func Mute() Event {
	return Event{Kind: EventMute}
}

func Unmute() Event {
	return Event{Kind: EventUnmute}
}

// UpdateMediaSession renegotiates the remote connection. Empty values keep the current ones.
func UpdateMediaSession(remoteSDP []byte, mode mgcp.ConnectionMode) Event {
	return Event{Kind: EventUpdate, RemoteSDP: remoteSDP, Mode: mode}
}

// AcquireInternalLink joins the call bridge to a peer endpoint, for example a conference mixer.
func AcquireInternalLink(peer mgcp.EndpointID, mode mgcp.ConnectionMode) Event {
	return Event{Kind: EventJoin, Peer: peer, Mode: mode}
}

func ReleaseInternalLink() Event {
	return Event{Kind: EventLeave}
}

// FromGateway converts a gateway message into an event.
func FromGateway(msg mgcp.Message) Event {
	switch m := msg.(type) {
	case mgcp.Reply:
		return Event{Kind: EventReply, Reply: m}
	case *mgcp.ConnectionStateChanged:
		return Event{Kind: EventConnectionState, Conn: m.Conn, ConnState: m.State, LocalSDP: m.LocalSDP}
	case *mgcp.LinkStateChanged:
		return Event{Kind: EventLinkState, Link: m.Link, LinkState: m.State}
	default:
		return Event{Kind: -1}
	}
}

func sendFailed(err error) Event {
	return Event{Kind: EventReply, Err: err}
}

func timeout(gen uint64) Event {
	return Event{Kind: EventTimeout, generation: gen}
}

// failure returns the error carried by a reply event.
func (e Event) failure() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Reply != nil {
		return e.Reply.Failure()
	}
	return nil
}

// Sub-status values refine the dispatch key.
const (
	subNone  = ""
	subError = "error"
)

func (e Event) substatus() string {
	switch e.Kind {
	case EventReply:
		if e.failure() != nil || e.Reply == nil {
			return subError
		}
		return string(e.Reply.ReplyTo())
	case EventConnectionState:
		return e.ConnState.String()
	case EventLinkState:
		return e.LinkState.String()
	default:
		return subNone
	}
}

func (e Event) String() string {
	if s := e.substatus(); s != subNone {
		return e.Kind.String() + "(" + s + ")"
	}
	return e.Kind.String()
}

// replyValue extracts the resource carried by a successful reply.
func replyValue[T mgcp.Resource](e Event) T {
	var zero T
	r, ok := e.Reply.(*mgcp.Response[T])
	if !ok {
		return zero
	}
	return r.Value
}
