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

package mgcp

import "context"

// Message is anything the gateway delivers to a controller.
type Message interface {
	MessageType() string
	// Handle is the gateway handle the message is about, if any.
	Handle() string
}

// Reply answers a single request.
type Reply interface {
	Message
	Transaction() TxID
	ReplyTo() Verb
	Failure() error
}

// Resource is a value a gateway reply can carry.
type Resource interface {
	MediaGatewayInfo | SessionID | EndpointID | ConnectionID | LinkID
}

// Response carries the result of a request. Err is set when the gateway rejected it.
type Response[T Resource] struct {
	Tx    TxID
	Verb  Verb
	Value T
	Err   error
}

func (r *Response[T]) MessageType() string { return "response:" + string(r.Verb) }
func (r *Response[T]) Transaction() TxID   { return r.Tx }
func (r *Response[T]) ReplyTo() Verb       { return r.Verb }
func (r *Response[T]) Failure() error      { return r.Err }

func (r *Response[T]) Handle() string {
	switch v := any(r.Value).(type) {
	case SessionID:
		return string(v)
	case EndpointID:
		return string(v)
	case ConnectionID:
		return string(v)
	case LinkID:
		return string(v)
	default:
		return ""
	}
}

// ConnectionStateChanged is pushed whenever a connection changes state.
type ConnectionStateChanged struct {
	Conn     ConnectionID
	State    ConnectionState
	LocalSDP []byte
}

func (n *ConnectionStateChanged) MessageType() string { return "connection:" + n.State.String() }
func (n *ConnectionStateChanged) Handle() string      { return string(n.Conn) }

// LinkStateChanged is pushed whenever an internal link changes state.
type LinkStateChanged struct {
	Link  LinkID
	State LinkState
}

func (n *LinkStateChanged) MessageType() string { return "link:" + n.State.String() }
func (n *LinkStateChanged) Handle() string      { return string(n.Link) }

// Gateway is the per-call view of the media gateway front-end.
type Gateway interface {
	// Send queues a request and returns its transaction id. It never waits for the reply.
	Send(ctx context.Context, req Request) (TxID, error)
}

// Listener receives every message addressed to a call, in gateway order.
// OnMessage must not block.
type Listener interface {
	OnMessage(msg Message)
}

type ListenerFunc func(msg Message)

func (f ListenerFunc) OnMessage(msg Message) { f(msg) }
