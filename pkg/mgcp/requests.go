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

// Verb names a request kind. It is used for logging and metric labels.
type Verb string

const (
	VerbGatewayInfo      Verb = "gateway_info"
	VerbCreateSession    Verb = "create_session"
	VerbCreateEndpoint   Verb = "create_endpoint"
	VerbCreateConnection Verb = "create_connection"
	VerbInitConnection   Verb = "init_connection"
	VerbOpenConnection   Verb = "open_connection"
	VerbModifyConnection Verb = "modify_connection"
	VerbCloseConnection  Verb = "close_connection"
	VerbCreateLink       Verb = "create_link"
	VerbInitLink         Verb = "init_link"
	VerbOpenLink         Verb = "open_link"
	VerbModifyLink       Verb = "modify_link"
	VerbCloseLink        Verb = "close_link"
	VerbDestroyEndpoint  Verb = "destroy_endpoint"
	VerbDestroySession   Verb = "destroy_session"
)

// Request is an outbound gateway request. Requests are fire-and-forget:
// creation requests are answered with a Response, state changes are reported
// with notifications, and any rejected request is answered with a failed Response.
type Request interface {
	Verb() Verb
	// reply builds the response for this request carrying the targeted resource.
	reply(tx TxID, err error) Reply
}

type GetMediaGatewayInfo struct{}

type CreateMediaSession struct{}

type CreateBridgeEndpoint struct {
	Session SessionID
}

type CreateConnection struct {
	Session SessionID
}

// InitializeConnection attaches a connection to the bridge. The gateway answers with CLOSED.
type InitializeConnection struct {
	Conn   ConnectionID
	Bridge EndpointID
}

// OpenConnection negotiates the connection. Without a remote description the
// gateway answers HALF_OPEN, otherwise OPEN.
type OpenConnection struct {
	Conn      ConnectionID
	RemoteSDP []byte
	Mode      ConnectionMode
}

type ModifyConnection struct {
	Conn      ConnectionID
	Mode      ConnectionMode
	RemoteSDP []byte
}

type CloseConnection struct {
	Conn ConnectionID
}

type CreateLink struct {
	Session SessionID
}

// InitializeLink joins the bridge to a peer endpoint. The gateway answers with CLOSED.
type InitializeLink struct {
	Link   LinkID
	Bridge EndpointID
	Peer   EndpointID
}

type OpenLink struct {
	Link LinkID
	Mode ConnectionMode
}

type ModifyLink struct {
	Link LinkID
	Mode ConnectionMode
}

type CloseLink struct {
	Link LinkID
}

type DestroyEndpoint struct {
	Endpoint EndpointID
}

type DestroyMediaSession struct {
	Session SessionID
}

func (GetMediaGatewayInfo) Verb() Verb  { return VerbGatewayInfo }
func (CreateMediaSession) Verb() Verb   { return VerbCreateSession }
func (CreateBridgeEndpoint) Verb() Verb { return VerbCreateEndpoint }
func (CreateConnection) Verb() Verb     { return VerbCreateConnection }
func (InitializeConnection) Verb() Verb { return VerbInitConnection }
func (OpenConnection) Verb() Verb       { return VerbOpenConnection }
func (ModifyConnection) Verb() Verb     { return VerbModifyConnection }
func (CloseConnection) Verb() Verb      { return VerbCloseConnection }
func (CreateLink) Verb() Verb           { return VerbCreateLink }
func (InitializeLink) Verb() Verb       { return VerbInitLink }
func (OpenLink) Verb() Verb             { return VerbOpenLink }
func (ModifyLink) Verb() Verb           { return VerbModifyLink }
func (CloseLink) Verb() Verb            { return VerbCloseLink }
func (DestroyEndpoint) Verb() Verb      { return VerbDestroyEndpoint }
func (DestroyMediaSession) Verb() Verb  { return VerbDestroySession }

func (r GetMediaGatewayInfo) reply(tx TxID, err error) Reply {
	return &Response[MediaGatewayInfo]{Tx: tx, Verb: r.Verb(), Err: err}
}

func (r CreateMediaSession) reply(tx TxID, err error) Reply {
	return &Response[SessionID]{Tx: tx, Verb: r.Verb(), Err: err}
}

func (r CreateBridgeEndpoint) reply(tx TxID, err error) Reply {
	return &Response[EndpointID]{Tx: tx, Verb: r.Verb(), Err: err}
}

func (r CreateConnection) reply(tx TxID, err error) Reply {
	return &Response[ConnectionID]{Tx: tx, Verb: r.Verb(), Err: err}
}

func (r InitializeConnection) reply(tx TxID, err error) Reply {
	return &Response[ConnectionID]{Tx: tx, Verb: r.Verb(), Value: r.Conn, Err: err}
}

func (r OpenConnection) reply(tx TxID, err error) Reply {
	return &Response[ConnectionID]{Tx: tx, Verb: r.Verb(), Value: r.Conn, Err: err}
}

func (r ModifyConnection) reply(tx TxID, err error) Reply {
	return &Response[ConnectionID]{Tx: tx, Verb: r.Verb(), Value: r.Conn, Err: err}
}

func (r CloseConnection) reply(tx TxID, err error) Reply {
	return &Response[ConnectionID]{Tx: tx, Verb: r.Verb(), Value: r.Conn, Err: err}
}

func (r CreateLink) reply(tx TxID, err error) Reply {
	return &Response[LinkID]{Tx: tx, Verb: r.Verb(), Err: err}
}

func (r InitializeLink) reply(tx TxID, err error) Reply {
	return &Response[LinkID]{Tx: tx, Verb: r.Verb(), Value: r.Link, Err: err}
}

func (r OpenLink) reply(tx TxID, err error) Reply {
	return &Response[LinkID]{Tx: tx, Verb: r.Verb(), Value: r.Link, Err: err}
}

func (r ModifyLink) reply(tx TxID, err error) Reply {
	return &Response[LinkID]{Tx: tx, Verb: r.Verb(), Value: r.Link, Err: err}
}

func (r CloseLink) reply(tx TxID, err error) Reply {
	return &Response[LinkID]{Tx: tx, Verb: r.Verb(), Value: r.Link, Err: err}
}

func (r DestroyEndpoint) reply(tx TxID, err error) Reply {
	return &Response[EndpointID]{Tx: tx, Verb: r.Verb(), Value: r.Endpoint, Err: err}
}

func (r DestroyMediaSession) reply(tx TxID, err error) Reply {
	return &Response[SessionID]{Tx: tx, Verb: r.Verb(), Value: r.Session, Err: err}
}

// ReleaseRequest returns the request that frees the resource carried by a
// successful creation reply, or nil when there is nothing to free.
func ReleaseRequest(r Reply) Request {
	if r.Failure() != nil {
		return nil
	}
	switch r := r.(type) {
	case *Response[SessionID]:
		if r.Verb == VerbCreateSession {
			return DestroyMediaSession{Session: r.Value}
		}
	case *Response[EndpointID]:
		if r.Verb == VerbCreateEndpoint {
			return DestroyEndpoint{Endpoint: r.Value}
		}
	case *Response[ConnectionID]:
		if r.Verb == VerbCreateConnection {
			return CloseConnection{Conn: r.Value}
		}
	case *Response[LinkID]:
		if r.Verb == VerbCreateLink {
			return CloseLink{Link: r.Value}
		}
	}
	return nil
}
