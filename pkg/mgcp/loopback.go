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

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/guid"

	lkerrors "github.com/livekit/mscontrol/pkg/errors"
)

var ErrNoCommonCodec = errors.New("no common audio codec")

type LoopbackConfig struct {
	Name         string
	MediaAddress string
	RTPPortStart int
}

// Loopback is an in-process media server. It keeps resources in memory and
// reports connection and link state the way a gateway does.
type Loopback struct {
	conf LoopbackConfig
	log  logger.Logger

	mu        sync.Mutex
	sink      func(msg Message)
	nextPort  int
	sessions  map[SessionID]struct{}
	endpoints map[EndpointID]SessionID
	conns     map[ConnectionID]*loopConn
	links     map[LinkID]*loopLink
	faults    map[Verb]error
	drops     map[Verb]bool
	history   []Request
}

type loopConn struct {
	session SessionID
	bridge  EndpointID
	port    int
	mode    ConnectionMode
	state   ConnectionState
}

type loopLink struct {
	session SessionID
	bridge  EndpointID
	peer    EndpointID
	state   LinkState
}

func NewLoopback(conf LoopbackConfig, log logger.Logger) *Loopback {
	if log == nil {
		log = logger.GetLogger()
	}
	if conf.Name == "" {
		conf.Name = "loopback"
	}
	if conf.MediaAddress == "" {
		conf.MediaAddress = "127.0.0.1"
	}
	if conf.RTPPortStart == 0 {
		conf.RTPPortStart = 10000
	}
	return &Loopback{
		conf:      conf,
		log:       log,
		sink:      func(Message) {},
		nextPort:  conf.RTPPortStart,
		sessions:  make(map[SessionID]struct{}),
		endpoints: make(map[EndpointID]SessionID),
		conns:     make(map[ConnectionID]*loopConn),
		links:     make(map[LinkID]*loopLink),
		faults:    make(map[Verb]error),
		drops:     make(map[Verb]bool),
	}
}

func (l *Loopback) Attach(sink func(msg Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Fail makes every following request of the given verb fail with err. A nil err clears the fault.
func (l *Loopback) Fail(verb Verb, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.faults, verb)
		return
	}
	l.faults[verb] = err
}

// Drop makes the gateway silently ignore requests of the given verb.
func (l *Loopback) Drop(verb Verb, drop bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drops[verb] = drop
}

// Resources returns the number of live sessions, endpoints, connections and links.
func (l *Loopback) Resources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions) + len(l.endpoints) + len(l.conns) + len(l.links)
}

// Requests returns the verbs executed so far.
func (l *Loopback) Requests() []Verb {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Verb, 0, len(l.history))
	for _, r := range l.history {
		out = append(out, r.Verb())
	}
	return out
}

// Hangup closes a connection from the media server side.
func (l *Loopback) Hangup(conn ConnectionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[conn]
	if !ok {
		return
	}
	c.state = ConnectionClosed
	l.sink(&ConnectionStateChanged{Conn: conn, State: ConnectionClosed})
}

// Unlink closes an internal link from the media server side.
func (l *Loopback) Unlink(link LinkID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.links[link]
	if !ok {
		return
	}
	k.state = LinkClosed
	l.sink(&LinkStateChanged{Link: link, State: LinkClosed})
}

// Connections lists live connection handles.
func (l *Loopback) Connections() []ConnectionID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConnectionID, 0, len(l.conns))
	for id := range l.conns {
		out = append(out, id)
	}
	return out
}

// Links lists live link handles.
func (l *Loopback) Links() []LinkID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LinkID, 0, len(l.links))
	for id := range l.links {
		out = append(out, id)
	}
	return out
}

func (l *Loopback) Execute(ctx context.Context, tx TxID, req Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, req)
	if l.drops[req.Verb()] {
		l.log.Debugw("loopback dropping request", "tx", tx, "verb", req.Verb())
		return nil
	}
	if err := l.faults[req.Verb()]; err != nil {
		l.sink(req.reply(tx, err))
		return nil
	}

	var err error
	switch r := req.(type) {
	case GetMediaGatewayInfo:
		l.sink(&Response[MediaGatewayInfo]{Tx: tx, Verb: r.Verb(), Value: MediaGatewayInfo{
			Name:    l.conf.Name,
			Address: l.conf.MediaAddress,
			Codecs:  []string{"PCMU", "PCMA", "telephone-event"},
		}})
	case CreateMediaSession:
		id := SessionID(guid.New("MS_"))
		l.sessions[id] = struct{}{}
		l.sink(&Response[SessionID]{Tx: tx, Verb: r.Verb(), Value: id})
	case CreateBridgeEndpoint:
		if _, ok := l.sessions[r.Session]; !ok {
			err = lkerrors.ErrUnknownHandle(string(r.Session))
			break
		}
		id := EndpointID(guid.New("EP_"))
		l.endpoints[id] = r.Session
		l.sink(&Response[EndpointID]{Tx: tx, Verb: r.Verb(), Value: id})
	case CreateConnection:
		if _, ok := l.sessions[r.Session]; !ok {
			err = lkerrors.ErrUnknownHandle(string(r.Session))
			break
		}
		id := ConnectionID(guid.New("MC_"))
		l.conns[id] = &loopConn{session: r.Session, port: l.allocPort(), mode: ModeInactive}
		l.sink(&Response[ConnectionID]{Tx: tx, Verb: r.Verb(), Value: id})
	case InitializeConnection:
		c, ok := l.conns[r.Conn]
		if !ok {
			err = lkerrors.ErrUnknownHandle(string(r.Conn))
			break
		}
		if _, ok = l.endpoints[r.Bridge]; !ok {
			err = lkerrors.ErrUnknownHandle(string(r.Bridge))
			break
		}
		c.bridge = r.Bridge
		c.state = ConnectionClosed
		l.sink(&ConnectionStateChanged{Conn: r.Conn, State: ConnectionClosed})
	case OpenConnection:
		err = l.openConnection(r.Conn, r.RemoteSDP, r.Mode)
	case ModifyConnection:
		err = l.openConnection(r.Conn, r.RemoteSDP, r.Mode)
	case CloseConnection:
		delete(l.conns, r.Conn)
		l.sink(&ConnectionStateChanged{Conn: r.Conn, State: ConnectionClosed})
	case CreateLink:
		if _, ok := l.sessions[r.Session]; !ok {
			err = lkerrors.ErrUnknownHandle(string(r.Session))
			break
		}
		id := LinkID(guid.New("ML_"))
		l.links[id] = &loopLink{session: r.Session}
		l.sink(&Response[LinkID]{Tx: tx, Verb: r.Verb(), Value: id})
	case InitializeLink:
		k, ok := l.links[r.Link]
		if !ok {
			err = lkerrors.ErrUnknownHandle(string(r.Link))
			break
		}
		if _, ok = l.endpoints[r.Bridge]; !ok {
			err = lkerrors.ErrUnknownHandle(string(r.Bridge))
			break
		}
		k.bridge, k.peer, k.state = r.Bridge, r.Peer, LinkClosed
		l.sink(&LinkStateChanged{Link: r.Link, State: LinkClosed})
	case OpenLink:
		err = l.openLink(r.Link)
	case ModifyLink:
		err = l.openLink(r.Link)
	case CloseLink:
		delete(l.links, r.Link)
		l.sink(&LinkStateChanged{Link: r.Link, State: LinkClosed})
	case DestroyEndpoint:
		delete(l.endpoints, r.Endpoint)
	case DestroyMediaSession:
		l.destroySession(r.Session)
	default:
		return fmt.Errorf("unsupported request %T", req)
	}
	if err != nil {
		l.sink(req.reply(tx, err))
	}
	return nil
}

func (l *Loopback) openConnection(id ConnectionID, remote []byte, mode ConnectionMode) error {
	c, ok := l.conns[id]
	if !ok {
		return lkerrors.ErrUnknownHandle(string(id))
	}
	if c.bridge == "" {
		return errors.Errorf("connection %s is not initialized", id)
	}
	if mode != "" {
		c.mode = mode
	}
	local, err := localDescription(remote, l.conf.MediaAddress, c.port, c.mode)
	if err != nil {
		// negotiation failure leaves the connection closed
		c.state = ConnectionClosed
		l.log.Infow("loopback connection negotiation failed", "conn", id, "error", err)
		l.sink(&ConnectionStateChanged{Conn: id, State: ConnectionClosed})
		return nil
	}
	switch {
	case len(remote) != 0 || c.state == ConnectionOpen:
		c.state = ConnectionOpen
	default:
		c.state = ConnectionHalfOpen
	}
	l.sink(&ConnectionStateChanged{Conn: id, State: c.state, LocalSDP: local})
	return nil
}

func (l *Loopback) openLink(id LinkID) error {
	k, ok := l.links[id]
	if !ok {
		return lkerrors.ErrUnknownHandle(string(id))
	}
	if k.bridge == "" {
		return errors.Errorf("link %s is not initialized", id)
	}
	k.state = LinkOpen
	l.sink(&LinkStateChanged{Link: id, State: LinkOpen})
	return nil
}

// destroySession drops everything that belongs to the session.
func (l *Loopback) destroySession(id SessionID) {
	delete(l.sessions, id)
	for ep, s := range l.endpoints {
		if s == id {
			delete(l.endpoints, ep)
		}
	}
	for cid, c := range l.conns {
		if c.session == id {
			delete(l.conns, cid)
		}
	}
	for lid, k := range l.links {
		if k.session == id {
			delete(l.links, lid)
		}
	}
}

func (l *Loopback) allocPort() int {
	p := l.nextPort
	l.nextPort += 2
	return p
}
