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
	"context"
	"slices"

	"github.com/livekit/mscontrol/pkg/fsm"
	"github.com/livekit/mscontrol/pkg/mgcp"
)

type (
	transition = fsm.Transition[State]
	edge       = fsm.Edge[State, Event]
)

// graph is the complete set of legal transitions with the action bound to each.
func (c *Controller) graph() fsm.Graph[State, Event] {
	e := func(from, to State, a fsm.Action[State, Event]) edge {
		return edge{From: from, To: to, Action: a}
	}
	return fsm.Graph[State, Event]{
		Initial: StateUninitialized,
		States:  allStates,
		Edges: []edge{
			e(StateUninitialized, StateAcquiringMediaGatewayInfo, c.requestGatewayInfo),
			e(StateUninitialized, StateInactive, nil),

			e(StateAcquiringMediaGatewayInfo, StateAcquiringMediaSession, c.requestMediaSession),
			e(StateAcquiringMediaGatewayInfo, StateFailed, nil),
			e(StateAcquiringMediaGatewayInfo, StateInactive, nil),

			e(StateAcquiringMediaSession, StateAcquiringBridge, c.requestBridge),
			e(StateAcquiringMediaSession, StateFailed, nil),
			e(StateAcquiringMediaSession, StateInactive, nil),

			e(StateAcquiringBridge, StateAcquiringRemoteConnection, c.requestConnection),
			e(StateAcquiringBridge, StateFailed, nil),
			e(StateAcquiringBridge, StateInactive, nil),

			e(StateAcquiringRemoteConnection, StateInitializingRemoteConnection, c.initializeConnection),
			e(StateAcquiringRemoteConnection, StateFailed, nil),
			e(StateAcquiringRemoteConnection, StateInactive, nil),

			e(StateInitializingRemoteConnection, StateOpeningRemoteConnection, c.openConnection),
			e(StateInitializingRemoteConnection, StateClosingRemoteConnection, c.closeConnection),

			e(StateOpeningRemoteConnection, StateActive, c.connectionOpened),
			e(StateOpeningRemoteConnection, StatePending, c.connectionOpened),
			e(StateOpeningRemoteConnection, StateFailed, nil),
			e(StateOpeningRemoteConnection, StateClosingRemoteConnection, c.closeConnection),

			e(StatePending, StateActive, c.connectionOpened),
			e(StatePending, StateClosingRemoteConnection, c.closeConnection),

			e(StateActive, StateMuting, c.mute),
			e(StateActive, StateUnmuting, c.unmute),
			e(StateActive, StateUpdatingRemoteConnection, c.updateConnection),
			e(StateActive, StateClosingRemoteConnection, c.closeConnection),
			e(StateActive, StateAcquiringInternalLink, c.requestLink),
			e(StateActive, StateClosingInternalLink, c.closeLink),

			e(StateMuting, StateActive, c.connectionOpened),
			e(StateMuting, StateClosingRemoteConnection, c.closeConnection),
			e(StateUnmuting, StateActive, c.connectionOpened),
			e(StateUnmuting, StateClosingRemoteConnection, c.closeConnection),
			e(StateUpdatingRemoteConnection, StateActive, c.connectionOpened),
			e(StateUpdatingRemoteConnection, StateClosingRemoteConnection, c.closeConnection),

			e(StateClosingRemoteConnection, StateInactive, c.connectionClosed),
			e(StateClosingRemoteConnection, StateClosingInternalLink, c.connectionClosedThenLink),
			e(StateClosingRemoteConnection, StateFailed, c.connectionClosed),

			e(StateAcquiringInternalLink, StateInitializingInternalLink, c.initializeLink),
			e(StateAcquiringInternalLink, StateClosingRemoteConnection, c.closeConnection),
			e(StateInitializingInternalLink, StateOpeningInternalLink, c.openLink),
			e(StateInitializingInternalLink, StateClosingRemoteConnection, c.closeConnection),
			e(StateOpeningInternalLink, StateUpdatingInternalLink, c.updateLink),
			e(StateOpeningInternalLink, StateClosingRemoteConnection, c.closeConnection),
			e(StateUpdatingInternalLink, StateActive, nil),
			e(StateUpdatingInternalLink, StateClosingRemoteConnection, c.closeConnection),
			e(StateUpdatingInternalLink, StateClosingInternalLink, c.closeLink),

			e(StateClosingInternalLink, StateClosingRemoteConnection, c.linkClosedThenConnection),
			e(StateClosingInternalLink, StateInactive, c.linkClosed),
			e(StateClosingInternalLink, StateActive, c.linkClosed),
			e(StateClosingInternalLink, StateFailed, c.linkClosed),
		},
	}
}

func (c *Controller) send(ctx context.Context, req mgcp.Request) error {
	tx, err := c.gw.Send(ctx, req)
	if err != nil {
		return err
	}
	c.log.Debugw("gateway request sent", "tx", tx, "verb", req.Verb())
	return nil
}

// release sends a best-effort request freeing a resource.
// Its reply is consumed without affecting the state.
func (c *Controller) release(ctx context.Context, req mgcp.Request) {
	tx, err := c.gw.Send(ctx, req)
	if err != nil {
		c.log.Warnw("could not release gateway resource", err, "verb", req.Verb())
		return
	}
	c.log.Debugw("gateway release sent", "tx", tx, "verb", req.Verb())
	c.releases[tx] = struct{}{}
}

func (c *Controller) requestGatewayInfo(ctx context.Context, _ transition, ev Event) error {
	c.remoteSDP = ev.RemoteSDP
	return c.send(ctx, mgcp.GetMediaGatewayInfo{})
}

func (c *Controller) requestMediaSession(ctx context.Context, _ transition, ev Event) error {
	info := replyValue[mgcp.MediaGatewayInfo](ev)
	c.res.GatewayInfo = &info
	return c.send(ctx, mgcp.CreateMediaSession{})
}

func (c *Controller) requestBridge(ctx context.Context, _ transition, ev Event) error {
	c.res.Session = replyValue[mgcp.SessionID](ev)
	return c.send(ctx, mgcp.CreateBridgeEndpoint{Session: c.res.Session})
}

func (c *Controller) requestConnection(ctx context.Context, _ transition, ev Event) error {
	c.res.Bridge = replyValue[mgcp.EndpointID](ev)
	return c.send(ctx, mgcp.CreateConnection{Session: c.res.Session})
}

func (c *Controller) initializeConnection(ctx context.Context, _ transition, ev Event) error {
	c.res.RemoteConn = replyValue[mgcp.ConnectionID](ev)
	return c.send(ctx, mgcp.InitializeConnection{Conn: c.res.RemoteConn, Bridge: c.res.Bridge})
}

func (c *Controller) openConnection(ctx context.Context, _ transition, _ Event) error {
	return c.send(ctx, mgcp.OpenConnection{Conn: c.res.RemoteConn, RemoteSDP: c.remoteSDP, Mode: c.mode})
}

func (c *Controller) connectionOpened(_ context.Context, _ transition, ev Event) error {
	if len(ev.LocalSDP) != 0 {
		c.localSDP = ev.LocalSDP
	}
	return nil
}

func (c *Controller) mute(ctx context.Context, _ transition, _ Event) error {
	c.mode = mgcp.ModeSendOnly
	return c.send(ctx, mgcp.ModifyConnection{Conn: c.res.RemoteConn, Mode: c.mode})
}

func (c *Controller) unmute(ctx context.Context, _ transition, _ Event) error {
	c.mode = mgcp.ModeSendRecv
	return c.send(ctx, mgcp.ModifyConnection{Conn: c.res.RemoteConn, Mode: c.mode})
}

func (c *Controller) updateConnection(ctx context.Context, _ transition, ev Event) error {
	return c.sendModify(ctx, ev)
}

func (c *Controller) sendModify(ctx context.Context, ev Event) error {
	if ev.Mode != "" {
		c.mode = ev.Mode
	}
	if len(ev.RemoteSDP) != 0 {
		c.remoteSDP = ev.RemoteSDP
	}
	return c.send(ctx, mgcp.ModifyConnection{Conn: c.res.RemoteConn, Mode: c.mode, RemoteSDP: ev.RemoteSDP})
}

// closeConnection starts teardown. A link that failed while being set up is abandoned first.
func (c *Controller) closeConnection(ctx context.Context, t transition, ev Event) error {
	if ev.Kind == EventLinkState && slices.Contains(linkingStates, t.From) && c.res.InternalLink != "" {
		c.release(ctx, mgcp.CloseLink{Link: c.res.InternalLink})
		c.res.InternalLink = ""
	}
	return c.send(ctx, mgcp.CloseConnection{Conn: c.res.RemoteConn})
}

// gone reports whether the event confirms the resource no longer exists on the gateway.
func gone(ev Event) bool {
	switch ev.Kind {
	case EventConnectionState, EventLinkState:
		return true
	case EventReply:
		return ev.failure() != nil
	}
	return false
}

func (c *Controller) connectionClosed(_ context.Context, _ transition, ev Event) error {
	if gone(ev) {
		c.res.RemoteConn = ""
	}
	return nil
}

func (c *Controller) connectionClosedThenLink(ctx context.Context, t transition, ev Event) error {
	c.res.RemoteConn = ""
	return c.closeLink(ctx, t, ev)
}

func (c *Controller) requestLink(ctx context.Context, _ transition, ev Event) error {
	c.peer = ev.Peer
	c.res.LinkMode = ev.Mode
	if c.res.LinkMode == "" {
		c.res.LinkMode = mgcp.ModeSendRecv
	}
	return c.send(ctx, mgcp.CreateLink{Session: c.res.Session})
}

func (c *Controller) initializeLink(ctx context.Context, _ transition, ev Event) error {
	c.res.InternalLink = replyValue[mgcp.LinkID](ev)
	return c.send(ctx, mgcp.InitializeLink{Link: c.res.InternalLink, Bridge: c.res.Bridge, Peer: c.peer})
}

func (c *Controller) openLink(ctx context.Context, _ transition, _ Event) error {
	return c.send(ctx, mgcp.OpenLink{Link: c.res.InternalLink, Mode: mgcp.ModeSendRecv})
}

func (c *Controller) updateLink(ctx context.Context, _ transition, _ Event) error {
	return c.send(ctx, mgcp.ModifyLink{Link: c.res.InternalLink, Mode: c.res.LinkMode})
}

func (c *Controller) closeLink(ctx context.Context, _ transition, _ Event) error {
	return c.send(ctx, mgcp.CloseLink{Link: c.res.InternalLink})
}

func (c *Controller) linkClosed(_ context.Context, _ transition, ev Event) error {
	if gone(ev) {
		c.res.InternalLink = ""
		c.res.LinkMode = ""
		c.peer = ""
	}
	return nil
}

func (c *Controller) linkClosedThenConnection(ctx context.Context, t transition, ev Event) error {
	_ = c.linkClosed(ctx, t, ev)
	return c.send(ctx, mgcp.CloseConnection{Conn: c.res.RemoteConn})
}

// Visualize renders the transition graph in Graphviz format.
func Visualize() (string, error) {
	m, err := fsm.New((&Controller{}).graph())
	if err != nil {
		return "", err
	}
	return m.Visualize(), nil
}
