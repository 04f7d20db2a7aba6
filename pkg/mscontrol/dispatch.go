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
	"fmt"

	"github.com/livekit/mscontrol/pkg/mgcp"
)

type dispatchKey struct {
	state State
	kind  EventKind
	sub   string
}

// rule decides what an event means in a given state.
// Either next picks a destination (empty means the event is not acceptable),
// or stay handles the event without leaving the state.
type rule struct {
	next func(c *Controller, ev Event) State
	stay func(ctx context.Context, c *Controller, ev Event) error
}

func goTo(s State) rule {
	return rule{next: func(*Controller, Event) State { return s }}
}

var ignore = rule{stay: func(context.Context, *Controller, Event) error { return nil }}

var dispatch = buildDispatch()

func buildDispatch() map[dispatchKey]rule {
	t := make(map[dispatchKey]rule)
	on := func(states []State, kind EventKind, sub string, r rule) {
		for _, s := range states {
			k := dispatchKey{state: s, kind: kind, sub: sub}
			if _, ok := t[k]; ok {
				panic(fmt.Sprintf("duplicate dispatch entry %v", k))
			}
			t[k] = r
		}
	}
	one := func(s ...State) []State { return s }
	var (
		connClosed   = mgcp.ConnectionClosed.String()
		connHalfOpen = mgcp.ConnectionHalfOpen.String()
		connOpen     = mgcp.ConnectionOpen.String()
		linkClosed   = mgcp.LinkClosed.String()
		linkOpen     = mgcp.LinkOpen.String()
	)

	// signaling commands
	on(one(StateUninitialized), EventCreate, subNone, goTo(StateAcquiringMediaGatewayInfo))
	on(one(StateUninitialized), EventClose, subNone, goTo(StateInactive))
	on(acquiringStates, EventClose, subNone, goTo(StateInactive))
	on(connectedStates, EventClose, subNone, goTo(StateClosingRemoteConnection))
	on(one(StateClosingRemoteConnection), EventClose, subNone, ignore)
	on(one(StateClosingInternalLink), EventClose, subNone, rule{stay: markTeardown})
	on(one(StateActive), EventMute, subNone, goTo(StateMuting))
	on(one(StateActive), EventUnmute, subNone, goTo(StateUnmuting))
	on(one(StateActive), EventUpdate, subNone, goTo(StateUpdatingRemoteConnection))
	on(one(StatePending), EventUpdate, subNone, rule{stay: modifyPending})
	on(one(StateActive), EventJoin, subNone, rule{next: join})
	on(one(StateActive, StateUpdatingInternalLink), EventLeave, subNone, rule{next: leave})

	// acquisition replies
	on(one(StateAcquiringMediaGatewayInfo), EventReply, string(mgcp.VerbGatewayInfo), goTo(StateAcquiringMediaSession))
	on(one(StateAcquiringMediaSession), EventReply, string(mgcp.VerbCreateSession), goTo(StateAcquiringBridge))
	on(one(StateAcquiringBridge), EventReply, string(mgcp.VerbCreateEndpoint), goTo(StateAcquiringRemoteConnection))
	on(one(StateAcquiringRemoteConnection), EventReply, string(mgcp.VerbCreateConnection), goTo(StateInitializingRemoteConnection))
	on(one(StateAcquiringInternalLink), EventReply, string(mgcp.VerbCreateLink), goTo(StateInitializingInternalLink))

	// rejected requests and timeouts
	on(acquiringStates, EventReply, subError, goTo(StateFailed))
	on(connectedStates, EventReply, subError, goTo(StateClosingRemoteConnection))
	on(one(StateClosingRemoteConnection), EventReply, subError, rule{next: remoteConnectionClosed})
	on(one(StateClosingInternalLink), EventReply, subError, rule{next: internalLinkClosed})
	on(acquiringStates, EventTimeout, subNone, goTo(StateFailed))
	on(connectedStates, EventTimeout, subNone, goTo(StateClosingRemoteConnection))
	on(one(StateClosingRemoteConnection, StateClosingInternalLink), EventTimeout, subNone, goTo(StateFailed))

	// remote connection notifications
	on(one(StateInitializingRemoteConnection), EventConnectionState, connClosed, goTo(StateOpeningRemoteConnection))
	on(one(StateOpeningRemoteConnection), EventConnectionState, connHalfOpen, goTo(StatePending))
	on(one(StateOpeningRemoteConnection), EventConnectionState, connOpen, goTo(StateActive))
	on(one(StateOpeningRemoteConnection), EventConnectionState, connClosed, goTo(StateFailed))
	on(one(StatePending, StateMuting, StateUnmuting, StateUpdatingRemoteConnection), EventConnectionState, connOpen, goTo(StateActive))
	on(one(StateActive, StatePending, StateMuting, StateUnmuting, StateUpdatingRemoteConnection), EventConnectionState, connClosed, goTo(StateClosingRemoteConnection))
	on(linkingStates, EventConnectionState, connClosed, goTo(StateClosingRemoteConnection))
	on(one(StateClosingRemoteConnection), EventConnectionState, connClosed, rule{next: remoteConnectionClosed})
	on(one(StateClosingRemoteConnection), EventConnectionState, connHalfOpen, ignore)
	on(one(StateClosingRemoteConnection), EventConnectionState, connOpen, ignore)
	on(one(StateClosingInternalLink), EventConnectionState, connClosed, rule{stay: markTeardown})

	// internal link notifications
	on(one(StateInitializingInternalLink), EventLinkState, linkClosed, goTo(StateOpeningInternalLink))
	on(one(StateOpeningInternalLink), EventLinkState, linkOpen, goTo(StateUpdatingInternalLink))
	on(one(StateUpdatingInternalLink), EventLinkState, linkOpen, goTo(StateActive))
	on(one(StateOpeningInternalLink, StateUpdatingInternalLink), EventLinkState, linkClosed, goTo(StateClosingRemoteConnection))
	on(one(StateClosingInternalLink), EventLinkState, linkClosed, rule{next: internalLinkClosed})
	on(one(StateClosingInternalLink), EventLinkState, linkOpen, ignore)
	on(one(StateClosingRemoteConnection), EventLinkState, linkOpen, ignore)
	on(one(StateActive, StateClosingRemoteConnection), EventLinkState, linkClosed, rule{stay: dropLink})

	return t
}

func join(c *Controller, ev Event) State {
	if c.res.InternalLink != "" || ev.Peer == "" {
		return ""
	}
	return StateAcquiringInternalLink
}

func leave(c *Controller, ev Event) State {
	if c.res.InternalLink == "" {
		return ""
	}
	return StateClosingInternalLink
}

func remoteConnectionClosed(c *Controller, ev Event) State {
	switch {
	case c.res.InternalLink != "":
		return StateClosingInternalLink
	case c.cause != nil || ev.failure() != nil:
		return StateFailed
	default:
		return StateInactive
	}
}

func internalLinkClosed(c *Controller, ev Event) State {
	switch {
	case c.res.RemoteConn != "" && (c.teardown || c.cause != nil):
		return StateClosingRemoteConnection
	case c.res.RemoteConn != "":
		return StateActive
	case c.cause != nil:
		return StateFailed
	default:
		return StateInactive
	}
}

func markTeardown(_ context.Context, c *Controller, _ Event) error {
	c.teardown = true
	return nil
}

func modifyPending(ctx context.Context, c *Controller, ev Event) error {
	return c.sendModify(ctx, ev)
}

// dropLink forgets a link the gateway closed on its own.
func dropLink(ctx context.Context, c *Controller, ev Event) error {
	if c.res.InternalLink == "" {
		return nil
	}
	c.release(ctx, mgcp.CloseLink{Link: c.res.InternalLink})
	c.res.InternalLink = ""
	return nil
}
