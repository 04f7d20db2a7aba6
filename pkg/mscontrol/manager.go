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
	"sync"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/tracer"

	lkerrors "github.com/livekit/mscontrol/pkg/errors"
	"github.com/livekit/mscontrol/pkg/mgcp"
	"github.com/livekit/mscontrol/pkg/stats"
)

// Binder hands out per-call views of a gateway.
type Binder interface {
	Bind(callID string, l mgcp.Listener) (mgcp.Gateway, error)
	Unbind(callID string)
}

type ManagerConfig struct {
	RequestTimeout time.Duration
	HistorySize    int
}

// Manager owns the controllers of all calls handled by this node.
type Manager struct {
	conf ManagerConfig
	gw   Binder
	mon  *stats.Monitor
	log  logger.Logger

	mu     sync.Mutex
	calls  map[string]*Controller
	closed core.Fuse
}

func NewManager(conf ManagerConfig, gw Binder, mon *stats.Monitor, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		conf:  conf,
		gw:    gw,
		mon:   mon,
		log:   log,
		calls: make(map[string]*Controller),
	}
}

// CreateMediaSession starts a controller for a new call and submits the offer.
// Media state changes are reported to obs.
func (m *Manager) CreateMediaSession(ctx context.Context, callID string, offer []byte, obs Observer) error {
	ctx, span := tracer.Start(ctx, "Manager.CreateMediaSession")
	defer span.End()

	if m.closed.IsBroken() {
		return lkerrors.ErrShuttingDown
	}
	if !m.mon.CanAccept() {
		m.log.Infow("rejecting media session", "callID", callID, "active", m.mon.Active())
		return lkerrors.ErrUnavailable
	}

	m.mu.Lock()
	if _, ok := m.calls[callID]; ok {
		m.mu.Unlock()
		return lkerrors.ErrCallExists(callID)
	}
	var c *Controller
	gw, err := m.gw.Bind(callID, mgcp.ListenerFunc(func(msg mgcp.Message) {
		c.OnMessage(msg)
	}))
	if err != nil {
		m.mu.Unlock()
		return err
	}
	c, err = NewController(Config{
		CallID:         callID,
		Gateway:        gw,
		Observer:       obs,
		RequestTimeout: m.conf.RequestTimeout,
		HistorySize:    m.conf.HistorySize,
		Monitor:        m.mon,
		Log:            m.log,
		OnDone:         m.remove,
	})
	if err != nil {
		m.mu.Unlock()
		m.gw.Unbind(callID)
		return err
	}
	m.calls[callID] = c
	m.mu.Unlock()

	m.log.Infow("creating media session", "callID", callID)
	c.Start(context.WithoutCancel(ctx))
	return c.Exec(ctx, CreateMediaSession(offer))
}

func (m *Manager) CloseMediaSession(ctx context.Context, callID string) error {
	return m.exec(ctx, callID, CloseMediaSession())
}

func (m *Manager) Mute(ctx context.Context, callID string) error {
	return m.exec(ctx, callID, Mute())
}

func (m *Manager) Unmute(ctx context.Context, callID string) error {
	return m.exec(ctx, callID, Unmute())
}

func (m *Manager) UpdateMediaSession(ctx context.Context, callID string, remoteSDP []byte, mode mgcp.ConnectionMode) error {
	return m.exec(ctx, callID, UpdateMediaSession(remoteSDP, mode))
}

// JoinBridge links the call to the bridge endpoint of another call.
func (m *Manager) JoinBridge(ctx context.Context, callID, peerCallID string, mode mgcp.ConnectionMode) error {
	peer, err := m.get(peerCallID)
	if err != nil {
		return err
	}
	bridge := peer.Resources().Bridge
	if bridge == "" {
		return &IllegalEventError{State: peer.State(), Event: EventJoin.String()}
	}
	return m.AcquireInternalLink(ctx, callID, bridge, mode)
}

func (m *Manager) AcquireInternalLink(ctx context.Context, callID string, peer mgcp.EndpointID, mode mgcp.ConnectionMode) error {
	return m.exec(ctx, callID, AcquireInternalLink(peer, mode))
}

func (m *Manager) ReleaseInternalLink(ctx context.Context, callID string) error {
	return m.exec(ctx, callID, ReleaseInternalLink())
}

// State returns the controller state of a call.
func (m *Manager) State(callID string) (State, error) {
	c, err := m.get(callID)
	if err != nil {
		return "", err
	}
	return c.State(), nil
}

func (m *Manager) Resources(callID string) (Resources, error) {
	c, err := m.get(callID)
	if err != nil {
		return Resources{}, err
	}
	return c.Resources(), nil
}

func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Stop closes every media session. With kill set, controllers are abandoned
// without waiting for the gateway.
func (m *Manager) Stop(ctx context.Context, kill bool) {
	m.closed.Break()
	m.mu.Lock()
	calls := make([]*Controller, 0, len(m.calls))
	for _, c := range m.calls {
		calls = append(calls, c)
	}
	m.mu.Unlock()

	for _, c := range calls {
		if kill {
			c.Stop()
			continue
		}
		c.Submit(CloseMediaSession())
	}
	for _, c := range calls {
		select {
		case <-c.Done():
		case <-ctx.Done():
			m.log.Warnw("media session did not close in time", ctx.Err(), "callID", c.CallID(), "state", c.State())
			c.Stop()
		}
	}
}

func (m *Manager) exec(ctx context.Context, callID string, ev Event) error {
	c, err := m.get(callID)
	if err != nil {
		return err
	}
	return c.Exec(ctx, ev)
}

func (m *Manager) get(callID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, lkerrors.ErrCallNotFound(callID)
	}
	return c, nil
}

func (m *Manager) remove(c *Controller) {
	m.mu.Lock()
	if m.calls[c.CallID()] == c {
		delete(m.calls, c.CallID())
	}
	m.mu.Unlock()
	m.gw.Unbind(c.CallID())
}
