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

// Package mscontrol drives the media resources of a single call on a media
// gateway: acquisition, connection, bridging, muting and teardown.
package mscontrol

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"

	lkerrors "github.com/livekit/mscontrol/pkg/errors"
	"github.com/livekit/mscontrol/pkg/fsm"
	"github.com/livekit/mscontrol/pkg/internal/mailbox"
	"github.com/livekit/mscontrol/pkg/internal/ringbuf"
	"github.com/livekit/mscontrol/pkg/mgcp"
	"github.com/livekit/mscontrol/pkg/stats"
)

var (
	ErrIllegalTransition  = fsm.ErrIllegalTransition
	ErrConnectionRejected = errors.New("remote connection could not be established")
	ErrLinkLost           = errors.New("internal link closed while being set up")
)

// IllegalEventError is returned for events the current state does not accept.
type IllegalEventError struct {
	State State
	Event string
}

func (e *IllegalEventError) Error() string {
	return fmt.Sprintf("event %s is not allowed in state %s", e.Event, e.State)
}

func (e *IllegalEventError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// MediaUpdate is reported to the signaling layer when the outward media state changes.
type MediaUpdate struct {
	CallID   string
	State    MediaState
	LocalSDP []byte
	Err      error
}

type Observer interface {
	OnMediaStateChanged(u MediaUpdate)
}

type ObserverFunc func(u MediaUpdate)

func (f ObserverFunc) OnMediaStateChanged(u MediaUpdate) { f(u) }

// Resources are the gateway handles held by a controller.
type Resources struct {
	GatewayInfo  *mgcp.MediaGatewayInfo
	Session      mgcp.SessionID
	Bridge       mgcp.EndpointID
	RemoteConn   mgcp.ConnectionID
	InternalLink mgcp.LinkID
	LinkMode     mgcp.ConnectionMode
}

// Empty reports whether no handle is held.
func (r Resources) Empty() bool {
	return r.GatewayInfo == nil && r.Session == "" && r.Bridge == "" && r.RemoteConn == "" && r.InternalLink == ""
}

// Step is a committed transition kept for diagnostics.
type Step struct {
	From  State
	To    State
	Event string
	At    time.Time
}

type Config struct {
	CallID         string
	Gateway        mgcp.Gateway
	Observer       Observer
	RequestTimeout time.Duration
	HistorySize    int
	Monitor        *stats.Monitor
	Log            logger.Logger
	// OnDone is called once the controller reached a terminal state or was stopped.
	OnDone func(c *Controller)
}

// Controller is the state machine of one call's media session.
// Events are handled one at a time, either by calling Handle from a single
// goroutine or through the mailbox drained by Start.
type Controller struct {
	callID  string
	log     logger.Logger
	mon     *stats.Monitor
	gw      mgcp.Gateway
	obs     Observer
	timeout time.Duration
	onDone  func(c *Controller)

	fsm     *fsm.Machine[State, Event]
	mbox    *mailbox.Mailbox[envelope]
	history *ringbuf.Buffer[Step]

	// owned by the event loop
	res        Resources
	peer       mgcp.EndpointID
	mode       mgcp.ConnectionMode
	remoteSDP  []byte
	localSDP   []byte
	cause      error
	teardown   bool
	reported   MediaState
	created    time.Time
	timer      *time.Timer
	timerGen   uint64
	endSession func(o stats.Outcome)
	releases   map[mgcp.TxID]struct{}

	snapshot atomic.Pointer[Resources]
	finished atomic.Bool
	done     core.Fuse
}

type envelope struct {
	ev  Event
	res chan error
}

func NewController(conf Config) (*Controller, error) {
	if conf.Gateway == nil {
		return nil, errors.New("gateway is required")
	}
	log := conf.Log
	if log == nil {
		log = logger.GetLogger()
	}
	if conf.HistorySize <= 0 {
		conf.HistorySize = 32
	}
	c := &Controller{
		callID:  conf.CallID,
		log:     log.WithValues("callID", conf.CallID),
		mon:     conf.Monitor,
		gw:      conf.Gateway,
		obs:     conf.Observer,
		timeout: conf.RequestTimeout,
		onDone:  conf.OnDone,
		mbox:    mailbox.New[envelope](),
		history: ringbuf.New[Step](conf.HistorySize),
		mode:    mgcp.ModeSendRecv,
		created: time.Now(),

		releases: make(map[mgcp.TxID]struct{}),
	}
	m, err := fsm.New(c.graph())
	if err != nil {
		return nil, err
	}
	c.fsm = m
	c.endSession = c.mon.SessionStart()
	c.publish()
	return c, nil
}

func (c *Controller) CallID() string {
	return c.callID
}

// State returns the current state. It is safe to call from any goroutine.
func (c *Controller) State() State {
	return c.fsm.Current()
}

// Resources returns the handles held after the last handled event.
func (c *Controller) Resources() Resources {
	return *c.snapshot.Load()
}

// Transitions lists the legal transitions of the controller.
func (c *Controller) Transitions() []fsm.Transition[State] {
	return c.fsm.Transitions()
}

// Start drains the mailbox on a dedicated goroutine until a terminal state is reached.
// Events still queued at that point are handled in the terminal state, so
// resources created by late replies are released.
func (c *Controller) Start(ctx context.Context) {
	go c.mbox.Run(func(e envelope) {
		c.deliver(ctx, e)
		if c.State().IsTerminal() {
			for _, late := range c.mbox.Close() {
				c.deliver(ctx, late)
			}
		}
	})
}

func (c *Controller) deliver(ctx context.Context, e envelope) {
	err := c.Handle(ctx, e.ev)
	if e.res != nil {
		e.res <- err
	}
}

// Submit queues an event without waiting. It returns false when the controller is gone.
func (c *Controller) Submit(ev Event) bool {
	return c.mbox.Push(envelope{ev: ev})
}

// Exec queues an event and waits until it was handled.
func (c *Controller) Exec(ctx context.Context, ev Event) error {
	res := make(chan error, 1)
	if !c.mbox.Push(envelope{ev: ev, res: res}) {
		return lkerrors.ErrControllerGone
	}
	select {
	case err := <-res:
		return err
	case <-c.mbox.Closed():
		select {
		case err := <-res:
			return err
		default:
			return lkerrors.ErrControllerGone
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnMessage receives gateway messages for this call.
// Resources created for a controller that is gone are released right away.
func (c *Controller) OnMessage(msg mgcp.Message) {
	if c.Submit(FromGateway(msg)) {
		return
	}
	r, ok := msg.(mgcp.Reply)
	if !ok {
		c.log.Debugw("dropping gateway message for stopped controller", "type", msg.MessageType())
		return
	}
	req := mgcp.ReleaseRequest(r)
	if req == nil {
		c.log.Debugw("dropping gateway reply for stopped controller", "type", msg.MessageType())
		return
	}
	c.log.Infow("releasing gateway resource created after the session ended", "handle", r.Handle(), "verb", req.Verb())
	c.mon.GatewayOrphan(string(req.Verb()))
	if _, err := c.gw.Send(context.Background(), req); err != nil {
		c.log.Warnw("could not release gateway resource", err, "handle", r.Handle())
	}
}

// Stop abandons the controller without releasing gateway resources.
func (c *Controller) Stop() {
	if left := c.mbox.Close(); len(left) != 0 {
		c.log.Debugw("abandoning queued events", "count", len(left))
	}
	c.finish(stats.OutcomeEnded)
}

// Done is closed once the controller reached a terminal state or was stopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done.Watch()
}

// History returns the most recent transitions, oldest first.
// It must not be called concurrently with Handle.
func (c *Controller) History() []Step {
	return c.history.Slice()
}

// Handle processes a single event. Calls must not overlap.
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	from := c.State()
	if ev.Kind == EventTimeout {
		if ev.generation != c.timerGen {
			return nil
		}
		c.log.Infow("media gateway request timed out", "state", from)
		c.mon.RequestTimeout(string(from))
	}
	if ev.Kind == EventReply && ev.Reply != nil {
		if _, ok := c.releases[ev.Reply.Transaction()]; ok {
			delete(c.releases, ev.Reply.Transaction())
			if err := ev.Reply.Failure(); err != nil {
				c.log.Warnw("gateway resource release failed", err, "verb", ev.Reply.ReplyTo())
			}
			return nil
		}
	}
	if c.foreign(ev) {
		return c.reject(ctx, from, ev)
	}
	r, ok := dispatch[dispatchKey{state: from, kind: ev.Kind, sub: ev.substatus()}]
	if !ok {
		if acknowledgement(ev) {
			c.log.Debugw("gateway request acknowledged", "verb", ev.Reply.ReplyTo(), "state", from)
			return nil
		}
		return c.reject(ctx, from, ev)
	}
	if r.stay != nil {
		err := r.stay(ctx, c, ev)
		c.publish()
		if err != nil {
			return c.Handle(ctx, sendFailed(err))
		}
		return nil
	}

	if err := failureOf(from, ev); err != nil && c.cause == nil {
		c.cause = err
	}
	to := r.next(c, ev)
	if to == "" {
		return c.reject(ctx, from, ev)
	}
	err := c.fsm.Transition(ctx, to, ev)
	if errors.Is(err, fsm.ErrIllegalTransition) {
		return c.reject(ctx, from, ev)
	}

	c.log.Debugw("media session transition", "from", from, "to", to, "event", ev.String())
	c.history.Push(Step{From: from, To: to, Event: ev.String(), At: time.Now()})
	c.mon.Transition(string(from), string(to))
	c.armTimer(to)
	if to.IsTerminal() {
		c.releaseAll(ctx)
	}
	c.publish()
	c.notify(to)
	if to.IsTerminal() {
		outcome := stats.OutcomeEnded
		if to == StateFailed {
			outcome = stats.OutcomeFailed
			c.log.Warnw("media session failed", c.cause, "history", c.history.Slice())
		} else {
			c.log.Infow("media session ended")
		}
		c.finish(outcome)
	}

	if err != nil {
		c.log.Warnw("media gateway request could not be sent", err, "state", to)
		return c.Handle(ctx, sendFailed(err))
	}
	return nil
}

// foreign reports notifications about handles this controller does not hold.
func (c *Controller) foreign(ev Event) bool {
	switch ev.Kind {
	case EventConnectionState:
		return c.res.RemoteConn != "" && ev.Conn != c.res.RemoteConn
	case EventLinkState:
		return c.res.InternalLink != "" && ev.Link != c.res.InternalLink
	}
	return false
}

func (c *Controller) reject(ctx context.Context, from State, ev Event) error {
	err := &IllegalEventError{State: from, Event: ev.String()}
	kv := []interface{}{"state", from, "event", ev.String()}
	if last, ok := c.history.Last(); ok {
		kv = append(kv, "lastTransition", last)
	}
	c.log.Warnw("illegal media session event", err, kv...)
	c.mon.IllegalEvent(string(from), ev.Kind.String())

	// a resource nobody is waiting for anymore
	if ev.Kind == EventReply && ev.Reply != nil {
		if req := mgcp.ReleaseRequest(ev.Reply); req != nil {
			c.log.Infow("releasing unwanted gateway resource", "handle", ev.Reply.Handle(), "verb", req.Verb())
			c.release(ctx, req)
		}
	}
	return err
}

// acknowledgement reports successful replies to requests whose outcome is
// signaled by a later state notification.
func acknowledgement(ev Event) bool {
	if ev.Kind != EventReply || ev.Reply == nil || ev.failure() != nil {
		return false
	}
	switch ev.Reply.ReplyTo() {
	case mgcp.VerbInitConnection, mgcp.VerbOpenConnection, mgcp.VerbModifyConnection, mgcp.VerbCloseConnection,
		mgcp.VerbInitLink, mgcp.VerbOpenLink, mgcp.VerbModifyLink, mgcp.VerbCloseLink:
		return true
	}
	return false
}

func failureOf(from State, ev Event) error {
	switch ev.Kind {
	case EventTimeout:
		return lkerrors.ErrRequestTimeout
	case EventReply:
		return ev.failure()
	case EventConnectionState:
		if from == StateOpeningRemoteConnection && ev.ConnState == mgcp.ConnectionClosed {
			return ErrConnectionRejected
		}
	case EventLinkState:
		if ev.LinkState == mgcp.LinkClosed && slices.Contains([]State{StateOpeningInternalLink, StateUpdatingInternalLink}, from) {
			return ErrLinkLost
		}
	}
	return nil
}

func (c *Controller) armTimer(s State) {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.timeout <= 0 || !s.awaitsGateway() {
		return
	}
	gen := c.timerGen
	c.timer = time.AfterFunc(c.timeout, func() {
		c.Submit(timeout(gen))
	})
}

// releaseAll frees every handle still held. Requests are best effort.
func (c *Controller) releaseAll(ctx context.Context) {
	if c.res.RemoteConn != "" {
		c.release(ctx, mgcp.CloseConnection{Conn: c.res.RemoteConn})
	}
	if c.res.InternalLink != "" {
		c.release(ctx, mgcp.CloseLink{Link: c.res.InternalLink})
	}
	if c.res.Bridge != "" {
		c.release(ctx, mgcp.DestroyEndpoint{Endpoint: c.res.Bridge})
	}
	if c.res.Session != "" {
		c.release(ctx, mgcp.DestroyMediaSession{Session: c.res.Session})
	}
	c.res = Resources{}
	c.peer = ""
}

func (c *Controller) notify(s State) {
	ms := mediaStateOf(s)
	if ms == MediaNone || ms == c.reported {
		return
	}
	if c.reported == MediaNone && (ms == MediaReady || ms == MediaPending) {
		c.mon.MediaReady(time.Since(c.created))
	}
	c.reported = ms
	if c.obs == nil {
		return
	}
	u := MediaUpdate{CallID: c.callID, State: ms, LocalSDP: c.localSDP}
	if ms == MediaFailed {
		u.Err = c.cause
	}
	c.obs.OnMediaStateChanged(u)
}

func (c *Controller) publish() {
	r := c.res
	c.snapshot.Store(&r)
}

func (c *Controller) finish(o stats.Outcome) {
	if !c.finished.CompareAndSwap(false, true) {
		return
	}
	c.endSession(o)
	if c.onDone != nil {
		c.onDone(c)
	}
	c.done.Break()
}
