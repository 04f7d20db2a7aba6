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
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/tracer"

	lkerrors "github.com/livekit/mscontrol/pkg/errors"
	"github.com/livekit/mscontrol/pkg/internal/mailbox"
	"github.com/livekit/mscontrol/pkg/stats"
)

// Backend executes requests against a media server.
// Results are reported through the sink passed to Attach, in the order the
// media server produced them.
type Backend interface {
	Attach(sink func(msg Message))
	Execute(ctx context.Context, tx TxID, req Request) error
}

type FrontEndConfig struct {
	TransactionTTL  time.Duration
	HandleCacheSize int
}

// FrontEnd is shared by all media session controllers on a node.
// Requests from every call are sent to the backend one at a time, replies are
// matched to the sending call by transaction, and notifications are routed to
// the call owning the handle.
type FrontEnd struct {
	log     logger.Logger
	mon     *stats.Monitor
	backend Backend

	nextTx     atomic.Uint64
	requests   *mailbox.Mailbox[outbound]
	deliveries *mailbox.Mailbox[delivery]

	mu     sync.Mutex
	calls  map[string]*binding
	txs    *expirable.LRU[TxID, txEntry]
	owners *lru.Cache[string, string]

	closed core.Fuse
	wg     sync.WaitGroup
}

type outbound struct {
	callID string
	tx     TxID
	req    Request
}

type delivery struct {
	l   Listener
	msg Message
}

type txEntry struct {
	callID string
	verb   Verb
}

type binding struct {
	l       Listener
	handles map[string]struct{}
}

func NewFrontEnd(conf FrontEndConfig, backend Backend, mon *stats.Monitor, log logger.Logger) (*FrontEnd, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	owners, err := lru.New[string, string](conf.HandleCacheSize)
	if err != nil {
		return nil, err
	}
	f := &FrontEnd{
		log:        log,
		mon:        mon,
		backend:    backend,
		requests:   mailbox.New[outbound](),
		deliveries: mailbox.New[delivery](),
		calls:      make(map[string]*binding),
		owners:     owners,
	}
	// replies arriving after the ttl are treated as unknown
	f.txs = expirable.NewLRU[TxID, txEntry](0, nil, conf.TransactionTTL)

	backend.Attach(f.receive)

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.requests.Run(f.execute)
	}()
	go func() {
		defer f.wg.Done()
		f.deliveries.Run(func(d delivery) {
			d.l.OnMessage(d.msg)
		})
	}()
	return f, nil
}

// Bind registers a call and returns its view of the gateway.
func (f *FrontEnd) Bind(callID string, l Listener) (Gateway, error) {
	if f.closed.IsBroken() {
		return nil, lkerrors.ErrGatewayClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.calls[callID]; ok {
		return nil, lkerrors.ErrCallExists(callID)
	}
	f.calls[callID] = &binding{l: l, handles: make(map[string]struct{})}
	return &callGateway{f: f, callID: callID}, nil
}

// Unbind forgets a call. Resources created for it afterwards are released.
func (f *FrontEnd) Unbind(callID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.calls[callID]
	if !ok {
		return
	}
	delete(f.calls, callID)
	for h := range b.handles {
		f.owners.Remove(h)
	}
}

// Close stops accepting requests. Queued requests are still executed.
func (f *FrontEnd) Close() {
	f.closed.Break()
	f.requests.Drain()
	<-f.requests.Closed()
	f.deliveries.Close()
	f.wg.Wait()
}

func (f *FrontEnd) send(ctx context.Context, callID string, req Request) (TxID, error) {
	if f.closed.IsBroken() {
		return 0, lkerrors.ErrGatewayClosed
	}
	tx := TxID(f.nextTx.Add(1))
	f.txs.Add(tx, txEntry{callID: callID, verb: req.Verb()})
	if !f.requests.Push(outbound{callID: callID, tx: tx, req: req}) {
		f.txs.Remove(tx)
		return 0, lkerrors.ErrGatewayClosed
	}
	f.mon.GatewayRequest(string(req.Verb()))
	return tx, nil
}

func (f *FrontEnd) execute(o outbound) {
	ctx, span := tracer.Start(context.Background(), "mgcp.Execute")
	defer span.End()

	if err := f.backend.Execute(ctx, o.tx, o.req); err != nil {
		f.log.Warnw("gateway request failed", err, "tx", o.tx, "verb", o.req.Verb(), "callID", o.callID)
		f.receive(o.req.reply(o.tx, errors.Wrapf(err, "%s failed", o.req.Verb())))
	}
}

// receive is the backend sink.
func (f *FrontEnd) receive(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m := msg.(type) {
	case Reply:
		f.mon.GatewayReply(m.MessageType(), m.Failure() != nil)
		e, ok := f.txs.Peek(m.Transaction())
		if !ok {
			f.log.Debugw("dropping reply for unknown transaction", "tx", m.Transaction(), "type", m.MessageType())
			f.mon.GatewayDropped()
			f.releaseLocked(m)
			return
		}
		f.txs.Remove(m.Transaction())
		b, ok := f.calls[e.callID]
		if !ok {
			f.releaseLocked(m)
			return
		}
		if m.Failure() == nil && ReleaseRequest(m) != nil {
			f.owners.Add(m.Handle(), e.callID)
			b.handles[m.Handle()] = struct{}{}
		}
		f.deliveries.Push(delivery{l: b.l, msg: m})
	default:
		f.mon.GatewayNotification(msg.MessageType())
		callID, ok := f.owners.Get(msg.Handle())
		if !ok {
			f.log.Debugw("dropping notification for unowned handle", "handle", msg.Handle(), "type", msg.MessageType())
			f.mon.GatewayDropped()
			return
		}
		b, ok := f.calls[callID]
		if !ok {
			f.mon.GatewayDropped()
			return
		}
		f.deliveries.Push(delivery{l: b.l, msg: msg})
	}
}

// releaseLocked frees a resource created for a call that no longer exists.
func (f *FrontEnd) releaseLocked(r Reply) {
	req := ReleaseRequest(r)
	if req == nil {
		return
	}
	f.log.Infow("releasing orphaned gateway resource", "handle", r.Handle(), "verb", req.Verb())
	f.mon.GatewayOrphan(string(req.Verb()))
	tx := TxID(f.nextTx.Add(1))
	f.txs.Add(tx, txEntry{verb: req.Verb()})
	f.requests.Push(outbound{tx: tx, req: req})
}

type callGateway struct {
	f      *FrontEnd
	callID string
}

func (g *callGateway) Send(ctx context.Context, req Request) (TxID, error) {
	return g.f.send(ctx, g.callID, req)
}
