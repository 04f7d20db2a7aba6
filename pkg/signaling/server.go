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

// Package signaling accepts SIP calls and drives their media sessions.
package signaling

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/frostbyte73/core"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/tracer"

	"github.com/livekit/mscontrol/pkg/config"
	"github.com/livekit/mscontrol/version"
)

const (
	UserAgent  = "LiveKit-MSControl"
	byeTimeout = 5 * time.Second
)

var contentTypeHeaderSDP = sip.ContentTypeHeader("application/sdp")

type call struct {
	id     string
	log    logger.Logger
	w      *watcher
	dlg    *sipgo.DialogServerSession
	cancel context.CancelFunc
	// set once a final 200 was sent
	answered core.Fuse
}

func (c *call) respond(code int, reason string, body []byte) {
	var hdrs []sip.Header
	if len(body) != 0 {
		hdrs = append(hdrs, &contentTypeHeaderSDP)
	}
	if err := c.dlg.Respond(code, reason, body, hdrs...); err != nil {
		c.log.Warnw("could not send sip response", err, "code", code)
	}
}

// Server is a SIP user agent server. Each INVITE gets one media session.
type Server struct {
	conf config.SIPConfig
	mc   MediaController
	log  logger.Logger

	ua      *sipgo.UserAgent
	srv     *sipgo.Server
	dialogs *sipgo.DialogServerCache

	mu    sync.Mutex
	calls map[string]*call

	closed core.Fuse
}

func NewServer(conf config.SIPConfig, mc MediaController, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Server{
		conf:  conf,
		mc:    mc,
		log:   log,
		calls: make(map[string]*call),
	}
}

func (s *Server) Start(ctx context.Context) error {
	opts := []sipgo.UserAgentOption{
		sipgo.WithUserAgent(UserAgent + "/" + version.Version),
	}
	if s.conf.Hostname != "" {
		opts = append(opts, sipgo.WithUserAgentHostname(s.conf.Hostname))
	}
	ua, err := sipgo.NewUA(opts...)
	if err != nil {
		return err
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return err
	}
	var clientOpts []sipgo.ClientOption
	host := "127.0.0.1"
	if s.conf.Hostname != "" {
		host = s.conf.Hostname
		clientOpts = append(clientOpts, sipgo.WithClientHostname(s.conf.Hostname))
	}
	client, err := sipgo.NewClient(ua, clientOpts...)
	if err != nil {
		_ = ua.Close()
		return err
	}
	contact := sip.ContactHeader{
		Address: sip.Uri{Host: host, Port: s.conf.Port},
	}
	s.ua, s.srv = ua, srv
	s.dialogs = sipgo.NewDialogServerCache(client, contact)

	srv.OnInvite(s.onInvite)
	srv.OnAck(s.onAck)
	srv.OnBye(s.onBye)
	srv.OnCancel(s.onCancel)

	addr := fmt.Sprintf("0.0.0.0:%d", s.conf.Port)
	s.log.Infow("sip server listening", "transport", s.conf.Transport, "addr", addr)
	go func() {
		if err := srv.ListenAndServe(ctx, s.conf.Transport, addr); err != nil && !s.closed.IsBroken() {
			s.log.Errorw("sip server stopped", err)
		}
	}()
	return nil
}

// Stop cancels unanswered calls and closes the listener.
// Media sessions of answered calls are left to the media controller.
func (s *Server) Stop() {
	s.closed.Break()
	s.mu.Lock()
	calls := slices.Collect(maps.Values(s.calls))
	s.calls = make(map[string]*call)
	s.mu.Unlock()
	for _, c := range calls {
		c.cancel()
	}
	if s.ua != nil {
		_ = s.ua.Close()
	}
}

func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Server) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	log := s.log.WithValues("callID", callID)

	s.mu.Lock()
	existing, ok := s.calls[callID]
	s.mu.Unlock()
	if ok {
		s.onReinvite(existing, req, tx)
		return
	}
	if s.closed.IsBroken() {
		respond(log, tx, req, 503, "Service Unavailable", nil)
		return
	}

	dlg, err := s.dialogs.ReadInvite(req, tx)
	if err != nil {
		log.Warnw("invalid invite", err)
		respond(log, tx, req, 400, "Bad Request", nil)
		return
	}

	ctx, span := tracer.Start(context.Background(), "signaling.onInvite")
	defer span.End()
	ctx, cancel := context.WithCancel(ctx)
	c := &call{id: callID, log: log, w: newWatcher(), dlg: dlg, cancel: cancel}
	s.mu.Lock()
	s.calls[callID] = c
	s.mu.Unlock()

	log.Infow("processing invite")
	c.respond(100, "Trying", nil)

	ans := answer(ctx, s.mc, log, callID, req.Body(), s.conf.AnswerTimeout, c.w, func(sdp []byte) {
		c.respond(183, "Session Progress", sdp)
	})
	if !ans.Accepted() {
		s.forget(c)
		cancel()
		log.Infow("rejecting invite", "code", ans.Code, "reason", ans.Reason)
		c.respond(ans.Code, ans.Reason, nil)
		_ = dlg.Close()
		return
	}
	c.answered.Break()
	log.Infow("call answered")
	c.respond(ans.Code, ans.Reason, ans.SDP)
	go s.supervise(ctx, c, dlg.Bye)
}

// supervise hangs up an answered call once its media session ends on the gateway side.
func (s *Server) supervise(ctx context.Context, c *call, bye func(ctx context.Context) error) {
	u, ok := awaitMediaEnd(ctx, c.w)
	if !ok {
		return
	}
	if u.Err != nil {
		c.log.Warnw("media session failed, hanging up", u.Err)
	} else {
		c.log.Infow("media session ended, hanging up", "state", u.State)
	}
	s.forget(c)
	c.cancel()

	bctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
	defer cancel()
	if err := bye(bctx); err != nil {
		c.log.Warnw("could not send bye", err)
	}
	if c.dlg != nil {
		_ = c.dlg.Close()
	}
}

// onReinvite renegotiates media of an answered call.
func (s *Server) onReinvite(c *call, req *sip.Request, tx sip.ServerTransaction) {
	if !c.answered.IsBroken() {
		respond(c.log, tx, req, 491, "Request Pending", nil)
		return
	}
	ctx, span := tracer.Start(context.Background(), "signaling.onReinvite")
	defer span.End()

	if offer := req.Body(); len(offer) != 0 {
		if err := validateOffer(offer); err != nil {
			respond(c.log, tx, req, 488, "Not Acceptable Here", nil)
			return
		}
		if err := s.mc.UpdateMediaSession(ctx, c.id, offer, ""); err != nil {
			c.log.Warnw("could not update media session", err)
			respond(c.log, tx, req, 500, "Server Internal Error", nil)
			return
		}
	}
	respond(c.log, tx, req, 200, "OK", c.w.LocalSDP())
}

func (s *Server) onAck(req *sip.Request, tx sip.ServerTransaction) {
	s.log.Debugw("ack received", "callID", req.CallID().Value())
	if s.dialogs == nil {
		return
	}
	if err := s.dialogs.ReadAck(req, tx); err != nil {
		s.log.Debugw("ack outside of a dialog", "callID", req.CallID().Value(), "error", err)
	}
}

func (s *Server) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	c, ok := s.lookup(callID)
	if !ok {
		respond(s.log, tx, req, 481, "Call/Transaction Does Not Exist", nil)
		return
	}
	c.log.Infow("bye received")
	s.forget(c)
	c.cancel()
	ctx, span := tracer.Start(context.Background(), "signaling.onBye")
	defer span.End()
	if err := s.mc.CloseMediaSession(ctx, callID); err != nil {
		c.log.Debugw("media session already gone", "error", err)
	}
	respond(c.log, tx, req, 200, "OK", nil)
	if c.dlg != nil {
		_ = c.dlg.Close()
	}
}

func (s *Server) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	c, ok := s.lookup(callID)
	if !ok || c.answered.IsBroken() {
		respond(s.log, tx, req, 481, "Call/Transaction Does Not Exist", nil)
		return
	}
	c.log.Infow("cancel received")
	c.cancel()
	respond(c.log, tx, req, 200, "OK", nil)
}

func (s *Server) lookup(callID string) (*call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	return c, ok
}

func (s *Server) forget(c *call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls[c.id] == c {
		delete(s.calls, c.id)
	}
}

func respond(log logger.Logger, tx sip.ServerTransaction, req *sip.Request, code int, reason string, body []byte) {
	res := sip.NewResponseFromRequest(req, code, reason, body)
	if len(body) != 0 {
		res.AppendHeader(&contentTypeHeaderSDP)
	}
	if err := tx.Respond(res); err != nil {
		log.Warnw("could not send sip response", err, "code", code)
	}
}
