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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testOffer = "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0 101\r\na=rtpmap:0 PCMU/8000\r\na=rtpmap:101 telephone-event/8000\r\n"

type loopbackHarness struct {
	t    *testing.T
	lb   *Loopback
	tx   TxID
	msgs []Message
}

func newLoopbackHarness(t *testing.T) *loopbackHarness {
	h := &loopbackHarness{t: t, lb: NewLoopback(LoopbackConfig{Name: "test", MediaAddress: "10.1.1.1", RTPPortStart: 20000}, nil)}
	h.lb.Attach(func(msg Message) { h.msgs = append(h.msgs, msg) })
	return h
}

// exec runs a request and returns the messages it produced.
func (h *loopbackHarness) exec(req Request) []Message {
	h.t.Helper()
	h.tx++
	n := len(h.msgs)
	require.NoError(h.t, h.lb.Execute(context.Background(), h.tx, req))
	return h.msgs[n:]
}

func (h *loopbackHarness) one(req Request) Message {
	h.t.Helper()
	out := h.exec(req)
	require.Len(h.t, out, 1)
	return out[0]
}

func (h *loopbackHarness) connection() (SessionID, EndpointID, ConnectionID) {
	h.t.Helper()
	sess := h.one(CreateMediaSession{}).(*Response[SessionID]).Value
	ep := h.one(CreateBridgeEndpoint{Session: sess}).(*Response[EndpointID]).Value
	conn := h.one(CreateConnection{Session: sess}).(*Response[ConnectionID]).Value
	n := h.one(InitializeConnection{Conn: conn, Bridge: ep}).(*ConnectionStateChanged)
	require.Equal(h.t, ConnectionClosed, n.State)
	return sess, ep, conn
}

func TestLoopbackGatewayInfo(t *testing.T) {
	h := newLoopbackHarness(t)
	r := h.one(GetMediaGatewayInfo{}).(*Response[MediaGatewayInfo])
	require.NoError(t, r.Failure())
	require.Equal(t, TxID(1), r.Transaction())
	require.Equal(t, "test", r.Value.Name)
	require.Equal(t, "10.1.1.1", r.Value.Address)
	require.Contains(t, r.Value.Codecs, "PCMU")
}

func TestLoopbackConnection(t *testing.T) {
	h := newLoopbackHarness(t)
	sess, _, conn := h.connection()
	require.True(t, strings.HasPrefix(string(sess), "MS_"))
	require.True(t, strings.HasPrefix(string(conn), "MC_"))
	require.Equal(t, 3, h.lb.Resources())

	// without a remote description only the local side is known
	n := h.one(OpenConnection{Conn: conn, Mode: ModeSendRecv}).(*ConnectionStateChanged)
	require.Equal(t, ConnectionHalfOpen, n.State)
	require.Contains(t, string(n.LocalSDP), "m=audio 20000 RTP/AVP 0 8 101")

	n = h.one(ModifyConnection{Conn: conn, RemoteSDP: []byte(testOffer)}).(*ConnectionStateChanged)
	require.Equal(t, ConnectionOpen, n.State)
	require.Contains(t, string(n.LocalSDP), "m=audio 20000 RTP/AVP 0 101")
	require.Contains(t, string(n.LocalSDP), "a=sendrecv")

	n = h.one(ModifyConnection{Conn: conn, Mode: ModeSendOnly}).(*ConnectionStateChanged)
	require.Equal(t, ConnectionOpen, n.State)
	require.Contains(t, string(n.LocalSDP), "a=sendonly")

	n = h.one(CloseConnection{Conn: conn}).(*ConnectionStateChanged)
	require.Equal(t, ConnectionClosed, n.State)
	require.Empty(t, h.lb.Connections())

	require.Empty(t, h.exec(DestroyMediaSession{Session: sess}))
	require.Equal(t, 0, h.lb.Resources())
}

func TestLoopbackNegotiationFailure(t *testing.T) {
	h := newLoopbackHarness(t)
	_, _, conn := h.connection()

	offer := strings.ReplaceAll(testOffer, "RTP/AVP 0 101", "RTP/AVP 18")
	n := h.one(OpenConnection{Conn: conn, RemoteSDP: []byte(offer)}).(*ConnectionStateChanged)
	require.Equal(t, ConnectionClosed, n.State)
	require.Empty(t, n.LocalSDP)
}

func TestLoopbackLink(t *testing.T) {
	h := newLoopbackHarness(t)
	sess, ep, _ := h.connection()

	link := h.one(CreateLink{Session: sess}).(*Response[LinkID]).Value
	require.True(t, strings.HasPrefix(string(link), "ML_"))

	l := h.one(InitializeLink{Link: link, Bridge: ep, Peer: "EP_peer"}).(*LinkStateChanged)
	require.Equal(t, LinkClosed, l.State)
	l = h.one(OpenLink{Link: link, Mode: ModeSendRecv}).(*LinkStateChanged)
	require.Equal(t, LinkOpen, l.State)
	l = h.one(ModifyLink{Link: link, Mode: ModeRecvOnly}).(*LinkStateChanged)
	require.Equal(t, LinkOpen, l.State)
	require.Len(t, h.lb.Links(), 1)

	h.lb.Unlink(link)
	require.Equal(t, LinkClosed, h.msgs[len(h.msgs)-1].(*LinkStateChanged).State)

	l = h.one(CloseLink{Link: link}).(*LinkStateChanged)
	require.Equal(t, LinkClosed, l.State)
	require.Empty(t, h.lb.Links())
}

func TestLoopbackUnknownHandles(t *testing.T) {
	h := newLoopbackHarness(t)
	for _, req := range []Request{
		CreateBridgeEndpoint{Session: "MS_x"},
		CreateConnection{Session: "MS_x"},
		InitializeConnection{Conn: "MC_x", Bridge: "EP_x"},
		OpenConnection{Conn: "MC_x"},
		CreateLink{Session: "MS_x"},
		OpenLink{Link: "ML_x"},
	} {
		r, ok := h.one(req).(Reply)
		require.True(t, ok, "%T", req)
		require.Error(t, r.Failure(), "%T", req)
		require.Equal(t, req.Verb(), r.ReplyTo())
	}
}

func TestLoopbackFaults(t *testing.T) {
	h := newLoopbackHarness(t)
	h.lb.Fail(VerbCreateSession, errors.New("full"))
	r := h.one(CreateMediaSession{}).(Reply)
	require.EqualError(t, r.Failure(), "full")

	h.lb.Fail(VerbCreateSession, nil)
	r = h.one(CreateMediaSession{}).(Reply)
	require.NoError(t, r.Failure())

	h.lb.Drop(VerbGatewayInfo, true)
	require.Empty(t, h.exec(GetMediaGatewayInfo{}))
	require.Equal(t, []Verb{VerbCreateSession, VerbCreateSession, VerbGatewayInfo}, h.lb.Requests())
}

func TestLoopbackHangup(t *testing.T) {
	h := newLoopbackHarness(t)
	_, _, conn := h.connection()
	h.lb.Hangup(conn)
	n := h.msgs[len(h.msgs)-1].(*ConnectionStateChanged)
	require.Equal(t, conn, n.Conn)
	require.Equal(t, ConnectionClosed, n.State)
	require.Len(t, h.lb.Connections(), 1)
}
