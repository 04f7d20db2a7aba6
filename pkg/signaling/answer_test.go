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

package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	lkerrors "github.com/livekit/mscontrol/pkg/errors"
	"github.com/livekit/mscontrol/pkg/mgcp"
	"github.com/livekit/mscontrol/pkg/mscontrol"
)

const testOffer = "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0 101\r\na=rtpmap:0 PCMU/8000\r\na=rtpmap:101 telephone-event/8000\r\n"

// scriptedMedia reports a fixed sequence of media states for every new session.
type scriptedMedia struct {
	script    []mscontrol.MediaUpdate
	createErr error

	mu     sync.Mutex
	closed []string
}

func (m *scriptedMedia) CreateMediaSession(_ context.Context, callID string, _ []byte, obs mscontrol.Observer) error {
	if m.createErr != nil {
		return m.createErr
	}
	go func() {
		for _, u := range m.script {
			u.CallID = callID
			obs.OnMediaStateChanged(u)
		}
	}()
	return nil
}

func (m *scriptedMedia) CloseMediaSession(_ context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, callID)
	return nil
}

func (m *scriptedMedia) UpdateMediaSession(context.Context, string, []byte, mgcp.ConnectionMode) error {
	return nil
}

func (m *scriptedMedia) closedCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.closed...)
}

func TestAnswer(t *testing.T) {
	cases := []struct {
		name     string
		offer    string
		script   []mscontrol.MediaUpdate
		err      error
		code     int
		progress int
		closed   bool
	}{
		{
			name:   "ready",
			offer:  testOffer,
			script: []mscontrol.MediaUpdate{{State: mscontrol.MediaReady, LocalSDP: []byte("answer")}},
			code:   200,
		},
		{
			name:  "early media",
			offer: testOffer,
			script: []mscontrol.MediaUpdate{
				{State: mscontrol.MediaPending, LocalSDP: []byte("early")},
				{State: mscontrol.MediaReady, LocalSDP: []byte("answer")},
			},
			code:     200,
			progress: 1,
		},
		{
			name:   "failed",
			offer:  testOffer,
			script: []mscontrol.MediaUpdate{{State: mscontrol.MediaFailed, Err: errors.New("no bridge")}},
			code:   503,
		},
		{
			name:   "ended",
			offer:  testOffer,
			script: []mscontrol.MediaUpdate{{State: mscontrol.MediaEnded}},
			code:   487,
		},
		{
			name:   "timeout",
			offer:  testOffer,
			code:   480,
			closed: true,
		},
		{
			name:  "bad offer",
			offer: "garbage",
			code:  488,
		},
		{
			name:  "video only",
			offer: "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=video 4000 RTP/AVP 96\r\n",
			code:  488,
		},
		{
			name:  "overloaded",
			offer: testOffer,
			err:   lkerrors.ErrUnavailable,
			code:  503,
		},
		{
			name:  "internal error",
			offer: testOffer,
			err:   errors.New("boom"),
			code:  500,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mc := &scriptedMedia{script: c.script, createErr: c.err}
			progress := 0
			ans := answer(context.Background(), mc, logger.GetLogger(), "call-1", []byte(c.offer), 100*time.Millisecond, newWatcher(), func([]byte) {
				progress++
			})
			require.Equal(t, c.code, ans.Code)
			require.Equal(t, c.progress, progress)
			if ans.Accepted() {
				require.Equal(t, []byte("answer"), ans.SDP)
			}
			if c.closed {
				require.Equal(t, []string{"call-1"}, mc.closedCalls())
			} else {
				require.Empty(t, mc.closedCalls())
			}
		})
	}
}

func TestAnswerCancelled(t *testing.T) {
	mc := &scriptedMedia{}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	ans := answer(ctx, mc, logger.GetLogger(), "call-1", []byte(testOffer), time.Minute, newWatcher(), nil)
	require.Equal(t, 487, ans.Code)
	require.Equal(t, []string{"call-1"}, mc.closedCalls())
}

func TestWatcherKeepsLocalSDP(t *testing.T) {
	w := newWatcher()
	w.OnMediaStateChanged(mscontrol.MediaUpdate{State: mscontrol.MediaReady, LocalSDP: []byte("answer")})
	w.OnMediaStateChanged(mscontrol.MediaUpdate{State: mscontrol.MediaEnded})
	require.Equal(t, []byte("answer"), w.LocalSDP())

	// a full buffer never blocks the controller
	for i := 0; i < 10; i++ {
		w.OnMediaStateChanged(mscontrol.MediaUpdate{State: mscontrol.MediaReady})
	}
}
