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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/mscontrol/pkg/config"
	"github.com/livekit/mscontrol/pkg/mscontrol"
)

type supervised struct {
	s      *Server
	c      *call
	ctx    context.Context
	byes   atomic.Int32
	closed chan struct{}
}

func superviseCall(t *testing.T) *supervised {
	s := NewServer(config.SIPConfig{}, &scriptedMedia{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c := &call{id: "call-1", log: logger.GetLogger(), w: newWatcher(), cancel: cancel}
	c.answered.Break()
	s.calls[c.id] = c

	sv := &supervised{s: s, c: c, ctx: ctx, closed: make(chan struct{})}
	go func() {
		defer close(sv.closed)
		s.supervise(ctx, c, func(context.Context) error {
			sv.byes.Add(1)
			return nil
		})
	}()
	return sv
}

func (sv *supervised) wait(t *testing.T) {
	t.Helper()
	select {
	case <-sv.closed:
	case <-time.After(time.Second):
		t.Fatal("supervision did not stop")
	}
}

func TestServerHangsUpWhenMediaEnds(t *testing.T) {
	for _, u := range []mscontrol.MediaUpdate{
		{State: mscontrol.MediaEnded},
		{State: mscontrol.MediaFailed, Err: errors.New("gateway lost")},
	} {
		t.Run(u.State.String(), func(t *testing.T) {
			sv := superviseCall(t)
			sv.c.w.OnMediaStateChanged(mscontrol.MediaUpdate{State: mscontrol.MediaReady, LocalSDP: []byte("answer")})
			sv.c.w.OnMediaStateChanged(u)
			sv.wait(t)

			require.Equal(t, int32(1), sv.byes.Load())
			require.Equal(t, 0, sv.s.ActiveCalls())
			require.Error(t, sv.ctx.Err())
		})
	}
}

func TestServerSupervisionEndsWithCall(t *testing.T) {
	sv := superviseCall(t)
	sv.c.cancel()
	sv.wait(t)

	require.Zero(t, sv.byes.Load())
	// the remote side hung up; its BYE handler owns the cleanup
	require.Equal(t, 1, sv.s.ActiveCalls())
}
