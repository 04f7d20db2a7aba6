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

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/mscontrol/pkg/config"
	"github.com/livekit/mscontrol/pkg/mscontrol"
	"github.com/livekit/mscontrol/pkg/stats"
)

const testOffer = "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=audio 4000 RTP/AVP 0\r\na=rtpmap:0 PCMU/8000\r\n"

func TestServiceLifecycle(t *testing.T) {
	conf, err := config.NewConfig("max_active_calls: 1\n")
	require.NoError(t, err)
	conf.NodeID = "NE_test"
	mon := stats.NewMonitor(conf)

	svc, err := NewService(conf, nil, mon)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()
	require.Eventually(t, svc.CanAccept, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	ready := make(chan struct{}, 1)
	obs := mscontrol.ObserverFunc(func(u mscontrol.MediaUpdate) {
		if u.State == mscontrol.MediaReady {
			ready <- struct{}{}
		}
	})
	require.NoError(t, svc.Manager().CreateMediaSession(ctx, "call-1", []byte(testOffer), obs))
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("media session not ready")
	}

	// admission is limited to one call
	require.False(t, svc.CanAccept())
	require.Error(t, svc.Manager().CreateMediaSession(ctx, "call-2", []byte(testOffer), nil))

	svc.Stop(false)
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
	require.Equal(t, 0, svc.Manager().ActiveCalls())
	require.Equal(t, 0, svc.gw.Resources())
}
