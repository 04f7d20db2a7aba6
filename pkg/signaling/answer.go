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
	"time"

	"github.com/pion/sdp/v3"

	"github.com/livekit/protocol/logger"

	lkerrors "github.com/livekit/mscontrol/pkg/errors"
	"github.com/livekit/mscontrol/pkg/mgcp"
	"github.com/livekit/mscontrol/pkg/mscontrol"
)

var ErrNoAudio = errors.New("offer has no audio stream")

// MediaController is the media side of a call as seen by signaling.
type MediaController interface {
	CreateMediaSession(ctx context.Context, callID string, offer []byte, obs mscontrol.Observer) error
	CloseMediaSession(ctx context.Context, callID string) error
	UpdateMediaSession(ctx context.Context, callID string, remoteSDP []byte, mode mgcp.ConnectionMode) error
}

// Answer is the final response to an offer.
type Answer struct {
	Code   int
	Reason string
	SDP    []byte
}

func (a Answer) Accepted() bool {
	return a.Code == 200
}

// validateOffer checks that a remote description can be handed to the media gateway.
func validateOffer(offer []byte) error {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(offer); err != nil {
		return err
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" && len(md.MediaName.Formats) != 0 {
			return nil
		}
	}
	return ErrNoAudio
}

// watcher collects media state updates of one call.
type watcher struct {
	mu      sync.Mutex
	last    mscontrol.MediaUpdate
	updates chan mscontrol.MediaUpdate
}

func newWatcher() *watcher {
	return &watcher{updates: make(chan mscontrol.MediaUpdate, 4)}
}

func (w *watcher) OnMediaStateChanged(u mscontrol.MediaUpdate) {
	w.mu.Lock()
	if len(u.LocalSDP) == 0 {
		u.LocalSDP = w.last.LocalSDP
	}
	w.last = u
	w.mu.Unlock()
	select {
	case w.updates <- u:
	default:
	}
}

// LocalSDP returns the most recent local description.
func (w *watcher) LocalSDP() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.LocalSDP
}

// answer creates the media session for an offer and waits until the media
// gateway either accepts or rejects it. progress is called with an early
// local description when the remote side has not been fully negotiated yet.
func answer(ctx context.Context, mc MediaController, log logger.Logger, callID string, offer []byte, timeout time.Duration, w *watcher, progress func(sdp []byte)) Answer {
	if err := validateOffer(offer); err != nil {
		log.Infow("rejecting offer", "error", err)
		return Answer{Code: 488, Reason: "Not Acceptable Here"}
	}
	if err := mc.CreateMediaSession(ctx, callID, offer, w); err != nil {
		if ctx.Err() != nil {
			closeSession(mc, log, callID)
			return Answer{Code: 487, Reason: "Request Terminated"}
		}
		if errors.Is(err, lkerrors.ErrUnavailable) || errors.Is(err, lkerrors.ErrShuttingDown) {
			log.Infow("media sessions unavailable", "error", err)
			return Answer{Code: 503, Reason: "Service Unavailable"}
		}
		log.Warnw("could not create media session", err)
		return Answer{Code: 500, Reason: "Server Internal Error"}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case u := <-w.updates:
			switch u.State {
			case mscontrol.MediaPending:
				if progress != nil {
					progress(u.LocalSDP)
				}
			case mscontrol.MediaReady:
				return Answer{Code: 200, Reason: "OK", SDP: u.LocalSDP}
			case mscontrol.MediaFailed:
				log.Warnw("media session failed", u.Err)
				return Answer{Code: 503, Reason: "Service Unavailable"}
			case mscontrol.MediaEnded:
				return Answer{Code: 487, Reason: "Request Terminated"}
			}
		case <-timer.C:
			log.Warnw("media session not ready in time", nil, "timeout", timeout)
			closeSession(mc, log, callID)
			return Answer{Code: 480, Reason: "Temporarily Unavailable"}
		case <-ctx.Done():
			log.Infow("call cancelled before answer")
			closeSession(mc, log, callID)
			return Answer{Code: 487, Reason: "Request Terminated"}
		}
	}
}

// awaitMediaEnd blocks until the media session ends or fails.
// It returns false when ctx is done first.
func awaitMediaEnd(ctx context.Context, w *watcher) (mscontrol.MediaUpdate, bool) {
	for {
		select {
		case u := <-w.updates:
			switch u.State {
			case mscontrol.MediaEnded, mscontrol.MediaFailed:
				return u, true
			}
		case <-ctx.Done():
			return mscontrol.MediaUpdate{}, false
		}
	}
}

func closeSession(mc MediaController, log logger.Logger, callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.CloseMediaSession(ctx, callID); err != nil {
		log.Debugw("could not close media session", "error", err)
	}
}
