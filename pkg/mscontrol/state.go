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

// State of a media session controller.
type State string

const (
	StateUninitialized                State = "uninitialized"
	StateAcquiringMediaGatewayInfo    State = "acquiringMediaGatewayInfo"
	StateAcquiringMediaSession        State = "acquiringMediaSession"
	StateAcquiringBridge              State = "acquiringBridge"
	StateAcquiringRemoteConnection    State = "acquiringRemoteConnection"
	StateInitializingRemoteConnection State = "initializingRemoteConnection"
	StateOpeningRemoteConnection      State = "openingRemoteConnection"
	StateActive                       State = "active"
	StatePending                      State = "pending"
	StateMuting                       State = "muting"
	StateUnmuting                     State = "unmuting"
	StateUpdatingRemoteConnection     State = "updatingRemoteConnection"
	StateClosingRemoteConnection      State = "closingRemoteConnection"
	StateAcquiringInternalLink        State = "acquiringInternalLink"
	StateInitializingInternalLink     State = "initializingInternalLink"
	StateOpeningInternalLink          State = "openingInternalLink"
	StateUpdatingInternalLink         State = "updatingInternalLink"
	StateClosingInternalLink          State = "closingInternalLink"
	StateInactive                     State = "inactive"
	StateFailed                       State = "failed"
)

var allStates = []State{
	StateUninitialized,
	StateAcquiringMediaGatewayInfo,
	StateAcquiringMediaSession,
	StateAcquiringBridge,
	StateAcquiringRemoteConnection,
	StateInitializingRemoteConnection,
	StateOpeningRemoteConnection,
	StateActive,
	StatePending,
	StateMuting,
	StateUnmuting,
	StateUpdatingRemoteConnection,
	StateClosingRemoteConnection,
	StateAcquiringInternalLink,
	StateInitializingInternalLink,
	StateOpeningInternalLink,
	StateUpdatingInternalLink,
	StateClosingInternalLink,
	StateInactive,
	StateFailed,
}

// States lists every controller state.
func States() []State {
	return append([]State(nil), allStates...)
}

func (s State) String() string {
	return string(s)
}

func (s State) IsTerminal() bool {
	return s == StateInactive || s == StateFailed
}

// awaitsGateway reports whether the state is waiting on a gateway reply or notification.
func (s State) awaitsGateway() bool {
	switch s {
	case StateUninitialized, StateActive, StatePending, StateInactive, StateFailed:
		return false
	}
	return true
}

var (
	acquiringStates = []State{
		StateAcquiringMediaGatewayInfo,
		StateAcquiringMediaSession,
		StateAcquiringBridge,
		StateAcquiringRemoteConnection,
	}
	// states holding a remote connection that can be torn down with a close request
	connectedStates = []State{
		StateInitializingRemoteConnection,
		StateOpeningRemoteConnection,
		StateActive,
		StatePending,
		StateMuting,
		StateUnmuting,
		StateUpdatingRemoteConnection,
		StateAcquiringInternalLink,
		StateInitializingInternalLink,
		StateOpeningInternalLink,
		StateUpdatingInternalLink,
	}
	// states where a link request is outstanding
	linkingStates = []State{
		StateAcquiringInternalLink,
		StateInitializingInternalLink,
		StateOpeningInternalLink,
		StateUpdatingInternalLink,
	}
)

// MediaState is the coarse outcome reported to the signaling layer.
type MediaState int

const (
	MediaNone MediaState = iota
	MediaPending
	MediaReady
	MediaEnded
	MediaFailed
)

func (s MediaState) String() string {
	switch s {
	case MediaPending:
		return "pending"
	case MediaReady:
		return "ready"
	case MediaEnded:
		return "ended"
	case MediaFailed:
		return "failed"
	default:
		return "none"
	}
}

func mediaStateOf(s State) MediaState {
	switch s {
	case StateActive:
		return MediaReady
	case StatePending:
		return MediaPending
	case StateInactive:
		return MediaEnded
	case StateFailed:
		return MediaFailed
	default:
		return MediaNone
	}
}
