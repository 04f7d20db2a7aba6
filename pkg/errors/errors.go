// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"github.com/livekit/psrpc"
)

var (
	ErrNoConfig       = psrpc.NewErrorf(psrpc.InvalidArgument, "missing config")
	ErrUnavailable    = psrpc.NewErrorf(psrpc.Unavailable, "too many active calls")
	ErrShuttingDown   = psrpc.NewErrorf(psrpc.Unavailable, "service is shutting down")
	ErrGatewayClosed  = psrpc.NewErrorf(psrpc.Unavailable, "media gateway front-end closed")
	ErrRequestTimeout = psrpc.NewErrorf(psrpc.DeadlineExceeded, "media gateway request timed out")
	ErrControllerGone = psrpc.NewErrorf(psrpc.Unavailable, "media session controller stopped")
)

func ErrCouldNotParseConfig(err error) psrpc.Error {
	return psrpc.NewErrorf(psrpc.InvalidArgument, "could not parse config: %v", err)
}

func ErrCallExists(callID string) psrpc.Error {
	return psrpc.NewErrorf(psrpc.AlreadyExists, "media session for call %q already exists", callID)
}

func ErrCallNotFound(callID string) psrpc.Error {
	return psrpc.NewErrorf(psrpc.NotFound, "no media session for call %q", callID)
}

func ErrUnknownHandle(handle string) psrpc.Error {
	return psrpc.NewErrorf(psrpc.NotFound, "unknown gateway handle %q", handle)
}
