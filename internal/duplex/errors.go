// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package duplex

import (
	"errors"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// ErrConnectionClosed is delivered to every pending initiator and every
// running responder task when the connection is torn down.
var ErrConnectionClosed = errors.New("duplex: connection closed")

// ErrCanceled is delivered to a client-side initiator whose interaction
// was aborted by a peer CANCEL.
var ErrCanceled = errors.New("duplex: canceled by peer")

// ApplicationError wraps the ERROR frame data an ERROR(APPLICATION_ERROR)
// (or any other non-connection-scoped error code) carries back from the
// peer, surfaced to the initiator that issued the request.
type ApplicationError struct {
	Code frame.ErrorCode
	Data string
}

func (e *ApplicationError) Error() string {
	if e.Data == "" {
		return "duplex: peer error " + e.Code.String()
	}
	return "duplex: peer error " + e.Code.String() + ": " + e.Data
}
