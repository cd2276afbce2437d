// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package streamid allocates RSocket stream-ids: a monotonic counter
// incrementing by 2, odd on the client side and even on the server side,
// wrapping back to its initial value past the 31-bit ceiling.
package streamid

import (
	"sync"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// Side selects the allocator's parity and initial value.
type Side int

const (
	// Client allocators start at 1 and issue odd ids.
	Client Side = iota
	// Server allocators start at 2 and issue even ids.
	Server
)

const maxStreamID = uint32(0x7FFFFFFF)

// Occupied reports whether a stream-id is currently in use, so the
// allocator can skip over it after wrap-around.
type Occupied func(id frame.StreamID) bool

// Allocator issues stream-ids for one side of a connection. It is safe for
// concurrent use: initiator tasks (one per client call) allocate
// concurrently while the dispatch loop only reads ids back out of frames
// it receives, so the allocator itself needs mutual exclusion but nothing
// else in the duplex does.
type Allocator struct {
	mu      sync.Mutex
	next    uint32
	initial uint32
}

// New returns an Allocator for side, starting at 1 (Client) or 2 (Server).
func New(side Side) *Allocator {
	initial := uint32(1)
	if side == Server {
		initial = 2
	}
	return &Allocator{next: initial, initial: initial}
}

// Next returns the next stream-id, skipping any id for which occupied
// reports true (consulted only on wrap-around in practice, since the
// registry is sparse relative to the 31-bit id space and ids are rare to
// collide given connection lifetime). occupied may be nil.
func (a *Allocator) Next(occupied Occupied) frame.StreamID {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		id := a.next
		a.advance()
		if occupied == nil || !occupied(frame.StreamID(id)) {
			return frame.StreamID(id)
		}
	}
}

// advance steps the counter by 2, wrapping back to the allocator's initial
// value once incrementing would exceed the 31-bit stream-id ceiling.
func (a *Allocator) advance() {
	if a.next > maxStreamID-2 {
		a.next = a.initial
		return
	}
	a.next += 2
}
