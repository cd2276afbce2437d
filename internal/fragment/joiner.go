// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fragment

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// ErrChainMismatch means a non-continuation frame arrived for a stream-id
// that already had a pending fragment chain — a different type, or a
// frame that doesn't belong to the same logical frame. Treated as a
// connection-level protocol error.
var ErrChainMismatch = errors.New("fragment: mismatched fragment chain")

type pending struct {
	streamID frame.StreamID
	typ      frame.Type
	body     []byte
}

// Joiner reassembles per-stream FOLLOWS chains into logical frames. Its
// state is per-stream and touched only by the dispatch loop goroutine, so
// it carries no internal locking; joinedBytes is atomic only so it can be
// read from another goroutine for observability.
type Joiner struct {
	byStream    map[frame.StreamID]*pending
	joinedBytes atomic.Int64
}

// NewJoiner returns an empty Joiner.
func NewJoiner() *Joiner {
	return &Joiner{byStream: make(map[frame.StreamID]*pending)}
}

// Feed accepts one raw wire unit (already header-parsed via
// frame.ParseHeader). When raw completes a chain (FlagFollows absent), it
// returns the fully reassembled logical Frame. When raw extends or starts
// a chain, it returns (nil, nil) — the caller should continue reading.
func (j *Joiner) Feed(raw frame.RawFrame) (*frame.Frame, error) {
	p, ok := j.byStream[raw.StreamID]
	// Bit 7 means FOLLOWS except on KEEPALIVE (RESPOND) and SETUP
	// (RESUME_ENABLE), where it never opens a fragment chain.
	follows := raw.Flags.Has(frame.FlagFollows) && raw.Type != frame.TypeKeepalive && raw.Type != frame.TypeSetup

	if !ok {
		if !follows {
			// Fast path: the overwhelmingly common case of an unfragmented frame.
			return frame.DecodeBody(raw)
		}
		p = &pending{streamID: raw.StreamID, typ: raw.Type}
		j.byStream[raw.StreamID] = p
	} else if p.typ != raw.Type {
		delete(j.byStream, raw.StreamID)
		return nil, fmt.Errorf("%w: stream %d started as %s, continued as %s", ErrChainMismatch, raw.StreamID, p.typ, raw.Type)
	}

	p.body = append(p.body, raw.Body...)
	j.joinedBytes.Add(int64(len(raw.Body)))

	if follows {
		return nil, nil
	}

	delete(j.byStream, raw.StreamID)
	final := frame.RawFrame{StreamID: raw.StreamID, Type: raw.Type, Flags: raw.Flags, Body: p.body}
	return frame.DecodeBody(final)
}

// Abandon drops any pending chain for a stream-id, used when a stream is
// cancelled or errored out from under a partially-received fragment chain.
func (j *Joiner) Abandon(id frame.StreamID) {
	delete(j.byStream, id)
}

// Pending reports whether stream-id id has an in-progress fragment chain.
func (j *Joiner) Pending(id frame.StreamID) bool {
	_, ok := j.byStream[id]
	return ok
}

// JoinedBytes returns the total body bytes reassembled so far, across all
// streams. Safe to call from any goroutine.
func (j *Joiner) JoinedBytes() int64 { return j.joinedBytes.Load() }
