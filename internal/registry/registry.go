// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package registry tracks the initiator-side continuation registered under
// each in-flight stream-id, so the dispatch loop can route an inbound
// PAYLOAD/ERROR/REQUEST_N/CANCEL frame to whoever is waiting on that
// stream. It is a concurrent map keyed by a small integer id: one
// goroutine inserts an entry when it starts a request, the dispatch loop
// removes it when the stream terminates.
package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// Kind identifies which of the three handler-entry shapes an Entry holds.
type Kind int

const (
	// KindRequestResponse is a one-shot continuation: exactly one Result is
	// delivered to Result then the entry is removed.
	KindRequestResponse Kind = iota
	// KindRequestStream is a continuation fed zero or more Results,
	// terminated by a Result carrying Complete or Err.
	KindRequestStream
	// KindRequestChannel is like KindRequestStream but additionally owns an
	// Outbound handle the initiator uses to forward locally-produced
	// payloads; Outbound is closed when the peer completes, cancels or
	// errors the channel from its side.
	KindRequestChannel
)

// Result is one inbound delivery for a registered stream: a PAYLOAD frame
// (Data/Metadata plus whether it was the terminal COMPLETE), or a terminal
// ERROR surfaced as Err.
type Result struct {
	Payload  frame.Payload
	Complete bool
	Err      error
}

// Entry is the initiator-side continuation registered under a stream-id.
// Results is buffered so the dispatch loop never blocks delivering into it;
// callers drain it from their own goroutine. Cancel aborts the responder
// task backing this stream-id: each spawned responder task is registered
// by stream-id in a side table of abort handles.
type Entry struct {
	Kind     Kind
	Results  chan Result
	Outbound chan frame.Payload // non-nil only for an initiator-owned KindRequestChannel
	// Inbound carries PAYLOADs arriving from the peer on a responder-owned
	// KindRequestChannel entry, toward the responder.RequestChannel
	// invocation's inbound sequence. Non-nil only on the responder side.
	Inbound chan frame.Payload
	Cancel  context.CancelFunc
	// RequestN is the outstanding credit of a responder-side request/stream
	// or request/channel entry: seeded from the request's initial request-N,
	// incremented by REQUEST_N frames the peer sends and decremented as
	// PAYLOADs are emitted.
	RequestN atomic.Int64
}

// NewOneShot returns a KindRequestResponse entry with a 1-buffered Results
// channel — the dispatch loop delivers exactly once and never blocks.
func NewOneShot(cancel context.CancelFunc) *Entry {
	return &Entry{Kind: KindRequestResponse, Results: make(chan Result, 1), Cancel: cancel}
}

// NewStream returns a KindRequestStream entry with a modestly buffered
// Results channel.
func NewStream(cancel context.CancelFunc) *Entry {
	return &Entry{Kind: KindRequestStream, Results: make(chan Result, 16), Cancel: cancel}
}

// NewChannel returns an initiator-owned KindRequestChannel entry with both
// an inbound Results channel and an outbound payload-forwarding handle.
func NewChannel(cancel context.CancelFunc) *Entry {
	return &Entry{
		Kind:     KindRequestChannel,
		Results:  make(chan Result, 16),
		Outbound: make(chan frame.Payload, 16),
		Cancel:   cancel,
	}
}

// NewResponderTask returns a bookkeeping-only entry for a peer-initiated
// REQUEST_RESPONSE or REQUEST_STREAM: its sole purpose is holding the
// cancel handle a peer CANCEL needs to abort the spawned responder task.
func NewResponderTask(kind Kind, cancel context.CancelFunc) *Entry {
	return &Entry{Kind: kind, Cancel: cancel}
}

// NewResponderChannel returns a bookkeeping entry for a peer-initiated
// REQUEST_CHANNEL: Inbound receives PAYLOADs the peer streams to us, fed to
// the responder.RequestChannel invocation's inbound sequence.
func NewResponderChannel(cancel context.CancelFunc) *Entry {
	return &Entry{Kind: KindRequestChannel, Inbound: make(chan frame.Payload, 16), Cancel: cancel}
}

// Registry is a concurrent map from stream-id to Entry. The dispatch loop
// reads and removes; initiator-side calls insert. Safe for concurrent use.
type Registry struct {
	m     sync.Map // frame.StreamID → *Entry
	count atomic.Int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// ErrAlreadyRegistered would be returned by Insert if id collided with a
// live entry; in practice the streamid allocator guarantees this never
// happens, so Insert reports collisions via its bool return instead of an
// error, mirroring sync.Map.LoadOrStore.

// Insert adds e under id. It reports false (and does not overwrite) if an
// entry is already registered for id.
func (r *Registry) Insert(id frame.StreamID, e *Entry) bool {
	_, loaded := r.m.LoadOrStore(id, e)
	if !loaded {
		r.count.Add(1)
	}
	return !loaded
}

// Lookup returns the entry registered under id, if any.
func (r *Registry) Lookup(id frame.StreamID) (*Entry, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Remove deletes the entry under id. It is idempotent: removing an id with
// no entry is a no-op.
func (r *Registry) Remove(id frame.StreamID) {
	if _, loaded := r.m.LoadAndDelete(id); loaded {
		r.count.Add(-1)
	}
}

// Occupied adapts Registry to streamid.Occupied, so the allocator can skip
// ids still live in the registry after wrap-around.
func (r *Registry) Occupied(id frame.StreamID) bool {
	_, ok := r.m.Load(id)
	return ok
}

// Len reports the number of live entries. Approximate under concurrent
// mutation, intended for diagnostics/metrics only.
func (r *Registry) Len() int64 {
	return r.count.Load()
}

// Range calls fn for every live entry, stopping early if fn returns false.
// Used by connection-level ERROR handling to propagate failure to every
// pending stream before closing the connection.
func (r *Registry) Range(fn func(id frame.StreamID, e *Entry) bool) {
	r.m.Range(func(k, v any) bool {
		return fn(k.(frame.StreamID), v.(*Entry))
	})
}
