// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package responder defines the capability surface the duplex dispatch
// loop invokes for peer-initiated requests. It is a pure capability
// interface — it holds no socket state, so a responder is just an
// injected set of function-shaped behaviors rather than a stateful
// object wired into the transport layer.
package responder

import (
	"context"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// StreamSink is how a request_stream or request_channel responder
// implementation emits items back to the peer. Next delivers one payload;
// the responder calls it until its sequence is exhausted, then returns nil
// from the originating method to signal COMPLETE, or returns an error to
// signal ERROR. Next itself returns an error if the peer has already
// cancelled the stream — implementations should stop producing.
type StreamSink interface {
	Next(ctx context.Context, p frame.Payload) error
}

// Responder is the capability set a peer-facing handler implements: one
// method per RSocket interaction type, each with a default
// no-op/ApplicationError behavior via UnimplementedResponder, so concrete
// types only need to embed it and override what they support.
type Responder interface {
	// RequestResponse handles a REQUEST_RESPONSE. The returned payload (or
	// error) becomes the single PAYLOAD(COMPLETE) or ERROR response.
	RequestResponse(ctx context.Context, p frame.Payload) (frame.Payload, error)

	// FireAndForget handles a REQUEST_FNF. Its result is never observable
	// to the peer; errors are logged by the caller only.
	FireAndForget(ctx context.Context, p frame.Payload) error

	// RequestStream handles a REQUEST_STREAM, pushing items to sink until
	// ctx is cancelled (peer CANCEL) or the stream is exhausted.
	RequestStream(ctx context.Context, p frame.Payload, sink StreamSink) error

	// RequestChannel handles a REQUEST_CHANNEL. inbound yields payloads the
	// peer streams to us (closed when the peer completes or errors its
	// side); the responder pushes its own items to sink.
	RequestChannel(ctx context.Context, p frame.Payload, inbound <-chan frame.Payload, sink StreamSink) error

	// MetadataPush handles a connection-level METADATA_PUSH. There is no
	// response.
	MetadataPush(ctx context.Context, metadata []byte)
}

// ErrNotImplemented is the error UnimplementedResponder's methods return;
// the dispatch loop surfaces it to the peer as ERROR(APPLICATION_ERROR)
// carrying its message, "responder: capability not implemented".
var ErrNotImplemented = errNotImplemented{}

type errNotImplemented struct{}

func (errNotImplemented) Error() string { return "responder: capability not implemented" }

// UnimplementedResponder gives every Responder method a protocol-correct
// default. Embed it in a concrete responder and override only the
// capabilities that type actually supports.
type UnimplementedResponder struct{}

func (UnimplementedResponder) RequestResponse(context.Context, frame.Payload) (frame.Payload, error) {
	return frame.Payload{}, ErrNotImplemented
}

func (UnimplementedResponder) FireAndForget(context.Context, frame.Payload) error {
	return ErrNotImplemented
}

func (UnimplementedResponder) RequestStream(context.Context, frame.Payload, StreamSink) error {
	return ErrNotImplemented
}

func (UnimplementedResponder) RequestChannel(context.Context, frame.Payload, <-chan frame.Payload, StreamSink) error {
	return ErrNotImplemented
}

func (UnimplementedResponder) MetadataPush(context.Context, []byte) {}

var _ Responder = UnimplementedResponder{}
