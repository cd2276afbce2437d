// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport defines the byte-level contract the duplex core needs
// from an underlying connection: an ordered, reliable channel capable of
// carrying whole frames. Concrete implementations live in subpackages
// (tcptransport, inmem).
package transport

import (
	"context"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// Sink is the outbound half of a transport: something the duplex core's
// single writer goroutine can push wire-ready frames into.
type Sink interface {
	Send(ctx context.Context, f *frame.Frame) error
	Close() error
}

// Source is the inbound half: something the duplex core's read loop pulls
// frames from. Recv returns io.EOF when the peer closes cleanly.
type Source interface {
	Recv(ctx context.Context) (*frame.Frame, error)
}

// Conn bundles both halves plus raw fragment-aware primitives, which the
// duplex core needs because Fragment/Joiner operate on frame.RawFrame, not
// fully decoded frame.Frame values. Concrete transports satisfy Conn
// directly; Sink/Source above exist as the narrower public contract for
// external integrations that only need whole decoded frames.
type Conn interface {
	Sink
	Source

	// SendRaw writes one already-encoded wire chunk (a Fragment() output
	// element) without re-encoding it — needed so continuation fragments,
	// which are not independently decodable Frames, can still be written.
	SendRaw(ctx context.Context, wire []byte) error

	// RecvRaw reads one wire unit with its header parsed but its body left
	// undecoded, for feeding into a fragment.Joiner.
	RecvRaw(ctx context.Context) (frame.RawFrame, error)
}
