// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package inmem provides a synchronous in-memory transport.Conn pair for
// deterministic tests: two io.Pipe-backed endpoints wired front-to-back
// so writes on one side surface as reads on the other with no network
// involved.
package inmem

import (
	"context"
	"io"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/transport"
)

// Pair returns two connected transport.Conn endpoints: a frame written to
// a's sink is readable from b's source, and vice versa.
func Pair() (a, b transport.Conn) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()

	a = &conn{sr: frame.NewStreamReader(r1, 0), sw: frame.NewStreamWriter(w2), ownReader: r1, peerWriter: w2}
	b = &conn{sr: frame.NewStreamReader(r2, 0), sw: frame.NewStreamWriter(w1), ownReader: r2, peerWriter: w1}
	return a, b
}

type conn struct {
	sr *frame.StreamReader
	sw *frame.StreamWriter

	// ownReader is closed on Close to unblock this side's own pending Recv
	// immediately, rather than waiting on the peer to close its end.
	ownReader *io.PipeReader
	// peerWriter is closed on Close to surface io.EOF to the peer's Recv.
	peerWriter *io.PipeWriter
}

func (c *conn) Send(ctx context.Context, f *frame.Frame) error {
	return c.sw.WriteFrame(f)
}

func (c *conn) SendRaw(ctx context.Context, wire []byte) error {
	return c.sw.WriteRaw(wire)
}

func (c *conn) Recv(ctx context.Context) (*frame.Frame, error) {
	return c.sr.ReadFrame()
}

func (c *conn) RecvRaw(ctx context.Context) (frame.RawFrame, error) {
	return c.sr.ReadRaw()
}

func (c *conn) Close() error {
	_ = c.ownReader.Close()
	return c.peerWriter.Close()
}

var _ transport.Conn = (*conn)(nil)
