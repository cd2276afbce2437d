// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package inmem

import (
	"context"
	"testing"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

func TestPair_SendRecvRoundTrip(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	sent := &frame.Frame{
		StreamID: 1,
		Type:     frame.TypeRequestResponse,
		Payload:  frame.Payload{Data: []byte("hello")},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Send(ctx, sent) }()

	got, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got.Payload.Data) != "hello" {
		t.Fatalf("payload = %q, want %q", got.Payload.Data, "hello")
	}
	if got.StreamID != 1 || got.Type != frame.TypeRequestResponse {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestPair_Bidirectional(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	go func() {
		a.Send(ctx, &frame.Frame{StreamID: 1, Type: frame.TypeRequestFNF})
	}()
	go func() {
		b.Send(ctx, &frame.Frame{StreamID: 2, Type: frame.TypeRequestFNF})
	}()

	gotFromA, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("b.Recv: %v", err)
	}
	if gotFromA.StreamID != 1 {
		t.Fatalf("b got stream %d, want 1", gotFromA.StreamID)
	}

	gotFromB, err := a.Recv(ctx)
	if err != nil {
		t.Fatalf("a.Recv: %v", err)
	}
	if gotFromB.StreamID != 2 {
		t.Fatalf("a got stream %d, want 2", gotFromB.StreamID)
	}
}

func TestPair_CloseSurfacesEOF(t *testing.T) {
	a, b := Pair()
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := b.Recv(context.Background()); err == nil {
		t.Fatal("expected Recv on closed peer to error")
	}
}
