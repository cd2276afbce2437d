// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package responder

import (
	"context"
	"errors"
	"testing"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

type recordingSink struct {
	items []frame.Payload
}

func (s *recordingSink) Next(ctx context.Context, p frame.Payload) error {
	s.items = append(s.items, p)
	return nil
}

func TestUnimplementedResponder_AllCapabilitiesReturnNotImplemented(t *testing.T) {
	var r UnimplementedResponder
	ctx := context.Background()

	if _, err := r.RequestResponse(ctx, frame.Payload{}); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("RequestResponse error = %v, want ErrNotImplemented", err)
	}
	if err := r.FireAndForget(ctx, frame.Payload{}); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("FireAndForget error = %v, want ErrNotImplemented", err)
	}
	if err := r.RequestStream(ctx, frame.Payload{}, &recordingSink{}); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("RequestStream error = %v, want ErrNotImplemented", err)
	}
	if err := r.RequestChannel(ctx, frame.Payload{}, nil, &recordingSink{}); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("RequestChannel error = %v, want ErrNotImplemented", err)
	}
	// MetadataPush has no return value to assert on; it must simply not panic.
	r.MetadataPush(ctx, []byte("x"))
}

// echoResponder overrides RequestResponse only, leaving every other
// capability defaulted via the embedded UnimplementedResponder — this is
// the shape every concrete responder in this repo follows.
type echoResponder struct {
	UnimplementedResponder
}

func (echoResponder) RequestResponse(ctx context.Context, p frame.Payload) (frame.Payload, error) {
	return p, nil
}

func TestResponder_PartialOverride(t *testing.T) {
	var r Responder = echoResponder{}

	got, err := r.RequestResponse(context.Background(), frame.Payload{Data: []byte("ping")})
	if err != nil {
		t.Fatalf("RequestResponse: %v", err)
	}
	if string(got.Data) != "ping" {
		t.Errorf("echo response = %q, want %q", got.Data, "ping")
	}

	if err := r.FireAndForget(context.Background(), frame.Payload{}); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("unoverridden FireAndForget error = %v, want ErrNotImplemented", err)
	}
}
