// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package leasesched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

type recordingEmitter struct {
	count atomic.Int64
	last  atomic.Pointer[frame.Frame]
}

func (e *recordingEmitter) SendConnectionFrame(ctx context.Context, f *frame.Frame) error {
	e.count.Add(1)
	e.last.Store(f)
	return nil
}

func TestScheduler_EmitsLeaseOnEveryTick(t *testing.T) {
	em := &recordingEmitter{}
	s, err := New(em, Schedule{CronExpr: "@every 50ms", NumRequests: 4, TTL: 500 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for em.count.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if em.count.Load() < 2 {
		t.Fatalf("expected at least 2 lease emissions, got %d", em.count.Load())
	}

	got := em.last.Load()
	if got.Type != frame.TypeLease {
		t.Fatalf("frame type = %v, want LEASE", got.Type)
	}
	if got.LeaseNumRequests != 4 {
		t.Fatalf("LeaseNumRequests = %d, want 4", got.LeaseNumRequests)
	}
}

func TestScheduler_InvalidCronExprRejected(t *testing.T) {
	em := &recordingEmitter{}
	if _, err := New(em, Schedule{CronExpr: "not a cron expr"}, nil); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
