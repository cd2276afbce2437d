// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package registry

import (
	"sync"
	"testing"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

func TestRegistry_InsertLookupRemove(t *testing.T) {
	r := New()
	e := NewOneShot(nil)

	if !r.Insert(1, e) {
		t.Fatal("first insert should succeed")
	}
	if r.Insert(1, NewOneShot(nil)) {
		t.Fatal("second insert for same id should fail")
	}

	got, ok := r.Lookup(1)
	if !ok || got != e {
		t.Fatalf("Lookup(1) = %v, %v; want original entry", got, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	r.Remove(1)
	if _, ok := r.Lookup(1); ok {
		t.Fatal("entry should be gone after Remove")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := New()
	r.Remove(42) // no entry present; must not panic or go negative
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
	r.Insert(42, NewOneShot(nil))
	r.Remove(42)
	r.Remove(42)
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after double remove, want 0", r.Len())
	}
}

func TestRegistry_OccupiedReflectsLiveEntries(t *testing.T) {
	r := New()
	if r.Occupied(5) {
		t.Fatal("id 5 should not be occupied yet")
	}
	r.Insert(5, NewStream(nil))
	if !r.Occupied(5) {
		t.Fatal("id 5 should be occupied after insert")
	}
	r.Remove(5)
	if r.Occupied(5) {
		t.Fatal("id 5 should not be occupied after remove")
	}
}

func TestRegistry_RangeVisitsAllAndCanShortCircuit(t *testing.T) {
	r := New()
	for i := frame.StreamID(1); i <= 5; i += 2 {
		r.Insert(i, NewOneShot(nil))
	}

	seen := map[frame.StreamID]bool{}
	r.Range(func(id frame.StreamID, e *Entry) bool {
		seen[id] = true
		return true
	})
	if len(seen) != 3 {
		t.Fatalf("Range visited %d entries, want 3", len(seen))
	}

	count := 0
	r.Range(func(id frame.StreamID, e *Entry) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Range should have stopped after first entry, visited %d", count)
	}
}

func TestRegistry_ConcurrentInsertRemove(t *testing.T) {
	r := New()
	const n = 300
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := frame.StreamID(i*2 + 1)
			r.Insert(id, NewOneShot(nil))
			r.Remove(id)
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after concurrent insert/remove, want 0", r.Len())
	}
}

func TestEntry_OneShotDeliversSingleResult(t *testing.T) {
	e := NewOneShot(nil)
	e.Results <- Result{Payload: frame.Payload{Data: []byte("hi")}, Complete: true}
	close(e.Results)

	got, ok := <-e.Results
	if !ok {
		t.Fatal("expected a result")
	}
	if string(got.Payload.Data) != "hi" {
		t.Fatalf("payload = %q, want %q", got.Payload.Data, "hi")
	}
	if _, ok := <-e.Results; ok {
		t.Fatal("channel should be closed after single delivery")
	}
}

func TestEntry_ChannelHasOutboundHandle(t *testing.T) {
	e := NewChannel(nil)
	if e.Outbound == nil {
		t.Fatal("request/channel entry must have a non-nil Outbound handle")
	}
	e.Outbound <- frame.Payload{Data: []byte("ping")}
	got := <-e.Outbound
	if string(got.Data) != "ping" {
		t.Fatalf("outbound payload = %q, want %q", got.Data, "ping")
	}
}

func TestEntry_StreamHasNoOutboundHandle(t *testing.T) {
	e := NewStream(nil)
	if e.Outbound != nil {
		t.Fatal("request/stream entry must not have an Outbound handle")
	}
}
