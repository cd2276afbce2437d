// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streamid

import (
	"sync"
	"testing"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

func TestAllocator_ClientStartsAtOne(t *testing.T) {
	a := New(Client)
	if got := a.Next(nil); got != 1 {
		t.Fatalf("first client id = %d, want 1", got)
	}
	if got := a.Next(nil); got != 3 {
		t.Fatalf("second client id = %d, want 3", got)
	}
}

func TestAllocator_ServerStartsAtTwo(t *testing.T) {
	a := New(Server)
	if got := a.Next(nil); got != 2 {
		t.Fatalf("first server id = %d, want 2", got)
	}
	if got := a.Next(nil); got != 4 {
		t.Fatalf("second server id = %d, want 4", got)
	}
}

func TestAllocator_WrapsAtCeiling(t *testing.T) {
	a := New(Client)
	a.next = maxStreamID // force the next allocation to be the last valid odd id
	last := a.Next(nil)
	if last != frame.StreamID(maxStreamID) {
		t.Fatalf("pre-wrap id = %d, want %d", last, maxStreamID)
	}
	wrapped := a.Next(nil)
	if wrapped != 1 {
		t.Fatalf("post-wrap id = %d, want 1 (client initial)", wrapped)
	}
}

func TestAllocator_SkipsOccupiedIDs(t *testing.T) {
	a := New(Client)
	occupied := map[frame.StreamID]bool{1: true, 3: true}
	got := a.Next(func(id frame.StreamID) bool { return occupied[id] })
	if got != 5 {
		t.Fatalf("expected allocator to skip occupied ids 1 and 3, got %d", got)
	}
}

func TestAllocator_ConcurrentAllocationsAreUnique(t *testing.T) {
	a := New(Server)
	const n = 500
	ids := make(chan frame.StreamID, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ids <- a.Next(nil)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[frame.StreamID]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate stream-id allocated: %d", id)
		}
		if id%2 != 0 {
			t.Fatalf("server allocator issued odd id: %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d unique ids, want %d", len(seen), n)
	}
}
