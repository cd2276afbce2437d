// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package lease implements opt-in lease-aware throttling of new request
// emission on the requester side, wired in via duplex.Options.LeaseThrottle.
//
// It wraps a golang.org/x/time/rate.Limiter token bucket around request
// *emission rate* instead of byte throughput: a received
// LEASE(num-requests, ttl) installs a fresh limiter sized to spend its
// whole budget evenly across the ttl window.
package lease

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrLeaseExhausted is returned by Allow when the current lease has no
// remaining budget. The caller must not block — the request is simply
// refused until the lease refills or a fresh LEASE arrives.
type errLeaseExhausted struct{}

func (errLeaseExhausted) Error() string { return "lease: requester has no remaining lease budget" }

// ErrLeaseExhausted is the sentinel returned by Throttle.Allow.
var ErrLeaseExhausted error = errLeaseExhausted{}

// Throttle gates client-initiated REQUEST_* emission against the most
// recent LEASE the peer granted. The zero value has no lease installed
// yet and allows everything — matching the RSocket convention that a
// requester may send freely until the first LEASE narrows it.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// New returns a Throttle with no lease installed.
func New() *Throttle {
	return &Throttle{}
}

// OnLease installs a fresh limiter from a received LEASE frame's fields,
// the callback shape duplex.Options.OnLease expects. ttlMillis of 0 or
// numRequests of 0 means "no further requests until the next LEASE" —
// modeled as a limiter with zero burst and zero refill rate.
func (t *Throttle) OnLease(ttlMillis, numRequests uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ttlMillis == 0 || numRequests == 0 {
		t.limiter = rate.NewLimiter(0, 0)
		return
	}
	ttl := time.Duration(ttlMillis) * time.Millisecond
	every := rate.Every(ttl / time.Duration(numRequests))
	t.limiter = rate.NewLimiter(every, int(numRequests))
}

// Allow reports whether a new client-initiated request may be emitted
// right now, consuming one unit of lease budget if so. Non-blocking: a
// refused caller gets ErrLeaseExhausted rather than stalling the dispatch
// loop. Before any LEASE has been received, Allow always succeeds.
func (t *Throttle) Allow() error {
	t.mu.Lock()
	limiter := t.limiter
	t.mu.Unlock()

	if limiter == nil {
		return nil
	}
	if !limiter.Allow() {
		return ErrLeaseExhausted
	}
	return nil
}
