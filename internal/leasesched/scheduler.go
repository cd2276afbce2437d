// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package leasesched drives server-side periodic LEASE re-issuance
// alongside the requester-side internal/lease throttle.
//
// It wraps a robfig/cron/v3 cron.Cron around a single guarded job (a
// running bool under a mutex, skip-if-already-running), exactly one job
// per connection since a connection has exactly one LEASE budget to
// re-issue.
package leasesched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// Emitter is the subset of *duplex.Duplex the scheduler needs to re-issue
// LEASE frames on stream-id 0.
type Emitter interface {
	SendConnectionFrame(ctx context.Context, f *frame.Frame) error
}

// Schedule configures one LEASE re-issuance job.
type Schedule struct {
	// CronExpr is a standard five-field cron expression, or a
	// robfig/cron "@every" descriptor such as "@every 30s".
	CronExpr string
	// NumRequests and TTL become the LEASE frame's fields on every tick.
	NumRequests uint32
	TTL         time.Duration
}

// Scheduler re-emits LEASE(NumRequests, TTL) on Schedule.CronExpr until
// Stop is called. A tick that finds the previous emission still in flight
// is skipped and logged, rather than queuing up concurrent emissions.
type Scheduler struct {
	cron     *cron.Cron
	emitter  Emitter
	schedule Schedule
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New builds a Scheduler. Call Start to begin emitting.
func New(emitter Emitter, schedule Schedule, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		emitter:  emitter,
		schedule: schedule,
		logger:   logger.With("component", "leasesched"),
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule.CronExpr, s.tick); err != nil {
		return nil, fmt.Errorf("leasesched: registering cron schedule %q: %w", schedule.CronExpr, err)
	}
	s.cron = c
	return s, nil
}

// Start begins the cron driver.
func (s *Scheduler) Start() {
	s.logger.Info("lease scheduler started", "schedule", s.schedule.CronExpr, "num_requests", s.schedule.NumRequests, "ttl", s.schedule.TTL)
	s.cron.Start()
}

// Stop halts the cron driver and waits for any in-flight tick to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("lease scheduler stop timed out")
	}
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous lease emission still in flight, skipping this tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	f := &frame.Frame{
		Type:             frame.TypeLease,
		LeaseTTLMillis:   uint32(s.schedule.TTL.Milliseconds()),
		LeaseNumRequests: s.schedule.NumRequests,
	}
	if err := s.emitter.SendConnectionFrame(context.Background(), f); err != nil {
		s.logger.Error("lease emission failed", "error", err)
		return
	}
	s.logger.Debug("lease re-issued", "num_requests", s.schedule.NumRequests, "ttl", s.schedule.TTL)
}
