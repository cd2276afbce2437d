// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package keepalive drives periodic KEEPALIVE emission and inbound
// liveness tracking for one duplex connection: a ticker-driven writer
// paired with a per-tick check of the time since the last inbound frame
// that tears the connection down once the peer has been silent past the
// negotiated max lifetime.
package keepalive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
)

// ErrMaxLifetimeExceeded is the cause passed to Sender.Close when no
// inbound frame has arrived within the negotiated max-lifetime.
var ErrMaxLifetimeExceeded = errors.New("keepalive: max-lifetime exceeded with no inbound frame")

// Sender is the subset of *duplex.Duplex the keepalive driver needs.
type Sender interface {
	SendConnectionFrame(ctx context.Context, f *frame.Frame) error
	LastRecvUnixNano() int64
	Close(cause error)
}

// Driver emits KEEPALIVE(respond=true) on Interval and closes the
// connection if no inbound frame of any kind has been observed within
// MaxLifetime.
type Driver struct {
	sender      Sender
	interval    time.Duration
	maxLifetime time.Duration
	logger      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Driver. interval and maxLifetime come from the negotiated
// SETUP parameters.
func New(sender Sender, interval, maxLifetime time.Duration, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		sender:      sender,
		interval:    interval,
		maxLifetime: maxLifetime,
		logger:      logger.With("component", "keepalive"),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background ticker goroutine.
func (d *Driver) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop halts the driver without closing the underlying connection.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Driver) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			age := time.Duration(time.Now().UnixNano() - d.sender.LastRecvUnixNano())
			if age > d.maxLifetime {
				d.logger.Error("no inbound frame within max-lifetime, closing connection", "age", age, "max_lifetime", d.maxLifetime)
				errFrame := &frame.Frame{
					Type:      frame.TypeError,
					ErrorCode: frame.ErrorCodeConnectionError,
					Payload:   frame.Payload{Data: []byte(ErrMaxLifetimeExceeded.Error())},
				}
				_ = d.sender.SendConnectionFrame(context.Background(), errFrame)
				go d.sender.Close(ErrMaxLifetimeExceeded)
				return
			}
			f := &frame.Frame{Type: frame.TypeKeepalive, Flags: frame.FlagRespond}
			if err := d.sender.SendConnectionFrame(context.Background(), f); err != nil {
				d.logger.Debug("keepalive emission failed", "error", err)
			}
		}
	}
}
