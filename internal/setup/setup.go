// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package setup performs the once-per-connection SETUP exchange, then
// hands the negotiated connection off to internal/duplex and
// internal/keepalive: accept (or dial), install the handler, then start
// the dispatch loop.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/duplex"
	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/keepalive"
	"github.com/nishisan-dev/rsocket-go/internal/lease"
	"github.com/nishisan-dev/rsocket-go/internal/responder"
	"github.com/nishisan-dev/rsocket-go/internal/streamid"
	"github.com/nishisan-dev/rsocket-go/internal/transport"
)

// MajorVersion and MinorVersion are the RSocket wire version this runtime
// speaks, carried in every outbound SETUP.
const (
	MajorVersion uint16 = 1
	MinorVersion uint16 = 0
)

// Config carries the local connection parameters a client offers in SETUP.
type Config struct {
	KeepaliveInterval time.Duration
	MaxLifetime       time.Duration
	MetadataMimeType  string
	DataMimeType      string
	Payload           frame.Payload // optional setup payload, delivered verbatim to the server's acceptor
	MTU               int           // 0 disables fragmentation
	Lease             bool          // advertise LEASE support
	LeaseEnabled      bool          // enforce peer-granted LEASE budget on this side's requester
}

// Connection bundles a running Duplex with the keepalive driver backing
// it, so callers tear both down together.
type Connection struct {
	Duplex *duplex.Duplex

	// Lease is non-nil when LeaseEnabled was set, so a caller can inspect
	// the throttle's state for diagnostics. Enforcement itself happens
	// automatically inside Duplex's requester methods.
	Lease *lease.Throttle

	keepalive *keepalive.Driver
}

// Close stops the keepalive driver and tears down the underlying duplex
// connection.
func (c *Connection) Close(cause error) {
	c.keepalive.Stop()
	c.Duplex.Close(cause)
}

// Connect performs the client side of setup negotiation: emit SETUP, then
// start the dispatch loop and keepalive driver.
func Connect(ctx context.Context, conn transport.Conn, cfg Config, resp responder.Responder, logger *slog.Logger) (*Connection, error) {
	setupFrame := &frame.Frame{
		Type: frame.TypeSetup,
		Setup: &frame.SetupInfo{
			MajorVersion:      MajorVersion,
			MinorVersion:      MinorVersion,
			KeepaliveInterval: uint32(cfg.KeepaliveInterval.Milliseconds()),
			MaxLifetime:       uint32(cfg.MaxLifetime.Milliseconds()),
			MetadataMimeType:  cfg.MetadataMimeType,
			DataMimeType:      cfg.DataMimeType,
		},
		Payload: cfg.Payload,
	}
	if cfg.Lease {
		setupFrame.Flags |= frame.FlagLease
	}
	if cfg.Payload.HasMetadata() {
		setupFrame.Flags |= frame.FlagMetadata
	}
	if err := conn.Send(ctx, setupFrame); err != nil {
		return nil, fmt.Errorf("setup: sending SETUP: %w", err)
	}

	var throttle *lease.Throttle
	if cfg.LeaseEnabled {
		throttle = lease.New()
	}
	d := duplex.New(conn, duplex.Options{Side: streamid.Client, Responder: resp, Logger: logger, MTU: cfg.MTU, LeaseThrottle: throttle})
	d.Start()

	driver := keepalive.New(d, cfg.KeepaliveInterval, cfg.MaxLifetime, logger)
	driver.Start()

	return &Connection{Duplex: d, Lease: throttle, keepalive: driver}, nil
}

// Acceptor inspects an inbound SETUP's parameters and payload and decides
// whether to accept the connection. Returning a non-nil error rejects it
// with ERROR(REJECTED_SETUP); the error's message is carried as
// diagnostic data.
type Acceptor func(ctx context.Context, info *frame.SetupInfo, payload frame.Payload) (responder.Responder, error)

// AcceptOptions configures the server side of a single accepted connection.
type AcceptOptions struct {
	MTU          int  // 0 disables fragmentation
	LeaseEnabled bool // enforce peer-granted LEASE budget on this side's requester
}

// Accept performs the server side of setup negotiation: read the first
// frame, require SETUP, delegate acceptance to acceptor, then start the
// dispatch loop and keepalive driver with the returned responder
// installed.
func Accept(ctx context.Context, conn transport.Conn, acceptor Acceptor, opts AcceptOptions, logger *slog.Logger) (*Connection, error) {
	first, err := conn.Recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("setup: reading first frame: %w", err)
	}
	if first.Type != frame.TypeSetup || first.Setup == nil {
		rejectWithError(ctx, conn, frame.ErrorCodeInvalidSetup, "first frame must be SETUP")
		return nil, fmt.Errorf("setup: first frame was %s, want SETUP", first.Type)
	}
	if first.Flags.Has(frame.FlagResumeEnable) {
		rejectWithError(ctx, conn, frame.ErrorCodeUnsupportedSetup, "RESUME is not supported")
		return nil, fmt.Errorf("setup: rejected RESUME_ENABLE (unsupported)")
	}

	resp, err := acceptor(ctx, first.Setup, first.Payload)
	if err != nil {
		rejectWithError(ctx, conn, frame.ErrorCodeRejectedSetup, err.Error())
		return nil, fmt.Errorf("setup: rejected: %w", err)
	}

	interval := time.Duration(first.Setup.KeepaliveInterval) * time.Millisecond
	maxLifetime := time.Duration(first.Setup.MaxLifetime) * time.Millisecond

	var throttle *lease.Throttle
	if opts.LeaseEnabled {
		throttle = lease.New()
	}
	d := duplex.New(conn, duplex.Options{Side: streamid.Server, Responder: resp, Logger: logger, MTU: opts.MTU, LeaseThrottle: throttle})
	d.Start()

	driver := keepalive.New(d, interval, maxLifetime, logger)
	driver.Start()

	return &Connection{Duplex: d, Lease: throttle, keepalive: driver}, nil
}

func rejectWithError(ctx context.Context, conn transport.Conn, code frame.ErrorCode, msg string) {
	f := &frame.Frame{Type: frame.TypeError, ErrorCode: code, Payload: frame.Payload{Data: []byte(msg)}}
	_ = conn.Send(ctx, f)
	_ = conn.Close()
}
