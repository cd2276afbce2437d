// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package duplex is the core of the runtime: it owns the outbound sink,
// drives the inbound stream, maintains the stream-id registry, routes
// frames, and exposes the client-side initiator surface
// (request_response/fire_and_forget/request_stream/request_channel).
//
// The concurrency shape is a state machine advanced through atomic.Value,
// a stopCh/sync.Once pair for idempotent shutdown, a sync.WaitGroup
// tracking background goroutines, and a single-writer discipline: one
// dedicated writer goroutine drains a bounded outbound channel so access
// to the connection is serialized without a mutex, giving ordered
// delivery per stream-id.
package duplex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/fragment"
	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/lease"
	"github.com/nishisan-dev/rsocket-go/internal/registry"
	"github.com/nishisan-dev/rsocket-go/internal/responder"
	"github.com/nishisan-dev/rsocket-go/internal/streamid"
	"github.com/nishisan-dev/rsocket-go/internal/transport"
)

// DefaultInitialRequestN is used by RequestStream/RequestChannel callers
// that don't specify one.
const DefaultInitialRequestN = 64

// outboundQueueDepth bounds the writer goroutine's backlog; a slow
// transport applies backpressure to callers once it fills, so outbound
// congestion is reflected as sink suspension rather than unbounded memory
// growth.
const outboundQueueDepth = 256

// Duplex is one live RSocket connection's core state machine. Construct
// with New, then call Start before issuing any request.
type Duplex struct {
	conn      transport.Conn
	allocator *streamid.Allocator
	registry  *registry.Registry
	joiner    *fragment.Joiner
	responder responder.Responder
	logger    *slog.Logger
	mtu       int

	outboundCh chan []byte

	state      atomic.Value // string: one of state* constants
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	lastRecvNs atomic.Int64

	// onLease is invoked for every inbound LEASE frame on stream-id 0;
	// wired by internal/lease when throttling is enabled. nil means leases
	// are observed but otherwise ignored.
	onLease func(ttlMillis, numRequests uint32)

	// leaseThrottle, when non-nil, gates every client-initiated REQUEST_*
	// emission. nil means lease enforcement is disabled, keeping lease
	// support opt-in.
	leaseThrottle *lease.Throttle
}

const (
	stateRunning = "running"
	stateClosed  = "closed"
)

// Options configures a Duplex at construction time.
type Options struct {
	Side      streamid.Side
	Responder responder.Responder // nil defaults to responder.UnimplementedResponder{}
	Logger    *slog.Logger
	MTU       int // 0 disables fragmentation
	OnLease   func(ttlMillis, numRequests uint32)

	// LeaseThrottle, when non-nil, is consulted before every
	// client-initiated REQUEST_* emission and wired to receive OnLease
	// callbacks automatically (OnLease above is ignored if this is set).
	LeaseThrottle *lease.Throttle
}

// New builds a Duplex over conn. Call Start to begin processing.
func New(conn transport.Conn, opts Options) *Duplex {
	resp := opts.Responder
	if resp == nil {
		resp = responder.UnimplementedResponder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Duplex{
		conn:       conn,
		allocator:  streamid.New(opts.Side),
		registry:   registry.New(),
		joiner:     fragment.NewJoiner(),
		responder:  resp,
		logger:     logger.With("component", "duplex"),
		mtu:        opts.MTU,
		outboundCh: make(chan []byte, outboundQueueDepth),
		stopCh:     make(chan struct{}),
		onLease:    opts.OnLease,
		leaseThrottle: opts.LeaseThrottle,
	}
	if d.leaseThrottle != nil {
		d.onLease = d.leaseThrottle.OnLease
	}
	d.state.Store(stateRunning)
	d.lastRecvNs.Store(time.Now().UnixNano())
	return d
}

// Start launches the writer and reader goroutines. Call once.
func (d *Duplex) Start() {
	d.wg.Add(2)
	go d.writeLoop()
	go d.readLoop()
}

// LastRecvUnixNano reports when the last inbound frame (of any kind) was
// observed, consulted by internal/keepalive's liveness timeout.
func (d *Duplex) LastRecvUnixNano() int64 {
	return d.lastRecvNs.Load()
}

// State reports "running" or "closed".
func (d *Duplex) State() string {
	return d.state.Load().(string)
}

// Close tears the connection down: it stops the writer/reader goroutines,
// aborts every responder task and resolves every pending initiator with
// ErrConnectionClosed (or cause, if non-nil), then closes the transport.
// Idempotent.
func (d *Duplex) Close(cause error) {
	d.stopOnce.Do(func() {
		d.state.Store(stateClosed)
		close(d.stopCh)

		err := ErrConnectionClosed
		if cause != nil {
			err = cause
		}
		d.registry.Range(func(id frame.StreamID, e *registry.Entry) bool {
			if e.Cancel != nil {
				e.Cancel()
			}
			if e.Results != nil {
				select {
				case e.Results <- registry.Result{Err: err}:
				default:
				}
				close(e.Results)
			}
			if e.Inbound != nil {
				close(e.Inbound)
			}
			d.registry.Remove(id)
			return true
		})
		_ = d.conn.Close()
	})
	d.wg.Wait()
}

// SendConnectionFrame emits a stream-id-0 frame (KEEPALIVE, LEASE,
// METADATA_PUSH) without fragmentation concerns beyond the usual MTU.
// Used by internal/keepalive and internal/leasesched.
func (d *Duplex) SendConnectionFrame(ctx context.Context, f *frame.Frame) error {
	return d.enqueue(ctx, f)
}

// enqueue fragments f per the configured MTU and pushes every resulting
// wire chunk onto the outbound queue, in order. It blocks (subject to ctx)
// when the queue is full — that backpressure is the mechanism by which a
// slow transport is felt by callers.
func (d *Duplex) enqueue(ctx context.Context, f *frame.Frame) error {
	chunks, err := fragment.Fragment(f, d.mtu)
	if err != nil {
		return fmt.Errorf("duplex: fragmenting outbound frame: %w", err)
	}
	for _, c := range chunks {
		select {
		case d.outboundCh <- c:
		case <-d.stopCh:
			return ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *Duplex) writeLoop() {
	defer d.wg.Done()
	for {
		select {
		case chunk := <-d.outboundCh:
			if err := d.conn.SendRaw(context.Background(), chunk); err != nil {
				d.logger.Error("outbound write failed", "error", err)
				go d.Close(ErrConnectionClosed)
				return
			}
		case <-d.stopCh:
			return
		}
	}
}

func (d *Duplex) readLoop() {
	defer d.wg.Done()
	for {
		raw, err := d.conn.RecvRaw(context.Background())
		if err != nil {
			select {
			case <-d.stopCh:
				return // already shutting down, this read just unblocked
			default:
			}
			if errors.Is(err, frame.ErrMalformed) || errors.Is(err, frame.ErrUnimplemented) {
				d.logger.Error("rejected inbound frame", "error", err)
				d.sendConnectionError(frame.ErrorCodeConnectionError, err.Error())
				go d.Close(err)
				return
			}
			d.logger.Debug("inbound read ended", "error", err)
			go d.Close(ErrConnectionClosed)
			return
		}
		d.lastRecvNs.Store(time.Now().UnixNano())

		f, err := d.joiner.Feed(raw)
		if err != nil {
			d.logger.Error("fragment join failed", "error", err)
			d.sendConnectionError(frame.ErrorCodeConnectionError, err.Error())
			go d.Close(err)
			return
		}
		if f == nil {
			continue // mid-chain fragment, awaiting the rest
		}
		if terminal := d.dispatch(f); terminal != nil {
			go d.Close(terminal)
			return
		}
	}
}

func (d *Duplex) sendConnectionError(code frame.ErrorCode, msg string) {
	f := &frame.Frame{
		Type:      frame.TypeError,
		ErrorCode: code,
		Payload:   frame.Payload{Data: []byte(msg)},
	}
	if err := d.enqueue(context.Background(), f); err != nil {
		d.logger.Debug("failed to send connection error frame", "error", err)
	}
}
