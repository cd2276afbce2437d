// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package duplex

import (
	"context"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/registry"
	"github.com/nishisan-dev/rsocket-go/internal/responder"
)

// creditPollInterval bounds how long a blocked creditedSink.Next waits
// before re-checking REQUEST_N credit and cancellation — short enough that
// a freshly arrived REQUEST_N frame is acted on promptly.
const creditPollInterval = 20 * time.Millisecond

// dispatch routes one reassembled inbound logical frame to its handler.
// A non-nil return means the connection must be torn down with that
// error as cause.
func (d *Duplex) dispatch(f *frame.Frame) error {
	if f.StreamID == 0 {
		return d.dispatchConnectionLevel(f)
	}

	e, ok := d.registry.Lookup(f.StreamID)
	if !ok {
		d.handlePeerInitiated(f)
		return nil
	}
	d.dispatchToEntry(f, e)
	return nil
}

func (d *Duplex) dispatchConnectionLevel(f *frame.Frame) error {
	switch f.Type {
	case frame.TypeKeepalive:
		if f.Flags.Has(frame.FlagRespond) {
			reply := &frame.Frame{
				Type:             frame.TypeKeepalive,
				KeepaliveLastPos: f.KeepaliveLastPos,
				Payload:          frame.Payload{Data: f.Payload.Data},
			}
			if err := d.enqueue(context.Background(), reply); err != nil {
				d.logger.Debug("keepalive echo failed", "error", err)
			}
		}
		return nil
	case frame.TypeLease:
		if d.onLease != nil {
			d.onLease(f.LeaseTTLMillis, f.LeaseNumRequests)
		}
		return nil
	case frame.TypeMetadataPush:
		d.responder.MetadataPush(context.Background(), f.Payload.Metadata)
		return nil
	case frame.TypeError:
		d.logger.Error("connection-level error from peer", "code", f.ErrorCode, "data", string(f.Payload.Data))
		return &ApplicationError{Code: f.ErrorCode, Data: string(f.Payload.Data)}
	default:
		return nil
	}
}

// dispatchToEntry delivers an inbound frame to a registered entry, which
// is either an initiator-side continuation we created (Results non-nil —
// request_response/request_stream/request_channel we started) or a
// responder-side bookkeeping entry (Results nil, created by
// handlePeerInitiated — a request_stream/request_channel the peer started
// and we're serving).
func (d *Duplex) dispatchToEntry(f *frame.Frame, e *registry.Entry) {
	isResponderSide := e.Results == nil

	switch f.Type {
	case frame.TypePayload:
		if isResponderSide {
			d.deliverInboundChannelPayload(f, e)
		} else {
			d.deliverPayload(f, e)
		}
	case frame.TypeError:
		if isResponderSide {
			if e.Cancel != nil {
				e.Cancel()
			}
			return
		}
		d.deliverTerminal(f.StreamID, e, registry.Result{Err: &ApplicationError{Code: f.ErrorCode, Data: string(f.Payload.Data)}})
	case frame.TypeRequestN:
		e.RequestN.Add(int64(f.RequestN))
	case frame.TypeCancel:
		if e.Cancel != nil {
			e.Cancel()
		}
		if !isResponderSide {
			d.deliverTerminal(f.StreamID, e, registry.Result{Err: ErrCanceled})
		}
	}
}

// deliverInboundChannelPayload feeds a PAYLOAD the peer sent on a channel
// we're responding to into that responder task's inbound sequence.
func (d *Duplex) deliverInboundChannelPayload(f *frame.Frame, e *registry.Entry) {
	if e.Inbound == nil {
		d.logger.Debug("payload on non-channel responder entry, dropping", "stream", f.StreamID)
		return
	}
	if f.Flags.Has(frame.FlagNext) {
		select {
		case e.Inbound <- f.Payload:
		default:
			d.logger.Warn("responder inbound channel full, dropping payload", "stream", f.StreamID)
		}
	}
	if f.Flags.Has(frame.FlagComplete) {
		close(e.Inbound)
	}
}

func (d *Duplex) deliverPayload(f *frame.Frame, e *registry.Entry) {
	complete := f.Flags.Has(frame.FlagComplete)
	hasNext := f.Flags.Has(frame.FlagNext)

	if e.Kind == registry.KindRequestResponse {
		d.deliverTerminal(f.StreamID, e, registry.Result{Payload: f.Payload, Complete: true})
		return
	}

	if hasNext {
		select {
		case e.Results <- registry.Result{Payload: f.Payload}:
		default:
			d.logger.Warn("initiator results channel full, dropping payload", "stream", f.StreamID)
		}
	}
	if complete {
		d.deliverTerminal(f.StreamID, e, registry.Result{Complete: true})
	}
}

// deliverTerminal sends the final Result for a stream-id, closes its
// channel and removes the registry entry: after a terminal frame, the
// handler registry must contain no entry for that stream-id.
func (d *Duplex) deliverTerminal(id frame.StreamID, e *registry.Entry, r registry.Result) {
	if e.Results != nil {
		select {
		case e.Results <- r:
		default:
		}
		close(e.Results)
	}
	if e.Outbound != nil {
		close(e.Outbound)
	}
	d.registry.Remove(id)
}

// handlePeerInitiated spawns a responder task for a REQUEST_* frame on a
// stream-id the registry has no entry for — a new peer-initiated
// interaction.
func (d *Duplex) handlePeerInitiated(f *frame.Frame) {
	switch f.Type {
	case frame.TypeRequestResponse:
		d.spawnRequestResponse(f)
	case frame.TypeRequestFNF:
		d.spawnFireAndForget(f)
	case frame.TypeRequestStream:
		d.spawnRequestStream(f)
	case frame.TypeRequestChannel:
		d.spawnRequestChannel(f)
	case frame.TypePayload, frame.TypeRequestN, frame.TypeCancel:
		d.logger.Debug("frame for unknown stream, dropping", "stream", f.StreamID, "type", f.Type)
	default:
		d.logger.Debug("unexpected connection-scoped frame on non-zero stream", "stream", f.StreamID, "type", f.Type)
	}
}

func (d *Duplex) spawnRequestResponse(f *frame.Frame) {
	ctx, cancel := context.WithCancel(context.Background())
	e := registry.NewResponderTask(registry.KindRequestResponse, cancel)
	d.registry.Insert(f.StreamID, e)

	go func() {
		defer d.registry.Remove(f.StreamID)
		defer cancel()
		result, err := d.responder.RequestResponse(ctx, f.Payload)
		if ctx.Err() != nil {
			return // peer already cancelled us; stay silent
		}
		if err != nil {
			d.sendStreamError(f.StreamID, err)
			return
		}
		d.sendTerminalPayload(f.StreamID, result)
	}()
}

func (d *Duplex) spawnFireAndForget(f *frame.Frame) {
	go func() {
		if err := d.responder.FireAndForget(context.Background(), f.Payload); err != nil {
			d.logger.Debug("fire-and-forget handler error", "stream", f.StreamID, "error", err)
		}
	}()
}

func (d *Duplex) spawnRequestStream(f *frame.Frame) {
	ctx, cancel := context.WithCancel(context.Background())
	e := registry.NewResponderTask(registry.KindRequestStream, cancel)
	e.RequestN.Store(int64(f.InitialRequestN))
	d.registry.Insert(f.StreamID, e)

	go func() {
		defer d.registry.Remove(f.StreamID)
		defer cancel()
		sink := &creditedSink{d: d, id: f.StreamID, e: e, ctx: ctx}
		err := d.responder.RequestStream(ctx, f.Payload, sink)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.sendStreamError(f.StreamID, err)
			return
		}
		d.sendComplete(f.StreamID)
	}()
}

func (d *Duplex) spawnRequestChannel(f *frame.Frame) {
	ctx, cancel := context.WithCancel(context.Background())
	e := registry.NewResponderChannel(cancel)
	e.RequestN.Store(int64(f.InitialRequestN))
	d.registry.Insert(f.StreamID, e)

	go func() {
		defer d.registry.Remove(f.StreamID)
		defer cancel()
		sink := &creditedSink{d: d, id: f.StreamID, e: e, ctx: ctx}
		err := d.responder.RequestChannel(ctx, f.Payload, e.Inbound, sink)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.sendStreamError(f.StreamID, err)
			return
		}
		d.sendComplete(f.StreamID)
	}()
}

func (d *Duplex) sendStreamError(id frame.StreamID, err error) {
	code := frame.ErrorCodeApplicationError
	var appErr *ApplicationError
	if ok := errorsAs(err, &appErr); ok {
		code = appErr.Code
	}
	f := &frame.Frame{
		StreamID:  id,
		Type:      frame.TypeError,
		ErrorCode: code,
		Payload:   frame.Payload{Data: []byte(err.Error())},
	}
	if e := d.enqueue(context.Background(), f); e != nil {
		d.logger.Debug("failed to send stream error", "stream", id, "error", e)
	}
}

func (d *Duplex) sendTerminalPayload(id frame.StreamID, p frame.Payload) {
	f := &frame.Frame{
		StreamID: id,
		Type:     frame.TypePayload,
		Flags:    frame.FlagNext | frame.FlagComplete,
		Payload:  p,
	}
	if p.HasMetadata() {
		f.Flags |= frame.FlagMetadata
	}
	if err := d.enqueue(context.Background(), f); err != nil {
		d.logger.Debug("failed to send terminal payload", "stream", id, "error", err)
	}
}

func (d *Duplex) sendComplete(id frame.StreamID) {
	f := &frame.Frame{StreamID: id, Type: frame.TypePayload, Flags: frame.FlagComplete}
	if err := d.enqueue(context.Background(), f); err != nil {
		d.logger.Debug("failed to send COMPLETE", "stream", id, "error", err)
	}
}

// creditedSink adapts a responder-side request_stream/request_channel
// emission loop to the wire: each Next call blocks until outstanding
// REQUEST_N credit is available, consuming one unit per item.
type creditedSink struct {
	d   *Duplex
	id  frame.StreamID
	e   *registry.Entry
	ctx context.Context
}

func (s *creditedSink) Next(ctx context.Context, p frame.Payload) error {
	for {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		n := s.e.RequestN.Load()
		if n > 0 && s.e.RequestN.CompareAndSwap(n, n-1) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-time.After(creditPollInterval):
		}
	}
	f := &frame.Frame{StreamID: s.id, Type: frame.TypePayload, Flags: frame.FlagNext, Payload: p}
	if p.HasMetadata() {
		f.Flags |= frame.FlagMetadata
	}
	return s.d.enqueue(ctx, f)
}

var _ responder.StreamSink = (*creditedSink)(nil)

// errorsAs is a tiny wrapper kept local to avoid importing "errors" in
// two places for one call site.
func errorsAs(err error, target **ApplicationError) bool {
	ae, ok := err.(*ApplicationError)
	if !ok {
		return false
	}
	*target = ae
	return true
}
