// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package duplex

import (
	"context"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/registry"
)

// checkLease consults the lease throttle, when one is installed, before a
// new client-initiated REQUEST_* is allowed to allocate a stream-id and
// emit. A nil throttle (the default) always allows.
func (d *Duplex) checkLease() error {
	if d.leaseThrottle == nil {
		return nil
	}
	return d.leaseThrottle.Allow()
}

// RequestResponse issues a REQUEST_RESPONSE and blocks until the peer's
// PAYLOAD(COMPLETE) or ERROR arrives, or ctx is cancelled (in which case a
// CANCEL is emitted and the handler removed).
func (d *Duplex) RequestResponse(ctx context.Context, p frame.Payload) (frame.Payload, error) {
	if err := d.checkLease(); err != nil {
		return frame.Payload{}, err
	}
	id := d.allocator.Next(d.registry.Occupied)
	e := registry.NewOneShot(nil)
	d.registry.Insert(id, e)

	req := withMetadataFlag(&frame.Frame{StreamID: id, Type: frame.TypeRequestResponse, Payload: p}, p)
	if err := d.enqueue(ctx, req); err != nil {
		d.registry.Remove(id)
		return frame.Payload{}, err
	}

	select {
	case r, ok := <-e.Results:
		if !ok {
			return frame.Payload{}, ErrConnectionClosed
		}
		return r.Payload, r.Err
	case <-ctx.Done():
		d.cancelStream(id)
		return frame.Payload{}, ctx.Err()
	}
}

// FireAndForget issues a REQUEST_FNF. It completes once the frame has been
// handed to the sink — there is no peer acknowledgement to await.
func (d *Duplex) FireAndForget(ctx context.Context, p frame.Payload) error {
	if err := d.checkLease(); err != nil {
		return err
	}
	id := d.allocator.Next(d.registry.Occupied)
	req := withMetadataFlag(&frame.Frame{StreamID: id, Type: frame.TypeRequestFNF, Payload: p}, p)
	return d.enqueue(ctx, req)
}

// MetadataPush emits a connection-level METADATA_PUSH. There is no
// response.
func (d *Duplex) MetadataPush(ctx context.Context, metadata []byte) error {
	f := &frame.Frame{Type: frame.TypeMetadataPush, Flags: frame.FlagMetadata, Payload: frame.Payload{Metadata: metadata}}
	return d.enqueue(ctx, f)
}

// Subscription is the client-visible handle for an in-flight
// request_stream or request_channel: Results yields one Result per
// inbound PAYLOAD and is closed on COMPLETE or ERROR (in which case the
// final Result carries Err). Cancel emits CANCEL and stops delivery.
type Subscription struct {
	id       frame.StreamID
	d        *Duplex
	e        *registry.Entry
	Results  <-chan registry.Result
	Outbound chan<- frame.Payload // non-nil only for request_channel
}

// Cancel emits a CANCEL frame for the subscription's stream and removes
// its registry entry. Safe to call after the subscription has already
// completed (a no-op in that case since the entry is gone).
func (s *Subscription) Cancel() {
	s.d.cancelStream(s.id)
}

// RequestN extends the subscription's credit by n, emitting a REQUEST_N
// frame so the peer's responder task may emit up to n further PAYLOADs.
// A no-op once the subscription has already terminated. n must be
// non-zero; the wire encoding rejects a zero request-N as malformed.
func (s *Subscription) RequestN(ctx context.Context, n uint32) error {
	if n == 0 {
		return nil
	}
	if _, ok := s.d.registry.Lookup(s.id); !ok {
		return nil
	}
	f := &frame.Frame{StreamID: s.id, Type: frame.TypeRequestN, RequestN: n}
	return s.d.enqueue(ctx, f)
}

func (d *Duplex) cancelStream(id frame.StreamID) {
	if _, ok := d.registry.Lookup(id); !ok {
		return
	}
	d.registry.Remove(id)
	f := &frame.Frame{StreamID: id, Type: frame.TypeCancel}
	_ = d.enqueue(context.Background(), f)
}

// RequestStream issues a REQUEST_STREAM with initialN units of demand (use
// DefaultInitialRequestN when the caller has no preference) and returns a
// Subscription yielding inbound PAYLOADs until COMPLETE or ERROR.
func (d *Duplex) RequestStream(ctx context.Context, p frame.Payload, initialN uint32) (*Subscription, error) {
	if err := d.checkLease(); err != nil {
		return nil, err
	}
	id := d.allocator.Next(d.registry.Occupied)
	e := registry.NewStream(nil)
	d.registry.Insert(id, e)

	req := withMetadataFlag(&frame.Frame{StreamID: id, Type: frame.TypeRequestStream, InitialRequestN: initialN, Payload: p}, p)
	if err := d.enqueue(ctx, req); err != nil {
		d.registry.Remove(id)
		return nil, err
	}
	return &Subscription{id: id, d: d, e: e, Results: e.Results}, nil
}

// RequestChannel issues a REQUEST_CHANNEL carrying first as the initial
// outbound payload, with initialN units of demand for the inbound side.
// The returned Subscription's Outbound channel accepts further outbound
// payloads; closing it emits PAYLOAD(COMPLETE) to end
// the client's side of the channel.
func (d *Duplex) RequestChannel(ctx context.Context, first frame.Payload, initialN uint32) (*Subscription, error) {
	if err := d.checkLease(); err != nil {
		return nil, err
	}
	id := d.allocator.Next(d.registry.Occupied)
	e := registry.NewChannel(nil)
	d.registry.Insert(id, e)

	req := withMetadataFlag(&frame.Frame{StreamID: id, Type: frame.TypeRequestChannel, InitialRequestN: initialN, Payload: first}, first)
	if err := d.enqueue(ctx, req); err != nil {
		d.registry.Remove(id)
		return nil, err
	}

	sub := &Subscription{id: id, d: d, e: e, Results: e.Results, Outbound: e.Outbound}
	d.wg.Add(1)
	go d.pumpOutbound(ctx, id, e)
	return sub, nil
}

// pumpOutbound forwards payloads the caller pushes into a request_channel
// Subscription's Outbound handle onto the wire as PAYLOAD(NEXT) frames,
// emitting PAYLOAD(COMPLETE) once Outbound is closed.
func (d *Duplex) pumpOutbound(ctx context.Context, id frame.StreamID, e *registry.Entry) {
	defer d.wg.Done()
	for {
		select {
		case p, ok := <-e.Outbound:
			if !ok {
				f := &frame.Frame{StreamID: id, Type: frame.TypePayload, Flags: frame.FlagComplete}
				_ = d.enqueue(context.Background(), f)
				return
			}
			f := withMetadataFlag(&frame.Frame{StreamID: id, Type: frame.TypePayload, Flags: frame.FlagNext, Payload: p}, p)
			if err := d.enqueue(ctx, f); err != nil {
				return
			}
		case <-d.stopCh:
			return
		}
	}
}

func withMetadataFlag(f *frame.Frame, p frame.Payload) *frame.Frame {
	if p.HasMetadata() {
		f.Flags |= frame.FlagMetadata
	}
	return f
}
