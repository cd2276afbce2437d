// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package integration exercises the full rsocket-go runtime end to end
// over a real TCP socket (internal/transport/tcptransport), rather than
// the in-memory transport internal/duplex's own unit tests use: SETUP
// handshake through request/response, request/stream with cancellation,
// fragmentation round-trip, and lease throttling.
package integration

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/responder"
	"github.com/nishisan-dev/rsocket-go/internal/setup"
	"github.com/nishisan-dev/rsocket-go/internal/transport/tcptransport"
)

const testTimeout = 5 * time.Second

// echoResponder answers request_response with the same payload and emits
// streamN fixed-size items for request_stream, the same shape
// internal/duplex's own unit tests use, here driven over a real socket.
type echoResponder struct {
	responder.UnimplementedResponder
	streamN int
}

func (r *echoResponder) RequestResponse(ctx context.Context, p frame.Payload) (frame.Payload, error) {
	return p, nil
}

func (r *echoResponder) RequestStream(ctx context.Context, p frame.Payload, sink responder.StreamSink) error {
	for i := 0; i < r.streamN; i++ {
		if err := sink.Next(ctx, frame.Payload{Data: []byte{byte(i)}}); err != nil {
			return nil
		}
	}
	return nil
}

// dialedPair listens on an ephemeral loopback port, accepts one
// connection, and performs the SETUP handshake on both ends.
func dialedPair(t *testing.T, clientCfg setup.Config, serverOpts setup.AcceptOptions, resp responder.Responder) (client, server *setup.Connection) {
	t.Helper()

	ln, err := tcptransport.Listen("127.0.0.1:0", nil, 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	acceptedCh := make(chan *setup.Connection, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptor := func(ctx context.Context, info *frame.SetupInfo, payload frame.Payload) (responder.Responder, error) {
			return resp, nil
		}
		sconn, err := setup.Accept(context.Background(), conn, acceptor, serverOpts, nil)
		if err != nil {
			errCh <- err
			return
		}
		acceptedCh <- sconn
		errCh <- nil
	}()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn, err := tcptransport.Dial(ctx, ln.Addr().String(), nil, 0)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	cconn, err := setup.Connect(ctx, conn, clientCfg, responder.UnimplementedResponder{}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case sconn := <-acceptedCh:
		t.Cleanup(func() {
			cconn.Close(nil)
			sconn.Close(nil)
		})
		return cconn, sconn
	case err := <-errCh:
		t.Fatalf("server-side Accept failed: %v", err)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for server-side Accept")
	}
	return nil, nil
}

func defaultClientConfig() setup.Config {
	return setup.Config{
		KeepaliveInterval: 20 * time.Second,
		MaxLifetime:       90 * time.Second,
	}
}

func TestTCPTransport_RequestResponse(t *testing.T) {
	client, _ := dialedPair(t, defaultClientConfig(), setup.AcceptOptions{}, &echoResponder{})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	resp, err := client.Duplex.RequestResponse(ctx, frame.Payload{Data: []byte("ping")})
	if err != nil {
		t.Fatalf("RequestResponse: %v", err)
	}
	if string(resp.Data) != "ping" {
		t.Fatalf("got %q, want %q", resp.Data, "ping")
	}
}

func TestTCPTransport_RequestStream_CancelPropagates(t *testing.T) {
	client, _ := dialedPair(t, defaultClientConfig(), setup.AcceptOptions{}, &echoResponder{streamN: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	sub, err := client.Duplex.RequestStream(ctx, frame.Payload{}, 4)
	if err != nil {
		t.Fatalf("RequestStream: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case r := <-sub.Results:
			if r.Err != nil {
				t.Fatalf("unexpected stream error: %v", r.Err)
			}
		case <-time.After(testTimeout):
			t.Fatal("timed out waiting for stream item")
		}
	}
	sub.Cancel()

	select {
	case _, ok := <-sub.Results:
		if ok {
			// draining any items already in flight before CANCEL landed is fine
		}
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for subscription to wind down after cancel")
	}
}

func TestTCPTransport_FragmentationRoundTrip(t *testing.T) {
	client, _ := dialedPair(t, setup.Config{
		KeepaliveInterval: 20 * time.Second,
		MaxLifetime:       90 * time.Second,
		MTU:               64,
	}, setup.AcceptOptions{MTU: 64}, &echoResponder{})

	large := bytes.Repeat([]byte("x"), 10_000)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	resp, err := client.Duplex.RequestResponse(ctx, frame.Payload{Data: large})
	if err != nil {
		t.Fatalf("RequestResponse: %v", err)
	}
	if !bytes.Equal(resp.Data, large) {
		t.Fatalf("fragmented payload mismatch: got %d bytes, want %d", len(resp.Data), len(large))
	}
}

func TestTCPTransport_LeaseThrottling(t *testing.T) {
	client, server := dialedPair(t, setup.Config{
		KeepaliveInterval: 20 * time.Second,
		MaxLifetime:       90 * time.Second,
		Lease:             true,
		LeaseEnabled:      true,
	}, setup.AcceptOptions{LeaseEnabled: true}, &echoResponder{})

	if server.Lease == nil {
		t.Fatal("expected server-side lease throttle to be installed")
	}

	leaseFrame := &frame.Frame{Type: frame.TypeLease, LeaseNumRequests: 2, LeaseTTLMillis: 1000}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := server.Duplex.SendConnectionFrame(ctx, leaseFrame); err != nil {
		t.Fatalf("sending LEASE: %v", err)
	}
	time.Sleep(100 * time.Millisecond) // let the LEASE land before issuing requests

	for i := 0; i < 2; i++ {
		if _, err := client.Duplex.RequestResponse(ctx, frame.Payload{Data: []byte("ok")}); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
	}

	if _, err := client.Duplex.RequestResponse(ctx, frame.Payload{Data: []byte("blocked")}); err == nil {
		t.Fatal("expected 3rd request to be refused by the lease throttle")
	}
}
