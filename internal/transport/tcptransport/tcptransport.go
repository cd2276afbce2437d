// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tcptransport is a concrete implementation of the transport.Conn
// contract over a TCP socket, optionally wrapped in mutual TLS. It is a
// *consumer* of the core, not part of the state-machine packages:
// dial/listen plumbing sits outside the protocol engine proper.
//
// mTLS config construction lives in internal/pki
// (NewClientTLSConfig/NewServerTLSConfig).
package tcptransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/pki"
	"github.com/nishisan-dev/rsocket-go/internal/transport"
)

// conn adapts a net.Conn (plain or TLS) to transport.Conn using
// frame.StreamReader/StreamWriter for length-prefixed framing, the same
// pair internal/transport/inmem wraps around an io.Pipe.
type conn struct {
	nc net.Conn
	sr *frame.StreamReader
	sw *frame.StreamWriter
}

// Wrap adapts an already-established net.Conn (dialed or accepted,
// TLS-wrapped or not) into a transport.Conn. maxFrameLen of 0 uses
// frame.MaxFrameLength.
func Wrap(nc net.Conn, maxFrameLen uint32) transport.Conn {
	return &conn{
		nc: nc,
		sr: frame.NewStreamReader(nc, maxFrameLen),
		sw: frame.NewStreamWriter(nc),
	}
}

func (c *conn) Send(ctx context.Context, f *frame.Frame) error    { return c.sw.WriteFrame(f) }
func (c *conn) SendRaw(ctx context.Context, wire []byte) error    { return c.sw.WriteRaw(wire) }
func (c *conn) Recv(ctx context.Context) (*frame.Frame, error)    { return c.sr.ReadFrame() }
func (c *conn) RecvRaw(ctx context.Context) (frame.RawFrame, error) { return c.sr.ReadRaw() }
func (c *conn) Close() error                                      { return c.nc.Close() }

var _ transport.Conn = (*conn)(nil)

// TLSConfig names the mTLS material a Dial/Listen caller supplies.
// Mirrors pki.NewClientTLSConfig/NewServerTLSConfig's parameter shape.
type TLSConfig struct {
	CACertPath     string
	CertPath       string
	KeyPath        string
	ServerName     string // client-side only; required if dialing by IP
}

// Dial connects to addr, optionally under mTLS when tlsCfg is non-nil, and
// returns a transport.Conn. maxFrameLen of 0 uses frame.MaxFrameLength.
func Dial(ctx context.Context, addr string, tlsCfg *TLSConfig, maxFrameLen uint32) (transport.Conn, error) {
	var d net.Dialer
	if tlsCfg == nil {
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcptransport: dialing %s: %w", addr, err)
		}
		return Wrap(nc, maxFrameLen), nil
	}

	cfg, err := pki.NewClientTLSConfig(tlsCfg.CACertPath, tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: building client TLS config: %w", err)
	}
	if tlsCfg.ServerName != "" {
		cfg.ServerName = tlsCfg.ServerName
	}
	nc, err := (&tls.Dialer{NetDialer: &d, Config: cfg}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: dialing %s over TLS: %w", addr, err)
	}
	return Wrap(nc, maxFrameLen), nil
}

// Listener accepts inbound TCP (optionally mTLS) connections and yields
// them as transport.Conn, one call to Accept per connection.
type Listener struct {
	ln          net.Listener
	maxFrameLen uint32
}

// Listen binds addr, optionally under mTLS when tlsCfg is non-nil.
func Listen(addr string, tlsCfg *TLSConfig, maxFrameLen uint32) (*Listener, error) {
	if tlsCfg == nil {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("tcptransport: listening on %s: %w", addr, err)
		}
		return &Listener{ln: ln, maxFrameLen: maxFrameLen}, nil
	}

	cfg, err := pki.NewServerTLSConfig(tlsCfg.CACertPath, tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: building server TLS config: %w", err)
	}
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("tcptransport: listening on %s over TLS: %w", addr, err)
	}
	return &Listener{ln: ln, maxFrameLen: maxFrameLen}, nil
}

// Addr reports the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks for the next inbound connection, producing a stream of
// new transport.Conn values to hand off to the setup layer.
func (l *Listener) Accept() (transport.Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return Wrap(nc, l.maxFrameLen), nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }
