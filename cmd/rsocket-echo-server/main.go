// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/config"
	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/hoststats"
	"github.com/nishisan-dev/rsocket-go/internal/leasesched"
	"github.com/nishisan-dev/rsocket-go/internal/logging"
	"github.com/nishisan-dev/rsocket-go/internal/responder"
	"github.com/nishisan-dev/rsocket-go/internal/setup"
	"github.com/nishisan-dev/rsocket-go/internal/transport"
	"github.com/nishisan-dev/rsocket-go/internal/transport/tcptransport"
)

func main() {
	configPath := flag.String("config", "/etc/rsocket-go/server.yaml", "path to server config file")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// run accepts connections until ctx is cancelled, handing each one a fresh
// hoststats.Responder and — when configured — a leasesched.Scheduler
// re-issuing the connection's LEASE budget.
func run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	var tlsCfg *tcptransport.TLSConfig
	if cfg.TLS.CACert != "" {
		tlsCfg = &tcptransport.TLSConfig{
			CACertPath: cfg.TLS.CACert,
			CertPath:   cfg.TLS.ServerCert,
			KeyPath:    cfg.TLS.ServerKey,
		}
	}

	ln, err := tcptransport.Listen(cfg.Server.Listen, tlsCfg, uint32(cfg.Setup.MTU))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Listen, err)
	}
	defer ln.Close()
	logger.Info("rsocket-echo-server listening", "address", ln.Addr().String(), "tls", tlsCfg != nil)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("accept failed", "error", err)
			continue
		}
		id := nextSessionID.Add(1)
		go handleConn(ctx, conn, cfg, logger, strconv.FormatUint(id, 10))
	}
}

var nextSessionID atomic.Uint64

// handleConn performs the SETUP handshake on one accepted connection,
// installs a hoststats.Responder, and — when lease is enabled — starts a
// leasesched.Scheduler that re-issues the connection's LEASE budget until
// the connection closes.
func handleConn(ctx context.Context, conn transport.Conn, cfg *config.ServerConfig, logger *slog.Logger, sessionID string) {
	connLogger, sessionCloser, sessionPath, err := logging.NewSessionLogger(logger, cfg.Logging.SessionDir, "rsocket-echo-server", sessionID)
	if err != nil {
		logger.Warn("starting session logger", "error", err)
		connLogger = logger
		sessionCloser = nil
	}
	if sessionCloser != nil {
		defer sessionCloser.Close()
	}
	connLogger = connLogger.With("session_id", sessionID)
	if sessionPath != "" {
		connLogger.Info("session log opened", "path", sessionPath)
	}
	succeeded := true
	defer func() {
		if succeeded {
			logging.RemoveSessionLog(cfg.Logging.SessionDir, "rsocket-echo-server", sessionID)
		}
	}()
	logger = connLogger

	acceptor := func(ctx context.Context, info *frame.SetupInfo, payload frame.Payload) (responder.Responder, error) {
		return &hoststats.Responder{Logger: logger}, nil
	}

	opts := setup.AcceptOptions{MTU: int(cfg.Setup.MTU), LeaseEnabled: cfg.Setup.LeaseEnabled}
	sconn, err := setup.Accept(ctx, conn, acceptor, opts, logger)
	if err != nil {
		logger.Warn("setup rejected", "error", err)
		succeeded = false
		return
	}
	defer sconn.Close(nil)

	var sched *leasesched.Scheduler
	if cfg.Setup.LeaseEnabled {
		sched, err = leasesched.New(sconn.Duplex, leasesched.Schedule{
			CronExpr:    cfg.Lease.Schedule,
			NumRequests: cfg.Lease.NumRequests,
			TTL:         cfg.Lease.TTL,
		}, logger)
		if err != nil {
			logger.Error("starting lease scheduler", "error", err)
			succeeded = false
			return
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	waitClosed(ctx, sconn)
}

// waitClosed blocks until the connection closes (peer disconnect, protocol
// error) or ctx is cancelled, whichever comes first.
func waitClosed(ctx context.Context, sconn *setup.Connection) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sconn.Duplex.State() != "running" {
				return
			}
		}
	}
}
