// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nishisan-dev/rsocket-go/internal/config"
	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/logging"
	"github.com/nishisan-dev/rsocket-go/internal/responder"
	"github.com/nishisan-dev/rsocket-go/internal/setup"
	"github.com/nishisan-dev/rsocket-go/internal/transport/tcptransport"
)

func main() {
	configPath := flag.String("config", "/etc/rsocket-go/client.yaml", "path to client config file")
	mode := flag.String("mode", "echo", "echo (request_response) or stats (request_stream of host stats)")
	count := flag.Int("count", 3, "number of stream items to print before cancelling (stats mode only)")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cfg, *mode, *count, logger); err != nil {
		logger.Error("client error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, mode string, count int, logger *slog.Logger) error {
	var tlsCfg *tcptransport.TLSConfig
	if cfg.TLS.CACert != "" {
		tlsCfg = &tcptransport.TLSConfig{
			CACertPath: cfg.TLS.CACert,
			CertPath:   cfg.TLS.ClientCert,
			KeyPath:    cfg.TLS.ClientKey,
			ServerName: cfg.TLS.ServerName,
		}
	}

	conn, err := tcptransport.Dial(ctx, cfg.Server.Address, tlsCfg, uint32(cfg.Setup.MTU))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", cfg.Server.Address, err)
	}

	setupCfg := setup.Config{
		KeepaliveInterval: cfg.Keepalive.Interval,
		MaxLifetime:       cfg.Keepalive.MaxLifetime,
		MetadataMimeType:  "application/json",
		DataMimeType:      "application/json",
		MTU:               int(cfg.Setup.MTU),
		Lease:             cfg.Setup.LeaseEnabled,
		LeaseEnabled:      cfg.Setup.LeaseEnabled,
	}
	sconn, err := setup.Connect(ctx, conn, setupCfg, responder.UnimplementedResponder{}, logger)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer sconn.Close(nil)

	switch mode {
	case "stats":
		return runStats(ctx, sconn, count, logger)
	default:
		return runEcho(ctx, sconn, cfg, logger)
	}
}

func runEcho(ctx context.Context, sconn *setup.Connection, cfg *config.ClientConfig, logger *slog.Logger) error {
	resp, err := sconn.Duplex.RequestResponse(ctx, frame.Payload{Data: []byte("hello from rsocket-echo-client")})
	if err != nil {
		return fmt.Errorf("request_response: %w", err)
	}
	logger.Info("echo reply", "data", string(resp.Data))
	return nil
}

func runStats(ctx context.Context, sconn *setup.Connection, count int, logger *slog.Logger) error {
	sub, err := sconn.Duplex.RequestStream(ctx, frame.Payload{}, uint32(max(count, 1)))
	if err != nil {
		return fmt.Errorf("request_stream: %w", err)
	}
	defer sub.Cancel()

	seen := 0
	for seen < count {
		select {
		case r, ok := <-sub.Results:
			if !ok {
				return nil
			}
			if r.Err != nil {
				return fmt.Errorf("stream item: %w", r.Err)
			}
			var snap map[string]any
			if err := json.Unmarshal(r.Payload.Data, &snap); err != nil {
				logger.Warn("decoding snapshot failed", "error", err)
				continue
			}
			logger.Info("host stats snapshot", "snapshot", snap)
			seen++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
