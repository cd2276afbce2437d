// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package hoststats is a demo-only responder capability: it gives the
// example binaries a request_response/request_stream payload with real
// content instead of a synthetic echo, exercising the responder dispatch
// path end to end with gopsutil cpu/mem/load polling, generalized from a
// periodic logged snapshot to a per-tick stream item.
package hoststats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nishisan-dev/rsocket-go/internal/frame"
	"github.com/nishisan-dev/rsocket-go/internal/responder"
)

// Snapshot is one host-stats sample, serialized as the PAYLOAD data for
// both request_response and each request_stream item.
type Snapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	LoadAverage1  float64   `json:"load_average_1"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collect samples CPU/memory/load once. Errors from an individual
// gopsutil probe are swallowed and leave that field at its zero value —
// a partial snapshot is still useful, an aborted one is not.
func Collect(logger *slog.Logger) Snapshot {
	if logger == nil {
		logger = slog.Default()
	}
	snap := Snapshot{CollectedAt: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	} else {
		logger.Debug("hoststats: cpu.Percent failed", "error", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		logger.Debug("hoststats: mem.VirtualMemory failed", "error", err)
	}
	if l, err := load.Avg(); err == nil {
		snap.LoadAverage1 = l.Load1
	} else {
		logger.Debug("hoststats: load.Avg failed", "error", err)
	}
	return snap
}

// Responder implements request_response (single snapshot) and
// request_stream (one snapshot per Interval until the peer cancels).
// Embed responder.UnimplementedResponder for the other capabilities.
type Responder struct {
	responder.UnimplementedResponder

	Interval time.Duration // default 1s if zero
	Logger   *slog.Logger
}

var _ interface {
	RequestResponse(context.Context, frame.Payload) (frame.Payload, error)
	RequestStream(context.Context, frame.Payload, responder.StreamSink) error
} = (*Responder)(nil)

// RequestResponse returns one JSON-encoded Snapshot.
func (r *Responder) RequestResponse(ctx context.Context, _ frame.Payload) (frame.Payload, error) {
	data, err := json.Marshal(Collect(r.Logger))
	if err != nil {
		return frame.Payload{}, err
	}
	return frame.Payload{Data: data}, nil
}

// RequestStream pushes one JSON-encoded Snapshot per Interval to sink
// until ctx is cancelled (peer CANCEL) or Next reports the peer has gone
// away.
func (r *Responder) RequestStream(ctx context.Context, _ frame.Payload, sink responder.StreamSink) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			data, err := json.Marshal(Collect(r.Logger))
			if err != nil {
				return err
			}
			if err := sink.Next(ctx, frame.Payload{Data: data}); err != nil {
				return nil
			}
		}
	}
}
