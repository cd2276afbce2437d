// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the YAML configuration for the rsocket-echo-server demo
// binary, adapted from ServerConfig: the listen-address/TLS/logging shape
// survives, the storage/flow-rotation/web-UI fields (all backup-tool
// concerns with no RSocket analogue) are replaced with the acceptor and
// lease-reissuance knobs a responder needs.
type ServerConfig struct {
	Server    ServerListen  `yaml:"server"`
	TLS       TLSServer     `yaml:"tls"`
	Setup     AcceptInfo    `yaml:"setup"`
	Keepalive KeepaliveInfo `yaml:"keepalive"`
	Lease     LeaseInfo     `yaml:"lease"`
	Logging   LoggingInfo   `yaml:"logging"`
}

// ServerListen is the accept address. TLS is optional: a zero TLSServer
// listens in plaintext.
type ServerListen struct {
	Listen string `yaml:"listen"`
}

// TLSServer holds the server-side mTLS material. All three paths empty
// means "listen in plaintext".
type TLSServer struct {
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

// AcceptInfo mirrors SetupInfo for the accept side: MTU governs
// fragmentation threshold on responder-initiated frames, LeaseEnabled
// opts into honoring the client's lease budget.
type AcceptInfo struct {
	MTU          uint32 `yaml:"mtu"`
	LeaseEnabled bool   `yaml:"lease_enabled"`
}

// LeaseInfo configures the server's periodic LEASE re-issuance
// (internal/leasesched) via a cron schedule. Only consulted when
// Setup.LeaseEnabled is true.
type LeaseInfo struct {
	Schedule    string        `yaml:"schedule"`     // cron expression, e.g. "@every 30s"
	NumRequests uint32        `yaml:"num_requests"` // default: 1000
	TTL         time.Duration `yaml:"ttl"`          // default: 1m
}

// LoadServerConfig reads and validates the YAML configuration file for
// rsocket-echo-server.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	tlsFieldsSet := c.TLS.CACert != "" || c.TLS.ServerCert != "" || c.TLS.ServerKey != ""
	tlsFieldsComplete := c.TLS.CACert != "" && c.TLS.ServerCert != "" && c.TLS.ServerKey != ""
	if tlsFieldsSet && !tlsFieldsComplete {
		return fmt.Errorf("tls.ca_cert, tls.server_cert and tls.server_key must all be set to enable mTLS, or all left empty to listen in plaintext")
	}

	if c.Setup.LeaseEnabled {
		if c.Lease.Schedule == "" {
			c.Lease.Schedule = "@every 30s"
		}
		if c.Lease.NumRequests == 0 {
			c.Lease.NumRequests = 1000
		}
		if c.Lease.TTL <= 0 {
			c.Lease.TTL = time.Minute
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
