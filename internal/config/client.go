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

// ClientConfig is the YAML configuration for the rsocket-echo-client demo
// binary, adapted from AgentConfig: the server-address/TLS/logging shape
// survives, the backup-job fields are replaced with the RSocket setup
// parameters a requester needs (MTU, keepalive, initial request-N, lease
// opt-in).
type ClientConfig struct {
	Server    ServerAddr    `yaml:"server"`
	TLS       TLSClient     `yaml:"tls"`
	Setup     SetupInfo     `yaml:"setup"`
	Keepalive KeepaliveInfo `yaml:"keepalive"`
	Logging   LoggingInfo   `yaml:"logging"`
}

// ServerAddr is the dial target. TLS is optional: a ClientConfig with a
// zero TLSClient dials in plaintext.
type ServerAddr struct {
	Address string `yaml:"address"`
}

// TLSClient holds the client-side mTLS material. All three paths empty
// means "dial in plaintext" — tcptransport.Dial treats a nil *TLSConfig
// the same way.
type TLSClient struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	ServerName string `yaml:"server_name"`
}

// SetupInfo carries the SETUP-frame and requester-side knobs: MTU governs
// fragmentation threshold, InitialRequestN is loaded and defaulted but not
// read by rsocket-echo-client (its stats mode requests -count items up
// front), LeaseEnabled opts into the requester-side throttle.
type SetupInfo struct {
	MTU             uint32 `yaml:"mtu"`               // 0 = no fragmentation
	InitialRequestN uint32 `yaml:"initial_request_n"` // default: 256
	LeaseEnabled    bool   `yaml:"lease_enabled"`
}

// KeepaliveInfo configures the keepalive.Driver's interval/max-lifetime
// pair.
type KeepaliveInfo struct {
	Interval    time.Duration `yaml:"interval"`     // default: 20s
	MaxLifetime time.Duration `yaml:"max_lifetime"` // default: 90s
}

// LoadClientConfig reads and validates the YAML configuration file for
// rsocket-echo-client.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	tlsFieldsSet := c.TLS.CACert != "" || c.TLS.ClientCert != "" || c.TLS.ClientKey != ""
	tlsFieldsComplete := c.TLS.CACert != "" && c.TLS.ClientCert != "" && c.TLS.ClientKey != ""
	if tlsFieldsSet && !tlsFieldsComplete {
		return fmt.Errorf("tls.ca_cert, tls.client_cert and tls.client_key must all be set to enable mTLS, or all left empty to dial in plaintext")
	}

	if c.Setup.InitialRequestN == 0 {
		c.Setup.InitialRequestN = 256
	}

	if c.Keepalive.Interval <= 0 {
		c.Keepalive.Interval = 20 * time.Second
	}
	if c.Keepalive.MaxLifetime <= 0 {
		c.Keepalive.MaxLifetime = 90 * time.Second
	}
	if c.Keepalive.MaxLifetime <= c.Keepalive.Interval {
		return fmt.Errorf("keepalive.max_lifetime must be greater than keepalive.interval")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
