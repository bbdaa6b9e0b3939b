// SPDX-License-Identifier: GPL-3.0-or-later

// Command dnsproxyd is the forwarding-proxy glue around the resolver
// core: it binds a loopback UDP listener and forwards every received
// query to a configured resolver.Client, mirroring what SourceShift-
// gocircum's config package does for its own strategy config (YAML via
// gopkg.in/yaml.v3, a Validate method, a LoadConfig(path) helper).
package main

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/arlofresh/dnsresolve/registry"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of dnsproxyd's configuration file.
type Config struct {
	// Listen is the loopback UDP address to bind, e.g. "127.0.0.1:5353".
	Listen string `yaml:"listen"`

	// Transport selects the upstream transport: "do53", "dot", or "doh".
	Transport string `yaml:"transport"`

	// Servers overrides the transport's built-in default server list.
	// Interpreted per Transport: IP addresses for do53, "host@ip[:port]"
	// for dot, or a single absolute URL for doh.
	Servers []string `yaml:"servers,omitempty"`

	// UDPTimeoutMS, TCPTimeoutMS, TimeoutMS override resolver.Options'
	// timeouts (in milliseconds); zero selects resolver.DefaultOptions.
	UDPTimeoutMS int `yaml:"udp_timeout_ms,omitempty"`
	TCPTimeoutMS int `yaml:"tcp_timeout_ms,omitempty"`
	TimeoutMS    int `yaml:"timeout_ms,omitempty"`

	// BlockLength overrides the DoT EDNS(0) padding modulus.
	BlockLength int `yaml:"block_length,omitempty"`

	// ThrowOnErrorStatus is parsed but not applied: buildClient always sets
	// resolver.Options.ThrowOnErrorStatus to false, so the proxy relays the
	// server's own RCODE instead of turning it into an error.
	ThrowOnErrorStatus bool `yaml:"throw_on_error_status"`

	// LogLevel is a zapcore.Level text value ("debug", "info", "warn", ...).
	LogLevel string `yaml:"log_level,omitempty"`
}

// Validate checks the fields LoadConfig can't verify by construction
// alone, following the same shape as gocircum's Config.Validate.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("dnsproxyd: config: listen address is required")
	}
	switch c.Transport {
	case "do53", "dot", "doh":
	default:
		return fmt.Errorf("dnsproxyd: config: unsupported transport %q", c.Transport)
	}
	return nil
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dnsproxyd: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("dnsproxyd: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// durationOrDefault converts a millisecond config field to a
// time.Duration, falling back to def when ms is zero.
func durationOrDefault(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// plainEndpointsFromStrings parses a Servers list of bare IP addresses
// into Do53 endpoints. The first entry that doesn't parse aborts the whole
// list with an error naming that entry.
func plainEndpointsFromStrings(servers []string) ([]registry.PlainEndpoint, error) {
	out := make([]registry.PlainEndpoint, 0, len(servers))
	for _, s := range servers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("dnsproxyd: config: invalid do53 server %q: %w", s, err)
		}
		out = append(out, registry.NewPlainEndpoint(addr))
	}
	return out, nil
}
