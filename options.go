// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"time"

	"github.com/arlofresh/dnsresolve/registry"
	"go.uber.org/zap"
)

// Options configures a Client (§6's configuration surface). The zero
// value is not directly usable; construct with DefaultOptions and
// override individual fields.
type Options struct {
	// UDPTimeout bounds a single Do53 UDP attempt. Default 4s.
	UDPTimeout time.Duration

	// TCPTimeout bounds a single Do53 TCP fallback attempt. Default 4s.
	TCPTimeout time.Duration

	// Timeout bounds a single DoT or DoH query. Default 4s.
	Timeout time.Duration

	// BlockLength is the EDNS(0) padding modulus DoT rounds frames to.
	// Default 128; zero selects the default.
	BlockLength int

	// ThrowOnErrorStatus, when true (the default), turns a non-success
	// response RCODE into an error instead of returning it verbatim.
	ThrowOnErrorStatus bool

	// Do53Servers overrides the OS-derived default Do53 list. Override is
	// total: a non-nil slice replaces the defaults entirely, it does not
	// merge with them.
	Do53Servers []registry.PlainEndpoint

	// DotServers overrides the built-in DoT server list.
	DotServers []registry.DotEndpoint

	// DohServer overrides the built-in DoH endpoint.
	DohServer registry.DohEndpoint

	// Logger receives structured diagnostics (dropped frames, unmatched
	// response IDs, padding failures). A nil Logger is replaced with a
	// no-op logger.
	Logger *zap.Logger
}

// DefaultOptions returns the §6 configuration defaults.
func DefaultOptions() Options {
	return Options{
		UDPTimeout:         4 * time.Second,
		TCPTimeout:         4 * time.Second,
		Timeout:            4 * time.Second,
		BlockLength:        128,
		ThrowOnErrorStatus: true,
		Logger:             zap.NewNop(),
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
