// SPDX-License-Identifier: GPL-3.0-or-later

// Package resolver is a unicast DNS stub-resolver library: a pluggable
// client that issues queries over Do53 (UDP with TCP fallback), DoT
// (DNS-over-TLS), or DoH (DNS-over-HTTPS), and returns the parsed
// response.
//
// The transport-specific plumbing — connection management, query
// multiplexing, EDNS(0) mutation, server selection — lives in the
// transport subpackage; this package exposes the uniform client contract
// callers actually use: Resolve, ResolveAddr, Query, and QueryMessage.
package resolver
