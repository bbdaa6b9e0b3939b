// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnserr defines the error kinds surfaced by the resolver, the
// server registry, and the transport engines.
//
// Callers should match these with [errors.Is]. Every failure is returned
// as an error with a human-readable message, never mapped to a success.
// Errors from the Do53 and DoT engines and the client's own checks wrap
// one of these sentinels; some errors from the DoH and DoQ engines (dial,
// encode, body read, decode) and a reverse-name build failure in
// ResolveAddr are returned without one.
package dnserr

import "errors"

var (
	// ErrNoServers means the configured or filtered endpoint list is empty.
	ErrNoServers = errors.New("dnsresolve: no servers available")

	// ErrUnreachable means every endpoint was tried and none produced a
	// usable response.
	ErrUnreachable = errors.New("dnsresolve: transport unreachable")

	// ErrCancelled means caller cancellation or a timeout fired before a
	// response arrived.
	ErrCancelled = errors.New("dnsresolve: cancelled")

	// ErrProtocolFormat means the decoded response was not a response, was
	// truncated on a non-datagram transport, or an HTTP content-type
	// mismatched.
	ErrProtocolFormat = errors.New("dnsresolve: protocol format error")

	// ErrDNSStatus means the server returned a non-success RCODE and the
	// client has ThrowOnErrorStatus enabled.
	ErrDNSStatus = errors.New("dnsresolve: dns status error")

	// ErrNoAnswer means a reverse lookup produced no PTR answer.
	ErrNoAnswer = errors.New("dnsresolve: no answer")

	// ErrEmptyName is a programmer error: the caller asked to resolve the
	// empty domain name.
	ErrEmptyName = errors.New("dnsresolve: empty name")
)
