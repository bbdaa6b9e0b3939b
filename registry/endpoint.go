// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry owns the candidate upstream server lists for each
// transport (§4.2 of the design) and the OS/family availability filter
// applied to them before a transport engine dials out.
package registry

import "net/netip"

// PlainEndpoint is a classic Do53 server: an IP address, implicit port 53.
type PlainEndpoint struct {
	addr netip.Addr
}

// NewPlainEndpoint constructs an immutable Do53 endpoint.
func NewPlainEndpoint(addr netip.Addr) PlainEndpoint {
	return PlainEndpoint{addr: addr}
}

// Addr returns the server's IP address.
func (e PlainEndpoint) Addr() netip.Addr { return e.addr }

// AddrPort returns the (addr, 53) pair dialers need.
func (e PlainEndpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.addr, 53)
}

// DotEndpoint is a DNS-over-TLS server.
type DotEndpoint struct {
	addr     netip.Addr
	hostname string
	port     uint16
	pins     []string
}

// NewDotEndpoint constructs an immutable DoT endpoint. port defaults to
// 853 when zero. pins is an optional list of base64 SPKI fingerprints;
// a non-empty set is enforced during the TLS handshake (see
// transport.newTLSConfigDoT).
func NewDotEndpoint(addr netip.Addr, hostname string, port uint16, pins []string) DotEndpoint {
	if port == 0 {
		port = 853
	}
	return DotEndpoint{
		addr:     addr,
		hostname: hostname,
		port:     port,
		pins:     append([]string(nil), pins...),
	}
}

// Addr returns the server's IP address.
func (e DotEndpoint) Addr() netip.Addr { return e.addr }

// Hostname returns the SNI/certificate name to present/verify.
func (e DotEndpoint) Hostname() string { return e.hostname }

// Port returns the TCP port to dial.
func (e DotEndpoint) Port() uint16 { return e.port }

// Pins returns the configured SPKI pin set, possibly empty.
func (e DotEndpoint) Pins() []string { return append([]string(nil), e.pins...) }

// AddrPort returns the (addr, port) pair dialers need.
func (e DotEndpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.addr, e.port)
}

// DohEndpoint is a DNS-over-HTTPS server, identified by its absolute URL.
type DohEndpoint struct {
	url string
}

// NewDohEndpoint constructs an immutable DoH endpoint.
func NewDohEndpoint(url string) DohEndpoint {
	return DohEndpoint{url: url}
}

// URL returns the HTTPS URL to POST queries to.
func (e DohEndpoint) URL() string { return e.url }
