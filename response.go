// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import "github.com/miekg/dns"

// Response is the parsed result of one query, built directly from the
// validated *dns.Msg an engine returns. It exposes only the fields the
// facade's contract (§3's Query Message data model) names; callers who
// need the full message can type-assert nothing further, by design — the
// core does not leak transport-internal message shape.
type Response struct {
	// IsResponse mirrors the message's QR bit. A successful Query/
	// QueryMessage call always has this true; it exists mainly so
	// ThrowOnErrorStatus=false callers and tests can still assert it.
	IsResponse bool

	// Truncated mirrors the TC bit. Always false for a response returned
	// from a stream transport (DoT, or Do53's TCP fallback).
	Truncated bool

	// Status is the response RCODE (dns.RcodeSuccess, dns.RcodeNameError, ...).
	Status int

	// ID is the response's message ID, equal to the request ID after any
	// DoT ID rewrite.
	ID uint16

	// Answers is the response's answer section, in wire order.
	Answers []dns.RR

	// Authority is the response's authority section (NS/SOA delegation
	// records), in wire order.
	Authority []dns.RR

	// Additional is the response's additional section, in wire order,
	// excluding the synthetic OPT pseudo-RR dnscodec/the transport layer
	// may have attached for EDNS(0).
	Additional []dns.RR
}

func newResponse(msg *dns.Msg) *Response {
	return &Response{
		IsResponse: msg.Response,
		Truncated:  msg.Truncated,
		Status:     msg.Rcode,
		ID:         msg.Id,
		Answers:    msg.Answer,
		Authority:  msg.Ns,
		Additional: additionalWithoutOPT(msg.Extra),
	}
}

// additionalWithoutOPT drops the OPT pseudo-RR from a message's additional
// section: OPT carries EDNS(0) transport options (UDP size, Keepalive,
// Padding), not a DNS record a caller should see in the answer data model.
func additionalWithoutOPT(extra []dns.RR) []dns.RR {
	out := make([]dns.RR, 0, len(extra))
	for _, rr := range extra {
		if _, ok := rr.(*dns.OPT); ok {
			continue
		}
		out = append(out, rr)
	}
	return out
}
