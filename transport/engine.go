// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport implements the three (plus one supplemental) concrete
// DNS transport drivers described by the design: Do53 (UDP with TCP
// fallback), DoT (DNS-over-TLS, persistent multiplexed connection), DoH
// (DNS-over-HTTPS), and DoQ (DNS-over-QUIC, supplemental).
//
// Every engine implements the same request/response contract so the
// resolver facade can treat them interchangeably.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/arlofresh/dnsresolve/dnserr"
	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Engine is the uniform contract every transport driver implements.
//
// Exchange sends query and returns the raw decoded response message. The
// returned *dns.Msg has already passed validateAgainstQuery's
// ID/response-shape checks (QR set, TC clear, matching ID and question);
// its RCODE is not inspected, so the throw-on-error-status policy is left
// to the caller (the resolver Client).
type Engine interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dns.Msg, error)
}

// validateAgainstQuery checks that respMsg answers queryMsg: the QR bit is
// set, the TC bit is clear (every caller passes a reply read from a stream
// or an HTTP body, or a UDP reply already known not to be truncated), and
// the ID and question section match the query's. Any RCODE, and an empty
// answer section, are accepted. It returns respMsg on success.
func validateAgainstQuery(queryMsg, respMsg *dns.Msg) (*dns.Msg, error) {
	switch {
	case !respMsg.Response || respMsg.Truncated:
		return nil, fmt.Errorf("transport: %w: QR bit clear or TC bit set", dnserr.ErrProtocolFormat)
	case respMsg.Id != queryMsg.Id:
		return nil, fmt.Errorf("transport: %w: response ID %d does not match query ID %d", dnserr.ErrProtocolFormat, respMsg.Id, queryMsg.Id)
	case len(respMsg.Question) != len(queryMsg.Question):
		return nil, fmt.Errorf("transport: %w: question section does not match the query", dnserr.ErrProtocolFormat)
	}
	for i, q := range queryMsg.Question {
		if r := respMsg.Question[i]; !strings.EqualFold(q.Name, r.Name) || q.Qtype != r.Qtype {
			return nil, fmt.Errorf("transport: %w: question section does not match the query", dnserr.ErrProtocolFormat)
		}
	}
	return respMsg, nil
}
