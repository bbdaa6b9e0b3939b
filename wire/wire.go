// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire adapts [github.com/bassosimone/dnscodec] and
// [github.com/miekg/dns] into the encode/decode/length contract that the
// rest of this module treats [dnscodec] as providing (see §1 of the
// design: the wire codec is an external collaborator, consumed only
// through these three operations plus the EDNS(0) option mutations that
// DNS-over-TLS needs before handing a query to the codec).
package wire

import (
	"crypto/rand"
	"fmt"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

const (
	// MinFrameLength is the smallest length-prefix value this module
	// accepts on a stream transport (TCP/TLS). A frame shorter than this
	// cannot contain a valid DNS header.
	MinFrameLength = 12

	// MaxFrameLength is the largest length-prefix value a 16-bit
	// big-endian length field can carry.
	MaxFrameLength = 65535

	// DefaultKeepaliveTimeout is the EDNS(0) TCP-Keepalive timeout this
	// module advertises on DoT connections (RFC 7828), 2 minutes
	// expressed as the RFC's 100ms units.
	DefaultKeepaliveTimeout = 2 * 60 * 10

	// DefaultBlockLength is the default EDNS(0) padding block length
	// (RFC 7830) for DoT.
	DefaultBlockLength = 128
)

// Encode clones q, lets mutateQuery adjust the clone in place (e.g. to set
// the ID or max response size), builds the *dns.Msg, lets mutateMsg adjust
// it in place (e.g. to add EDNS(0) Keepalive/Padding, which must see the
// message's near-final shape to size padding correctly), packs it through
// dnscodec, and returns both the raw frame bytes and the packed *dns.Msg
// (the latter is needed by callers that must correlate the response
// against the query's final ID).
func Encode(q *dnscodec.Query, mutateQuery func(*dnscodec.Query), mutateMsg func(*dns.Msg)) ([]byte, *dns.Msg, error) {
	clone := q.Clone()
	if mutateQuery != nil {
		mutateQuery(clone)
	}
	msg, err := clone.NewMsg()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: build message: %w", err)
	}
	if mutateMsg != nil {
		mutateMsg(msg)
	}
	raw, err := msg.Pack()
	if err != nil {
		return nil, nil, fmt.Errorf("wire: pack message: %w", err)
	}
	return raw, msg, nil
}

// Decode unpacks a raw DNS message.
func Decode(raw []byte) (*dns.Msg, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return nil, fmt.Errorf("wire: unpack message: %w", err)
	}
	return msg, nil
}

// ValidFrameLength reports whether length is within [MinFrameLength,
// MaxFrameLength], the boundary behaviour required by the testable
// properties around stream framing.
func ValidFrameLength(length int) bool {
	return length >= MinFrameLength && length <= MaxFrameLength
}

// AddEDNS0 ensures msg carries exactly one OPT pseudo-RR in Additional
// and returns it, creating one with udpSize and dnssecOK if none exists
// yet. Idempotent: calling it twice returns the same OPT.
func AddEDNS0(msg *dns.Msg, udpSize uint16, dnssecOK bool) *dns.OPT {
	if opt := msg.IsEdns0(); opt != nil {
		return opt
	}
	msg.SetEdns0(udpSize, dnssecOK)
	return msg.IsEdns0()
}

// AddKeepalive attaches an RFC 7828 TCP-Keepalive option to opt, replacing
// any keepalive option already present.
func AddKeepalive(opt *dns.OPT, timeout uint16) {
	opt.Option = removeOption(opt.Option, dns.EDNS0TCPKEEPALIVE)
	opt.Option = append(opt.Option, &dns.EDNS0_TCP_KEEPALIVE{
		Code:    dns.EDNS0TCPKEEPALIVE,
		Timeout: timeout,
	})
}

// AddPadding attaches an RFC 7830 padding option to opt sized so that the
// final packed length of msg, plus the 2-byte stream length prefix, is a
// multiple of blockLength. Padding bytes are drawn from crypto/rand.
//
// AddPadding packs msg once, with an empty padding option already in
// place so the option's own overhead is measured, then replaces that
// option in opt with one carrying the computed number of bytes. The
// padding bytes add exactly their own count to the packed length, so no
// second pack is needed; msg itself is left for the caller to pack.
func AddPadding(msg *dns.Msg, opt *dns.OPT, blockLength int) error {
	if blockLength <= 0 {
		blockLength = DefaultBlockLength
	}
	opt.Option = removeOption(opt.Option, dns.EDNS0PADDING)

	// Pack once with a zero-length padding option installed so the fixed
	// overhead of the option itself (4 bytes: 2 code + 2 length) is
	// accounted for.
	opt.Option = append(opt.Option, &dns.EDNS0_PADDING{Padding: nil})
	base, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("wire: pack for padding measurement: %w", err)
	}

	framed := len(base) + 2 // 2-byte stream length prefix
	remainder := framed % blockLength
	padLen := 0
	if remainder != 0 {
		padLen = blockLength - remainder
	}

	padding := make([]byte, padLen)
	if padLen > 0 {
		if _, err := rand.Read(padding); err != nil {
			return fmt.Errorf("wire: generate padding: %w", err)
		}
	}
	opt.Option = removeOption(opt.Option, dns.EDNS0PADDING)
	opt.Option = append(opt.Option, &dns.EDNS0_PADDING{Padding: padding})
	return nil
}

// removeOption drops any existing EDNS(0) option of the given code from
// opts, preserving order of the rest.
func removeOption(opts []dns.EDNS0, code uint16) []dns.EDNS0 {
	out := opts[:0:0]
	for _, o := range opts {
		if o.Option() != code {
			out = append(out, o)
		}
	}
	return out
}
