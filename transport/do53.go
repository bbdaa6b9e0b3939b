// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/arlofresh/dnsresolve/dnserr"
	"github.com/arlofresh/dnsresolve/registry"
	"github.com/arlofresh/dnsresolve/wire"
	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// udpMaxResponseSize is the receive buffer size for a Do53 UDP reply.
// 4096 matches the conventional EDNS(0) UDP payload advertised by
// general-purpose resolvers; Do53 never sends an OPT record itself, but
// still needs headroom for servers that reply generously regardless.
const udpMaxResponseSize = 4096

// Do53Engine implements classic unencrypted DNS: one UDP attempt per
// endpoint, falling back to a fresh one-shot TCP connection (adapted from
// the teacher's Transport.Exchange, minus the persistent-connection and
// EDNS(0) mutation machinery DoT needs) whenever the UDP attempt is
// truncated *or* fails outright — a dial error, a read error, or the
// per-phase timeout firing all fall through to TCP on the same server
// (§4.4 UDP step 5), rather than only a truncated reply. Neither path
// injects an OPT record: Do53 gets no padding and no keepalive, matching
// §4.5's "no OPT injection on Do53" rule.
type Do53Engine struct {
	endpoints  []registry.PlainEndpoint
	udpDialer  *net.Dialer
	tcpDialer  *tcpStreamDialer
	udpTimeout time.Duration
	tcpTimeout time.Duration
	logger     *zap.Logger
}

var _ Engine = &Do53Engine{}

// NewDo53Engine constructs a Do53 engine against endpoints, trying each in
// order until one responds. udpTimeout and tcpTimeout are independent
// per-phase budgets (§4.4, §5): a UDP attempt that times out does not
// consume any of the TCP fallback's own budget. A zero udpTimeout with a
// TCP-capable server still succeeds via TCP fallback (§8's boundary
// behaviour), since the UDP phase simply fails fast on an
// already-expired context.
func NewDo53Engine(endpoints []registry.PlainEndpoint, udpTimeout, tcpTimeout time.Duration, logger *zap.Logger) *Do53Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Do53Engine{
		endpoints:  endpoints,
		udpDialer:  &net.Dialer{},
		tcpDialer:  newTCPStreamDialer(),
		udpTimeout: udpTimeout,
		tcpTimeout: tcpTimeout,
		logger:     logger,
	}
}

// Exchange implements [Engine].
func (e *Do53Engine) Exchange(ctx context.Context, query *dnscodec.Query) (*dns.Msg, error) {
	if len(e.endpoints) == 0 {
		return nil, fmt.Errorf("transport: do53: %w", dnserr.ErrNoServers)
	}

	var lastErr error
	for _, ep := range e.endpoints {
		msg, err := e.exchangeWithEndpoint(ctx, ep, query)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("transport: do53: %w: %v", dnserr.ErrCancelled, ctx.Err())
	}
	return nil, fmt.Errorf("transport: do53: %w: %v", dnserr.ErrUnreachable, lastErr)
}

func (e *Do53Engine) exchangeWithEndpoint(ctx context.Context, ep registry.PlainEndpoint, query *dnscodec.Query) (*dns.Msg, error) {
	return e.exchangeAddr(ctx, ep.AddrPort().String(), query)
}

// exchangeAddr and exchangeUDP/exchangeTCP take a resolved address string
// rather than a registry.PlainEndpoint so they can be exercised directly
// against a loopback test server bound to an ephemeral port (PlainEndpoint
// always reports the well-known port 53, which a non-root test process
// cannot bind).
func (e *Do53Engine) exchangeAddr(ctx context.Context, addr string, query *dnscodec.Query) (*dns.Msg, error) {
	raw, queryMsg, err := wire.Encode(query, func(q *dnscodec.Query) {
		q.MaxSize = udpMaxResponseSize
	}, nil)
	if err != nil {
		return nil, err
	}

	udpCtx, cancelUDP := context.WithTimeout(ctx, e.udpTimeout)
	respMsg, udpErr := e.exchangeUDP(udpCtx, addr, raw)
	cancelUDP()

	if udpErr == nil && !respMsg.Truncated {
		return validateAgainstQuery(queryMsg, respMsg)
	}

	// A truncated reply or any UDP failure (dial error, read error, the
	// per-phase timeout firing, caller cancellation) falls through to TCP
	// against the same server, on its own independent timeout budget.
	tcpCtx, cancelTCP := context.WithTimeout(ctx, e.tcpTimeout)
	defer cancelTCP()
	respMsg, err = e.exchangeTCP(tcpCtx, addr, queryMsg)
	if err != nil {
		if udpErr != nil {
			return nil, fmt.Errorf("transport: do53: udp failed (%v), tcp fallback: %w", udpErr, err)
		}
		return nil, err
	}
	return validateAgainstQuery(queryMsg, respMsg)
}

func (e *Do53Engine) exchangeUDP(ctx context.Context, addr string, raw []byte) (*dns.Msg, error) {
	conn, err := e.udpDialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: do53: udp dial: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("transport: do53: udp write: %w", err)
	}

	buf := make([]byte, udpMaxResponseSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("transport: do53: udp read: %w", err)
	}
	return wire.Decode(buf[:n])
}

// exchangeTCP dials a fresh one-shot TCP connection via tcpStreamDialer
// (shared with DoT's tlsStreamDialer through the streamConn abstraction)
// for the truncation/failure fallback, framed with the same 2-byte length
// prefix DoT uses.
func (e *Do53Engine) exchangeTCP(ctx context.Context, addr string, queryMsg *dns.Msg) (*dns.Msg, error) {
	conn, err := e.tcpDialer.DialContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: do53: tcp dial: %w", err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	rawQuery, err := queryMsg.Pack()
	if err != nil {
		return nil, fmt.Errorf("transport: do53: tcp pack: %w", err)
	}
	frame := make([]byte, 2+len(rawQuery))
	binary.BigEndian.PutUint16(frame, uint16(len(rawQuery)))
	copy(frame[2:], rawQuery)
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("transport: do53: tcp write: %w", err)
	}

	br := make([]byte, 2)
	if _, err := io.ReadFull(conn, br); err != nil {
		return nil, fmt.Errorf("transport: do53: tcp read length: %w", err)
	}
	length := int(binary.BigEndian.Uint16(br))
	if !wire.ValidFrameLength(length) {
		return nil, fmt.Errorf("transport: do53: %w: invalid tcp frame length %d", dnserr.ErrProtocolFormat, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, fmt.Errorf("transport: do53: tcp read body: %w", err)
	}
	return wire.Decode(body)
}
