// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arlofresh/dnsresolve/dnserr"
	"github.com/arlofresh/dnsresolve/registry"
	"github.com/arlofresh/dnsresolve/wire"
	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// DotEngine implements DNS-over-TLS (RFC 7858) over the persistent,
// multiplexed connection type in conn.go/mux.go, one per configured
// endpoint, with per-server failover when an endpoint is unreachable and
// the reconnect-once recovery rule (§4.3) when an in-flight wait races a
// concurrent connection loss.
type DotEngine struct {
	endpoints   []registry.DotEndpoint
	timeout     time.Duration
	blockLength int
	logger      *zap.Logger
	dialer      streamDialer

	mu    sync.Mutex
	conns map[string]*persistentConn
}

var _ Engine = &DotEngine{}

// NewDotEngine constructs a DoT engine against endpoints, trying each in
// order on failure. timeout bounds a single endpoint attempt; blockLength
// is the EDNS(0) padding block size (0 selects wire.DefaultBlockLength).
func NewDotEngine(endpoints []registry.DotEndpoint, timeout time.Duration, blockLength int, logger *zap.Logger) *DotEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DotEngine{
		endpoints:   endpoints,
		timeout:     timeout,
		blockLength: blockLength,
		logger:      logger,
		dialer:      newTLSStreamDialer(),
		conns:       make(map[string]*persistentConn),
	}
}

// endpointKey returns a comparable map key for ep (DotEndpoint itself is
// not comparable: it carries a pins slice).
func endpointKey(ep registry.DotEndpoint) string {
	return ep.AddrPort().String() + "|" + ep.Hostname()
}

// Exchange implements [Engine], trying each configured endpoint in order
// until one produces a validated response or the caller's context is
// exhausted.
func (e *DotEngine) Exchange(ctx context.Context, query *dnscodec.Query) (*dns.Msg, error) {
	if len(e.endpoints) == 0 {
		return nil, fmt.Errorf("transport: dot: %w", dnserr.ErrNoServers)
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
		return nil, fmt.Errorf("transport: dot: %w: %v", dnserr.ErrCancelled, ctx.Err())
	}
	return nil, fmt.Errorf("transport: dot: %w: %v", dnserr.ErrUnreachable, lastErr)
}

func (e *DotEngine) connFor(ep registry.DotEndpoint) *persistentConn {
	key := endpointKey(ep)
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[key]
	if !ok {
		c = newPersistentConn(e.dialer, ep, e.logger)
		e.conns[key] = c
	}
	return c
}

func (e *DotEngine) exchangeWithEndpoint(ctx context.Context, ep registry.DotEndpoint, query *dnscodec.Query) (*dns.Msg, error) {
	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); !ok || deadline.Before(d) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	conn := e.connFor(ep)

	// The reconnect-once rule: a single automatic retry is allowed when
	// the wait below is abandoned because the connection died out from
	// under it, as opposed to genuine caller cancellation.
	for attempt := 0; attempt < 2; attempt++ {
		msg, retry, err := e.exchangeOnce(ctx, conn, query)
		if err == nil {
			return msg, nil
		}
		if !retry {
			return nil, err
		}
	}
	return nil, fmt.Errorf("transport: dot: reconnect did not recover")
}

func (e *DotEngine) exchangeOnce(ctx context.Context, conn *persistentConn, query *dnscodec.Query) (msg *dns.Msg, retry bool, err error) {
	stream, generation, err := conn.ensure(ctx)
	if err != nil {
		return nil, false, err
	}

	id, ch, err := conn.mux.allocate()
	if err != nil {
		return nil, false, err
	}

	raw, queryMsg, err := wire.Encode(query,
		func(q *dnscodec.Query) { q.ID = id },
		func(m *dns.Msg) {
			opt := wire.AddEDNS0(m, dnscodec.QueryMaxResponseSizeTCP, query.Flags&dnscodec.QueryFlagDNSSec != 0)
			wire.AddKeepalive(opt, wire.DefaultKeepaliveTimeout)
			if err := wire.AddPadding(m, opt, e.blockLength); err != nil {
				e.logger.Warn("transport: dot: padding failed, sending unpadded", zap.Error(err))
			}
		})
	if err != nil {
		conn.mux.remove(id)
		return nil, false, err
	}

	if err := conn.write(ctx, stream, raw); err != nil {
		conn.mux.remove(id)
		conn.invalidate(generation, err)
		return nil, false, err
	}

	select {
	case result := <-ch:
		if result.err != nil {
			return nil, false, result.err
		}
		respMsg, err := validateAgainstQuery(queryMsg, result.msg)
		if err != nil {
			return nil, false, fmt.Errorf("transport: %w: %v", dnserr.ErrProtocolFormat, err)
		}
		return respMsg, false, nil
	case <-ctx.Done():
		conn.mux.remove(id)
		if !conn.generationLive(generation) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("transport: %w: %v", dnserr.ErrCancelled, ctx.Err())
	}
}

// Close tears down every connection this engine has opened.
func (e *DotEngine) Close() error {
	e.mu.Lock()
	conns := e.conns
	e.conns = make(map[string]*persistentConn)
	e.mu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
