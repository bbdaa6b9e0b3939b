// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/arlofresh/dnsresolve/dnserr"
	"github.com/arlofresh/dnsresolve/registry"
	"github.com/arlofresh/dnsresolve/transport"
	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
)

// Client is the uniform facade (§4.1) over one transport engine. It owns
// the engine, the caller's timeouts, and the throw-on-error-status
// policy; it holds no other mutable state, so unlike the DoT engine
// beneath it a Client has nothing of its own that needs disposing beyond
// closing that engine.
type Client struct {
	engine transport.Engine
	opts   Options
}

// closer is implemented by engines that hold resources needing explicit
// teardown (DotEngine's persistent connections, DoqEngine's UDP socket).
// Do53Engine and DohEngine dial fresh per-call and need no Close.
type closer interface {
	Close() error
}

// New wraps an already-constructed engine in a Client. Most callers
// should use NewDo53, NewDot, or NewDoh instead, which also resolve the
// server list from opts or the registry defaults.
func New(engine transport.Engine, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = opts.logger()
	}
	return &Client{engine: engine, opts: opts}
}

// NewDo53 constructs a Client over the Do53 engine, using opts.Do53Servers
// if set or the OS-derived default list, filtered to available address
// families.
func NewDo53(opts Options) *Client {
	servers := opts.Do53Servers
	if servers == nil {
		servers = registry.Available(registry.DefaultDo53())
	}
	engine := transport.NewDo53Engine(servers, opts.UDPTimeout, opts.TCPTimeout, opts.logger())
	return New(engine, opts)
}

// NewDot constructs a Client over the DoT engine, using opts.DotServers if
// set or the built-in default list.
func NewDot(opts Options) *Client {
	servers := opts.DotServers
	if servers == nil {
		servers = registry.DefaultDoT()
	}
	engine := transport.NewDotEngine(servers, opts.Timeout, opts.BlockLength, opts.logger())
	return New(engine, opts)
}

// NewDoh constructs a Client over the DoH engine, using opts.DohServer if
// set (a zero value means unset) or the built-in default endpoint.
func NewDoh(opts Options) *Client {
	endpoint := opts.DohServer
	if endpoint.URL() == "" {
		endpoint = registry.DefaultDoH()
	}
	engine := transport.NewDohEngine(endpoint, opts.Timeout)
	return New(engine, opts)
}

// NewDoq constructs a Client over the supplemental DoQ engine against a
// single endpoint. Unlike NewDo53/NewDot/NewDoh there is no built-in
// default list or multi-endpoint failover for DoQ: it exists to exercise
// quic-go, not as one of the three required transports (§1).
func NewDoq(endpoint registry.DotEndpoint, opts Options) (*Client, error) {
	engine, err := transport.NewDoqEngine(endpoint)
	if err != nil {
		return nil, err
	}
	return New(engine, opts), nil
}

// Close releases any resources the underlying engine holds open (DoT's
// persistent connections, DoQ's UDP socket). It is a no-op for engines
// that dial fresh per call.
func (c *Client) Close() error {
	if cl, ok := c.engine.(closer); ok {
		return cl.Close()
	}
	return nil
}

// Query builds a recursion-desired request for name/qtype and delegates
// to QueryMessage.
func (c *Client) Query(ctx context.Context, name string, qtype uint16) (*Response, error) {
	if name == "" {
		return nil, fmt.Errorf("resolver: %w", dnserr.ErrEmptyName)
	}
	return c.QueryMessage(ctx, dnscodec.NewQuery(name, qtype))
}

// QueryMessage sends a pre-built query and returns the parsed response.
// When c.opts.ThrowOnErrorStatus is true (the default) a non-success
// RCODE is raised as an error instead of being returned verbatim.
func (c *Client) QueryMessage(ctx context.Context, query *dnscodec.Query) (*Response, error) {
	msg, err := c.engine.Exchange(ctx, query)
	if err != nil {
		return nil, err
	}
	resp := newResponse(msg)
	if c.opts.ThrowOnErrorStatus && resp.Status != dns.RcodeSuccess {
		status := dns.RcodeToString[resp.Status]
		if resp.Status == dns.RcodeNameError {
			status = "NameError (" + status + ")"
		}
		return nil, fmt.Errorf("resolver: %w: %s", dnserr.ErrDNSStatus, status)
	}
	return resp, nil
}

// Resolve dispatches A and AAAA queries concurrently for name and merges
// their answers into one unordered address set. If either sub-query
// fails, the first failure observed is propagated and no partial result
// is returned.
//
// This fan-out has no teacher precedent to imitate (the teacher issues
// one Exchange per call with no higher-level helpers), so it is plain
// stdlib sync rather than a borrowed errgroup-style pattern; see
// DESIGN.md.
func (c *Client) Resolve(ctx context.Context, name string) ([]netip.Addr, error) {
	if name == "" {
		return nil, fmt.Errorf("resolver: %w", dnserr.ErrEmptyName)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addrs []netip.Addr
		err   error
	}
	results := make(chan result, 2)

	var wg sync.WaitGroup
	for _, qtype := range [2]uint16{dns.TypeA, dns.TypeAAAA} {
		wg.Add(1)
		go func(qtype uint16) {
			defer wg.Done()
			resp, err := c.Query(ctx, name, qtype)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{addrs: addressesFromAnswers(resp.Answers)}
		}(qtype)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var merged []netip.Addr
	for r := range results {
		if r.err != nil {
			cancel()
			return nil, r.err
		}
		merged = append(merged, r.addrs...)
	}
	return merged, nil
}

func addressesFromAnswers(answers []dns.RR) []netip.Addr {
	var out []netip.Addr
	for _, rr := range answers {
		switch rec := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rec.A.To4()); ok {
				out = append(out, addr)
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
				out = append(out, addr)
			}
		}
	}
	return out
}

// ResolveAddr performs a reverse (PTR) lookup and returns the first name
// in the answer. An answer with no PTR record surfaces dnserr.ErrNoAnswer.
func (c *Client) ResolveAddr(ctx context.Context, addr netip.Addr) (string, error) {
	reverseName, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", fmt.Errorf("resolver: %w", err)
	}

	resp, err := c.Query(ctx, reverseName, dns.TypePTR)
	if err != nil {
		return "", err
	}
	for _, rr := range resp.Answers {
		if ptr, ok := rr.(*dns.PTR); ok {
			return ptr.Ptr, nil
		}
	}
	return "", fmt.Errorf("resolver: %w", dnserr.ErrNoAnswer)
}
