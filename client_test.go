// SPDX-License-Identifier: GPL-3.0-or-later

package resolver

import (
	"context"
	"net/netip"
	"testing"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// stubEngine is a transport.Engine test double that returns a
// caller-supplied message (or error) without touching the network,
// mirroring the stub-based style of the teacher's own stream_test.go.
type stubEngine struct {
	msg *dns.Msg
	err error
}

func (e *stubEngine) Exchange(ctx context.Context, query *dnscodec.Query) (*dns.Msg, error) {
	return e.msg, e.err
}

func successMsg(t *testing.T, rcode int, answers ...dns.RR) *dns.Msg {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	msg.Response = true
	msg.Rcode = rcode
	msg.Answer = answers
	return msg
}

func TestClientQueryMessageSuccess(t *testing.T) {
	msg := successMsg(t, dns.RcodeSuccess)
	c := New(&stubEngine{msg: msg}, DefaultOptions())

	resp, err := c.QueryMessage(context.Background(), dnscodec.NewQuery("example.com", dns.TypeA))
	require.NoError(t, err)
	require.True(t, resp.IsResponse)
	require.Equal(t, dns.RcodeSuccess, resp.Status)
}

func TestClientQueryMessageThrowsOnErrorStatus(t *testing.T) {
	msg := successMsg(t, dns.RcodeNameError)
	c := New(&stubEngine{msg: msg}, DefaultOptions())

	_, err := c.QueryMessage(context.Background(), dnscodec.NewQuery("emanon.foo", dns.TypeA))
	require.Error(t, err)
	require.Contains(t, err.Error(), "NameError")
}

func TestClientQueryMessageReturnsStatusWhenNotThrowing(t *testing.T) {
	msg := successMsg(t, dns.RcodeNameError)
	opts := DefaultOptions()
	opts.ThrowOnErrorStatus = false
	c := New(&stubEngine{msg: msg}, opts)

	resp, err := c.QueryMessage(context.Background(), dnscodec.NewQuery("emanon.foo", dns.TypeA))
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, resp.Status)
	require.Empty(t, resp.Answers)
}

func TestClientQueryEmptyNameIsError(t *testing.T) {
	c := New(&stubEngine{}, DefaultOptions())
	_, err := c.Query(context.Background(), "", dns.TypeA)
	require.Error(t, err)
}

func TestClientResolveMergesAAndAAAA(t *testing.T) {
	aRR, err := dns.NewRR("example.com. 300 IN A 93.184.216.34")
	require.NoError(t, err)
	aaaaRR, err := dns.NewRR("example.com. 300 IN AAAA 2606:2800:220:1:248:1893:25c8:1946")
	require.NoError(t, err)

	engine := &sequencingEngine{
		byType: map[uint16]*dns.Msg{
			dns.TypeA:    successMsg(t, dns.RcodeSuccess, aRR),
			dns.TypeAAAA: successMsg(t, dns.RcodeSuccess, aaaaRR),
		},
	}
	c := New(engine, DefaultOptions())

	addrs, err := c.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, addrs, 2)
}

func TestClientResolvePropagatesSubQueryFailure(t *testing.T) {
	aRR, err := dns.NewRR("example.com. 300 IN A 93.184.216.34")
	require.NoError(t, err)

	engine := &sequencingEngine{
		byType: map[uint16]*dns.Msg{
			dns.TypeA: successMsg(t, dns.RcodeSuccess, aRR),
		},
		errByType: map[uint16]error{
			dns.TypeAAAA: context.DeadlineExceeded,
		},
	}
	c := New(engine, DefaultOptions())

	_, err = c.Resolve(context.Background(), "example.com")
	require.Error(t, err)
}

func TestClientResolveAddrReturnsPTRTarget(t *testing.T) {
	ptrRR, err := dns.NewRR("34.216.184.93.in-addr.arpa. 300 IN PTR example.com.")
	require.NoError(t, err)
	engine := &stubEngine{msg: successMsg(t, dns.RcodeSuccess, ptrRR)}
	c := New(engine, DefaultOptions())

	name, err := c.ResolveAddr(context.Background(), netip.MustParseAddr("93.184.216.34"))
	require.NoError(t, err)
	require.Equal(t, "example.com.", name)
}

func TestClientResolveAddrNoAnswer(t *testing.T) {
	engine := &stubEngine{msg: successMsg(t, dns.RcodeSuccess)}
	c := New(engine, DefaultOptions())

	_, err := c.ResolveAddr(context.Background(), netip.MustParseAddr("93.184.216.34"))
	require.Error(t, err)
}

// sequencingEngine resolves by query type (read back off the built
// *dns.Msg rather than any dnscodec.Query field this pack never confirmed)
// so TestClientResolve* can feed distinct A/AAAA answers without caring
// which goroutine runs first.
type sequencingEngine struct {
	byType    map[uint16]*dns.Msg
	errByType map[uint16]error
}

func (e *sequencingEngine) Exchange(ctx context.Context, query *dnscodec.Query) (*dns.Msg, error) {
	msg, err := query.NewMsg()
	if err != nil {
		return nil, err
	}
	qtype := msg.Question[0].Qtype
	if err, ok := e.errByType[qtype]; ok {
		return nil, err
	}
	return e.byType[qtype], nil
}
