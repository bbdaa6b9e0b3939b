// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"testing"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	q := dnscodec.NewQuery("example.com", dns.TypeA)
	raw, msg, err := Encode(q, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.NotNil(t, msg)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, msg.Id, decoded.Id)
	require.Equal(t, msg.Question, decoded.Question)
}

func TestEncodeMutateDoesNotTouchCaller(t *testing.T) {
	q := dnscodec.NewQuery("example.com", dns.TypeA)
	orig := *q
	_, _, err := Encode(q, func(c *dnscodec.Query) {
		c.ID = 0
		c.MaxSize = dnscodec.QueryMaxResponseSizeTCP
	}, nil)
	require.NoError(t, err)
	require.Equal(t, orig, *q)
}

func TestEncodeMutateMsgAppliesAfterBuild(t *testing.T) {
	q := dnscodec.NewQuery("example.com", dns.TypeA)
	var gotOpt *dns.OPT
	_, msg, err := Encode(q, nil, func(m *dns.Msg) {
		gotOpt = AddEDNS0(m, 4096, false)
		AddKeepalive(gotOpt, DefaultKeepaliveTimeout)
	})
	require.NoError(t, err)
	require.NotNil(t, gotOpt)
	require.Same(t, gotOpt, msg.IsEdns0())
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte{0xff})
	require.Error(t, err)
}

func TestValidFrameLength(t *testing.T) {
	require.False(t, ValidFrameLength(MinFrameLength-1))
	require.True(t, ValidFrameLength(MinFrameLength))
	require.True(t, ValidFrameLength(MaxFrameLength))
	require.False(t, ValidFrameLength(MaxFrameLength+1))
}

func TestAddEDNS0Idempotent(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	opt1 := AddEDNS0(msg, 4096, false)
	opt2 := AddEDNS0(msg, 4096, false)
	require.Same(t, opt1, opt2)
}

func TestAddKeepaliveReplacesExisting(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	opt := AddEDNS0(msg, 4096, false)

	AddKeepalive(opt, 1000)
	AddKeepalive(opt, DefaultKeepaliveTimeout)

	var found int
	for _, o := range opt.Option {
		if ka, ok := o.(*dns.EDNS0_TCP_KEEPALIVE); ok {
			found++
			require.EqualValues(t, DefaultKeepaliveTimeout, ka.Timeout)
		}
	}
	require.Equal(t, 1, found)
}

func TestAddPaddingRoundsToBlockLength(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	opt := AddEDNS0(msg, 4096, false)
	AddKeepalive(opt, DefaultKeepaliveTimeout)

	require.NoError(t, AddPadding(msg, opt, DefaultBlockLength))

	raw, err := msg.Pack()
	require.NoError(t, err)
	require.Zero(t, (len(raw)+2)%DefaultBlockLength)
}

func TestAddPaddingDefaultsBlockLength(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)
	opt := AddEDNS0(msg, 4096, false)

	require.NoError(t, AddPadding(msg, opt, 0))

	raw, err := msg.Pack()
	require.NoError(t, err)
	require.Zero(t, (len(raw)+2)%DefaultBlockLength)
}
