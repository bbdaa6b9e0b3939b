// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/arlofresh/dnsresolve/registry"
	"github.com/arlofresh/dnsresolve/wire"
	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubDialer hands out one preset streamConn per DialContext call from a
// caller-provided queue, letting tests control exactly what conn.go dials
// into without a real socket.
type stubDialer struct {
	conns []streamConn
	dials int
}

func (d *stubDialer) DialContext(ctx context.Context, ep registry.DotEndpoint) (streamConn, error) {
	if d.dials >= len(d.conns) {
		return nil, io.EOF
	}
	c := d.conns[d.dials]
	d.dials++
	return c, nil
}

func testEndpoint() registry.DotEndpoint {
	return registry.NewDotEndpoint(netip.MustParseAddr("127.0.0.1"), "example.test", 0, nil)
}

func writeFramedReply(t *testing.T, w io.Writer, id uint16) {
	t.Helper()
	resp := new(dns.Msg)
	resp.SetQuestion("example.com.", dns.TypeA)
	resp.Response = true
	resp.Id = id
	out, err := resp.Pack()
	require.NoError(t, err)
	frame := make([]byte, 2+len(out))
	binary.BigEndian.PutUint16(frame, uint16(len(out)))
	copy(frame[2:], out)
	_, err = w.Write(frame)
	require.NoError(t, err)
}

func readFramedQuery(t *testing.T, r *bufio.Reader) *dns.Msg {
	t.Helper()
	var lenBuf [2]byte
	_, err := io.ReadFull(r, lenBuf[:])
	require.NoError(t, err)
	length := binary.BigEndian.Uint16(lenBuf[:])
	body := make([]byte, length)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(body))
	return msg
}

func TestPersistentConnRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	dialer := &stubDialer{conns: []streamConn{client}}
	pc := newPersistentConn(dialer, testEndpoint(), zap.NewNop())

	stream, generation, err := pc.ensure(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, generation)

	id, ch, err := pc.mux.allocate()
	require.NoError(t, err)

	go func() {
		r := bufio.NewReader(server)
		readFramedQuery(t, r)
		writeFramedReply(t, server, id)
	}()

	query := dnscodec.NewQuery("example.com", dns.TypeA)
	raw, _, err := wire.Encode(query, func(q *dnscodec.Query) { q.ID = id }, nil)
	require.NoError(t, err)
	require.NoError(t, pc.write(context.Background(), stream, raw))

	select {
	case result := <-ch:
		require.NoError(t, result.err)
		require.Equal(t, id, result.msg.Id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestPersistentConnEnsureReusesReadyConnection(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	dialer := &stubDialer{conns: []streamConn{client}}
	pc := newPersistentConn(dialer, testEndpoint(), zap.NewNop())

	_, gen1, err := pc.ensure(context.Background())
	require.NoError(t, err)
	_, gen2, err := pc.ensure(context.Background())
	require.NoError(t, err)
	require.Equal(t, gen1, gen2)
	require.Equal(t, 1, dialer.dials)
}

func TestPersistentConnInvalidateIgnoresStaleGeneration(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	defer server1.Close()
	defer server2.Close()
	dialer := &stubDialer{conns: []streamConn{client1, client2}}
	pc := newPersistentConn(dialer, testEndpoint(), zap.NewNop())

	_, gen1, err := pc.ensure(context.Background())
	require.NoError(t, err)

	// Force a redial by invalidating the first generation directly.
	pc.invalidate(gen1, io.EOF)
	_, gen2, err := pc.ensure(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, gen1, gen2)

	// Invalidating the now-stale first generation again must be a no-op.
	require.True(t, pc.generationLive(gen2))
	pc.invalidate(gen1, io.EOF)
	require.True(t, pc.generationLive(gen2))
}

func TestPersistentConnCloseFailsOutstanding(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	dialer := &stubDialer{conns: []streamConn{client}}
	pc := newPersistentConn(dialer, testEndpoint(), zap.NewNop())

	_, _, err := pc.ensure(context.Background())
	require.NoError(t, err)

	_, ch, err := pc.mux.allocate()
	require.NoError(t, err)

	require.NoError(t, pc.close())

	select {
	case result := <-ch:
		require.Error(t, result.err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failAll")
	}
}
