// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"net"
)

// tcpStreamConn adapts a [net.Conn] to [streamConn], mirroring the
// teacher's tcpStreamConn.
type tcpStreamConn struct {
	net.Conn
}

var _ streamConn = &tcpStreamConn{}

// tcpStreamDialer dials a plain TCP connection, used by Do53's TCP
// fallback path where no TLS handshake or SNI/pin verification is
// required. Unlike tlsStreamDialer it dials a bare address rather than a
// registry.DotEndpoint: Do53's TCP fallback has no hostname or pin set to
// consult.
type tcpStreamDialer struct {
	nd *net.Dialer
}

func newTCPStreamDialer() *tcpStreamDialer {
	return &tcpStreamDialer{nd: &net.Dialer{}}
}

// DialContext dials addr ("host:port") over plain TCP.
func (d *tcpStreamDialer) DialContext(ctx context.Context, addr string) (streamConn, error) {
	conn, err := d.nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpStreamConn{conn}, nil
}
