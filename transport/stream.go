// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from the teacher's stream.go/tcp.go/tls.go, generalized from a
// one-connection-per-Exchange model to the persistent, multiplexed
// connection the Connection Manager (§4.3) requires for DoT.

package transport

import (
	"context"
	"io"
	"time"

	"github.com/arlofresh/dnsresolve/registry"
)

// streamConn is a bidirectional byte stream with an I/O deadline: a TCP
// connection for Do53's fallback path, or a TLS-over-TCP connection for
// DoT. Unlike the teacher's Transport, one streamConn is shared across
// many Exchange calls (§3's Connection lifecycle).
type streamConn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

// streamDialer creates a streamConn to one DoT endpoint.
type streamDialer interface {
	DialContext(ctx context.Context, ep registry.DotEndpoint) (streamConn, error)
}
