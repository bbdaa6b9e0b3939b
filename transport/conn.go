// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/arlofresh/dnsresolve/dnserr"
	"github.com/arlofresh/dnsresolve/registry"
	"github.com/arlofresh/dnsresolve/wire"
	"go.uber.org/zap"
)

// connState is one state of the persistent connection lifecycle (§4.3):
// no-connection, connecting, ready, or closed.
type connState int

const (
	stateNoConn connState = iota
	stateConnecting
	stateReady
	stateClosed
)

// persistentConn manages one stream connection (TCP or TLS) shared across
// many concurrent Exchange calls, generalizing the teacher's
// one-connection-per-Exchange Transport into the long-lived, multiplexed
// connection DoT requires.
//
// mu guards the state machine itself and is held across an entire dial,
// which gives single-flight connection establishment for free: a second
// caller arriving mid-dial simply blocks on mu.Lock() until the first
// caller's dial finishes, rather than starting a redundant dial.
// writeMu is separate and only serializes writers; the background reader
// goroutine never takes it, so reads proceed independently of writes.
type persistentConn struct {
	dialer   streamDialer
	endpoint registry.DotEndpoint
	logger   *zap.Logger
	mux      *multiplexer

	mu         sync.Mutex
	state      connState
	conn       streamConn
	generation uint64

	writeMu sync.Mutex
}

func newPersistentConn(dialer streamDialer, ep registry.DotEndpoint, logger *zap.Logger) *persistentConn {
	return &persistentConn{
		dialer:   dialer,
		endpoint: ep,
		logger:   logger,
		mux:      newMultiplexer(),
	}
}

// ensure returns the current ready connection, dialing one if necessary.
// The returned generation identifies this particular connection instance;
// callers use it later to tell invalidate apart from a connection that
// has already been replaced (the identity-based staleness check the
// reconnect-once recovery rule relies on).
func (c *persistentConn) ensure(ctx context.Context) (streamConn, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil, 0, net.ErrClosed
	}
	if c.state == stateReady {
		return c.conn, c.generation, nil
	}

	c.state = stateConnecting
	conn, err := c.dialer.DialContext(ctx, c.endpoint)
	if err != nil {
		c.state = stateNoConn
		return nil, 0, fmt.Errorf("transport: dial %s: %w", c.endpoint.Hostname(), err)
	}
	c.conn = conn
	c.generation++
	c.state = stateReady
	generation := c.generation
	go c.readLoop(conn, generation)
	return conn, generation, nil
}

// invalidate tears down the connection identified by generation and fails
// every outstanding query waiting on it. If generation no longer matches
// the live connection (a newer dial has already replaced it, or Close has
// already run), invalidate is a no-op: this is what lets a stale reader
// or writer's failure report not stomp on a connection someone else has
// already reconnected.
func (c *persistentConn) invalidate(generation uint64, cause error) {
	c.mu.Lock()
	if c.generation != generation || c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = stateNoConn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.mux.failAll(cause)
}

// generationLive reports whether generation still identifies the current
// connection. Used by the reconnect-once rule to distinguish "my wait was
// cancelled by the caller" from "my wait was cancelled because the
// connection died out from under me and a reconnect is warranted".
func (c *persistentConn) generationLive(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != stateClosed && c.generation == generation
}

// close tears down the connection permanently; no further dials happen.
func (c *persistentConn) close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = stateClosed
	c.mu.Unlock()

	c.mux.failAll(fmt.Errorf("transport: %w: connection closed", dnserr.ErrCancelled))
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// write serializes a length-prefixed frame write against concurrent
// writers. Readers never take writeMu, so an in-flight write never blocks
// the background reader loop.
func (c *persistentConn) write(ctx context.Context, conn streamConn, raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			return fmt.Errorf("transport: set write deadline: %w", err)
		}
	}

	frame := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(frame, uint16(len(raw)))
	copy(frame[2:], raw)
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// readLoop owns conn for its entire lifetime: it is the only goroutine
// that ever reads from conn, matching the one-reader-goroutine-per-
// connection design of §4.3. It decodes length-prefixed frames and hands
// each decoded response to the multiplexer by message ID until the
// connection fails, at which point it invalidates the connection so the
// next Exchange call redials.
func (c *persistentConn) readLoop(conn streamConn, generation uint64) {
	r := bufio.NewReader(conn)
	for {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			c.invalidate(generation, fmt.Errorf("transport: %w: read frame length: %v", dnserr.ErrCancelled, err))
			return
		}
		length := int(binary.BigEndian.Uint16(lenBuf[:]))
		if !wire.ValidFrameLength(length) {
			c.invalidate(generation, fmt.Errorf("transport: %w: invalid frame length %d", dnserr.ErrProtocolFormat, length))
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			c.invalidate(generation, fmt.Errorf("transport: %w: read frame body: %v", dnserr.ErrCancelled, err))
			return
		}
		msg, err := wire.Decode(body)
		if err != nil {
			c.logger.Warn("transport: dropping undecodable frame", zap.Error(err))
			continue
		}
		if !c.mux.complete(msg.Id, msg, nil) {
			c.logger.Warn("transport: dropping response with no matching outstanding query",
				zap.Uint16("id", msg.Id))
		}
	}
}
