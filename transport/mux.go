// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/arlofresh/dnsresolve/dnserr"
	"github.com/miekg/dns"
)

// pendingResult is the single-shot completion slot a multiplexer hands
// back for one outstanding query (§4.4). Exactly one of msg or err is set
// when a value arrives on the query's pending channel.
type pendingResult struct {
	msg *dns.Msg
	err error
}

// multiplexer correlates queries and responses sharing one persistent
// stream connection by DNS message ID (§4.4). next is seeded from
// crypto/rand and incremented mod 2^16 on every allocation, matching the
// spec's "CSPRNG-seeded counter, not a fresh random draw per query" rule
// (a fresh draw per query on a shared connection would reintroduce
// birthday-bound collisions the outstanding-request table exists to
// avoid).
type multiplexer struct {
	mu      sync.Mutex
	next    uint16
	pending map[uint16]chan pendingResult
}

func newMultiplexer() *multiplexer {
	m := &multiplexer{pending: make(map[uint16]chan pendingResult)}
	var seed [2]byte
	if _, err := rand.Read(seed[:]); err == nil {
		m.next = binary.BigEndian.Uint16(seed[:])
	}
	return m
}

// allocate reserves the next free message ID and returns it along with
// the channel its result will be delivered on. It scans at most 2^16
// candidates before giving up, which only happens if every ID is
// simultaneously in flight.
func (m *multiplexer) allocate() (uint16, chan pendingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 0; i < 1<<16; i++ {
		id := m.next
		m.next++
		if _, busy := m.pending[id]; !busy {
			ch := make(chan pendingResult, 1)
			m.pending[id] = ch
			return id, ch, nil
		}
	}
	return 0, nil, fmt.Errorf("transport: %w: all message IDs in flight", dnserr.ErrUnreachable)
}

// complete delivers a response to the outstanding request waiting on id,
// if any. It reports whether a waiter was found, so the reader loop can
// log and discard unmatched responses instead of blocking.
func (m *multiplexer) complete(id uint16, msg *dns.Msg, err error) bool {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	ch <- pendingResult{msg: msg, err: err}
	return true
}

// remove cancels the outstanding request under id without delivering a
// result, used when a caller's context is done before a response (or
// failure) arrives.
func (m *multiplexer) remove(id uint16) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// failAll delivers err to every outstanding request, used when the
// underlying connection dies and no more responses will ever arrive.
func (m *multiplexer) failAll(err error) {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint16]chan pendingResult)
	m.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}
