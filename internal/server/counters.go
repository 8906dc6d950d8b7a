package server

import (
	"net"
	"sync/atomic"
)

// Counters tracks the server-wide connection and message activity spec.md
// §4.4 names: connection_count, message_count, events_started,
// events_finished, reply_count. All fields are atomics so handlers across
// the worker pool can update them without any additional locking.
type Counters struct {
	connectionCount atomic.Uint64
	messageCount    atomic.Uint64
	eventsStarted   atomic.Uint64
	eventsFinished  atomic.Uint64
	replyCount      atomic.Uint64
}

// Snapshot is an immutable point-in-time copy of Counters.
type Snapshot struct {
	ConnectionCount uint64
	MessageCount    uint64
	EventsStarted   uint64
	EventsFinished  uint64
	ReplyCount      uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		ConnectionCount: c.connectionCount.Load(),
		MessageCount:    c.messageCount.Load(),
		EventsStarted:   c.eventsStarted.Load(),
		EventsFinished:  c.eventsFinished.Load(),
		ReplyCount:      c.replyCount.Load(),
	}
}

// countingConn wraps a net.Conn, counting every completed Read as one
// inbound message and every completed Write as one reply. This is a
// connection-level approximation (a framing layer may issue several
// socket reads per logical request) rather than an exact per-request tally.
type countingConn struct {
	net.Conn
	counters *Counters
}

func (c *countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.counters.messageCount.Add(1)
	}
	return n, err
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.counters.replyCount.Add(1)
	}
	return n, err
}
