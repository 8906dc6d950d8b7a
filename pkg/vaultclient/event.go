package vaultclient

import (
	"net"
	"sync"
	"sync/atomic"
)

// EventClient pipelines write-channel requests over a single write-channel
// connection: callers call Write and get notified by callback once the server's
// ack arrives, without blocking on the round trip. A single reader
// goroutine drains acks in request order (the write channel has no
// sequence number on the wire, so replies must be matched FIFO) and
// dispatches each to its waiting callback.
type EventClient struct {
	conn net.Conn

	mu      sync.Mutex
	pending []pendingWrite
	seq     atomic.Uint64

	closed chan struct{}
	done   sync.WaitGroup
}

type pendingWrite struct {
	seq      uint64
	size     int
	callback func(ack uint32, err error)
}

// NewEventClient wraps an already-dialed write-channel connection with a
// pipelining response dispatcher.
func NewEventClient(conn net.Conn) *EventClient {
	ec := &EventClient{conn: conn, closed: make(chan struct{})}
	ec.done.Add(1)
	go ec.dispatchLoop()
	return ec
}

// Write sends key||payload without waiting for the ack; callback runs on
// the dispatcher goroutine once the matching reply arrives (or the
// connection fails, in which case every still-pending callback receives
// the same error).
func (ec *EventClient) Write(key Key, payload []byte, callback func(ack uint32, err error)) error {
	body := make([]byte, KeySize+len(payload))
	copy(body, key[:])
	copy(body[KeySize:], payload)

	ec.mu.Lock()
	seq := ec.seq.Add(1)
	if err := writeMessage(ec.conn, body); err != nil {
		ec.mu.Unlock()
		return err
	}
	ec.pending = append(ec.pending, pendingWrite{seq: seq, size: len(payload), callback: callback})
	ec.mu.Unlock()
	return nil
}

// Close closes the connection and waits for the dispatcher goroutine to
// drain, failing any requests still in flight.
func (ec *EventClient) Close() error {
	err := ec.conn.Close()
	ec.done.Wait()
	return err
}

func (ec *EventClient) dispatchLoop() {
	defer ec.done.Done()
	for {
		ack, err := readUint32(ec.conn)
		ec.mu.Lock()
		if len(ec.pending) == 0 {
			ec.mu.Unlock()
			if err != nil {
				return
			}
			continue
		}
		next := ec.pending[0]
		ec.pending = ec.pending[1:]
		ec.mu.Unlock()

		if err != nil {
			ec.failAll(err)
			next.callback(0, err)
			return
		}
		next.callback(ack, nil)
	}
}

func (ec *EventClient) failAll(err error) {
	ec.mu.Lock()
	rest := ec.pending
	ec.pending = nil
	ec.mu.Unlock()

	for _, p := range rest {
		p.callback(0, err)
	}
}
