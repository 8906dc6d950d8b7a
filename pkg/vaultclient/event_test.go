package vaultclient_test

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/blockvault/blockvault/pkg/vaultclient"
)

func dialWriteConn(t *testing.T, ports []int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(ports[2])), time.Second)
	if err != nil {
		t.Fatalf("dial write channel: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEventClientPipelinesWritesInOrder(t *testing.T) {
	_, ports := startTestServer(t)
	conn := dialWriteConn(t, ports)
	ec := vaultclient.NewEventClient(conn)
	defer ec.Close()

	const n = 10
	var mu sync.Mutex
	var acked []int
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		payload := make([]byte, i+1)
		key := keyFor(i)
		i := i
		if err := ec.Write(key, payload, func(ack uint32, err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("write %d callback error: %v", i, err)
				return
			}
			mu.Lock()
			acked = append(acked, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Write(%d): %v", i, err)
		}
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(acked) != n {
		t.Fatalf("got %d acks, want %d", len(acked), n)
	}
	for i, got := range acked {
		if got != i {
			t.Fatalf("ack order mismatch at %d: got %d", i, got)
		}
	}
}

func TestEventClientCloseFailsPendingCallbacks(t *testing.T) {
	_, ports := startTestServer(t)
	conn := dialWriteConn(t, ports)
	ec := vaultclient.NewEventClient(conn)

	done := make(chan struct{})
	if err := ec.Write(keyFor(1), []byte("payload"), func(ack uint32, err error) {
		close(done)
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ec.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("callback never invoked after Close")
	}
}
