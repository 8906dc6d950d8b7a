package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/blockvault/blockvault/internal/engine"
	"github.com/blockvault/blockvault/pkg/logger"
	"github.com/blockvault/blockvault/pkg/options"
)

// freePorts asks the OS for n distinct ephemeral ports by briefly binding
// and releasing them, so the test server doesn't collide with anything
// else listening on a fixed port.
func freePorts(t *testing.T, n int) []int {
	t.Helper()
	ports := make([]int, n)
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("freePorts: %v", err)
		}
		ports[i] = ln.Addr().(*net.TCPAddr).Port
		ln.Close()
	}
	return ports
}

func startTestServer(t *testing.T) (*Server, []int) {
	t.Helper()
	ports := freePorts(t, 3)

	opts := options.Apply(
		options.WithDataDir(filepath.Join(t.TempDir(), "image")),
		options.WithBucketCount(8),
		options.WithSlotsPerBucket(4),
		options.WithBookSize(64*1024),
		options.WithPorts(ports[0], ports[1], ports[2]),
		options.WithWorkers(2),
	)

	img, err := engine.Open(context.Background(), &engine.Config{Options: &opts, Logger: logger.Noop()})
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(func() { img.Close() })

	srv := New(img, &opts, logger.Noop())
	if err := srv.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.Join()
	})
	return srv, ports
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
	if err != nil {
		t.Fatalf("dial port %d: %v", port, err)
	}
	return conn
}

func TestServeAndQueryEndToEnd(t *testing.T) {
	srv, ports := startTestServer(t)

	conn := dial(t, ports[0])
	defer conn.Close()

	var key [32]byte
	key[31] = 7

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(key)))
	if _, err := conn.Write(header[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := conn.Write(key[:]); err != nil {
		t.Fatalf("write key: %v", err)
	}

	respHeader := make([]byte, 4)
	if _, err := io.ReadFull(conn, respHeader); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	length := binary.LittleEndian.Uint32(respHeader)
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if length != 1 || body[0] != 0 {
		t.Fatalf("Is(absent key) reply = %v, want [0]", body)
	}

	snap := srv.Counters.Snapshot()
	if snap.ConnectionCount < 1 {
		t.Fatalf("ConnectionCount = %d, want >= 1", snap.ConnectionCount)
	}
}

func TestShutdownStopsAcceptingNewConnections(t *testing.T) {
	srv, ports := startTestServer(t)

	srv.Shutdown()
	srv.Join()

	if _, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(ports[0])), 200*time.Millisecond); err == nil {
		t.Fatalf("dial after Shutdown should fail, listener should be closed")
	}

	// Shutdown must be safe to call again.
	srv.Shutdown()
}

