package protocol

import (
	"context"
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"

	"github.com/blockvault/blockvault/internal/engine"
	"github.com/blockvault/blockvault/pkg/digest"
	"github.com/blockvault/blockvault/pkg/logger"
	"github.com/blockvault/blockvault/pkg/options"
)

func openTestImage(t *testing.T) *engine.Image {
	t.Helper()
	opts := options.Apply(
		options.WithDataDir(filepath.Join(t.TempDir(), "image")),
		options.WithBucketCount(8),
		options.WithSlotsPerBucket(4),
		options.WithBookSize(64*1024),
	)
	img, err := engine.Open(context.Background(), &engine.Config{Options: &opts, Logger: logger.Noop()})
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(func() { img.Close() })
	return img
}

func keyFor(n int) engine.Key {
	var k engine.Key
	k[31] = byte(n)
	return k
}

func TestHandleQuerySingleKey(t *testing.T) {
	img := openTestImage(t)
	key := keyFor(1)
	if err := img.Write(key, []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- HandleQuery(server, img, 64) }()

	if err := writeMessage(client, key[:]); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	reply, err := readMessage(client, 8)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if len(reply) != 1 || reply[0] != 1 {
		t.Fatalf("reply = %v, want [1]", reply)
	}

	client.Close()
	<-done
}

func TestHandleQueryValidate(t *testing.T) {
	img := openTestImage(t)
	payload := []byte("content-addressed")
	realKey := digest.Blake2b256().Sum(payload)
	if err := img.Write(realKey, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- HandleQuery(server, img, 64) }()

	body := append([]byte{validatePrefix}, realKey[:]...)
	if err := writeMessage(client, body); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	reply, err := readMessage(client, 8)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if len(reply) != 1 || reply[0] != 1 {
		t.Fatalf("validate reply = %v, want [1]", reply)
	}

	client.Close()
	<-done
}

func TestHandleQueryManyBatch(t *testing.T) {
	img := openTestImage(t)
	present := keyFor(1)
	absent := keyFor(2)
	if err := img.Write(present, []byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- HandleQuery(server, img, 64) }()

	body := append(append([]byte{}, present[:]...), absent[:]...)
	if err := writeMessage(client, body); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	reply, err := readMessage(client, 8)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	bitmap := binary.LittleEndian.Uint64(reply)
	if bitmap&1 == 0 {
		t.Fatalf("bit 0 (present key) not set: bitmap=%x", bitmap)
	}
	if bitmap&2 != 0 {
		t.Fatalf("bit 1 (absent key) set: bitmap=%x", bitmap)
	}

	client.Close()
	<-done
}

func TestHandleQueryRejectsMalformedShape(t *testing.T) {
	img := openTestImage(t)

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- HandleQuery(server, img, 64) }()

	if err := writeMessage(client, []byte{1, 2, 3}); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	client.Close()

	if err := <-done; err == nil {
		t.Fatalf("HandleQuery with a malformed request shape should return an error")
	}
}

func TestHandleReadFoundAndNotFound(t *testing.T) {
	img := openTestImage(t)
	key := keyFor(1)
	payload := []byte("read channel payload")
	if err := img.Write(key, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- HandleRead(server, img) }()

	if _, err := client.Write(key[:]); err != nil {
		t.Fatalf("write key: %v", err)
	}
	sizeBuf, err := readExact(client, 4)
	if err != nil {
		t.Fatalf("read size: %v", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf)
	if int(size) != len(payload) {
		t.Fatalf("size = %d, want %d", size, len(payload))
	}
	body, err := readExact(client, int(size))
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != string(payload) {
		t.Fatalf("body = %q, want %q", body, payload)
	}

	absent := keyFor(99)
	if _, err := client.Write(absent[:]); err != nil {
		t.Fatalf("write absent key: %v", err)
	}
	sizeBuf, err = readExact(client, 4)
	if err != nil {
		t.Fatalf("read size for absent key: %v", err)
	}
	if binary.LittleEndian.Uint32(sizeBuf) != 0 {
		t.Fatalf("absent key should reply with size 0")
	}

	client.Close()
	<-done
}

func TestHandleWriteBuffered(t *testing.T) {
	img := openTestImage(t)
	key := keyFor(1)
	payload := []byte("buffered write payload")

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- HandleWrite(server, img, 1<<20, true) }()

	body := append(append([]byte{}, key[:]...), payload...)
	if err := writeMessage(client, body); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}
	ackBuf, err := readExact(client, 4)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if binary.LittleEndian.Uint32(ackBuf) != uint32(len(payload)) {
		t.Fatalf("ack = %d, want %d", binary.LittleEndian.Uint32(ackBuf), len(payload))
	}

	client.Close()
	<-done

	got, err := img.Read(key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("stored payload = %q, want %q", got, payload)
	}
}

func TestHandleWriteUnbuffered(t *testing.T) {
	img := openTestImage(t)
	key := keyFor(1)
	payload := []byte("unbuffered write payload")

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan error, 1)
	go func() { done <- HandleWrite(server, img, 1<<20, false) }()

	var header [LengthPrefixLen + KeySize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	copy(header[4:], key[:])
	if _, err := client.Write(header[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := client.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	ackBuf, err := readExact(client, 4)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if binary.LittleEndian.Uint32(ackBuf) != uint32(len(payload)) {
		t.Fatalf("ack = %d, want %d", binary.LittleEndian.Uint32(ackBuf), len(payload))
	}

	client.Close()
	<-done

	got, err := img.Read(key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("stored payload = %q, want %q", got, payload)
	}
}

// TestHandleWriteTruncatedHeaderClosesCleanly exercises spec.md scenario
// S7: a connection that sends fewer than the 36 header bytes (u32 size +
// 32-byte key) on the unbuffered write channel must be torn down without
// affecting the image.
func TestHandleWriteTruncatedHeaderClosesCleanly(t *testing.T) {
	img := openTestImage(t)

	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- HandleWrite(server, img, 1<<20, false) }()

	if _, err := client.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("write partial header: %v", err)
	}
	client.Close()

	if err := <-done; err == nil {
		t.Fatalf("truncated write header should return an error")
	}

	// The image must still be usable after a malformed connection closes.
	if err := img.Write(keyFor(5), []byte("still works")); err != nil {
		t.Fatalf("image unusable after a malformed connection: %v", err)
	}
}
