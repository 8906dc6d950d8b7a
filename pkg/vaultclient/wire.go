// Package vaultclient implements the blockvault wire client: a Client
// holding three connections (query/read/write) paired with a local
// existence cache (internal/index.Set), an EventClient that pipelines
// writes over a single write-channel connection, and a ReconnectingClient
// decorator with a configurable retry policy (spec.md §4.6).
package vaultclient

import (
	"encoding/binary"
	"io"

	"github.com/blockvault/blockvault/pkg/verrors"
)

// KeySize is the width of a content key on the wire, matching index.Key.
const KeySize = 32

const validatePrefix = 0x01

// readExact reads exactly n bytes, translating a transport failure into a
// *verrors.ProtocolError so callers have one error shape to branch on.
func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "short read").WithLength(n)
	}
	return buf, nil
}

func readUint32(r io.Reader) (uint32, error) {
	buf, err := readExact(r, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "failed to write request")
	}
	return nil
}

// writeMessage writes a u32-LE length prefix followed by payload, the
// query channel's framing.
func writeMessage(w io.Writer, payload []byte) error {
	if err := writeUint32(w, uint32(len(payload))); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "failed to write request body")
	}
	return nil
}

// readMessage reads a u32-LE length prefix followed by that many bytes.
func readMessage(r io.Reader, maxLen int) ([]byte, error) {
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(length) > maxLen {
		return nil, verrors.NewProtocolViolation("query", int(length), "reply length out of range")
	}
	if length == 0 {
		return nil, nil
	}
	return readExact(r, int(length))
}

func keyBytes(key Key) []byte {
	b := make([]byte, KeySize)
	copy(b, key[:])
	return b
}
