// Package protocol implements the three wire framings and request
// dispatchers spec.md §4.4/§4.5 define over a blockvault image: the
// query channel (length-prefixed Is/Validate/Many), the read channel
// (32-byte key in, length-prefixed payload out, zero-copy from the data
// file's mmap), and the write channel (buffered length-prefixed framing,
// or unbuffered split header + raw-socket-into-mmap body).
//
// Every handler here operates on a single already-accepted net.Conn and
// returns when the connection should close; internal/server owns
// accept/dispatch/worker-pool concerns.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/blockvault/blockvault/pkg/verrors"
)

// KeySize is the width of a content key on the wire, matching index.Key.
const KeySize = 32

// LengthPrefixLen is the width of the u32 length/size header used by every
// framing this package implements.
const LengthPrefixLen = 4

// readExact reads exactly n bytes from r, translating a clean EOF on the
// first byte into io.EOF (connection closed between requests, not an
// error) and any other short read into a transport failure.
func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "short read").
			WithLength(n)
	}
	return buf, nil
}

// readMessage reads a u32-LE length prefix followed by that many bytes,
// rejecting lengths over maxLen as a protocol violation.
func readMessage(r io.Reader, maxLen int) ([]byte, error) {
	header, err := readExact(r, LengthPrefixLen)
	if err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint32(header))
	if length < 0 || length > maxLen {
		return nil, verrors.NewProtocolViolation("", length, "message length out of range")
	}
	return readExact(r, length)
}

// writeMessage writes payload as a u32-LE length prefix followed by its bytes.
func writeMessage(w io.Writer, payload []byte) error {
	var header [LengthPrefixLen]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "failed to write message header")
	}
	if _, err := w.Write(payload); err != nil {
		return verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "failed to write message body")
	}
	return nil
}

// writeUint32 writes v as a bare 4-byte little-endian reply (the read
// channel's "not found" zero, and every write-channel ack).
func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "failed to write reply")
	}
	return nil
}
