package protocol

import (
	"encoding/binary"
	"io"

	"github.com/blockvault/blockvault/internal/engine"
	"github.com/blockvault/blockvault/pkg/verrors"
)

// HandleWrite services the write channel. In buffered mode it uses
// length-prefixed framing (key||payload in one message); in unbuffered
// mode it reads a u32-size + 32-byte-key header, then streams exactly
// size bytes straight from the socket into a reserved mmap region,
// avoiding the buffered path's extra copy (spec.md §4.4/§4.5).
func HandleWrite(conn io.ReadWriter, img *engine.Image, maxBlockSize int, buffered bool) error {
	if buffered {
		return handleBufferedWrite(conn, img, maxBlockSize)
	}
	return handleUnbufferedWrite(conn, img, maxBlockSize)
}

func handleBufferedWrite(conn io.ReadWriter, img *engine.Image, maxBlockSize int) error {
	for {
		body, err := readMessage(conn, KeySize+maxBlockSize)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if len(body) < KeySize {
			return verrors.NewProtocolViolation("write", len(body), "write header shorter than 32 bytes")
		}

		var key engine.Key
		copy(key[:], body[:KeySize])
		payload := body[KeySize:]

		if err := img.Write(key, payload); err != nil {
			return err
		}
		if err := writeUint32(conn, uint32(len(payload))); err != nil {
			return err
		}
	}
}

func handleUnbufferedWrite(conn io.ReadWriter, img *engine.Image, maxBlockSize int) error {
	for {
		header, err := readExact(conn, LengthPrefixLen+KeySize)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		size := int(binary.LittleEndian.Uint32(header[:4]))
		var key engine.Key
		copy(key[:], header[4:])

		if size > maxBlockSize {
			// The client already committed to sending `size` bytes; there is
			// no way to both reject it and keep the stream in sync, so the
			// connection is torn down after the ack (spec.md leaves this
			// case's exact wire behavior unspecified beyond "reply 0").
			writeUint32(conn, 0)
			return verrors.NewOverLimitError("maxBlockSize", size, maxBlockSize)
		}

		rw, err := img.Reserve(key, size)
		if err != nil {
			return err
		}

		if rw.Duplicate() {
			if _, err := io.CopyN(io.Discard, conn, int64(size)); err != nil {
				rw.Abort()
				return wrapTransport(err)
			}
			rw.Commit()
			if err := writeUint32(conn, uint32(size)); err != nil {
				return err
			}
			continue
		}

		if _, err := io.ReadFull(conn, rw.Span()); err != nil {
			rw.Abort()
			return wrapTransport(err)
		}
		rw.Commit()

		if err := writeUint32(conn, uint32(size)); err != nil {
			return err
		}
	}
}
