package protocol

import (
	"io"

	"github.com/blockvault/blockvault/internal/engine"
)

// HandleRead services the read channel: a bare 32-byte key request (no
// length prefix), replied to with a u32-LE size header followed by that
// many payload bytes written directly from the data file's memory map —
// or, if the key is missing, four zero bytes (spec.md §4.5).
func HandleRead(conn io.ReadWriter, img *engine.Image) error {
	for {
		keyBytes, err := readExact(conn, KeySize)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var key engine.Key
		copy(key[:], keyBytes)

		span, err := img.Map(key)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			if err := writeUint32(conn, 0); err != nil {
				return err
			}
			continue
		}

		if err := writeUint32(conn, uint32(len(span.Data))); err != nil {
			return err
		}
		if _, err := conn.Write(span.Data); err != nil {
			return wrapTransport(err)
		}
	}
}
