package protocol

import (
	"encoding/binary"
	"io"

	"github.com/blockvault/blockvault/internal/engine"
	"github.com/blockvault/blockvault/pkg/verrors"
)

const validatePrefix = 0x01

// HandleQuery services the query channel on a single connection: one
// length-prefixed request in, one reply of a fixed shape out, looping
// until the client disconnects or sends a malformed request. A malformed
// request returns a *verrors.ProtocolError so the server can log and
// close the connection; the image's own state is never affected by a
// rejected request.
func HandleQuery(conn io.ReadWriter, img *engine.Image, maxBatchKeys int) error {
	for {
		body, err := readMessage(conn, KeySize*maxBatchKeys)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		reply, err := dispatchQuery(img, body, maxBatchKeys)
		if err != nil {
			return err
		}
		if err := writeMessage(conn, reply); err != nil {
			return err
		}
	}
}

func dispatchQuery(img *engine.Image, body []byte, maxBatchKeys int) ([]byte, error) {
	switch {
	case len(body) == KeySize:
		var key engine.Key
		copy(key[:], body)
		found, err := img.Is(key)
		if err != nil {
			return nil, err
		}
		return []byte{boolByte(found)}, nil

	case len(body) == KeySize+1 && body[0] == validatePrefix:
		var key engine.Key
		copy(key[:], body[1:])
		ok, err := img.ValidateStandard(key)
		if err != nil && !verrors.IsIndexError(err) {
			return nil, err
		}
		return []byte{boolByte(ok)}, nil

	case len(body)%KeySize == 0 && len(body)/KeySize >= 2 && len(body)/KeySize <= maxBatchKeys:
		n := len(body) / KeySize
		keys := make([]engine.Key, n)
		for i := 0; i < n; i++ {
			copy(keys[i][:], body[i*KeySize:(i+1)*KeySize])
		}
		results, err := img.Many(keys)
		if err != nil {
			return nil, err
		}
		var bitmap uint64
		for i, ok := range results {
			if ok {
				bitmap |= 1 << uint(i)
			}
		}
		var reply [8]byte
		binary.LittleEndian.PutUint64(reply[:], bitmap)
		return reply[:], nil

	default:
		return nil, verrors.NewProtocolViolation("query", len(body), "unrecognized request shape")
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
