package protocol

import "github.com/blockvault/blockvault/pkg/verrors"

// isNotFound reports whether err is the index's "key not found" outcome,
// which the read and query channels translate into a wire-level "not
// found" reply rather than closing the connection.
func isNotFound(err error) bool {
	ie, ok := verrors.AsIndexError(err)
	return ok && ie.Code() == verrors.ErrorCodeIndexKeyNotFound
}

// wrapTransport wraps a raw net.Conn write/read failure as a
// *verrors.ProtocolError so handlers have one error shape to check for
// "close this connection."
func wrapTransport(err error) error {
	return verrors.NewProtocolError(err, verrors.ErrorCodeTransportFailure, "transport failure")
}
