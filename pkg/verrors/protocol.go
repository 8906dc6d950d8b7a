package verrors

// ProtocolError is a specialized error type for wire-protocol failures: malformed
// framing, an out-of-range length, or an unrecognized request shape on the query
// channel. A ProtocolError always results in the server closing the connection.
type ProtocolError struct {
	*baseError

	// channel names which TCP channel the violation occurred on ("query", "read", "write").
	channel string

	// connectionID is the UUID assigned to the offending connection, for log correlation.
	connectionID string

	// length is the frame length that triggered the violation, when applicable.
	length int
}

// NewProtocolError creates a new protocol-specific error with the provided context.
func NewProtocolError(err error, code ErrorCode, msg string) *ProtocolError {
	return &ProtocolError{baseError: NewBaseError(err, code, msg)}
}

// WithChannel records which channel the violation occurred on.
func (pe *ProtocolError) WithChannel(channel string) *ProtocolError {
	pe.channel = channel
	return pe
}

// WithConnectionID records the connection's correlation UUID.
func (pe *ProtocolError) WithConnectionID(id string) *ProtocolError {
	pe.connectionID = id
	return pe
}

// WithLength records the offending frame length.
func (pe *ProtocolError) WithLength(length int) *ProtocolError {
	pe.length = length
	return pe
}

// Channel returns the channel the violation occurred on.
func (pe *ProtocolError) Channel() string {
	return pe.channel
}

// ConnectionID returns the connection's correlation UUID.
func (pe *ProtocolError) ConnectionID() string {
	return pe.connectionID
}

// Length returns the offending frame length.
func (pe *ProtocolError) Length() int {
	return pe.length
}

// NewProtocolViolation creates a ProtocolError for malformed framing.
func NewProtocolViolation(channel string, length int, msg string) *ProtocolError {
	return NewProtocolError(nil, ErrorCodeProtocolViolation, msg).
		WithChannel(channel).
		WithLength(length)
}
