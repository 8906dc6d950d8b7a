package verrors

// IndexError provides specialized error handling for index-related operations.
// It extends the base error system with index-specific context while properly
// supporting method chaining through all base error methods.
type IndexError struct {
	*baseError

	// keyHex is the hex-encoded key (or a truncated form of it) being processed
	// when the error occurred.
	keyHex string

	// operation describes what index operation was being performed
	// (e.g. "Find", "InsertLock", "Resize").
	operation string

	// bucket identifies which bucket was involved in the error, if applicable.
	bucket uint32

	// entryCount captures the number of occupied slots at the time of the error,
	// useful context for capacity/corruption diagnosis.
	entryCount int
}

// NewIndexError creates a new index-specific error with the provided context.
func NewIndexError(err error, code ErrorCode, msg string) *IndexError {
	return &IndexError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while preserving the IndexError type.
func (ie *IndexError) WithMessage(msg string) *IndexError {
	ie.baseError.WithMessage(msg)
	return ie
}

// WithCode sets the error code while preserving the IndexError type.
func (ie *IndexError) WithCode(code ErrorCode) *IndexError {
	ie.baseError.WithCode(code)
	return ie
}

// WithDetail adds contextual information while preserving the IndexError type.
func (ie *IndexError) WithDetail(key string, value any) *IndexError {
	ie.baseError.WithDetail(key, value)
	return ie
}

// WithKey records which key was being processed when the error occurred.
func (ie *IndexError) WithKey(keyHex string) *IndexError {
	ie.keyHex = keyHex
	return ie
}

// WithOperation records what index operation was being performed.
func (ie *IndexError) WithOperation(operation string) *IndexError {
	ie.operation = operation
	return ie
}

// WithBucket captures which bucket was involved in the error.
func (ie *IndexError) WithBucket(bucket uint32) *IndexError {
	ie.bucket = bucket
	return ie
}

// WithEntryCount captures the number of occupied slots when the error occurred.
func (ie *IndexError) WithEntryCount(count int) *IndexError {
	ie.entryCount = count
	return ie
}

// Key returns the key that was being processed when the error occurred.
func (ie *IndexError) Key() string {
	return ie.keyHex
}

// Operation returns the name of the operation that was being performed.
func (ie *IndexError) Operation() string {
	return ie.operation
}

// Bucket returns the bucket identifier associated with the error.
func (ie *IndexError) Bucket() uint32 {
	return ie.bucket
}

// EntryCount returns the number of occupied slots when the error occurred.
func (ie *IndexError) EntryCount() int {
	return ie.entryCount
}

// NewIndexCorruptionError creates an error for index header/slot-table corruption.
func NewIndexCorruptionError(operation string, cause error) *IndexError {
	return NewIndexError(cause, ErrorCodeIndexCorrupted, "index data structure corrupted").
		WithOperation(operation).
		WithDetail("recovery_hint", "rebuild from image.dat via Image.Rebuild")
}
