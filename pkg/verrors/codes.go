package verrors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes cover failure categories that can occur in any subsystem.
const (
	// ErrorCodeIO represents failures in input/output operations: mmap, file
	// reads/writes, or socket I/O.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Storage-specific error codes cover the image/data-file layer.
const (
	// ErrorCodeSegmentCorrupted indicates a data-file record has a plainly
	// invalid size, or the data file failed its header check. Index header
	// failures use ErrorCodeIndexCorrupted instead.
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodeHeaderReadFailure occurs when a file's header page cannot be read.
	ErrorCodeHeaderReadFailure ErrorCode = "HEADER_READ_FAILURE"

	// ErrorCodePayloadReadFailure indicates a failure reading payload bytes
	// after the header/size prefix was read successfully.
	ErrorCodePayloadReadFailure ErrorCode = "PAYLOAD_READ_FAILURE"

	// ErrorCodeRecoveryFailed indicates an index rebuild from the data file failed.
	ErrorCodeRecoveryFailed ErrorCode = "STORAGE_RECOVERY_FAILED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access a resource.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates that the storage device has run out of space.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeLocked indicates the image root's lock.db was already present at open.
	ErrorCodeLocked ErrorCode = "IMAGE_LOCKED"
)

// Index-specific error codes.
const (
	// ErrorCodeIndexCorrupted indicates the index file header or slot table
	// failed validation at open.
	ErrorCodeIndexCorrupted ErrorCode = "INDEX_CORRUPTED"

	// ErrorCodeIndexKeyNotFound indicates a lookup for a key that has no entry.
	ErrorCodeIndexKeyNotFound ErrorCode = "INDEX_KEY_NOT_FOUND"

	// ErrorCodeIndexCapacity indicates the index could not grow to accommodate a new entry.
	ErrorCodeIndexCapacity ErrorCode = "INDEX_CAPACITY_EXCEEDED"
)

// Protocol-specific error codes for the wire layer.
const (
	// ErrorCodeProtocolViolation indicates malformed framing or an out-of-range length.
	ErrorCodeProtocolViolation ErrorCode = "PROTOCOL_VIOLATION"

	// ErrorCodeOverLimit indicates a Many batch over 64 keys, or a write body over 8 MiB.
	ErrorCodeOverLimit ErrorCode = "OVER_LIMIT"

	// ErrorCodeTransportFailure indicates a socket read/write failure.
	ErrorCodeTransportFailure ErrorCode = "TRANSPORT_FAILURE"
)

// Validation-specific error codes.
const (
	// ErrorCodeValidationRequired indicates a required field/parameter was missing.
	ErrorCodeValidationRequired ErrorCode = "VALIDATION_REQUIRED"

	// ErrorCodeValidationRange indicates a value was outside its allowed range.
	ErrorCodeValidationRange ErrorCode = "VALIDATION_RANGE"
)
