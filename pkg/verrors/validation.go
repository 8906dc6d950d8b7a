package verrors

// ValidationError is a specialized error type for input validation failures.
// It embeds baseError to inherit standard error functionality, then adds
// validation-specific fields that identify exactly what rule was violated.
type ValidationError struct {
	*baseError

	// field identifies which specific field or parameter failed validation.
	field string

	// rule specifies which validation rule was violated (e.g. "max_size", "max_batch").
	rule string

	// provided captures what value was actually supplied.
	provided any

	// expected describes what would have been valid.
	expected any
}

// NewValidationError creates a new validation-specific error with the provided context.
func NewValidationError(err error, code ErrorCode, msg string) *ValidationError {
	return &ValidationError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while preserving the ValidationError type.
func (ve *ValidationError) WithMessage(msg string) *ValidationError {
	ve.baseError.WithMessage(msg)
	return ve
}

// WithDetail adds contextual information while preserving the ValidationError type.
func (ve *ValidationError) WithDetail(key string, value any) *ValidationError {
	ve.baseError.WithDetail(key, value)
	return ve
}

// WithField records which field failed validation.
func (ve *ValidationError) WithField(field string) *ValidationError {
	ve.field = field
	return ve
}

// WithRule records which validation rule was violated.
func (ve *ValidationError) WithRule(rule string) *ValidationError {
	ve.rule = rule
	return ve
}

// WithProvided records the value that was actually supplied.
func (ve *ValidationError) WithProvided(value any) *ValidationError {
	ve.provided = value
	return ve
}

// WithExpected records what would have been valid.
func (ve *ValidationError) WithExpected(value any) *ValidationError {
	ve.expected = value
	return ve
}

// Field returns the field that failed validation.
func (ve *ValidationError) Field() string {
	return ve.field
}

// Rule returns the validation rule that was violated.
func (ve *ValidationError) Rule() string {
	return ve.rule
}

// Provided returns the value that was actually supplied.
func (ve *ValidationError) Provided() any {
	return ve.provided
}

// Expected returns what would have been valid.
func (ve *ValidationError) Expected() any {
	return ve.expected
}

// NewOverLimitError creates a validation error for batch/payload size limits.
func NewOverLimitError(rule string, provided, expected any) *ValidationError {
	return NewValidationError(nil, ErrorCodeOverLimit, "request exceeds allowed limit").
		WithRule(rule).
		WithProvided(provided).
		WithExpected(expected)
}
