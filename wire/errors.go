package wire

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Decode failures.
var (
	ErrTruncated      = errors.New("unexpected end of buffer")
	ErrVarintOverflow = errors.New("varint overflows 64 bits")
	ErrFieldNumber    = errors.New("invalid field number")
	ErrUnknownField   = errors.New("unknown field")
	ErrWireType       = errors.New("invalid wire type")
	ErrGroup          = errors.New("group wire type is not supported")
	ErrDepthExceeded  = errors.New("message nesting exceeds maximum depth")
)

// Decode and encode failures.
var (
	ErrInvalidUTF8 = errors.New("string field contains invalid UTF-8")
)

// Encode failures.
var (
	ErrProducerMismatch = errors.New("producer emitted a different event sequence on the emit pass")
	ErrUnbalanced       = errors.New("unbalanced enter/leave events")
)

// DecodeError is returned for any failure while reading a buffer. Offset is the
// position of the cursor when the failure was detected.
type DecodeError struct {
	Offset    int
	FieldPath []string // e.g., ["user", "address", "zip"]
	Err       error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if len(e.FieldPath) == 0 {
		return fmt.Sprintf("decode error at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("decode error at offset %d, proto path %s: %v", e.Offset, strings.Join(e.FieldPath, "."), e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is returned for any failure while producing a buffer.
type EncodeError struct {
	FieldPath []string
	Err       error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	if len(e.FieldPath) == 0 {
		return fmt.Sprintf("encode error: %v", e.Err)
	}
	return fmt.Sprintf("encode error at proto path %s: %v", strings.Join(e.FieldPath, "."), e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError builds a DecodeError at the given offset.
func NewDecodeError(offset int, err error) error {
	return &DecodeError{Offset: offset, Err: err}
}

// NewEncodeError builds an EncodeError.
func NewEncodeError(err error) error {
	return &EncodeError{Err: err}
}

// WithField prepends fieldName to the path of the first DecodeError or
// EncodeError found in err's chain. Other errors are returned unchanged.
func WithField(err error, fieldName string) error {
	if err == nil {
		return nil
	}
	var de *DecodeError
	if errors.As(err, &de) {
		de.FieldPath = append([]string{fieldName}, de.FieldPath...)
		return err
	}
	var ee *EncodeError
	if errors.As(err, &ee) {
		ee.FieldPath = append([]string{fieldName}, ee.FieldPath...)
		return err
	}
	return err
}
