package common

import (
	"errors"
	"fmt"
)

// ErrOutOfBounds is matched by result errors whose description reports a read past the end of a file
var ErrOutOfBounds = errors.New("read out of bounds")

// descriptionOutOfBounds is the result description the peer uses for reads past the end of a file
const descriptionOutOfBounds = 714

// ResultError is a failed method result code reported by the peer.
// Bit 31 marks an error, the lowest 10 bits hold the description.
type ResultError struct {
	Code uint32
}

// NewResultError wraps a raw result code
func NewResultError(code uint32) *ResultError {
	return &ResultError{Code: code}
}

// Description returns the description field of the result code
func (e *ResultError) Description() uint32 {
	return e.Code & 0x3FF
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("method result 0x%08X (description %d)", e.Code, e.Description())
}

// Is lets errors.Is(err, ErrOutOfBounds) match out of bounds results
func (e *ResultError) Is(target error) bool {
	return target == ErrOutOfBounds && e.Description() == descriptionOutOfBounds
}
