package jsonutil

import (
	"errors"
	"fmt"
)

// ErrInvalidOutput is returned when Unmarshal is given a nil or non-pointer destination.
var ErrInvalidOutput = errors.New(ErrNilValue)

// ErrValueTooLarge is returned when Unmarshal is given more than MaxJSONSize bytes.
var ErrValueTooLarge = errors.New("jsonutil: payload exceeds MaxJSONSize")

// wrapError annotates a codec error with the operation that produced it.
func wrapError(context string, err error) error {
	return fmt.Errorf("%s: %w", context, err)
}
