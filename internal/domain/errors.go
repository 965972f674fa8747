package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when the submitted content is empty.
	ErrEmptyInput = errors.New("input content cannot be empty")

	// ErrInputTooLarge is returned when the content exceeds the configured cap.
	ErrInputTooLarge = errors.New("input content exceeds maximum size")

	// ErrEncoding is returned when the content cannot be represented in the
	// encoding the tool expects.
	ErrEncoding = errors.New("input content cannot be encoded for the tool")

	// ErrUnknownEncoding is returned for an encoding name x/text does not know.
	ErrUnknownEncoding = errors.New("unknown text encoding")

	// ErrInvalidRequest is returned for a queued request missing required fields.
	ErrInvalidRequest = errors.New("invalid obfuscation request")

	// ErrUnsupportedFile is returned when the uploaded file is not a Lua script.
	ErrUnsupportedFile = errors.New("only .lua files are accepted")

	// ErrRateLimitExceeded is returned when API rate limit is hit.
	ErrRateLimitExceeded = errors.New("rate limit exceeded, try again later")

	// ErrBusy is returned when every job slot is taken.
	ErrBusy = errors.New("all job slots are busy, try again later")
)

// ValidationError wraps a pre-invocation failure.
type ValidationError struct {
	Kind error
	Msg  string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// Invalidf builds a ValidationError of the given kind.
func Invalidf(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
