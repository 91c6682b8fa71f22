package merr

import (
	"errors"
	"fmt"
)

// Sentinel errors mirroring the classification prefixes printed to the user.
// Wrap a sentinel with Wrap or Errorf and test with errors.Is.
var (
	ErrIO             = errors.New("io error")
	ErrParse          = errors.New("parse error")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNotImplemented = errors.New("not implemented")
	ErrHTTP           = errors.New("http error")
	ErrSignature      = errors.New("signature error")
	ErrRegistry       = errors.New("registry error")
	ErrUnknown        = errors.New("unknown error")
)

// Wrap attaches a classification sentinel to err.
func Wrap(sentinel error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Errorf builds a classified error from a format string.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// Classify returns the short user-visible prefix for err.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrIO):
		return "IO"
	case errors.Is(err, ErrParse):
		return "Parse"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case errors.Is(err, ErrNotImplemented):
		return "NotImplemented"
	case errors.Is(err, ErrHTTP):
		return "Http"
	case errors.Is(err, ErrSignature):
		return "Signature"
	case errors.Is(err, ErrRegistry):
		return "Registry"
	default:
		return "Unknown"
	}
}
