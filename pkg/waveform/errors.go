package waveform

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader   = errors.New("malformed header")
	ErrTruncatedData     = errors.New("truncated data")
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// DecodeError is the only fatal error class the analysis pipeline produces.
// It always wraps one of the sentinel errors above, so callers can branch
// with errors.Is after checking IsDecodeError.
type DecodeError struct {
	reason error
}

func (e DecodeError) Error() string {
	return e.reason.Error()
}

func (e DecodeError) Unwrap() error {
	return e.reason
}

func IsDecodeError(err error) bool {
	var de DecodeError
	return errors.As(err, &de)
}

func malformedErr(format string, args ...interface{}) error {
	return DecodeError{reason: fmt.Errorf(format+": %w", append(args, ErrMalformedHeader)...)}
}

func truncatedErr(format string, args ...interface{}) error {
	return DecodeError{reason: fmt.Errorf(format+": %w", append(args, ErrTruncatedData)...)}
}

func unsupportedErr(format string, args ...interface{}) error {
	return DecodeError{reason: fmt.Errorf(format+": %w", append(args, ErrUnsupportedFormat)...)}
}
