package stream

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned once a decoder has been cancelled.
var ErrCancelled = errors.New("stream: decode cancelled")

// FormatError reports a payload the decoder cannot accept: an unsupported
// format token, a mesh payload, missing position properties or a header
// that never terminates. It is fatal to the decode.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "stream: format error: " + e.Reason
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}
