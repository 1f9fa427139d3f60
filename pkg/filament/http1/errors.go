package http1

import (
	"errors"
	"fmt"
)

// Parse and serialization errors
var (
	// ErrInvalidStartLine indicates a malformed request-line or status-line
	ErrInvalidStartLine = errors.New("http1: invalid start line")

	// ErrInvalidVersion indicates a malformed HTTP-version token
	ErrInvalidVersion = errors.New("http1: invalid HTTP version")

	// ErrInvalidHeader indicates a malformed header field
	ErrInvalidHeader = errors.New("http1: invalid header field")

	// ErrInvalidURI indicates a request-target that failed URI decomposition
	ErrInvalidURI = errors.New("http1: invalid URI")

	// ErrInvalidRange indicates a malformed Range header
	ErrInvalidRange = errors.New("http1: invalid Range header")

	// ErrInvalidContentLength indicates a malformed Content-Length value
	ErrInvalidContentLength = errors.New("http1: invalid Content-Length")

	// ErrMessageNotComplete indicates serialization of a partial message
	ErrMessageNotComplete = errors.New("http1: message not complete")

	// ErrUnknownDecoder indicates a decoder lookup for an unregistered
	// media type
	ErrUnknownDecoder = errors.New("http1: no decoder for media type")
)

// ProtocolError is the typed failure the parser surfaces: a malformed or
// over-limit message together with the status code the peer should receive.
// There is no library-global error state; every failing operation returns
// or exposes one of these.
type ProtocolError struct {
	// Status is the mapped HTTP status code (4xx/5xx).
	Status int

	// Detail describes the offending input, including the offending byte
	// where one exists.
	Detail string
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("http1: %d %s: %s", e.Status, ReasonPhrase(e.Status), e.Detail)
}

// NewProtocolError builds a ProtocolError with a formatted detail message.
func NewProtocolError(status int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Status: status, Detail: fmt.Sprintf(format, args...)}
}
