package server

import "errors"

var (
	// ErrAlreadyListening indicates route mutation or a second Listen after
	// the server started accepting. The route table is immutable once
	// listening begins.
	ErrAlreadyListening = errors.New("server: already listening")

	// ErrNotListening indicates Shutdown before Listen
	ErrNotListening = errors.New("server: not listening")
)

// ConfigurationError carries a human-readable reason a server could not be
// constructed or a route could not be added. It surfaces synchronously;
// the library never starts with a bad configuration.
type ConfigurationError struct {
	Reason string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return "server: configuration: " + e.Reason
}
