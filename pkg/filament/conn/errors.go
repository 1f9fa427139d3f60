package conn

import "errors"

var (
	// ErrConnectionClosed indicates an operation on a closed connection
	ErrConnectionClosed = errors.New("conn: connection closed")

	// ErrShuttingDown indicates a send attempted after half-close began
	ErrShuttingDown = errors.New("conn: connection shutting down")
)
