// Package transport defines the byte-stream collaborator interface the
// dispatcher talks to, plus a handful of concrete adapters. Transport
// construction (opening a real device) is out of scope for the MSP core
// (§1); this package exists so the dispatcher has something real to drive
// in the example CLI and in tests.
package transport

import (
	"errors"
	"io"
)

// Errors a Transport implementation may return.
var (
	ErrNotConnected = errors.New("transport not connected")
	ErrClosed       = errors.New("transport closed")
)

// Transport is any bidirectional byte stream the dispatcher can own
// exclusively for its lifetime (§6). Read may block indefinitely — the
// core imposes no global read timeout (§5); per-request deadlines are the
// dispatcher's concern, not the transport's.
type Transport interface {
	io.Reader
	io.Writer

	// Open establishes the connection. Calling Open on an already-open
	// Transport is a no-op.
	Open() error

	// Close terminates the connection and unblocks any in-flight Read.
	Close() error

	// IsOpen reports whether the connection is currently established.
	IsOpen() bool

	// Type identifies the transport kind, for logging.
	Type() string
}
