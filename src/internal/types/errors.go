package types

import "errors"

// Every failure mode a caller is expected to branch on resolves to one of
// these sentinels. They travel inside structured results, never as panics.
var (
	// ErrNotFound means the requested file does not exist on disk.
	ErrNotFound = errors.New("File not found")
	// ErrUnreadable means the file exists but its content could not be read.
	ErrUnreadable = errors.New("file not readable")
	// ErrUnsupported means no language server is registered or available
	// for the file's extension.
	ErrUnsupported = errors.New("no language server available")
	// ErrHandshakeFailure means the initialize exchange with a freshly
	// spawned server failed; the client is discarded.
	ErrHandshakeFailure = errors.New("LSP handshake failed")
	// ErrTimeout means a diagnostics wait or request exceeded its budget.
	ErrTimeout = errors.New("request timed out")
	// ErrAborted means the caller cancelled the operation.
	ErrAborted = errors.New("Aborted")
	// ErrClientClosed means the operation hit a connection that has
	// already been shut down.
	ErrClientClosed = errors.New("client closed")
)
