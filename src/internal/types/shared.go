package types

import (
	"time"

	"go.lsp.dev/protocol"
)

// ClientConfig contains everything needed to spawn one LSP server process.
type ClientConfig struct {
	Command               string
	Args                  []string
	WorkingDir            string
	InitializationOptions interface{}
	RequestTimeout        time.Duration
	InitializeTimeout     time.Duration
}

// FileStatus classifies the outcome of one file in a workspace
// diagnostics batch. Exactly one status is assigned per file.
type FileStatus string

const (
	FileStatusOK          FileStatus = "ok"
	FileStatusTimeout     FileStatus = "timeout"
	FileStatusError       FileStatus = "error"
	FileStatusUnsupported FileStatus = "unsupported"
)

// TouchResult is the outcome of a single-file touch-and-wait. Diagnostics
// may legitimately be empty: a clean file is a response, not a timeout.
type TouchResult struct {
	Diagnostics      []protocol.Diagnostic
	ReceivedResponse bool
	Unsupported      bool
	Err              error
}

// FileDiagnosticsResult is the per-file entry of a workspace diagnostics
// batch.
type FileDiagnosticsResult struct {
	File        string
	Diagnostics []protocol.Diagnostic
	Status      FileStatus
	Err         error
}
