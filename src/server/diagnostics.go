package server

import (
	"context"
	"time"

	"go.lsp.dev/protocol"

	"lsp-bridge/src/internal/types"
)

// DiagnosticsPollInterval is how often a wait re-reads the diagnostics
// cache. Push timing is server-dependent, so arrival is observed by
// polling rather than by a single event.
const DiagnosticsPollInterval = 25 * time.Millisecond

// WaitOutcome is the result of one cooperative diagnostics wait.
type WaitOutcome struct {
	Diagnostics []protocol.Diagnostic
	Arrived     bool  // server published for this exact path since the clear
	Err         error // types.ErrTimeout or types.ErrAborted
}

// WaitForDiagnostics polls the client's diagnostics cache until the exact
// path has an entry, the timeout elapses, or ctx is cancelled. Cache reads
// are point-in-time snapshots; the push handler may overwrite the entry at
// any moment, which is exactly why this polls instead of reading once.
func WaitForDiagnostics(ctx context.Context, client *ClientConnection, path string, timeout time.Duration) WaitOutcome {
	if diags, ok := client.Diagnostics(path); ok {
		return WaitOutcome{Diagnostics: diags, Arrived: true}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(DiagnosticsPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return WaitOutcome{Err: types.ErrAborted}
		case <-deadline.C:
			return WaitOutcome{Err: types.ErrTimeout}
		case <-tick.C:
			if diags, ok := client.Diagnostics(path); ok {
				return WaitOutcome{Diagnostics: diags, Arrived: true}
			}
			if client.State() == StateClosed {
				return WaitOutcome{Err: types.ErrTimeout}
			}
		}
	}
}
