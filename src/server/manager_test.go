package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsp-bridge/src/internal/registry"
	"lsp-bridge/src/internal/types"
)

// newHelperManager builds a manager whose only language, "fake" (.fk
// files), is served by the scripted stdio server.
func newHelperManager(t *testing.T) *Manager {
	t.Helper()
	cfg := helperClientConfig()
	reg := registry.NewRegistryWith([]registry.ServerDescriptor{
		{
			ID:                "fake",
			Extensions:        []string{".fk"},
			Command:           cfg.Command,
			Args:              cfg.Args,
			RequestTimeout:    cfg.RequestTimeout,
			InitializeTimeout: cfg.InitializeTimeout,
		},
	})
	mgr := NewManager(t.TempDir(), reg, nil)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })
	return mgr
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestManager_TouchFileAndWait_MissingFile(t *testing.T) {
	mgr := newHelperManager(t)

	result := mgr.TouchFileAndWait(context.Background(), filepath.Join(t.TempDir(), "gone.fk"), time.Second)
	assert.True(t, result.ReceivedResponse, "a definite not-found is itself a response")
	assert.True(t, errors.Is(result.Err, types.ErrNotFound))
	assert.Empty(t, result.Diagnostics)
}

func TestManager_TouchFileAndWait_UnsupportedExtension(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "notes.zzz", "hello")

	result := mgr.TouchFileAndWait(context.Background(), path, time.Second)
	assert.True(t, result.Unsupported)
	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), "No LSP for .zzz")
}

func TestManager_TouchFileAndWait_DirtyThenClean(t *testing.T) {
	mgr := newHelperManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "main.fk", "boom")

	result := mgr.TouchFileAndWait(context.Background(), path, 2*time.Second)
	require.NoError(t, result.Err)
	assert.True(t, result.ReceivedResponse)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, "boom detected", result.Diagnostics[0].Message)

	// Fix the file on disk; the next touch must report the new truth, not
	// the cached one.
	require.NoError(t, os.WriteFile(path, []byte("all clear"), 0o644))
	result = mgr.TouchFileAndWait(context.Background(), path, 2*time.Second)
	require.NoError(t, result.Err)
	assert.True(t, result.ReceivedResponse)
	assert.Empty(t, result.Diagnostics)
}

func TestManager_TouchFileAndWait_NoResponse(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "quiet.fk", "silent")

	result := mgr.TouchFileAndWait(context.Background(), path, 200*time.Millisecond)
	assert.False(t, result.ReceivedResponse)
	assert.NoError(t, result.Err)
	assert.Empty(t, result.Diagnostics)
}

func TestManager_TouchFileAndWait_Cancelled(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "quiet.fk", "silent")

	// Spawn the server first so cancellation hits the wait, not the spawn.
	warm := mgr.TouchFileAndWait(context.Background(), path, 100*time.Millisecond)
	require.False(t, warm.ReceivedResponse)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	result := mgr.TouchFileAndWait(ctx, path, 10*time.Second)
	assert.False(t, result.ReceivedResponse)
	assert.True(t, errors.Is(result.Err, types.ErrAborted))
}

func TestManager_WorkspaceDiagnostics(t *testing.T) {
	mgr := newHelperManager(t)
	dir := t.TempDir()
	dirty := writeTempFile(t, dir, "dirty.fk", "boom")
	clean := writeTempFile(t, dir, "clean.fk", "fine")
	missing := filepath.Join(dir, "missing.fk")

	results := mgr.WorkspaceDiagnostics(context.Background(),
		[]string{dirty, clean, missing, dirty}, 2*time.Second)

	// The duplicate collapses to one entry per file.
	require.Len(t, results, 3)

	byFile := make(map[string]types.FileDiagnosticsResult, len(results))
	for _, r := range results {
		byFile[filepath.Base(r.File)] = r
	}

	require.Contains(t, byFile, "dirty.fk")
	assert.Equal(t, types.FileStatusOK, byFile["dirty.fk"].Status)
	require.Len(t, byFile["dirty.fk"].Diagnostics, 1)

	assert.Equal(t, types.FileStatusOK, byFile["clean.fk"].Status)
	assert.Empty(t, byFile["clean.fk"].Diagnostics)

	assert.Equal(t, types.FileStatusError, byFile["missing.fk"].Status)
	assert.True(t, errors.Is(byFile["missing.fk"].Err, types.ErrNotFound))
}

func TestManager_WorkspaceDiagnostics_PullFallback(t *testing.T) {
	mgr := newHelperManager(t)
	// "silent" suppresses push diagnostics entirely, so the batch falls
	// back to textDocument/diagnostic, which the fake answers with an
	// empty full report.
	path := writeTempFile(t, t.TempDir(), "quiet.fk", "silent")

	results := mgr.WorkspaceDiagnostics(context.Background(), []string{path}, 200*time.Millisecond)
	require.Len(t, results, 1)
	assert.Equal(t, types.FileStatusOK, results[0].Status)
	assert.Empty(t, results[0].Diagnostics)
}

func TestManager_GetDefinition(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")

	locations, err := mgr.GetDefinition(context.Background(), path, 1, 1)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "file:///fake/target.go", string(locations[0].URI))
	assert.Equal(t, uint32(10), locations[0].Range.Start.Line)
}

func TestManager_GetReferences(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")

	locations, err := mgr.GetReferences(context.Background(), path, 2, 1)
	require.NoError(t, err)
	assert.Len(t, locations, 2)
}

func TestManager_GetDocumentSymbols_FlatNormalized(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")

	symbols, err := mgr.GetDocumentSymbols(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "FakeSymbol", symbols[0].Name)
	assert.Equal(t, symbols[0].Range, symbols[0].SelectionRange)
	assert.Empty(t, symbols[0].Children)
}

func TestManager_GetHover(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")

	hover, err := mgr.GetHover(context.Background(), path, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, hover)
	assert.Equal(t, "fake docs", hover.Contents)
}

func TestManager_GetSignatureHelp(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")

	help, err := mgr.GetSignatureHelp(context.Background(), path, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, help)
	require.Len(t, help.Signatures, 1)
	assert.Equal(t, "fake(x int)", help.Signatures[0].Label)
}

func TestManager_Rename(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")

	edit, err := mgr.Rename(context.Background(), path, 1, 1, "newName")
	require.NoError(t, err)
	require.NotNil(t, edit)
	require.Len(t, edit.Changes, 1)
	for _, edits := range edit.Changes {
		require.Len(t, edits, 1)
		assert.Equal(t, "renamed", edits[0].NewText)
	}
}

func TestManager_GetCodeActions(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")

	actions, err := mgr.GetCodeActions(context.Background(), path, 1, 1, 2, 1)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.NotNil(t, actions[0].Command)
	require.NotNil(t, actions[1].Action)
	assert.Equal(t, "quickfix", actions[1].Action.Kind)
}

func TestManager_UnsupportedOperationsReturnEmpty(t *testing.T) {
	mgr := newHelperManager(t)
	path := writeTempFile(t, t.TempDir(), "notes.zzz", "plain text")

	locations, err := mgr.GetDefinition(context.Background(), path, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, locations)

	hover, err := mgr.GetHover(context.Background(), path, 1, 1)
	require.NoError(t, err)
	assert.Nil(t, hover)
}

func TestManager_Shutdown(t *testing.T) {
	mgr := newHelperManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "main.fk", "fine")

	result := mgr.TouchFileAndWait(context.Background(), path, 2*time.Second)
	require.True(t, result.ReceivedResponse)

	mgr.Shutdown(context.Background())

	// Post-shutdown operations return empty without spawning anything.
	after := mgr.TouchFileAndWait(context.Background(), path, time.Second)
	assert.True(t, after.Unsupported)
	assert.Empty(t, after.Diagnostics)

	locations, err := mgr.GetDefinition(context.Background(), path, 1, 1)
	require.NoError(t, err)
	assert.Empty(t, locations)
}

func TestManager_SetRootRecreates(t *testing.T) {
	mgr := newHelperManager(t)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "main.fk", "fine")

	result := mgr.TouchFileAndWait(context.Background(), path, 2*time.Second)
	require.True(t, result.ReceivedResponse)

	newRoot := t.TempDir()
	mgr.SetRoot(context.Background(), newRoot)
	assert.Equal(t, newRoot, mgr.Root())

	// The manager works again after the root change.
	result = mgr.TouchFileAndWait(context.Background(), path, 2*time.Second)
	assert.True(t, result.ReceivedResponse)
}

func TestManager_HandshakeFailureDegradesToUnsupported(t *testing.T) {
	// A command that exists but is not an LSP server: the handshake times
	// out or fails, and the language degrades instead of erroring forever.
	reg := registry.NewRegistryWith([]registry.ServerDescriptor{
		{
			ID:                "broken",
			Extensions:        []string{".br"},
			Command:           os.Args[0],
			Args:              []string{"-test.run=TestHelperLSPServer$"},
			RequestTimeout:    200 * time.Millisecond,
			InitializeTimeout: 200 * time.Millisecond,
		},
	})
	mgr := NewManager(t.TempDir(), reg, nil)
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	path := writeTempFile(t, t.TempDir(), "x.br", "content")

	result := mgr.TouchFileAndWait(context.Background(), path, time.Second)
	assert.True(t, result.Unsupported)

	// Second call takes the remembered-failure path.
	result = mgr.TouchFileAndWait(context.Background(), path, time.Second)
	assert.True(t, result.Unsupported)
}

func TestManager_Status(t *testing.T) {
	mgr := newHelperManager(t)

	statuses := mgr.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "fake", statuses[0].Language)
	assert.True(t, statuses[0].Installed)
	assert.Equal(t, "idle", statuses[0].State)

	path := writeTempFile(t, t.TempDir(), "main.fk", "fine")
	result := mgr.TouchFileAndWait(context.Background(), path, 2*time.Second)
	require.True(t, result.ReceivedResponse)

	statuses = mgr.Status()
	assert.Equal(t, "ready", statuses[0].State)
}
