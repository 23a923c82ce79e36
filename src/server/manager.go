// Package server implements the LSP client/manager subsystem: per-language
// server connections, whole-file state synchronization, reconciliation of
// push diagnostics with a request/response contract, and dispatch of
// navigation requests across languages.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"golang.org/x/sync/errgroup"

	"lsp-bridge/src/config"
	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/registry"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/utils/lspconv"
)

const (
	// DefaultDiagnosticsTimeout applies when the caller passes no budget.
	DefaultDiagnosticsTimeout = 10 * time.Second
	// MinDiagnosticsTimeout / MaxDiagnosticsTimeout bound the tool-facing
	// surface.
	MinDiagnosticsTimeout = time.Second
	MaxDiagnosticsTimeout = 60 * time.Second

	// batchConcurrency bounds how many files a workspace diagnostics batch
	// works on at once.
	batchConcurrency = 8
)

// Manager owns one ClientConnection per language id for a single project
// root and exposes the public operations. Construct one per root with
// NewManager; there is no package-level instance.
type Manager struct {
	mu       sync.RWMutex
	registry *registry.Registry
	cfg      *config.Config
	rootPath string
	clients  map[string]*ClientConnection
	// languages whose server failed to spawn or initialize; they degrade
	// to unsupported instead of being retried on every call
	unavailable map[string]error
	closed      bool
}

// NewManager creates a manager rooted at rootPath. cfg may be nil; it
// overrides registry defaults per language when present.
func NewManager(rootPath string, reg *registry.Registry, cfg *config.Config) *Manager {
	if reg == nil {
		reg = registry.NewRegistry()
	}
	abs, err := filepath.Abs(rootPath)
	if err == nil {
		rootPath = abs
	}
	return &Manager{
		registry:    reg,
		cfg:         cfg,
		rootPath:    rootPath,
		clients:     make(map[string]*ClientConnection),
		unavailable: make(map[string]error),
	}
}

// Root returns the project root this manager serves.
func (m *Manager) Root() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rootPath
}

// SetRoot tears down every connection and rebinds the manager to a new
// project root. Root changes are explicit; nothing swaps roots implicitly.
func (m *Manager) SetRoot(ctx context.Context, rootPath string) {
	m.Shutdown(ctx)

	abs, err := filepath.Abs(rootPath)
	if err == nil {
		rootPath = abs
	}

	m.mu.Lock()
	m.rootPath = rootPath
	m.clients = make(map[string]*ClientConnection)
	m.unavailable = make(map[string]error)
	m.closed = false
	m.mu.Unlock()
}

// Shutdown closes every connection. Afterwards all public operations
// return empty results without spawning new processes.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	clients := make([]*ClientConnection, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*ClientConnection)
	m.closed = true
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// clientConfig merges the registry descriptor with any YAML override.
func (m *Manager) clientConfig(desc *registry.ServerDescriptor, root string) types.ClientConfig {
	cc := types.ClientConfig{
		Command:               desc.Command,
		Args:                  desc.Args,
		WorkingDir:            root,
		InitializationOptions: desc.GetInitOptions(),
		RequestTimeout:        desc.RequestTimeout,
		InitializeTimeout:     desc.InitializeTimeout,
	}
	if m.cfg != nil {
		if override, ok := m.cfg.Servers[desc.ID]; ok {
			if override.Command != "" {
				cc.Command = override.Command
			}
			if len(override.Args) > 0 {
				cc.Args = override.Args
			}
			if override.InitializationOptions != nil {
				cc.InitializationOptions = override.InitializationOptions
			}
		}
	}
	return cc
}

// clientsForFile resolves the file's language and returns the live clients
// serving it, spawning lazily on first use. An empty slice means the file
// is unsupported: no descriptor, server not installed, or handshake
// previously failed.
func (m *Manager) clientsForFile(ctx context.Context, path string) ([]*ClientConnection, string) {
	language := m.registry.ResolveLanguage(path)
	if language == registry.PlaintextLanguage {
		return nil, language
	}

	m.mu.RLock()
	closed := m.closed
	client, exists := m.clients[language]
	_, failed := m.unavailable[language]
	root := m.rootPath
	m.mu.RUnlock()

	if closed || failed {
		return nil, language
	}
	if exists {
		if client.Ready() {
			return []*ClientConnection{client}, language
		}
		// The process died underneath us; drop the entry and degrade.
		m.mu.Lock()
		if m.clients[language] == client {
			delete(m.clients, language)
			m.unavailable[language] = types.ErrUnsupported
		}
		m.mu.Unlock()
		return nil, language
	}

	desc, ok := m.registry.FindDescriptor(language)
	if !ok {
		return nil, language
	}

	serverRoot := desc.FindRoot(path, root)
	candidate := NewClientConnection(m.clientConfig(desc, serverRoot), language, serverRoot)

	if err := candidate.Start(ctx); err != nil {
		if errors.Is(err, types.ErrAborted) {
			return nil, language
		}
		if !errors.Is(err, types.ErrUnsupported) {
			common.LSPLogger.Error("Handshake failed for %s: %v", language, err)
		}
		// One broken server must not affect other languages; remember the
		// failure so the language degrades to unsupported from now on.
		m.mu.Lock()
		m.unavailable[language] = err
		m.mu.Unlock()
		return nil, language
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		candidate.Close()
		return nil, language
	}
	if existing, raced := m.clients[language]; raced {
		m.mu.Unlock()
		candidate.Close()
		return []*ClientConnection{existing}, language
	}
	m.clients[language] = candidate
	m.mu.Unlock()

	return []*ClientConnection{candidate}, language
}

// statFile resolves path and verifies it exists.
func statFile(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrNotFound, path)
	}
	if _, err := os.Stat(absPath); err != nil {
		return absPath, types.ErrNotFound
	}
	return absPath, nil
}

func readFile(absPath string) (string, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrUnreadable, err)
	}
	return string(data), nil
}

func unsupportedError(path string) error {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = filepath.Base(path)
	}
	return fmt.Errorf("No LSP for %s", ext)
}

// TouchFileAndWait re-syncs one file and waits for fresh diagnostics.
// ReceivedResponse is true when any client signaled arrival or any
// diagnostics are present; an empty fresh publish still counts.
func (m *Manager) TouchFileAndWait(ctx context.Context, path string, timeout time.Duration) types.TouchResult {
	if timeout <= 0 {
		timeout = DefaultDiagnosticsTimeout
	}
	if err := ctx.Err(); err != nil {
		return types.TouchResult{Err: types.ErrAborted}
	}

	absPath, err := statFile(path)
	if err != nil {
		// The answer "this file does not exist" is itself a response.
		return types.TouchResult{ReceivedResponse: true, Err: types.ErrNotFound}
	}

	clients, _ := m.clientsForFile(ctx, absPath)
	if len(clients) == 0 {
		return types.TouchResult{Unsupported: true, Err: unsupportedError(absPath)}
	}

	content, err := readFile(absPath)
	if err != nil {
		return types.TouchResult{Err: err}
	}

	// Clear before sync so nothing stale can satisfy the wait.
	for _, client := range clients {
		client.ClearDiagnostics(absPath)
	}
	for _, client := range clients {
		if err := client.OpenOrUpdate(ctx, absPath, content); err != nil {
			common.LSPLogger.Debug("Sync failed for %s on %s: %v", absPath, client.Language(), err)
		}
	}

	if err := ctx.Err(); err != nil {
		return types.TouchResult{Err: types.ErrAborted}
	}

	outcomes := make([]WaitOutcome, len(clients))
	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client *ClientConnection) {
			defer wg.Done()
			outcomes[i] = WaitForDiagnostics(ctx, client, absPath, timeout)
		}(i, client)
	}
	wg.Wait()

	result := types.TouchResult{Diagnostics: []protocol.Diagnostic{}}
	aborted := false
	for _, outcome := range outcomes {
		if outcome.Arrived {
			result.ReceivedResponse = true
		}
		if errors.Is(outcome.Err, types.ErrAborted) {
			aborted = true
		}
		result.Diagnostics = append(result.Diagnostics, outcome.Diagnostics...)
	}
	if len(result.Diagnostics) > 0 {
		result.ReceivedResponse = true
	}
	if aborted && !result.ReceivedResponse {
		result.Err = types.ErrAborted
	}
	return result
}

// WorkspaceDiagnostics runs the touch-and-wait flow over a batch of files.
// Paths are deduplicated; each file gets exactly one status. Files opened
// purely for the batch are closed afterward.
func (m *Manager) WorkspaceDiagnostics(ctx context.Context, paths []string, timeout time.Duration) []types.FileDiagnosticsResult {
	if timeout <= 0 {
		timeout = DefaultDiagnosticsTimeout
	}

	seen := make(map[string]bool, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if !seen[abs] {
			seen[abs] = true
			unique = append(unique, abs)
		}
	}

	results := make([]types.FileDiagnosticsResult, len(unique))

	var openedMu sync.Mutex
	batchOpened := make(map[*ClientConnection][]string)
	touched := make(map[*ClientConnection]bool)

	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(batchConcurrency)

	for i, path := range unique {
		i, path := i, path
		g.Go(func() error {
			results[i] = m.diagnoseOne(ctx, gctx, path, timeout, func(client *ClientConnection, newlyOpened bool) {
				openedMu.Lock()
				touched[client] = true
				if newlyOpened {
					batchOpened[client] = append(batchOpened[client], path)
				}
				openedMu.Unlock()
			})
			return nil
		})
	}
	_ = g.Wait()

	// Close what the batch opened and re-run eviction on every client the
	// batch touched.
	cleanupCtx := context.Background()
	for client, opened := range batchOpened {
		for _, path := range opened {
			if err := client.CloseFile(cleanupCtx, path); err != nil {
				common.LSPLogger.Debug("Failed to close batch file %s: %v", path, err)
			}
		}
	}
	for client := range touched {
		if err := client.evictOverCap(cleanupCtx); err != nil {
			common.LSPLogger.Debug("Eviction failed on %s: %v", client.Language(), err)
		}
	}

	return results
}

// diagnoseOne produces the status for a single batch file.
func (m *Manager) diagnoseOne(ctx, gctx context.Context, path string, timeout time.Duration, track func(*ClientConnection, bool)) types.FileDiagnosticsResult {
	result := types.FileDiagnosticsResult{File: path}

	if err := ctx.Err(); err != nil {
		result.Status = types.FileStatusError
		result.Err = types.ErrAborted
		return result
	}

	absPath, err := statFile(path)
	if err != nil {
		result.Status = types.FileStatusError
		result.Err = err
		return result
	}

	clients, _ := m.clientsForFile(ctx, absPath)
	if len(clients) == 0 {
		result.Status = types.FileStatusUnsupported
		result.Err = unsupportedError(absPath)
		return result
	}

	content, err := readFile(absPath)
	if err != nil {
		result.Status = types.FileStatusError
		result.Err = err
		return result
	}

	for _, client := range clients {
		client.ClearDiagnostics(absPath)
	}
	for _, client := range clients {
		newlyOpened := !client.IsOpen(absPath)
		track(client, newlyOpened)
		if serr := client.OpenOrUpdate(ctx, absPath, content); serr != nil {
			common.LSPLogger.Debug("Batch sync failed for %s: %v", absPath, serr)
		}
	}

	waitCtx := ctx
	if gctx != nil {
		// Either caller cancellation or batch teardown stops the wait.
		var cancel context.CancelFunc
		waitCtx, cancel = mergeCancel(ctx, gctx)
		defer cancel()
	}

	diagnostics := []protocol.Diagnostic{}
	arrived := false
	for _, client := range clients {
		outcome := WaitForDiagnostics(waitCtx, client, absPath, timeout)
		if errors.Is(outcome.Err, types.ErrAborted) {
			result.Status = types.FileStatusError
			result.Err = types.ErrAborted
			return result
		}
		if outcome.Arrived {
			arrived = true
			diagnostics = append(diagnostics, outcome.Diagnostics...)
			continue
		}
		// Push never came; try one explicit pull before giving up.
		if pulled, ok := m.pullDiagnostics(ctx, client, absPath); ok {
			arrived = true
			diagnostics = append(diagnostics, pulled...)
		}
	}

	if !arrived {
		result.Status = types.FileStatusTimeout
		result.Err = types.ErrTimeout
		return result
	}

	result.Status = types.FileStatusOK
	result.Diagnostics = diagnostics
	return result
}

// pullDiagnostics issues textDocument/diagnostic, falling back to whatever
// landed in the cache while the request was in flight.
func (m *Manager) pullDiagnostics(ctx context.Context, client *ClientConnection, path string) ([]protocol.Diagnostic, bool) {
	if cached, ok := client.Diagnostics(path); ok {
		return cached, true
	}

	raw, err := client.SendRequest(ctx, types.MethodTextDocumentDiagnostic, map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": common.FilePathToURI(path),
		},
	})
	if err != nil {
		return nil, false
	}
	return lspconv.PullDiagnostics(raw)
}

// positionParams builds the common textDocument/position payload from
// 1-based coordinates.
func positionParams(path string, line, col int) map[string]interface{} {
	pos := lspconv.ToProtocolPosition(line, col)
	return map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": common.FilePathToURI(path),
		},
		"position": map[string]interface{}{
			"line":      pos.Line,
			"character": pos.Character,
		},
	}
}

// syncForRequest opens-or-updates the file on every client so the server's
// view matches the latest on-disk content before a request runs.
func (m *Manager) syncForRequest(ctx context.Context, path string) ([]*ClientConnection, string, error) {
	absPath, err := statFile(path)
	if err != nil {
		return nil, "", err
	}
	clients, _ := m.clientsForFile(ctx, absPath)
	if len(clients) == 0 {
		return nil, absPath, nil
	}
	content, err := readFile(absPath)
	if err != nil {
		return nil, absPath, err
	}
	for _, client := range clients {
		if serr := client.OpenOrUpdate(ctx, absPath, content); serr != nil {
			common.LSPLogger.Debug("Sync failed for %s: %v", absPath, serr)
		}
	}
	return clients, absPath, nil
}

// fanOut sends a request to every live client for the file's language
// concurrently. A per-client transport error contributes an empty result
// for that client only; results keep client registration order.
func (m *Manager) fanOut(ctx context.Context, clients []*ClientConnection, method string, params interface{}) [][]byte {
	raws := make([][]byte, len(clients))
	var wg sync.WaitGroup
	for i, client := range clients {
		if !client.Supports(method) {
			continue
		}
		wg.Add(1)
		go func(i int, client *ClientConnection) {
			defer wg.Done()
			raw, err := client.SendRequest(ctx, method, params)
			if err != nil {
				common.LSPLogger.Debug("%s failed on %s: %v", method, client.Language(), err)
				return
			}
			raws[i] = raw
		}(i, client)
	}
	wg.Wait()
	return raws
}

// GetDefinition returns definition locations for a 1-based position.
func (m *Manager) GetDefinition(ctx context.Context, path string, line, col int) ([]protocol.Location, error) {
	clients, absPath, err := m.syncForRequest(ctx, path)
	if err != nil || len(clients) == 0 {
		return []protocol.Location{}, err
	}

	locations := []protocol.Location{}
	for _, raw := range m.fanOut(ctx, clients, types.MethodTextDocumentDefinition, positionParams(absPath, line, col)) {
		if raw == nil {
			continue
		}
		locs, nerr := lspconv.NormalizeLocations(raw)
		if nerr != nil {
			common.LSPLogger.Debug("Definition normalize failed: %v", nerr)
			continue
		}
		locations = append(locations, locs...)
	}
	return locations, nil
}

// GetReferences returns all reference locations for a 1-based position,
// including the declaration.
func (m *Manager) GetReferences(ctx context.Context, path string, line, col int) ([]protocol.Location, error) {
	clients, absPath, err := m.syncForRequest(ctx, path)
	if err != nil || len(clients) == 0 {
		return []protocol.Location{}, err
	}

	params := positionParams(absPath, line, col)
	params["context"] = map[string]interface{}{"includeDeclaration": true}

	locations := []protocol.Location{}
	for _, raw := range m.fanOut(ctx, clients, types.MethodTextDocumentReferences, params) {
		if raw == nil {
			continue
		}
		locs, nerr := lspconv.NormalizeLocations(raw)
		if nerr != nil {
			common.LSPLogger.Debug("References normalize failed: %v", nerr)
			continue
		}
		locations = append(locations, locs...)
	}
	return locations, nil
}

// GetDocumentSymbols returns the symbol outline in hierarchical form.
func (m *Manager) GetDocumentSymbols(ctx context.Context, path string) ([]protocol.DocumentSymbol, error) {
	clients, absPath, err := m.syncForRequest(ctx, path)
	if err != nil || len(clients) == 0 {
		return []protocol.DocumentSymbol{}, err
	}

	params := map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": common.FilePathToURI(absPath),
		},
	}

	symbols := []protocol.DocumentSymbol{}
	for _, raw := range m.fanOut(ctx, clients, types.MethodTextDocumentDocumentSymbol, params) {
		if raw == nil {
			continue
		}
		syms, nerr := lspconv.NormalizeSymbols(raw)
		if nerr != nil {
			common.LSPLogger.Debug("Symbols normalize failed: %v", nerr)
			continue
		}
		symbols = append(symbols, syms...)
	}
	return symbols, nil
}

// GetHover returns hover text for a 1-based position from the first client
// that answers, nil when none do.
func (m *Manager) GetHover(ctx context.Context, path string, line, col int) (*lspconv.HoverResult, error) {
	clients, absPath, err := m.syncForRequest(ctx, path)
	if err != nil || len(clients) == 0 {
		return nil, err
	}

	params := positionParams(absPath, line, col)
	for _, client := range clients {
		if !client.Supports(types.MethodTextDocumentHover) {
			continue
		}
		raw, rerr := client.SendRequest(ctx, types.MethodTextDocumentHover, params)
		if rerr != nil {
			continue
		}
		hover, nerr := lspconv.NormalizeHover(raw)
		if nerr != nil || hover == nil {
			continue
		}
		return hover, nil
	}
	return nil, nil
}

// GetSignatureHelp returns call signature information, first non-null wins.
func (m *Manager) GetSignatureHelp(ctx context.Context, path string, line, col int) (*lspconv.SignatureHelp, error) {
	clients, absPath, err := m.syncForRequest(ctx, path)
	if err != nil || len(clients) == 0 {
		return nil, err
	}

	params := positionParams(absPath, line, col)
	for _, client := range clients {
		if !client.Supports(types.MethodTextDocumentSignatureHelp) {
			continue
		}
		raw, rerr := client.SendRequest(ctx, types.MethodTextDocumentSignatureHelp, params)
		if rerr != nil {
			continue
		}
		help, nerr := lspconv.NormalizeSignatureHelp(raw)
		if nerr != nil || help == nil {
			continue
		}
		return help, nil
	}
	return nil, nil
}

// Rename renames the symbol at a 1-based position across the workspace,
// returning the edit from the first client that produces one.
func (m *Manager) Rename(ctx context.Context, path string, line, col int, newName string) (*protocol.WorkspaceEdit, error) {
	clients, absPath, err := m.syncForRequest(ctx, path)
	if err != nil || len(clients) == 0 {
		return nil, err
	}

	params := positionParams(absPath, line, col)
	params["newName"] = newName

	for _, client := range clients {
		if !client.Supports(types.MethodTextDocumentRename) {
			continue
		}
		raw, rerr := client.SendRequest(ctx, types.MethodTextDocumentRename, params)
		if rerr != nil {
			continue
		}
		edit, nerr := lspconv.NormalizeWorkspaceEdit(raw)
		if nerr != nil || edit == nil {
			continue
		}
		return edit, nil
	}
	return nil, nil
}

// GetCodeActions returns fixes and refactorings for a 1-based range. The
// request context carries the cached diagnostics whose line span overlaps
// the range.
func (m *Manager) GetCodeActions(ctx context.Context, path string, startLine, startCol, endLine, endCol int) ([]lspconv.CodeActionOrCommand, error) {
	clients, absPath, err := m.syncForRequest(ctx, path)
	if err != nil || len(clients) == 0 {
		return []lspconv.CodeActionOrCommand{}, err
	}

	rng := protocol.Range{
		Start: lspconv.ToProtocolPosition(startLine, startCol),
		End:   lspconv.ToProtocolPosition(endLine, endCol),
	}

	actions := []lspconv.CodeActionOrCommand{}
	for _, client := range clients {
		if !client.Supports(types.MethodTextDocumentCodeAction) {
			continue
		}
		cached, _ := client.Diagnostics(absPath)
		params := map[string]interface{}{
			"textDocument": map[string]interface{}{
				"uri": common.FilePathToURI(absPath),
			},
			"range": rng,
			"context": map[string]interface{}{
				"diagnostics": lspconv.FilterDiagnosticsByLineOverlap(cached, rng),
			},
		}
		raw, rerr := client.SendRequest(ctx, types.MethodTextDocumentCodeAction, params)
		if rerr != nil {
			continue
		}
		acts, nerr := lspconv.NormalizeCodeActions(raw)
		if nerr != nil {
			common.LSPLogger.Debug("Code action normalize failed: %v", nerr)
			continue
		}
		actions = append(actions, acts...)
	}
	return actions, nil
}

// LanguageStatus describes one registry entry for the status surface.
type LanguageStatus struct {
	Language  string
	Command   string
	Installed bool
	State     string
}

// Status reports every registered language, binary availability, and the
// live connection state.
func (m *Manager) Status() []LanguageStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]LanguageStatus, 0)
	for _, desc := range m.registry.Descriptors() {
		status := LanguageStatus{
			Language:  desc.ID,
			Command:   desc.Command,
			Installed: desc.Available(),
			State:     "idle",
		}
		if client, ok := m.clients[desc.ID]; ok {
			status.State = stateName(client.State())
		} else if _, failed := m.unavailable[desc.ID]; failed {
			status.State = "unavailable"
		}
		out = append(out, status)
	}
	return out
}

func stateName(s ConnState) string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSpawning:
		return "spawning"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// mergeCancel derives a context cancelled when either input is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
