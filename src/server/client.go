package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.lsp.dev/protocol"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/types"
	jsonrpc "lsp-bridge/src/server/protocol"
	"lsp-bridge/src/server/process"
)

// ConnState tracks the connection lifecycle. Closed is terminal.
type ConnState int

const (
	StateUninitialized ConnState = iota
	StateSpawning
	StateInitializing
	StateReady
	StateClosed
)

// MaxOpenFiles caps how many documents a single client keeps open. Past
// the cap the least recently accessed files are closed.
const MaxOpenFiles = 30

const defaultRequestTimeout = 30 * time.Second

// pendingRequest stores the delivery channel for one in-flight request.
type pendingRequest struct {
	respCh chan rpcOutcome
	done   chan struct{}
}

type rpcOutcome struct {
	result json.RawMessage
	err    *jsonrpc.RPCError
}

type openFile struct {
	version    int32
	lastAccess time.Time
}

// ClientConnection is one spawned language server process plus its RPC
// transport, diagnostics cache, and open-file table, for one language id.
type ClientConnection struct {
	config   types.ClientConfig
	language string
	rootPath string

	codec          *jsonrpc.Codec
	processManager *process.Manager
	processInfo    *process.Info

	mu           sync.RWMutex
	writeMu      sync.Mutex
	state        ConnState
	requests     map[string]*pendingRequest
	nextID       int
	openFiles    map[string]*openFile
	diagnostics  map[string][]protocol.Diagnostic
	capabilities map[string]interface{}
}

// NewClientConnection creates an unstarted connection for one language.
func NewClientConnection(config types.ClientConfig, language, rootPath string) *ClientConnection {
	return &ClientConnection{
		config:         config,
		language:       language,
		rootPath:       rootPath,
		codec:          jsonrpc.NewCodec(language),
		processManager: process.NewManager(),
		state:          StateUninitialized,
		requests:       make(map[string]*pendingRequest),
		openFiles:      make(map[string]*openFile),
		diagnostics:    make(map[string][]protocol.Diagnostic),
	}
}

// Language returns the connection's language id.
func (c *ClientConnection) Language() string { return c.language }

// State returns the current lifecycle state.
func (c *ClientConnection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready reports whether the connection accepts requests.
func (c *ClientConnection) Ready() bool { return c.State() == StateReady }

// Start spawns the server process and runs the initialize handshake.
// A missing server binary yields types.ErrUnsupported; a failed handshake
// yields types.ErrHandshakeFailure and leaves the connection Closed so it
// is never reachable half-initialized.
func (c *ClientConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	c.state = StateSpawning
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		c.setState(StateClosed)
		return types.ErrAborted
	}

	info, err := c.processManager.Spawn(c.config, c.language)
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("%w: %v", types.ErrHandshakeFailure, err)
	}
	if info == nil {
		// Server not installed.
		c.setState(StateClosed)
		return types.ErrUnsupported
	}

	c.mu.Lock()
	c.processInfo = info
	c.state = StateInitializing
	c.mu.Unlock()

	go func() {
		if rerr := c.codec.ReadMessages(info.Stdout, c, info.StopCh); rerr != nil {
			if !info.IntentionalStop {
				common.LSPLogger.Error("Error reading responses for %s: %v", c.language, rerr)
			}
		}
	}()
	go c.logStderr()
	go c.processManager.Monitor(info, func(error) {
		c.markClosed()
	})

	if err := ctx.Err(); err != nil {
		c.Close()
		return types.ErrAborted
	}

	if err := c.initializeLSP(ctx); err != nil {
		c.processManager.Stop(c.processInfo, nil)
		c.setState(StateClosed)
		return fmt.Errorf("%w: %v", types.ErrHandshakeFailure, err)
	}

	c.setState(StateReady)
	return nil
}

// Close moves the connection to Closed and terminates the process.
// Safe to call more than once.
func (c *ClientConnection) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	info := c.processInfo
	c.mu.Unlock()

	if info != nil {
		c.processManager.Stop(info, c)
	}
}

func (c *ClientConnection) setState(s ConnState) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *ClientConnection) markClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// SendRequest sends a JSON-RPC request and waits for its response. The
// method-level timeout applies unless ctx carries a shorter deadline.
func (c *ClientConnection) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	state := c.state
	info := c.processInfo
	if state != StateReady && !(state == StateInitializing && method == types.MethodInitialize) {
		c.mu.Unlock()
		return nil, types.ErrClientClosed
	}
	c.nextID++
	idVal := c.nextID
	id := fmt.Sprintf("%d", idVal)
	req := &pendingRequest{
		respCh: make(chan rpcOutcome, 1),
		done:   make(chan struct{}),
	}
	c.requests[id] = req
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.requests, id)
		c.mu.Unlock()
		close(req.done)
	}()

	msg := jsonrpc.CreateMessage(method, idVal, params)

	c.writeMu.Lock()
	writeErr := c.codec.WriteMessage(info.Stdin, msg)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.markClosed()
		common.LSPLogger.Error("Failed to send LSP request: language=%s, method=%s, error=%v", c.language, method, writeErr)
		return nil, fmt.Errorf("failed to send request: %w", writeErr)
	}

	timeout := c.requestTimeout(method)
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > timeout {
		var cancel context.CancelFunc
		ctx, cancel = common.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case outcome := <-req.respCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return outcome.result, nil
	case <-ctx.Done():
		// Tell the server to stop working on the abandoned request.
		cancelParams := map[string]interface{}{"id": idVal}
		if cerr := c.SendNotification(context.Background(), "$/cancelRequest", cancelParams); cerr != nil {
			common.LSPLogger.Debug("Failed to send cancel for id=%s: %v", id, cerr)
		}
		if ctx.Err() == context.Canceled {
			return nil, types.ErrAborted
		}
		return nil, fmt.Errorf("%w: %s after %v", types.ErrTimeout, method, timeout)
	case <-info.StopCh:
		return nil, types.ErrClientClosed
	}
}

// SendNotification sends a JSON-RPC notification. Notifications share the
// request write path so document sync is flushed before any request that
// follows it on this connection.
func (c *ClientConnection) SendNotification(_ context.Context, method string, params interface{}) error {
	c.mu.RLock()
	state := c.state
	info := c.processInfo
	c.mu.RUnlock()

	if state != StateReady && !(state == StateInitializing && method == types.MethodInitialized) {
		if method == types.MethodExit || method == "$/cancelRequest" {
			// Allowed during teardown.
		} else {
			return types.ErrClientClosed
		}
	}
	if info == nil {
		return types.ErrClientClosed
	}

	msg := jsonrpc.CreateNotification(method, params)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteMessage(info.Stdin, msg)
}

func (c *ClientConnection) requestTimeout(method string) time.Duration {
	if method == types.MethodInitialize && c.config.InitializeTimeout > 0 {
		return c.config.InitializeTimeout
	}
	if c.config.RequestTimeout > 0 {
		return c.config.RequestTimeout
	}
	return defaultRequestTimeout
}

// SendShutdownRequest implements process.ShutdownSender.
func (c *ClientConnection) SendShutdownRequest(ctx context.Context) error {
	msg := jsonrpc.CreateMessage(types.MethodShutdown, 0, nil)
	c.mu.RLock()
	info := c.processInfo
	c.mu.RUnlock()
	if info == nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteMessage(info.Stdin, msg)
}

// SendExitNotification implements process.ShutdownSender.
func (c *ClientConnection) SendExitNotification(ctx context.Context) error {
	return c.SendNotification(ctx, types.MethodExit, nil)
}

// HandleRequest answers server-initiated requests. workspace/configuration
// gets an empty config; everything else a null result, which is enough to
// keep servers from stalling on unanswered requests.
func (c *ClientConnection) HandleRequest(method string, id interface{}, params json.RawMessage) error {
	c.mu.RLock()
	info := c.processInfo
	c.mu.RUnlock()
	if info == nil {
		return nil
	}

	var response jsonrpc.JSONRPCMessage
	if method == "workspace/configuration" {
		response = jsonrpc.CreateResponse(id, []interface{}{map[string]interface{}{}}, nil)
	} else {
		response = jsonrpc.CreateResponse(id, json.RawMessage("null"), nil)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.codec.WriteMessage(info.Stdin, response)
}

// HandleResponse delivers a server response to the matching pending request.
func (c *ClientConnection) HandleResponse(id interface{}, result json.RawMessage, rpcErr *jsonrpc.RPCError) error {
	idStr := fmt.Sprintf("%v", id)

	c.mu.RLock()
	req, exists := c.requests[idStr]
	info := c.processInfo
	c.mu.RUnlock()

	if !exists {
		// Late response for a request that already timed out; the caller
		// has moved on.
		common.LSPLogger.Debug("No matching request for response id=%s from %s", idStr, c.language)
		return nil
	}

	if rpcErr != nil && !jsonrpc.IsExpectedSuppressibleError(rpcErr) {
		common.LSPLogger.Warn("LSP response contains error: language=%s, id=%s, error=%v", c.language, idStr, rpcErr)
	}

	select {
	case req.respCh <- rpcOutcome{result: result, err: rpcErr}:
	case <-req.done:
	case <-info.StopCh:
	}
	return nil
}

// HandleNotification routes push diagnostics into the cache; other
// notifications are ignored without stalling message processing.
func (c *ClientConnection) HandleNotification(method string, params json.RawMessage) error {
	if method != types.MethodPublishDiagnostics {
		return nil
	}

	var p protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(params, &p); err != nil {
		common.LSPLogger.Warn("Failed to decode publishDiagnostics from %s: %v", c.language, err)
		return nil
	}

	path := common.URIToFilePath(string(p.URI))
	diags := p.Diagnostics
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}

	// Last notification wins: the cache is the server's current truth.
	c.mu.Lock()
	c.diagnostics[path] = diags
	c.mu.Unlock()
	return nil
}

// ClearDiagnostics drops the cache entry for a path so a stale result can
// never satisfy a fresh wait.
func (c *ClientConnection) ClearDiagnostics(path string) {
	c.mu.Lock()
	delete(c.diagnostics, path)
	c.mu.Unlock()
}

// Diagnostics returns a snapshot of the cached diagnostics for a path.
// ok reports whether the server has published anything for it since the
// last clear; an empty published list still counts as an arrival.
func (c *ClientConnection) Diagnostics(path string) (diags []protocol.Diagnostic, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.diagnostics[path]
	if !ok {
		return nil, false
	}
	out := make([]protocol.Diagnostic, len(cached))
	copy(out, cached)
	return out, true
}

// OpenOrUpdate syncs the server's view of a file to content: didOpen with
// version 1 on first touch, didChange with the full new text afterwards.
// Whole-document replace only; this manager is not an editor.
func (c *ClientConnection) OpenOrUpdate(ctx context.Context, path, content string) error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return types.ErrClientClosed
	}
	record, open := c.openFiles[path]
	var version int32
	if open {
		record.version++
		record.lastAccess = time.Now()
		version = record.version
	} else {
		version = 1
		c.openFiles[path] = &openFile{version: version, lastAccess: time.Now()}
	}
	c.mu.Unlock()

	uri := common.FilePathToURI(path)
	var err error
	if open {
		err = c.SendNotification(ctx, types.MethodTextDocumentDidChange, map[string]interface{}{
			"textDocument": map[string]interface{}{
				"uri":     uri,
				"version": version,
			},
			"contentChanges": []map[string]interface{}{
				{"text": content},
			},
		})
	} else {
		err = c.SendNotification(ctx, types.MethodTextDocumentDidOpen, map[string]interface{}{
			"textDocument": map[string]interface{}{
				"uri":        uri,
				"languageId": c.language,
				"version":    version,
				"text":       content,
			},
		})
	}
	if err != nil {
		return err
	}

	return c.evictOverCap(ctx)
}

// CloseFile sends didClose and drops the open-file record. Used to clean
// up files a batch operation opened only transiently.
func (c *ClientConnection) CloseFile(ctx context.Context, path string) error {
	c.mu.Lock()
	_, open := c.openFiles[path]
	delete(c.openFiles, path)
	c.mu.Unlock()

	if !open {
		return nil
	}

	return c.SendNotification(ctx, types.MethodTextDocumentDidClose, map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri": common.FilePathToURI(path),
		},
	})
}

// IsOpen reports whether the client currently has the file open.
func (c *ClientConnection) IsOpen(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.openFiles[path]
	return ok
}

// OpenFileCount returns how many files this client has open.
func (c *ClientConnection) OpenFileCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.openFiles)
}

// FileVersion returns the sync version for an open file, 0 if not open.
func (c *ClientConnection) FileVersion(path string) int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if record, ok := c.openFiles[path]; ok {
		return record.version
	}
	return 0
}

// evictOverCap closes least-recently-accessed files until the open-file
// count is back at the cap.
func (c *ClientConnection) evictOverCap(ctx context.Context) error {
	c.mu.Lock()
	if len(c.openFiles) <= MaxOpenFiles {
		c.mu.Unlock()
		return nil
	}

	type candidate struct {
		path       string
		lastAccess time.Time
	}
	candidates := make([]candidate, 0, len(c.openFiles))
	for path, record := range c.openFiles {
		candidates = append(candidates, candidate{path: path, lastAccess: record.lastAccess})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	excess := len(c.openFiles) - MaxOpenFiles
	evicted := make([]string, 0, excess)
	for _, cand := range candidates[:excess] {
		delete(c.openFiles, cand.path)
		evicted = append(evicted, cand.path)
	}
	c.mu.Unlock()

	for _, path := range evicted {
		err := c.SendNotification(ctx, types.MethodTextDocumentDidClose, map[string]interface{}{
			"textDocument": map[string]interface{}{
				"uri": common.FilePathToURI(path),
			},
		})
		if err != nil {
			common.LSPLogger.Debug("Failed to close evicted file %s: %v", path, err)
		}
	}
	return nil
}

// Supports reports whether the server advertised a capability for the
// given request method. Unknown methods are optimistically allowed.
func (c *ClientConnection) Supports(method string) bool {
	key, known := capabilityKeys[method]
	if !known {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.capabilities == nil {
		return true
	}
	value, present := c.capabilities[key]
	if !present {
		return false
	}
	if enabled, isBool := value.(bool); isBool {
		return enabled
	}
	return value != nil
}

var capabilityKeys = map[string]string{
	types.MethodTextDocumentDefinition:     "definitionProvider",
	types.MethodTextDocumentReferences:     "referencesProvider",
	types.MethodTextDocumentHover:          "hoverProvider",
	types.MethodTextDocumentSignatureHelp:  "signatureHelpProvider",
	types.MethodTextDocumentDocumentSymbol: "documentSymbolProvider",
	types.MethodTextDocumentRename:         "renameProvider",
	types.MethodTextDocumentCodeAction:     "codeActionProvider",
	types.MethodTextDocumentDiagnostic:     "diagnosticProvider",
}

// initializeLSP runs the initialize request and initialized notification.
func (c *ClientConnection) initializeLSP(ctx context.Context) error {
	rootPath := c.rootPath
	if rootPath == "" {
		rootPath, _ = os.Getwd()
	}
	rootPath, _ = filepath.Abs(rootPath)
	rootURI := common.FilePathToURI(rootPath)

	initParams := map[string]interface{}{
		"processId": os.Getpid(),
		"clientInfo": map[string]interface{}{
			"name":    "lsp-bridge",
			"version": "1.0.0",
		},
		"rootUri":  rootURI,
		"rootPath": rootPath,
		"workspaceFolders": []map[string]interface{}{
			{
				"uri":  rootURI,
				"name": filepath.Base(rootPath),
			},
		},
		"initializationOptions": c.config.InitializationOptions,
		"capabilities": map[string]interface{}{
			"workspace": map[string]interface{}{
				"workspaceFolders": true,
				"configuration":    true,
				"applyEdit":        true,
				"workspaceEdit":    map[string]interface{}{"documentChanges": false},
			},
			"textDocument": map[string]interface{}{
				"publishDiagnostics": map[string]interface{}{
					"relatedInformation": true,
					"versionSupport":     false,
				},
				"synchronization": map[string]interface{}{
					"didSave": true,
				},
				"definition": map[string]interface{}{
					"linkSupport": true,
				},
				"references": map[string]interface{}{},
				"hover": map[string]interface{}{
					"contentFormat": []string{"markdown", "plaintext"},
				},
				"signatureHelp": map[string]interface{}{
					"signatureInformation": map[string]interface{}{
						"documentationFormat": []string{"markdown", "plaintext"},
					},
				},
				"documentSymbol": map[string]interface{}{
					"hierarchicalDocumentSymbolSupport": true,
				},
				"rename": map[string]interface{}{
					"prepareSupport": false,
				},
				"codeAction": map[string]interface{}{
					"codeActionLiteralSupport": map[string]interface{}{
						"codeActionKind": map[string]interface{}{
							"valueSet": []string{"", "quickfix", "refactor", "source", "source.organizeImports"},
						},
					},
				},
				"diagnostic": map[string]interface{}{},
			},
		},
		"trace": "off",
	}

	result, err := c.SendRequest(ctx, types.MethodInitialize, initParams)
	if err != nil {
		return err
	}

	if err := c.parseServerCapabilities(result); err != nil {
		// Capability detection failure should not prevent initialization.
		common.LSPLogger.Warn("Failed to parse server capabilities for %s: %v", c.language, err)
	}

	return c.SendNotification(ctx, types.MethodInitialized, map[string]interface{}{})
}

func (c *ClientConnection) parseServerCapabilities(result json.RawMessage) error {
	var parsed struct {
		Capabilities map[string]interface{} `json:"capabilities"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return err
	}

	c.mu.Lock()
	c.capabilities = parsed.Capabilities
	c.mu.Unlock()
	return nil
}

// logStderr drains server stderr so the pipe never fills, logging lines
// that look like real errors.
func (c *ClientConnection) logStderr() {
	c.mu.RLock()
	info := c.processInfo
	c.mu.RUnlock()
	if info == nil || info.Stderr == nil {
		return
	}

	scanner := bufio.NewScanner(info.Stderr)
	for scanner.Scan() {
		select {
		case <-info.StopCh:
			return
		default:
		}
		line := scanner.Text()
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "fatal") || strings.Contains(lower, "panic") {
			common.LSPLogger.Error("LSP %s stderr: %s", c.language, line)
		}
	}
}
