package types

// LSP protocol lifecycle methods
const (
	// MethodInitialize is sent as the first request from client to server
	MethodInitialize = "initialize"
	// MethodInitialized is sent from client to server after the initialize response
	MethodInitialized = "initialized"
	// MethodShutdown is sent from client to server to shut the server down
	MethodShutdown = "shutdown"
	// MethodExit is sent from client to server to exit the server process
	MethodExit = "exit"
)

// LSP document synchronization methods
const (
	MethodTextDocumentDidOpen   = "textDocument/didOpen"
	MethodTextDocumentDidChange = "textDocument/didChange"
	MethodTextDocumentDidClose  = "textDocument/didClose"
)

// LSP language feature methods
const (
	// MethodTextDocumentDefinition provides go-to-definition functionality
	MethodTextDocumentDefinition = "textDocument/definition"
	// MethodTextDocumentReferences finds all references to a symbol
	MethodTextDocumentReferences = "textDocument/references"
	// MethodTextDocumentHover provides hover information for symbols
	MethodTextDocumentHover = "textDocument/hover"
	// MethodTextDocumentSignatureHelp provides call signature information
	MethodTextDocumentSignatureHelp = "textDocument/signatureHelp"
	// MethodTextDocumentDocumentSymbol returns the document symbol outline
	MethodTextDocumentDocumentSymbol = "textDocument/documentSymbol"
	// MethodTextDocumentRename renames a symbol across the workspace
	MethodTextDocumentRename = "textDocument/rename"
	// MethodTextDocumentCodeAction returns fixes and refactorings for a range
	MethodTextDocumentCodeAction = "textDocument/codeAction"
	// MethodTextDocumentDiagnostic pulls diagnostics for a single document
	MethodTextDocumentDiagnostic = "textDocument/diagnostic"
)

// Server-to-client notifications
const (
	// MethodPublishDiagnostics carries push diagnostics from the server
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
)
