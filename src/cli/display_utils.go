package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.lsp.dev/protocol"

	"lsp-bridge/src/internal/common"
	"lsp-bridge/src/internal/types"
	"lsp-bridge/src/server"
	"lsp-bridge/src/utils/lspconv"
)

// printJSON writes the value as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatLocation renders a location with 1-based line/column.
func formatLocation(loc protocol.Location) string {
	path := common.URIToFilePath(string(loc.URI))
	line, col := lspconv.FromProtocolPosition(loc.Range.Start)
	return fmt.Sprintf("%s:%d:%d", path, line, col)
}

func formatDiagnostic(d protocol.Diagnostic) string {
	line, col := lspconv.FromProtocolPosition(d.Range.Start)
	severity := "info"
	switch d.Severity {
	case protocol.DiagnosticSeverityError:
		severity = "error"
	case protocol.DiagnosticSeverityWarning:
		severity = "warning"
	case protocol.DiagnosticSeverityHint:
		severity = "hint"
	}
	return fmt.Sprintf("%d:%d %s: %s", line, col, severity, d.Message)
}

func printTouchResult(file string, result types.TouchResult) error {
	if formatJSON {
		out := map[string]interface{}{
			"file":             file,
			"diagnostics":      result.Diagnostics,
			"receivedResponse": result.ReceivedResponse,
		}
		if result.Unsupported {
			out["unsupported"] = true
		}
		if result.Err != nil {
			out["error"] = result.Err.Error()
		}
		return printJSON(out)
	}

	if result.Err != nil {
		fmt.Printf("%s: %v\n", file, result.Err)
		return nil
	}
	if !result.ReceivedResponse {
		fmt.Printf("%s: no response before timeout\n", file)
		return nil
	}
	if len(result.Diagnostics) == 0 {
		fmt.Printf("%s: no diagnostics\n", file)
		return nil
	}
	fmt.Printf("%s: %d diagnostic(s)\n", file, len(result.Diagnostics))
	for _, d := range result.Diagnostics {
		fmt.Printf("  %s\n", formatDiagnostic(d))
	}
	return nil
}

func printFileResults(results []types.FileDiagnosticsResult) error {
	if formatJSON {
		out := make([]map[string]interface{}, 0, len(results))
		for _, r := range results {
			entry := map[string]interface{}{
				"file":        r.File,
				"status":      string(r.Status),
				"diagnostics": r.Diagnostics,
			}
			if r.Err != nil {
				entry["error"] = r.Err.Error()
			}
			out = append(out, entry)
		}
		return printJSON(out)
	}

	for _, r := range results {
		switch r.Status {
		case types.FileStatusOK:
			fmt.Printf("%s: ok, %d diagnostic(s)\n", r.File, len(r.Diagnostics))
			for _, d := range r.Diagnostics {
				fmt.Printf("  %s\n", formatDiagnostic(d))
			}
		case types.FileStatusTimeout:
			fmt.Printf("%s: timeout\n", r.File)
		case types.FileStatusUnsupported:
			fmt.Printf("%s: unsupported\n", r.File)
		default:
			fmt.Printf("%s: error: %v\n", r.File, r.Err)
		}
	}
	return nil
}

func printLocations(locations []protocol.Location) error {
	if formatJSON {
		return printJSON(locations)
	}
	if len(locations) == 0 {
		fmt.Println("No locations found")
		return nil
	}
	for _, loc := range locations {
		fmt.Println(formatLocation(loc))
	}
	return nil
}

func printHover(hover *lspconv.HoverResult) error {
	if formatJSON {
		return printJSON(hover)
	}
	if hover == nil || strings.TrimSpace(hover.Contents) == "" {
		fmt.Println("No hover information")
		return nil
	}
	fmt.Println(strings.TrimSpace(hover.Contents))
	return nil
}

func printSignatureHelp(help *lspconv.SignatureHelp) error {
	if formatJSON {
		return printJSON(help)
	}
	if help == nil || len(help.Signatures) == 0 {
		fmt.Println("No signature help")
		return nil
	}
	for i, sig := range help.Signatures {
		marker := " "
		if i == help.ActiveSignature {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, sig.Label)
	}
	return nil
}

func printSymbols(symbols []protocol.DocumentSymbol) error {
	if formatJSON {
		return printJSON(symbols)
	}
	if len(symbols) == 0 {
		fmt.Println("No symbols found")
		return nil
	}
	printSymbolTree(symbols, 0)
	return nil
}

func printSymbolTree(symbols []protocol.DocumentSymbol, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, sym := range symbols {
		line, col := lspconv.FromProtocolPosition(sym.SelectionRange.Start)
		fmt.Printf("%s%s %s (%d:%d)\n", indent, symbolKindName(sym.Kind), sym.Name, line, col)
		printSymbolTree(sym.Children, depth+1)
	}
}

func symbolKindName(kind protocol.SymbolKind) string {
	names := map[protocol.SymbolKind]string{
		protocol.SymbolKindFile:          "file",
		protocol.SymbolKindModule:        "module",
		protocol.SymbolKindNamespace:     "namespace",
		protocol.SymbolKindPackage:       "package",
		protocol.SymbolKindClass:         "class",
		protocol.SymbolKindMethod:        "method",
		protocol.SymbolKindProperty:      "property",
		protocol.SymbolKindField:         "field",
		protocol.SymbolKindConstructor:   "constructor",
		protocol.SymbolKindEnum:          "enum",
		protocol.SymbolKindInterface:     "interface",
		protocol.SymbolKindFunction:      "function",
		protocol.SymbolKindVariable:      "variable",
		protocol.SymbolKindConstant:      "constant",
		protocol.SymbolKindStruct:        "struct",
		protocol.SymbolKindEnumMember:    "enum member",
		protocol.SymbolKindTypeParameter: "type param",
	}
	if name, ok := names[kind]; ok {
		return name
	}
	return "symbol"
}

func printWorkspaceEdit(edit *protocol.WorkspaceEdit) error {
	if formatJSON {
		return printJSON(edit)
	}
	if edit == nil || (len(edit.Changes) == 0 && len(edit.DocumentChanges) == 0) {
		fmt.Println("No edit produced")
		return nil
	}
	for uri, edits := range edit.Changes {
		path := common.URIToFilePath(string(uri))
		fmt.Printf("%s: %d edit(s)\n", path, len(edits))
		for _, e := range edits {
			line, col := lspconv.FromProtocolPosition(e.Range.Start)
			fmt.Printf("  %d:%d -> %q\n", line, col, e.NewText)
		}
	}
	for _, dc := range edit.DocumentChanges {
		path := common.URIToFilePath(string(dc.TextDocument.TextDocumentIdentifier.URI))
		fmt.Printf("%s: %d edit(s)\n", path, len(dc.Edits))
		for _, e := range dc.Edits {
			line, col := lspconv.FromProtocolPosition(e.Range.Start)
			fmt.Printf("  %d:%d -> %q\n", line, col, e.NewText)
		}
	}
	return nil
}

func printCodeActions(actions []lspconv.CodeActionOrCommand) error {
	if formatJSON {
		return printJSON(actions)
	}
	if len(actions) == 0 {
		fmt.Println("No code actions available")
		return nil
	}
	for _, action := range actions {
		switch {
		case action.Action != nil:
			kind := action.Action.Kind
			if kind == "" {
				kind = "action"
			}
			fmt.Printf("[%s] %s\n", kind, action.Action.Title)
		case action.Command != nil:
			fmt.Printf("[command] %s\n", action.Command.Title)
		}
	}
	return nil
}

func printStatus(root string, statuses []server.LanguageStatus) error {
	if formatJSON {
		out := map[string]interface{}{
			"root":      root,
			"languages": statuses,
		}
		return printJSON(out)
	}

	fmt.Printf("Project root: %s\n\n", root)
	for _, s := range statuses {
		installed := "not installed"
		if s.Installed {
			installed = "installed"
		}
		fmt.Printf("%-12s %-28s %-14s %s\n", s.Language, s.Command, installed, s.State)
	}
	return nil
}
