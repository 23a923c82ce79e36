// Package lspconv normalizes the polymorphic response shapes of the LSP
// into canonical forms. Union payloads are decoded into tagged variants
// right after deserialization and matched exhaustively, never probed
// field-by-field at the call site.
package lspconv

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// ToProtocolPosition converts a 1-based line/column pair to a 0-based LSP
// position, clamping negative results to zero.
func ToProtocolPosition(line, col int) protocol.Position {
	l := line - 1
	if l < 0 {
		l = 0
	}
	c := col - 1
	if c < 0 {
		c = 0
	}
	return protocol.Position{Line: uint32(l), Character: uint32(c)}
}

// FromProtocolPosition converts a 0-based LSP position back to 1-based
// line/column.
func FromProtocolPosition(pos protocol.Position) (line, col int) {
	return int(pos.Line) + 1, int(pos.Character) + 1
}

// locationsKind tags the decoded shape of a definition/references payload.
type locationsKind int

const (
	locationsNone locationsKind = iota
	locationsPlain
	locationsLinks
)

// locationLink mirrors protocol.LocationLink with pointer ranges so an
// absent targetSelectionRange is distinguishable from a zero one.
type locationLink struct {
	TargetURI            string          `json:"targetUri"`
	TargetRange          *protocol.Range `json:"targetRange"`
	TargetSelectionRange *protocol.Range `json:"targetSelectionRange"`
}

// locationsUnion is the tagged variant for Location | Location[] |
// LocationLink[].
type locationsUnion struct {
	kind      locationsKind
	locations []protocol.Location
	links     []locationLink
}

func decodeLocationsUnion(raw json.RawMessage) (locationsUnion, error) {
	if isNull(raw) {
		return locationsUnion{kind: locationsNone}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		// Bare single Location.
		var loc protocol.Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return locationsUnion{}, fmt.Errorf("unexpected location payload: %w", err)
		}
		return locationsUnion{kind: locationsPlain, locations: []protocol.Location{loc}}, nil
	}
	if len(elems) == 0 {
		return locationsUnion{kind: locationsNone}, nil
	}

	// The shape is homogeneous; the first element decides it.
	var probe struct {
		TargetURI *string `json:"targetUri"`
	}
	if err := json.Unmarshal(elems[0], &probe); err != nil {
		return locationsUnion{}, fmt.Errorf("unexpected location element: %w", err)
	}

	if probe.TargetURI != nil {
		var links []locationLink
		if err := json.Unmarshal(raw, &links); err != nil {
			return locationsUnion{}, fmt.Errorf("decode location links: %w", err)
		}
		return locationsUnion{kind: locationsLinks, links: links}, nil
	}

	var locs []protocol.Location
	if err := json.Unmarshal(raw, &locs); err != nil {
		return locationsUnion{}, fmt.Errorf("decode locations: %w", err)
	}
	return locationsUnion{kind: locationsPlain, locations: locs}, nil
}

// NormalizeLocations converts a definition/references payload to canonical
// Location form. For links, targetSelectionRange is preferred over
// targetRange when both exist.
func NormalizeLocations(raw json.RawMessage) ([]protocol.Location, error) {
	union, err := decodeLocationsUnion(raw)
	if err != nil {
		return nil, err
	}

	switch union.kind {
	case locationsNone:
		return nil, nil
	case locationsPlain:
		return union.locations, nil
	case locationsLinks:
		out := make([]protocol.Location, 0, len(union.links))
		for _, link := range union.links {
			var rng protocol.Range
			switch {
			case link.TargetSelectionRange != nil:
				rng = *link.TargetSelectionRange
			case link.TargetRange != nil:
				rng = *link.TargetRange
			}
			out = append(out, protocol.Location{
				URI:   uri.URI(link.TargetURI),
				Range: rng,
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown locations variant %d", union.kind)
	}
}

// symbolsKind tags the decoded shape of a documentSymbol payload.
type symbolsKind int

const (
	symbolsNone symbolsKind = iota
	symbolsHierarchical
	symbolsFlat
)

type symbolsUnion struct {
	kind         symbolsKind
	hierarchical []protocol.DocumentSymbol
	flat         []protocol.SymbolInformation
}

func decodeSymbolsUnion(raw json.RawMessage) (symbolsUnion, error) {
	if isNull(raw) {
		return symbolsUnion{kind: symbolsNone}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return symbolsUnion{}, fmt.Errorf("unexpected symbols payload: %w", err)
	}
	if len(elems) == 0 {
		return symbolsUnion{kind: symbolsNone}, nil
	}

	var probe struct {
		Location *json.RawMessage `json:"location"`
	}
	if err := json.Unmarshal(elems[0], &probe); err != nil {
		return symbolsUnion{}, fmt.Errorf("unexpected symbol element: %w", err)
	}

	if probe.Location != nil {
		var flat []protocol.SymbolInformation
		if err := json.Unmarshal(raw, &flat); err != nil {
			return symbolsUnion{}, fmt.Errorf("decode symbol information: %w", err)
		}
		return symbolsUnion{kind: symbolsFlat, flat: flat}, nil
	}

	var hierarchical []protocol.DocumentSymbol
	if err := json.Unmarshal(raw, &hierarchical); err != nil {
		return symbolsUnion{}, fmt.Errorf("decode document symbols: %w", err)
	}
	return symbolsUnion{kind: symbolsHierarchical, hierarchical: hierarchical}, nil
}

// NormalizeSymbols converts a documentSymbol payload to the hierarchical
// DocumentSymbol form. Flat SymbolInformation entries are mapped in with
// empty children, an accepted hierarchy loss for servers lacking the
// richer format.
func NormalizeSymbols(raw json.RawMessage) ([]protocol.DocumentSymbol, error) {
	union, err := decodeSymbolsUnion(raw)
	if err != nil {
		return nil, err
	}

	switch union.kind {
	case symbolsNone:
		return nil, nil
	case symbolsHierarchical:
		return union.hierarchical, nil
	case symbolsFlat:
		out := make([]protocol.DocumentSymbol, 0, len(union.flat))
		for _, info := range union.flat {
			out = append(out, protocol.DocumentSymbol{
				Name:           info.Name,
				Kind:           info.Kind,
				Deprecated:     info.Deprecated,
				Range:          info.Location.Range,
				SelectionRange: info.Location.Range,
				Children:       []protocol.DocumentSymbol{},
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown symbols variant %d", union.kind)
	}
}

// HoverResult is the canonical hover shape: contents flattened to a
// markdown string.
type HoverResult struct {
	Contents string          `json:"contents"`
	Range    *protocol.Range `json:"range,omitempty"`
}

// NormalizeHover flattens the hover contents union (string | MarkupContent
// | MarkedString | arrays of either) into markdown.
func NormalizeHover(raw json.RawMessage) (*HoverResult, error) {
	if isNull(raw) {
		return nil, nil
	}

	var decoded struct {
		Contents json.RawMessage `json:"contents"`
		Range    *protocol.Range `json:"range"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode hover: %w", err)
	}

	return &HoverResult{
		Contents: flattenHoverContents(decoded.Contents),
		Range:    decoded.Range,
	}, nil
}

func flattenHoverContents(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	// MarkupContent or MarkedString object {language, value}.
	var obj struct {
		Kind     string `json:"kind"`
		Language string `json:"language"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != "" {
		if obj.Language != "" {
			return fmt.Sprintf("```%s\n%s\n```", obj.Language, obj.Value)
		}
		return obj.Value
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			if part := flattenHoverContents(item); part != "" {
				parts = append(parts, part)
			}
		}
		return strings.Join(parts, "\n\n")
	}

	return string(raw)
}

// SignatureHelp mirrors the LSP shape with union-tolerant fields; several
// servers send documentation as a string and others as MarkupContent.
type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature"`
	ActiveParameter int                    `json:"activeParameter"`
}

// SignatureInformation describes one callable signature.
type SignatureInformation struct {
	Label         string                 `json:"label"`
	Documentation interface{}            `json:"documentation,omitempty"`
	Parameters    []ParameterInformation `json:"parameters,omitempty"`
}

// ParameterInformation describes one parameter; Label may be a string or a
// [start, end] offset tuple.
type ParameterInformation struct {
	Label         interface{} `json:"label"`
	Documentation interface{} `json:"documentation,omitempty"`
}

// NormalizeSignatureHelp decodes a signatureHelp payload, nil on null.
func NormalizeSignatureHelp(raw json.RawMessage) (*SignatureHelp, error) {
	if isNull(raw) {
		return nil, nil
	}
	var help SignatureHelp
	if err := json.Unmarshal(raw, &help); err != nil {
		return nil, fmt.Errorf("decode signature help: %w", err)
	}
	return &help, nil
}

// NormalizeWorkspaceEdit decodes a rename payload, nil on null.
func NormalizeWorkspaceEdit(raw json.RawMessage) (*protocol.WorkspaceEdit, error) {
	if isNull(raw) {
		return nil, nil
	}
	var edit protocol.WorkspaceEdit
	if err := json.Unmarshal(raw, &edit); err != nil {
		return nil, fmt.Errorf("decode workspace edit: %w", err)
	}
	return &edit, nil
}

// Command is a bare command returned where a server did not produce a
// full code action literal.
type Command struct {
	Title     string            `json:"title"`
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// CodeAction is the literal code action shape.
type CodeAction struct {
	Title       string                  `json:"title"`
	Kind        string                  `json:"kind,omitempty"`
	Diagnostics []protocol.Diagnostic   `json:"diagnostics,omitempty"`
	IsPreferred bool                    `json:"isPreferred,omitempty"`
	Edit        *protocol.WorkspaceEdit `json:"edit,omitempty"`
	Command     *Command                `json:"command,omitempty"`
}

// CodeActionOrCommand is the tagged variant for one element of a
// codeAction response: exactly one side is set.
type CodeActionOrCommand struct {
	Action  *CodeAction
	Command *Command
}

// Title returns the element's display title regardless of variant.
func (c CodeActionOrCommand) Title() string {
	if c.Action != nil {
		return c.Action.Title
	}
	if c.Command != nil {
		return c.Command.Title
	}
	return ""
}

// NormalizeCodeActions decodes a (Command | CodeAction)[] payload. An
// element whose "command" field is a string is a bare Command; otherwise
// it is a code action literal.
func NormalizeCodeActions(raw json.RawMessage) ([]CodeActionOrCommand, error) {
	if isNull(raw) {
		return nil, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("unexpected code action payload: %w", err)
	}

	out := make([]CodeActionOrCommand, 0, len(elems))
	for _, elem := range elems {
		var probe struct {
			Command json.RawMessage `json:"command"`
		}
		if err := json.Unmarshal(elem, &probe); err != nil {
			return nil, fmt.Errorf("unexpected code action element: %w", err)
		}

		if len(probe.Command) > 0 && probe.Command[0] == '"' {
			var cmd Command
			if err := json.Unmarshal(elem, &cmd); err != nil {
				return nil, fmt.Errorf("decode command: %w", err)
			}
			out = append(out, CodeActionOrCommand{Command: &cmd})
			continue
		}

		var action CodeAction
		if err := json.Unmarshal(elem, &action); err != nil {
			return nil, fmt.Errorf("decode code action: %w", err)
		}
		out = append(out, CodeActionOrCommand{Action: &action})
	}
	return out, nil
}

// LinesOverlap reports whether two ranges overlap when each is widened to
// the half-open line interval [start.line, end.line+1). Only lines are
// compared; characters are ignored.
func LinesOverlap(a, b protocol.Range) bool {
	return a.Start.Line < b.End.Line+1 && b.Start.Line < a.End.Line+1
}

// FilterDiagnosticsByLineOverlap keeps the diagnostics whose line span
// overlaps rng; used to build codeAction context from cached diagnostics.
func FilterDiagnosticsByLineOverlap(diags []protocol.Diagnostic, rng protocol.Range) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		if LinesOverlap(d.Range, rng) {
			out = append(out, d)
		}
	}
	return out
}

// PullDiagnostics extracts diagnostics from a textDocument/diagnostic
// response. ok is false for unchanged reports and undecodable payloads.
func PullDiagnostics(raw json.RawMessage) (diags []protocol.Diagnostic, ok bool) {
	if isNull(raw) {
		return nil, false
	}
	var report struct {
		Kind  string                `json:"kind"`
		Items []protocol.Diagnostic `json:"items"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, false
	}
	if report.Kind == "unchanged" {
		return nil, false
	}
	if report.Items == nil {
		report.Items = []protocol.Diagnostic{}
	}
	return report.Items, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return len(raw) == 0 || trimmed == "null"
}
