package protocol

import (
	"encoding/json"

	lsp "go.lsp.dev/protocol"
)

// Language feature requests and replies. Positions are zero-based, as in LSP.
const (
	TypeCompletion         = "Completion"
	TypeHover              = "Hover"
	TypeDefinition         = "Definition"
	TypeCompletionResponse = "CompletionResponse"
	TypeHoverResponse      = "HoverResponse"
	TypeDefinitionResponse = "DefinitionResponse"
	// TypeDiagnostics is pushed by the server whenever a document's
	// diagnostics change. An empty list clears them.
	TypeDiagnostics = "Diagnostics"
)

// PositionRequest is the content of Completion, Hover and Definition.
type PositionRequest struct {
	Path     string       `json:"path"`
	Position lsp.Position `json:"position"`
}

type CompletionResponse struct {
	Completions *lsp.CompletionList `json:"completions"`
}

// HoverResponse keeps the hover raw: servers send MarkupContent, a plain
// string or an array of marked strings as contents.
type HoverResponse struct {
	Hover *RawHover `json:"hover"`
}

type RawHover struct {
	Contents json.RawMessage `json:"contents"`
	Range    *lsp.Range      `json:"range,omitempty"`
}

type DefinitionResponse struct {
	Locations []lsp.Location `json:"locations"`
}

type Diagnostics struct {
	Path        string           `json:"path"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics"`
}
