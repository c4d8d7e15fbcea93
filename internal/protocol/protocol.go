package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound message types.
const (
	TypeOpenFile         = "OpenFile"
	TypeChangeFile       = "ChangeFile"
	TypeSaveFile         = "SaveFile"
	TypeCloseFile        = "CloseFile"
	TypeGetDirectory     = "GetDirectory"
	TypeRefreshDirectory = "RefreshDirectory"
	TypeSearch           = "Search"
	TypeCancelSearch     = "CancelSearch"
	TypeCreateTerminal   = "CreateTerminal"
	TypeWriteTerminal    = "WriteTerminal"
	TypeResizeTerminal   = "ResizeTerminal"
	TypeCloseTerminal    = "CloseTerminal"
)

// Inbound message types.
const (
	TypeDirectoryContent = "DirectoryContent"
	TypeFileSystemEvents = "FileSystemEvents"
	TypeDocumentContent  = "DocumentContent"
	TypeChangeSuccess    = "ChangeSuccess"
	TypeSaveSuccess      = "SaveSuccess"
	TypeSearchResults    = "SearchResults"
	TypeTerminalCreated  = "TerminalCreated"
	TypeTerminalOutput   = "TerminalOutput"
	TypeTerminalError    = "TerminalError"
	TypeError            = "Error"
)

// NoSearchID is sent in place of a search id before the server assigned one.
const NoSearchID = "noid"

// Envelope is the frame carried over the channel. ID is set on outbound
// calls and echoed by servers that support correlation. Error mirrors the
// top-level error field some servers put on TerminalError frames.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewEnvelope marshals content into an envelope of the given type. A nil
// content produces an envelope without a content field.
func NewEnvelope(typ string, content any) (Envelope, error) {
	env := Envelope{Type: typ}
	if content == nil {
		return env, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s content: %w", typ, err)
	}
	env.Content = raw
	return env, nil
}

// Decode unmarshals the envelope content into v.
func (e Envelope) Decode(v any) error {
	if len(e.Content) == 0 {
		return fmt.Errorf("%s: empty content", e.Type)
	}
	if err := json.Unmarshal(e.Content, v); err != nil {
		return fmt.Errorf("decode %s content: %w", e.Type, err)
	}
	return nil
}

// Parse decodes one raw frame.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("invalid frame: missing type")
	}
	return env, nil
}

type PathContent struct {
	Path string `json:"path"`
}

type DocumentRef struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

type Change struct {
	Value   string `json:"value"`
	Added   bool   `json:"added"`
	Removed bool   `json:"removed"`
}

type ChangeFile struct {
	Document DocumentRef `json:"document"`
	Changes  []Change    `json:"changes"`
}

type SaveFile struct {
	Document DocumentRef `json:"document"`
}

// DocumentAck is the content of ChangeSuccess and SaveSuccess.
type DocumentAck struct {
	Document struct {
		URI     string `json:"uri,omitempty"`
		Version int    `json:"version"`
	} `json:"document"`
}

type ErrorContent struct {
	Message string `json:"message"`
}

type Search struct {
	ID            string `json:"id"`
	Query         string `json:"query"`
	SearchContent bool   `json:"search_content"`
}

type CancelSearch struct {
	ID string `json:"id,omitempty"`
}

type SearchResultItem struct {
	Path       string `json:"path"`
	LineNumber int    `json:"line_number"`
	Content    string `json:"content"`
}

type SearchResults struct {
	SearchID   string             `json:"search_id"`
	Items      []SearchResultItem `json:"items"`
	IsComplete bool               `json:"is_complete"`
}
