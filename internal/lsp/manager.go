// Package lsp asks the server's language services for completions, hover
// text and definitions, and keeps the diagnostics it publishes.
package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	lsproto "go.lsp.dev/protocol"

	"github.com/user/remoteide/internal/channel"
	"github.com/user/remoteide/internal/notify"
	"github.com/user/remoteide/internal/protocol"
)

const DefaultCompletionDelay = 150 * time.Millisecond

type Caller interface {
	CallMessage(ctx context.Context, typ string, content any, accept ...string) (protocol.Envelope, error)
}

// PathMapper converts between the root-relative paths tabs use and the
// absolute paths the server expects.
type PathMapper interface {
	Absolute(rel string) string
	Relative(abs string) string
}

type identityPaths struct{}

func (identityPaths) Absolute(p string) string { return p }
func (identityPaths) Relative(p string) string { return p }

type Options struct {
	CompletionDelay time.Duration
	Paths           PathMapper
	Notifier        notify.Notifier
	Logger          *slog.Logger
}

// Hover is the text shown for a position, flattened to one string.
type Hover struct {
	Text  string
	Range *lsproto.Range
}

type Manager struct {
	ch       Caller
	delay    time.Duration
	paths    PathMapper
	notifier notify.Notifier
	log      *slog.Logger

	mu          sync.Mutex
	timer       *time.Timer
	gen         int
	completions *lsproto.CompletionList
	diagnostics map[string][]lsproto.Diagnostic
	onChange    []func()
}

func New(ch Caller, opts Options) *Manager {
	m := &Manager{
		ch:          ch,
		delay:       opts.CompletionDelay,
		paths:       opts.Paths,
		notifier:    opts.Notifier,
		log:         opts.Logger,
		diagnostics: make(map[string][]lsproto.Diagnostic),
	}
	if m.delay <= 0 {
		m.delay = DefaultCompletionDelay
	}
	if m.paths == nil {
		m.paths = identityPaths{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.notifier == nil {
		m.notifier = notify.Logger{Log: m.log}
	}
	return m
}

func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

func (m *Manager) changed() {
	m.mu.Lock()
	fns := slices.Clone(m.onChange)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// RequestCompletions asks for completions once the cursor has rested for
// the completion delay. A newer request supersedes an older one, including
// its reply if it is still in flight.
func (m *Manager) RequestCompletions(path string, pos lsproto.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	req := protocol.PositionRequest{Path: m.paths.Absolute(path), Position: pos}
	m.timer = time.AfterFunc(m.delay, func() { m.complete(gen, req) })
}

func (m *Manager) complete(gen int, req protocol.PositionRequest) {
	reply, err := m.ch.CallMessage(context.Background(), protocol.TypeCompletion, req, protocol.TypeCompletionResponse)
	if err != nil {
		m.log.Warn("completion failed", "path", req.Path, "error", err)
		notify.Error(m.notifier, "Completion Error", channel.Describe(err))
		return
	}
	var cr protocol.CompletionResponse
	if err := reply.Decode(&cr); err != nil {
		m.log.Warn("bad completion response", "error", err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.completions = cr.Completions
	m.mu.Unlock()
	m.changed()
}

// Completions returns the latest completion list, if any.
func (m *Manager) Completions() (lsproto.CompletionList, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completions == nil {
		return lsproto.CompletionList{}, false
	}
	list := *m.completions
	list.Items = slices.Clone(list.Items)
	return list, true
}

// DismissCompletions drops the current list and any pending request.
func (m *Manager) DismissCompletions() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	had := m.completions != nil
	m.completions = nil
	m.mu.Unlock()
	if had {
		m.changed()
	}
}

// Hover returns the hover text at pos. ok is false when the server has
// nothing to show.
func (m *Manager) Hover(ctx context.Context, path string, pos lsproto.Position) (Hover, bool, error) {
	req := protocol.PositionRequest{Path: m.paths.Absolute(path), Position: pos}
	reply, err := m.ch.CallMessage(ctx, protocol.TypeHover, req, protocol.TypeHoverResponse)
	if err != nil {
		return Hover{}, false, fmt.Errorf("hover %s: %w", path, err)
	}
	var hr protocol.HoverResponse
	if err := reply.Decode(&hr); err != nil {
		return Hover{}, false, err
	}
	if hr.Hover == nil {
		return Hover{}, false, nil
	}
	text := hoverText(hr.Hover.Contents)
	if text == "" {
		return Hover{}, false, nil
	}
	return Hover{Text: text, Range: hr.Hover.Range}, true, nil
}

// hoverText flattens MarkupContent, MarkedString, a plain string or an
// array of any of them.
func hoverText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if t := hoverText(item); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	}
	var marked struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &marked); err == nil {
		return marked.Value
	}
	return ""
}

// Definition returns the locations defining the symbol at pos.
func (m *Manager) Definition(ctx context.Context, path string, pos lsproto.Position) ([]lsproto.Location, error) {
	req := protocol.PositionRequest{Path: m.paths.Absolute(path), Position: pos}
	reply, err := m.ch.CallMessage(ctx, protocol.TypeDefinition, req, protocol.TypeDefinitionResponse)
	if err != nil {
		return nil, fmt.Errorf("definition %s: %w", path, err)
	}
	var dr protocol.DefinitionResponse
	if err := reply.Decode(&dr); err != nil {
		return nil, err
	}
	return dr.Locations, nil
}

// HandleDiagnostics replaces the diagnostics of one document.
func (m *Manager) HandleDiagnostics(d protocol.Diagnostics) {
	path := m.paths.Relative(d.Path)
	m.mu.Lock()
	if len(d.Diagnostics) == 0 {
		delete(m.diagnostics, path)
	} else {
		m.diagnostics[path] = slices.Clone(d.Diagnostics)
	}
	m.mu.Unlock()
	m.changed()
}

// Diagnostics returns the diagnostics of path ordered by position.
func (m *Manager) Diagnostics(path string) []lsproto.Diagnostic {
	m.mu.Lock()
	out := slices.Clone(m.diagnostics[path])
	m.mu.Unlock()
	slices.SortStableFunc(out, func(a, b lsproto.Diagnostic) int {
		if a.Range.Start.Line != b.Range.Start.Line {
			return int(a.Range.Start.Line) - int(b.Range.Start.Line)
		}
		return int(a.Range.Start.Character) - int(b.Range.Start.Character)
	})
	return out
}

// ByLine groups the diagnostics of path by the line they start on.
func (m *Manager) ByLine(path string) map[uint32][]lsproto.Diagnostic {
	lines := make(map[uint32][]lsproto.Diagnostic)
	for _, d := range m.Diagnostics(path) {
		lines[d.Range.Start.Line] = append(lines[d.Range.Start.Line], d)
	}
	return lines
}

// Reset forgets everything the server told us. The server republishes
// diagnostics after a reconnect.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
	m.completions = nil
	m.diagnostics = make(map[string][]lsproto.Diagnostic)
	m.mu.Unlock()
	m.changed()
}

// Severity names a diagnostic severity for display.
func Severity(s lsproto.DiagnosticSeverity) string {
	switch s {
	case lsproto.DiagnosticSeverityError:
		return "error"
	case lsproto.DiagnosticSeverityWarning:
		return "warning"
	case lsproto.DiagnosticSeverityInformation:
		return "info"
	case lsproto.DiagnosticSeverityHint:
		return "hint"
	default:
		return "note"
	}
}
