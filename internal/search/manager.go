// Package search tracks the server-side search session: the id the server
// assigned, the query in progress and the latest result set.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/user/remoteide/internal/channel"
	"github.com/user/remoteide/internal/notify"
	"github.com/user/remoteide/internal/protocol"
)

// canceledLimit bounds how many canceled ids are remembered for dropping
// their late results.
const canceledLimit = 16

type Sender interface {
	SendMessage(ctx context.Context, typ string, content any) error
}

type Result struct {
	Path string
	Line int
	Text string
}

// State is a snapshot of the session.
type State struct {
	ID      string
	Query   string
	Active  bool
	Results []Result
}

type Manager struct {
	ch       Sender
	notifier notify.Notifier
	log      *slog.Logger

	mu       sync.Mutex
	id       string
	query    string
	active   bool
	results  []Result
	canceled []string
	onChange []func()
}

func NewManager(ch Sender, n notify.Notifier, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if n == nil {
		n = notify.Logger{Log: log}
	}
	return &Manager{ch: ch, notifier: n, log: log}
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

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		ID:      m.id,
		Query:   m.query,
		Active:  m.active,
		Results: append([]Result(nil), m.results...),
	}
}

// Search starts or continues the session with a new query. The session id
// is reused once the server has assigned one.
func (m *Manager) Search(ctx context.Context, query string, includeContent bool) error {
	m.mu.Lock()
	id := m.id
	if id == "" {
		id = protocol.NoSearchID
	}
	m.query = query
	m.active = true
	m.results = nil
	m.mu.Unlock()
	m.changed()

	err := m.ch.SendMessage(ctx, protocol.TypeSearch, protocol.Search{
		ID:            id,
		Query:         query,
		SearchContent: includeContent,
	})
	if err != nil {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		m.changed()
		notify.Error(m.notifier, "Search failed", channel.Describe(err))
		return fmt.Errorf("search %q: %w", query, err)
	}
	return nil
}

// HandleResults installs a SearchResults frame. The first id seen is
// adopted; frames for other or canceled ids are dropped.
func (m *Manager) HandleResults(sr protocol.SearchResults) {
	m.mu.Lock()
	if sr.SearchID != "" && m.wasCanceled(sr.SearchID) {
		m.mu.Unlock()
		m.log.Debug("dropping results for canceled search", "search_id", sr.SearchID)
		return
	}
	switch {
	case m.id == "" && sr.SearchID != "":
		m.id = sr.SearchID
	case m.id != "" && sr.SearchID != "" && sr.SearchID != m.id:
		m.mu.Unlock()
		m.log.Debug("dropping results for another search", "search_id", sr.SearchID, "current", m.id)
		return
	}

	results := make([]Result, 0, len(sr.Items))
	for _, it := range sr.Items {
		results = append(results, Result{Path: it.Path, Line: it.LineNumber, Text: it.Content})
	}
	m.results = results
	if sr.IsComplete {
		m.active = false
	}
	m.mu.Unlock()
	m.changed()
}

func (m *Manager) wasCanceled(id string) bool {
	for _, c := range m.canceled {
		if c == id {
			return true
		}
	}
	return false
}

// HandleError ends an active search after an Error frame.
func (m *Manager) HandleError(message string) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.mu.Unlock()
	notify.Error(m.notifier, "Search error", message)
	m.changed()
}

// Cancel ends the session. Local state is cleared whether or not the
// cancel request reaches the server.
func (m *Manager) Cancel(ctx context.Context) error {
	m.mu.Lock()
	id := m.id
	wasActive := m.active
	if id != "" {
		m.canceled = append(m.canceled, id)
		if len(m.canceled) > canceledLimit {
			m.canceled = m.canceled[len(m.canceled)-canceledLimit:]
		}
	}
	m.id = ""
	m.active = false
	m.results = nil
	m.mu.Unlock()
	m.changed()

	if id == "" && !wasActive {
		return nil
	}
	if err := m.ch.SendMessage(ctx, protocol.TypeCancelSearch, protocol.CancelSearch{ID: id}); err != nil {
		m.log.Warn("cancel search not sent", "search_id", id, "error", err)
		return fmt.Errorf("cancel search: %w", err)
	}
	return nil
}
