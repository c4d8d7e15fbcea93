// Package terminal multiplexes remote terminal sessions over the shared
// channel. Sessions are keyed by the id the server assigns on creation.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/user/remoteide/internal/channel"
	"github.com/user/remoteide/internal/notify"
	"github.com/user/remoteide/internal/protocol"
)

// Channel is the part of the connection the multiplexer talks through.
type Channel interface {
	SendMessage(ctx context.Context, typ string, content any) error
	CallMessage(ctx context.Context, typ string, content any, accept ...string) (protocol.Envelope, error)
}

// Multiplexer tracks all open terminal sessions.
type Multiplexer struct {
	ch       Channel
	notifier notify.Notifier
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMultiplexer(ch Channel, n notify.Notifier, log *slog.Logger) *Multiplexer {
	if log == nil {
		log = slog.Default()
	}
	if n == nil {
		n = notify.Logger{Log: log}
	}
	return &Multiplexer{
		ch:       ch,
		notifier: n,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Create asks the server for a new terminal and registers it. A nil size
// means DefaultSize.
func (m *Multiplexer) Create(ctx context.Context, size *Size) (*Session, error) {
	sz := DefaultSize
	if size != nil {
		sz = *size
	}

	reply, err := m.ch.CallMessage(ctx, protocol.TypeCreateTerminal,
		protocol.TerminalSize{Cols: sz.Cols, Rows: sz.Rows},
		protocol.TypeTerminalCreated)
	if err != nil {
		notify.Error(m.notifier, "Failed to create terminal", channel.Describe(err))
		return nil, fmt.Errorf("terminal: create: %w", err)
	}
	var created protocol.TerminalCreated
	if err := reply.Decode(&created); err != nil {
		return nil, fmt.Errorf("terminal: create: %w", err)
	}
	if created.TerminalID == "" {
		return nil, errors.New("terminal: create: server returned no terminal id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[created.TerminalID]; exists {
		return nil, fmt.Errorf("terminal: session %q already exists", created.TerminalID)
	}
	sess := newSession(created.TerminalID, sz, m.log)
	m.sessions[sess.id] = sess
	return sess, nil
}

// Get returns the session with the given id, or an error if not found.
func (m *Multiplexer) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("terminal: session %q not found", id)
	}
	return sess, nil
}

// List returns metadata for every open session, oldest first.
func (m *Multiplexer) List() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		infos = append(infos, SessionInfo{
			ID:        sess.id,
			Size:      sess.Size(),
			CreatedAt: sess.createdAt,
		})
	}
	m.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Write sends keystrokes to a session.
func (m *Multiplexer) Write(ctx context.Context, id, text string) error {
	if _, err := m.Get(id); err != nil {
		return err
	}
	return m.ch.SendMessage(ctx, protocol.TypeWriteTerminal, protocol.WriteTerminal{
		ID:   id,
		Data: protocol.Bytes(text),
	})
}

// Resize changes the size of a session. The local size only changes once
// the request was sent.
func (m *Multiplexer) Resize(ctx context.Context, id string, size Size) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	if size.Cols <= 0 || size.Rows <= 0 {
		return fmt.Errorf("terminal: invalid size %dx%d", size.Cols, size.Rows)
	}
	err = m.ch.SendMessage(ctx, protocol.TypeResizeTerminal, protocol.ResizeTerminal{
		ID:   id,
		Cols: size.Cols,
		Rows: size.Rows,
	})
	if err != nil {
		m.log.Warn("resize not sent", "terminal_id", id, "error", err)
		return fmt.Errorf("terminal: resize %s: %w", id, err)
	}
	sess.setSize(size)
	return nil
}

// Close asks the server to end a session and then tears it down locally.
// A session whose close request failed stays registered.
func (m *Multiplexer) Close(ctx context.Context, id string) error {
	if _, err := m.Get(id); err != nil {
		return err
	}
	if err := m.ch.SendMessage(ctx, protocol.TypeCloseTerminal, protocol.CloseTerminal{ID: id}); err != nil {
		notify.Error(m.notifier, "Failed to close terminal", channel.Describe(err))
		return fmt.Errorf("terminal: close %s: %w", id, err)
	}
	m.remove(id)
	return nil
}

func (m *Multiplexer) remove(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.close()
	}
}

// HandleOutput routes a TerminalOutput frame. Output for unknown sessions
// is dropped.
func (m *Multiplexer) HandleOutput(out protocol.TerminalOutput) {
	m.mu.RLock()
	sess, ok := m.sessions[out.TerminalID]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("output for unknown terminal", "terminal_id", out.TerminalID)
		return
	}
	sess.deliver(out.Data)
}

// HandleError surfaces a TerminalError frame. fallback is the envelope's
// top-level error field, used when the content carries none.
func (m *Multiplexer) HandleError(te protocol.TerminalError, fallback string) {
	msg := te.Error
	if msg == "" {
		msg = fallback
	}
	if msg == "" {
		msg = "Unknown error occurred"
	}
	m.log.Warn("terminal error", "terminal_id", te.TerminalID, "error", msg)
	notify.Error(m.notifier, "Terminal Error", msg)
}

// CloseAll tears down every session locally without notifying the server.
func (m *Multiplexer) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}
