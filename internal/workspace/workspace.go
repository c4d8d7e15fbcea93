// Package workspace wires every client component to one channel: it routes
// inbound frames to their owners, restores saved state when the server
// becomes reachable and saves it on shutdown.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/remoteide/internal/channel"
	"github.com/user/remoteide/internal/config"
	"github.com/user/remoteide/internal/document"
	"github.com/user/remoteide/internal/filetree"
	"github.com/user/remoteide/internal/lsp"
	"github.com/user/remoteide/internal/notify"
	"github.com/user/remoteide/internal/protocol"
	"github.com/user/remoteide/internal/search"
	"github.com/user/remoteide/internal/store"
	"github.com/user/remoteide/internal/terminal"
)

const restoreTimeout = 5 * time.Second

type Options struct {
	Config   config.Config
	Logger   *slog.Logger
	Notifier notify.Notifier
	// Store is optional. Without it nothing is saved or restored.
	Store *store.DB
	// Dial overrides the websocket dialer, mainly for tests.
	Dial channel.DialFunc
}

type Workspace struct {
	Conn   *channel.Conn
	Docs   *document.Engine
	Tree   *filetree.Projector
	Search *search.Manager
	Input  *search.Input
	Terms  *terminal.Multiplexer
	LSP    *lsp.Manager

	cfg      config.Config
	log      *slog.Logger
	notifier notify.Notifier
	dial     channel.DialFunc

	workspaces  *store.WorkspaceRepo
	state       *store.StateRepo
	history     *store.SearchHistoryRepo
	workspaceID string

	mu            sync.Mutex
	restored      bool
	pendingActive string
}

func New(ctx context.Context, opts Options) (*Workspace, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Logger{Log: log}
	}
	cfg := opts.Config

	mode := channel.ModeCorrelate
	if cfg.Correlation == config.CorrelationNext {
		mode = channel.ModeNextMessage
	}
	conn := channel.New(channel.Options{
		Timeout: cfg.RequestTimeout,
		Mode:    mode,
		Logger:  log.With("component", "channel"),
	})

	tree := filetree.New(conn, log.With("component", "filetree"))
	w := &Workspace{
		Conn: conn,
		Tree: tree,
		Docs: document.New(conn, document.Options{
			Debounce: cfg.ChangeDebounce,
			Paths:    tree,
			Notifier: n,
			Logger:   log.With("component", "document"),
		}),
		Search:   search.NewManager(conn, n, log.With("component", "search")),
		Terms:    terminal.NewMultiplexer(conn, n, log.With("component", "terminal")),
		cfg:      cfg,
		log:      log,
		notifier: n,
		dial:     opts.Dial,
	}
	w.Input = search.NewInput(recording{w}, cfg.SearchDebounce, cfg.SearchMinQuery)
	w.LSP = lsp.New(conn, lsp.Options{
		CompletionDelay: cfg.CompletionDebounce,
		Paths:           tree,
		Notifier:        n,
		Logger:          log.With("component", "lsp"),
	})
	if w.dial == nil {
		w.dial = channel.Dialer(cfg.ServerURL, cfg.Token)
	}

	if opts.Store != nil {
		w.workspaces = store.NewWorkspaceRepo(opts.Store.SQL())
		w.state = store.NewStateRepo(opts.Store.SQL())
		w.history = store.NewSearchHistoryRepo(opts.Store.SQL(), store.DefaultHistoryLimit)
		ws, err := w.workspaces.Ensure(ctx, cfg.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("load workspace state: %w", err)
		}
		w.workspaceID = ws.ID
	}

	w.route()
	return w, nil
}

func (w *Workspace) route() {
	w.Conn.OnStateChange(w.onState)
	w.Conn.Handle(protocol.TypeDirectoryContent, w.onDirectory)
	w.Conn.Handle(protocol.TypeFileSystemEvents, w.onFileEvents)
	w.Conn.Handle(protocol.TypeDocumentContent, w.onDocument)
	w.Conn.Handle(protocol.TypeSearchResults, w.onSearchResults)
	w.Conn.Handle(protocol.TypeTerminalOutput, w.onTerminalOutput)
	w.Conn.Handle(protocol.TypeTerminalError, w.onTerminalError)
	w.Conn.Handle(protocol.TypeDiagnostics, w.onDiagnostics)
	w.Conn.Handle(protocol.TypeError, w.onError)
	// Search is fire-and-forget, so an Error answering it carries no id.
	w.Conn.ClaimErrors(func() bool { return w.Search.State().Active })
}

func (w *Workspace) onState(connected bool) {
	if !connected {
		w.mu.Lock()
		w.restored = false
		w.mu.Unlock()
		w.Terms.CloseAll()
		w.LSP.Reset()
		w.log.Info("disconnected from server")
		return
	}
	w.log.Info("connected to server", "url", w.cfg.ServerURL)
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if err := w.Tree.Load(ctx); err != nil {
		w.log.Warn("initial directory request failed", "error", err)
	}
}

func (w *Workspace) onDirectory(env protocol.Envelope) {
	var dc protocol.DirectoryContent
	if err := env.Decode(&dc); err != nil {
		w.log.Warn("bad directory listing", "error", err)
		return
	}
	w.Tree.InstallDirectory(dc)
	if w.Tree.Normalize(dc.Path) != "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	w.restore(ctx)
	if err := w.Tree.Reload(ctx); err != nil {
		w.log.Warn("reloading expanded directories failed", "error", err)
	}
}

// restore reopens saved tabs and expanded folders once per connection,
// after the root listing told us where the workspace lives.
func (w *Workspace) restore(ctx context.Context) {
	w.mu.Lock()
	if w.restored {
		w.mu.Unlock()
		return
	}
	w.restored = true
	w.mu.Unlock()

	if w.state == nil {
		return
	}
	if err := w.workspaces.SetRoot(ctx, w.workspaceID, w.Tree.Root()); err != nil {
		w.log.Warn("saving workspace root failed", "error", err)
	}

	dirs, err := w.state.ListExpanded(ctx, w.workspaceID)
	if err != nil {
		w.log.Warn("loading expanded directories failed", "error", err)
	} else if len(dirs) > 0 && len(w.Tree.Expanded()) == 0 {
		w.Tree.SetExpanded(dirs)
	}

	docs, err := w.state.ListDocuments(ctx, w.workspaceID)
	if err != nil {
		w.log.Warn("loading open documents failed", "error", err)
		return
	}
	for _, doc := range docs {
		if _, open := w.Docs.ByPath(doc.Path); open {
			continue
		}
		if doc.Active {
			w.mu.Lock()
			w.pendingActive = doc.Path
			w.mu.Unlock()
		}
		if err := w.Docs.Open(ctx, doc.Path); err != nil {
			w.log.Warn("reopening document failed", "path", doc.Path, "error", err)
		}
	}
}

func (w *Workspace) onFileEvents(env protocol.Envelope) {
	var fe protocol.FileSystemEvents
	if err := env.Decode(&fe); err != nil {
		w.log.Warn("bad file system events", "error", err)
		return
	}
	if err := w.Tree.Apply(fe.Events); err != nil {
		w.log.Warn("file system events rejected", "count", len(fe.Events), "error", err)
	}
}

func (w *Workspace) onDocument(env protocol.Envelope) {
	var dc protocol.DocumentContent
	if err := env.Decode(&dc); err != nil {
		w.log.Warn("bad document content", "error", err)
		return
	}
	w.Docs.HandleContent(dc)

	w.mu.Lock()
	active := w.pendingActive
	w.mu.Unlock()
	if active == "" {
		return
	}
	if doc, ok := w.Docs.ByPath(active); ok {
		_ = w.Docs.SetActive(doc.ID)
		if w.Tree.Normalize(dc.Path) == active {
			w.mu.Lock()
			w.pendingActive = ""
			w.mu.Unlock()
		}
	}
}

func (w *Workspace) onSearchResults(env protocol.Envelope) {
	var sr protocol.SearchResults
	if err := env.Decode(&sr); err != nil {
		w.log.Warn("bad search results", "error", err)
		return
	}
	w.Search.HandleResults(sr)
}

func (w *Workspace) onTerminalOutput(env protocol.Envelope) {
	var out protocol.TerminalOutput
	if err := env.Decode(&out); err != nil {
		w.log.Warn("bad terminal output", "error", err)
		return
	}
	w.Terms.HandleOutput(out)
}

func (w *Workspace) onTerminalError(env protocol.Envelope) {
	var te protocol.TerminalError
	if len(env.Content) > 0 {
		if err := env.Decode(&te); err != nil {
			w.log.Debug("terminal error without structured content", "error", err)
		}
	}
	w.Terms.HandleError(te, env.Error)
}

func (w *Workspace) onDiagnostics(env protocol.Envelope) {
	var d protocol.Diagnostics
	if err := env.Decode(&d); err != nil {
		w.log.Warn("bad diagnostics", "error", err)
		return
	}
	w.LSP.HandleDiagnostics(d)
}

// onError handles Error frames that answered no call. One arriving while a
// search runs ends that search.
func (w *Workspace) onError(env protocol.Envelope) {
	var ec protocol.ErrorContent
	_ = env.Decode(&ec)
	msg := ec.Message
	if msg == "" {
		msg = "Unknown error occurred"
	}
	if w.Search.State().Active {
		w.Search.HandleError(msg)
		return
	}
	notify.Error(w.notifier, "Error", msg)
}

// SearchFor runs a search and records it in the history.
func (w *Workspace) SearchFor(ctx context.Context, query string, includeContent bool) error {
	if err := w.Search.Search(ctx, query, includeContent); err != nil {
		return err
	}
	if w.history != nil {
		entry := store.SearchEntry{Query: query, IncludeContent: includeContent}
		if err := w.history.Add(ctx, w.workspaceID, entry); err != nil {
			w.log.Warn("recording search failed", "query", query, "error", err)
		}
	}
	return nil
}

// recording feeds the debounced input through SearchFor.
type recording struct{ w *Workspace }

func (r recording) Search(ctx context.Context, query string, includeContent bool) error {
	return r.w.SearchFor(ctx, query, includeContent)
}

// RecentSearches returns the newest searches first.
func (w *Workspace) RecentSearches(ctx context.Context, n int) ([]store.SearchEntry, error) {
	if w.history == nil {
		return nil, nil
	}
	return w.history.Recent(ctx, w.workspaceID, n)
}

// SaveState persists the open tabs and expanded folders. Buffers the
// server has never seen are skipped.
func (w *Workspace) SaveState(ctx context.Context) error {
	if w.state == nil {
		return nil
	}
	active, _ := w.Docs.Active()
	var docs []store.OpenDocument
	for _, tab := range w.Docs.Tabs() {
		if tab.Version == 0 {
			continue
		}
		docs = append(docs, store.OpenDocument{Path: tab.Path, Active: tab.ID == active.ID})
	}
	if err := w.state.ReplaceDocuments(ctx, w.workspaceID, docs); err != nil {
		return err
	}
	return w.state.ReplaceExpanded(ctx, w.workspaceID, w.Tree.Expanded())
}

func (w *Workspace) Config() config.Config {
	return w.cfg
}

// Run keeps the connection up until ctx is done.
func (w *Workspace) Run(ctx context.Context) error {
	return w.Conn.Run(ctx, w.dial)
}

// WaitConnected blocks until the channel is up or ctx is done.
func (w *Workspace) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !w.Conn.Connected() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close flushes pending document changes, saves state and tears down
// every session.
func (w *Workspace) Close(ctx context.Context) error {
	w.Input.Stop()
	w.Docs.FlushAll()
	err := w.SaveState(ctx)
	w.Docs.Stop()
	w.Terms.CloseAll()
	w.LSP.Reset()
	if cerr := w.Conn.Close(); err == nil {
		err = cerr
	}
	return err
}
