package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/user/remoteide/internal/channel"
	"github.com/user/remoteide/internal/diff"
	"github.com/user/remoteide/internal/notify"
	"github.com/user/remoteide/internal/protocol"
)

const DefaultDebounce = 300 * time.Millisecond

var ErrUnknownDocument = errors.New("unknown document")

// Channel is the part of the connection the engine talks through.
type Channel interface {
	SendMessage(ctx context.Context, typ string, content any) error
	CallMessage(ctx context.Context, typ string, content any, accept ...string) (protocol.Envelope, error)
}

// PathMapper converts between root-relative tab paths and the absolute
// paths the server expects for OpenFile and CloseFile.
type PathMapper interface {
	Absolute(rel string) string
	Relative(abs string) string
}

type identityPaths struct{}

func (identityPaths) Absolute(p string) string { return p }
func (identityPaths) Relative(p string) string { return p }

type Options struct {
	Debounce time.Duration
	Paths    PathMapper
	Notifier notify.Notifier
	Logger   *slog.Logger
	NewID    func() string
}

// Engine owns the open documents and their pending changes.
type Engine struct {
	ch       Channel
	debounce time.Duration
	paths    PathMapper
	notifier notify.Notifier
	log      *slog.Logger
	newID    func() string

	mu       sync.Mutex
	docs     map[string]*entry
	order    []string
	active   string
	onChange []func()
}

// entry is one document plus its change scheduler.
type entry struct {
	doc Document

	timer    *time.Timer
	pending  bool
	inflight bool
	// done is closed when the in-flight change settles.
	done chan struct{}
	gen  int
}

func New(ch Channel, opts Options) *Engine {
	e := &Engine{
		ch:       ch,
		debounce: opts.Debounce,
		paths:    opts.Paths,
		notifier: opts.Notifier,
		log:      opts.Logger,
		newID:    opts.NewID,
		docs:     make(map[string]*entry),
	}
	if e.debounce <= 0 {
		e.debounce = DefaultDebounce
	}
	if e.paths == nil {
		e.paths = identityPaths{}
	}
	if e.notifier == nil {
		e.notifier = notify.Logger{Log: opts.Logger}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.newID == nil {
		e.newID = func() string { return ulid.Make().String() }
	}
	return e
}

// OnChange registers fn to run after any document or tab change.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.onChange = append(e.onChange, fn)
	e.mu.Unlock()
}

func (e *Engine) changed() {
	e.mu.Lock()
	fns := slices.Clone(e.onChange)
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Tabs returns the open documents in tab order.
func (e *Engine) Tabs() []Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Document, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.docs[id].doc)
	}
	return out
}

func (e *Engine) Active() (Document, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.docs[e.active]
	if !ok {
		return Document{}, false
	}
	return ent.doc, true
}

func (e *Engine) SetActive(id string) error {
	e.mu.Lock()
	if _, ok := e.docs[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	e.active = id
	e.mu.Unlock()
	e.changed()
	return nil
}

func (e *Engine) Get(id string) (Document, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.docs[id]
	if !ok {
		return Document{}, false
	}
	return ent.doc, true
}

// ByPath finds the open document for a root-relative path.
func (e *Engine) ByPath(p string) (Document, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent := e.byPathLocked(p); ent != nil {
		return ent.doc, true
	}
	return Document{}, false
}

func (e *Engine) byPathLocked(p string) *entry {
	for _, id := range e.order {
		if ent := e.docs[id]; ent.doc.Path == p {
			return ent
		}
	}
	return nil
}

// Open focuses the tab for p if it is open, or asks the server for it. The
// content arrives later as DocumentContent.
func (e *Engine) Open(ctx context.Context, p string) error {
	e.mu.Lock()
	if ent := e.byPathLocked(p); ent != nil {
		e.active = ent.doc.ID
		e.mu.Unlock()
		e.changed()
		return nil
	}
	e.mu.Unlock()

	if err := e.ch.SendMessage(ctx, protocol.TypeOpenFile, protocol.PathContent{Path: e.paths.Absolute(p)}); err != nil {
		notify.Error(e.notifier, "Open failed", channel.Describe(err))
		return fmt.Errorf("open %s: %w", p, err)
	}
	return nil
}

// HandleContent installs a DocumentContent frame. An already open document
// is only refreshed when the frame carries a newer version.
func (e *Engine) HandleContent(dc protocol.DocumentContent) string {
	p := e.paths.Relative(dc.Path)

	e.mu.Lock()
	if ent := e.byPathLocked(p); ent != nil {
		id := ent.doc.ID
		if dc.Version <= ent.doc.Version {
			e.mu.Unlock()
			e.log.Debug("ignoring stale document content", "path", p, "version", dc.Version, "have", ent.doc.Version)
			return id
		}
		e.cancelLocked(ent)
		ent.doc.Content = dc.Content
		ent.doc.Baseline = dc.Content
		ent.doc.LastSaved = dc.Content
		ent.doc.Version = dc.Version
		ent.doc.Dirty = false
		e.active = id
		e.mu.Unlock()
		e.changed()
		return id
	}

	id := e.newID()
	e.docs[id] = &entry{doc: Document{
		ID:        id,
		Path:      p,
		Language:  LanguageFor(p),
		Content:   dc.Content,
		Version:   dc.Version,
		Baseline:  dc.Content,
		LastSaved: dc.Content,
	}}
	e.order = append(e.order, id)
	e.active = id
	e.mu.Unlock()
	e.changed()
	return id
}

// NewBuffer opens a local buffer the server has not seen yet.
func (e *Engine) NewBuffer(p, content string) string {
	e.mu.Lock()
	id := e.newID()
	e.docs[id] = &entry{doc: Document{
		ID:       id,
		Path:     p,
		Language: LanguageFor(p),
		Content:  content,
		Dirty:    content != "",
		Baseline: content,
	}}
	e.order = append(e.order, id)
	e.active = id
	e.mu.Unlock()
	e.changed()
	return id
}

// Edit replaces the content of a document immediately and schedules the
// change for the server.
func (e *Engine) Edit(id, content string) error {
	e.mu.Lock()
	ent, ok := e.docs[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	ent.doc.Content = content
	ent.doc.Dirty = content != ent.doc.LastSaved
	ent.pending = true
	if ent.timer != nil {
		ent.timer.Stop()
	}
	gen := ent.gen
	ent.timer = time.AfterFunc(e.debounce, func() {
		e.fire(id, gen)
	})
	e.mu.Unlock()
	e.changed()
	return nil
}

// Flush sends a pending change for id now and waits for it to settle.
func (e *Engine) Flush(id string) {
	for {
		e.mu.Lock()
		ent, ok := e.docs[id]
		if !ok {
			e.mu.Unlock()
			return
		}
		if ent.inflight {
			done := ent.done
			e.mu.Unlock()
			<-done
			continue
		}
		if !ent.pending {
			e.mu.Unlock()
			return
		}
		if ent.timer != nil {
			ent.timer.Stop()
			ent.timer = nil
		}
		gen := ent.gen
		e.mu.Unlock()
		e.fire(id, gen)
	}
}

// FlushAll flushes every open document.
func (e *Engine) FlushAll() {
	e.mu.Lock()
	ids := append([]string(nil), e.order...)
	e.mu.Unlock()
	for _, id := range ids {
		e.Flush(id)
	}
}

func (e *Engine) fire(id string, gen int) {
	e.mu.Lock()
	ent, ok := e.docs[id]
	if !ok || ent.gen != gen || !ent.pending {
		e.mu.Unlock()
		return
	}
	if ent.inflight {
		// Picked up again when the current send settles.
		ent.timer = nil
		e.mu.Unlock()
		return
	}
	ent.pending = false
	ent.timer = nil

	sent := ent.doc.Content
	changes := diff.Lines(ent.doc.Baseline, sent)
	if len(changes) == 0 {
		e.mu.Unlock()
		return
	}
	req := protocol.ChangeFile{
		Document: protocol.DocumentRef{URI: ent.doc.Path, Version: ent.doc.Version + 1},
		Changes:  changes,
	}
	ent.inflight = true
	ent.done = make(chan struct{})
	done := ent.done
	e.mu.Unlock()

	reply, err := e.ch.CallMessage(context.Background(), protocol.TypeChangeFile, req, protocol.TypeChangeSuccess)

	e.mu.Lock()
	ent.inflight = false
	close(done)
	if cur, ok := e.docs[id]; !ok || cur != ent || ent.gen != gen {
		e.mu.Unlock()
		return
	}

	if err != nil {
		e.cancelLocked(ent)
		ent.doc.Content = ent.doc.Baseline
		ent.doc.Dirty = false
		path := ent.doc.Path
		e.mu.Unlock()
		e.log.Warn("change rejected", "path", path, "error", err)
		notify.Error(e.notifier, "Change failed", channel.Describe(err))
		e.changed()
		return
	}

	ent.doc.Baseline = sent
	var ack protocol.DocumentAck
	if derr := reply.Decode(&ack); derr != nil {
		e.log.Warn("change ack without version", "path", ent.doc.Path, "error", derr)
	} else if ack.Document.Version > ent.doc.Version {
		ent.doc.Version = ack.Document.Version
	}
	again := ent.pending && ent.timer == nil
	e.mu.Unlock()

	if again {
		go e.fire(id, gen)
	}
	e.changed()
}

// cancelLocked drops a scheduled change and invalidates any send in flight.
func (e *Engine) cancelLocked(ent *entry) {
	if ent.timer != nil {
		ent.timer.Stop()
		ent.timer = nil
	}
	ent.pending = false
	ent.gen++
}

// Save flushes pending changes and asks the server to persist the
// document. A failed save leaves the buffer as it was.
func (e *Engine) Save(ctx context.Context, id string) error {
	doc, ok := e.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	if !doc.Dirty {
		return nil
	}

	e.Flush(id)

	e.mu.Lock()
	ent, ok := e.docs[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	if !ent.doc.Dirty {
		e.mu.Unlock()
		return nil
	}
	saved := ent.doc.Content
	req := protocol.SaveFile{Document: protocol.DocumentRef{URI: ent.doc.Path, Version: ent.doc.Version + 1}}
	e.mu.Unlock()

	reply, err := e.ch.CallMessage(ctx, protocol.TypeSaveFile, req, protocol.TypeSaveSuccess)
	if err != nil {
		notify.Error(e.notifier, "Save failed", channel.Describe(err))
		return fmt.Errorf("save %s: %w", req.Document.URI, err)
	}

	e.mu.Lock()
	if cur, ok := e.docs[id]; ok && cur == ent {
		ent.doc.LastSaved = saved
		ent.doc.Dirty = ent.doc.Content != saved
		var ack protocol.DocumentAck
		if derr := reply.Decode(&ack); derr == nil && ack.Document.Version > ent.doc.Version {
			ent.doc.Version = ack.Document.Version
		}
	}
	e.mu.Unlock()

	notify.Info(e.notifier, "File saved", req.Document.URI)
	e.changed()
	return nil
}

// Close removes a tab. A dirty document is only closed when confirm
// approves it. It reports whether the tab was closed.
func (e *Engine) Close(ctx context.Context, id string, confirm func(Document) bool) (bool, error) {
	e.mu.Lock()
	ent, ok := e.docs[id]
	if !ok {
		e.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	doc := ent.doc
	if doc.Dirty {
		e.mu.Unlock()
		if confirm == nil || !confirm(doc) {
			return false, nil
		}
		e.mu.Lock()
		if cur, ok := e.docs[id]; !ok || cur != ent {
			e.mu.Unlock()
			return false, nil
		}
	}

	e.cancelLocked(ent)
	delete(e.docs, id)
	for i, other := range e.order {
		if other == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if e.active == id {
		e.active = ""
		if n := len(e.order); n > 0 {
			e.active = e.order[n-1]
		}
	}
	e.mu.Unlock()
	e.changed()

	if err := e.ch.SendMessage(ctx, protocol.TypeCloseFile, protocol.PathContent{Path: e.paths.Absolute(doc.Path)}); err != nil {
		e.log.Warn("close notification not sent", "path", doc.Path, "error", err)
		return true, fmt.Errorf("close %s: %w", doc.Path, err)
	}
	return true, nil
}

// Stop cancels every scheduled change.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ent := range e.docs {
		if ent.timer != nil {
			ent.timer.Stop()
			ent.timer = nil
		}
	}
}
