package workspace

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	lsproto "go.lsp.dev/protocol"

	"github.com/user/remoteide/internal/channel/channeltest"
	"github.com/user/remoteide/internal/config"
	"github.com/user/remoteide/internal/notify"
	"github.com/user/remoteide/internal/protocol"
	"github.com/user/remoteide/internal/store"
)

const serverURL = "ws://example.test/ws"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config.Default() error = %v", err)
	}
	cfg.ServerURL = serverURL
	cfg.ChangeDebounce = 20 * time.Millisecond
	cfg.SearchDebounce = 20 * time.Millisecond
	return cfg
}

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newWorkspace(t *testing.T, db *store.DB) (*Workspace, *notify.Recorder) {
	t.Helper()
	rec := &notify.Recorder{}
	w, err := New(context.Background(), Options{Config: testConfig(t), Notifier: rec, Store: db})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(w.Docs.Stop)
	return w, rec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func pushRoot(t *testing.T, peer *channeltest.Peer) {
	t.Helper()
	peer.Push(t, protocol.TypeDirectoryContent, protocol.DirectoryContent{
		Path: "/work",
		Content: []protocol.FileEntry{
			{Name: "src", Path: "/work/src", IsDirectory: true},
			{Name: "a.txt", Path: "/work/a.txt", Size: 3},
		},
	})
}

func TestRoutesInboundFrames(t *testing.T) {
	w, rec := newWorkspace(t, nil)
	peer := channeltest.Connect(t, w.Conn)

	req := peer.Expect(t, protocol.TypeGetDirectory)
	var pc protocol.PathContent
	if err := req.Decode(&pc); err != nil || pc.Path != "" {
		t.Fatalf("initial listing request = %+v, %v", pc, err)
	}
	pushRoot(t, peer)
	eventually(t, "root listing", func() bool { return w.Tree.Root() == "/work" })

	peer.Push(t, protocol.TypeFileSystemEvents, protocol.FileSystemEvents{Events: []protocol.FileEvent{
		{Created: &protocol.CreatedEvent{Path: "/work/b.txt"}},
	}})
	eventually(t, "file event", func() bool {
		_, ok := w.Tree.Find("b.txt")
		return ok
	})

	peer.Push(t, protocol.TypeDocumentContent, protocol.DocumentContent{Path: "/work/a.txt", Content: "abc", Version: 1})
	eventually(t, "document", func() bool {
		doc, ok := w.Docs.ByPath("a.txt")
		return ok && doc.Content == "abc"
	})

	peer.Push(t, protocol.TypeTerminalError, protocol.TerminalError{TerminalID: "t9", Error: "no such terminal"})
	eventually(t, "terminal error notification", func() bool { return len(rec.Errors()) == 1 })
	if got := rec.Errors()[0]; got.Title != "Terminal Error" || got.Message != "no such terminal" {
		t.Fatalf("notification = %+v", got)
	}
	peer.Push(t, protocol.TypeDiagnostics, protocol.Diagnostics{
		Path: "/work/a.txt",
		Diagnostics: []lsproto.Diagnostic{{
			Range:    lsproto.Range{Start: lsproto.Position{Line: 0, Character: 1}},
			Severity: lsproto.DiagnosticSeverityWarning,
			Message:  "trailing space",
		}},
	})
	eventually(t, "diagnostics", func() bool { return len(w.LSP.Diagnostics("a.txt")) == 1 })
}

func TestUnsolicitedErrorEndsActiveSearch(t *testing.T) {
	w, rec := newWorkspace(t, nil)
	peer := channeltest.Connect(t, w.Conn)
	peer.Expect(t, protocol.TypeGetDirectory)

	if err := w.SearchFor(context.Background(), "needle", false); err != nil {
		t.Fatalf("SearchFor() error = %v", err)
	}
	peer.Expect(t, protocol.TypeSearch)
	peer.Push(t, protocol.TypeError, protocol.ErrorContent{Message: "index unavailable"})

	eventually(t, "search to stop", func() bool { return !w.Search.State().Active })
	if errs := rec.Errors(); len(errs) != 1 || errs[0].Title != "Search error" {
		t.Fatalf("notifications = %+v", errs)
	}
}

func TestSearchErrorDoesNotFailPendingChange(t *testing.T) {
	w, rec := newWorkspace(t, nil)
	peer := channeltest.Connect(t, w.Conn)
	peer.Expect(t, protocol.TypeGetDirectory)
	pushRoot(t, peer)
	eventually(t, "root listing", func() bool { return w.Tree.Root() == "/work" })

	id := w.Docs.HandleContent(protocol.DocumentContent{Path: "/work/a.txt", Content: "x\n", Version: 1})
	if err := w.Docs.Edit(id, "xy\n"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	change := peer.Expect(t, protocol.TypeChangeFile)

	if err := w.SearchFor(context.Background(), "needle", false); err != nil {
		t.Fatalf("SearchFor() error = %v", err)
	}
	peer.Expect(t, protocol.TypeSearch)
	peer.Push(t, protocol.TypeError, protocol.ErrorContent{Message: "index unavailable"})

	eventually(t, "search to stop", func() bool { return !w.Search.State().Active })
	if doc, _ := w.Docs.Get(id); doc.Content != "xy\n" {
		t.Fatalf("content after search error = %q", doc.Content)
	}

	var ack protocol.DocumentAck
	ack.Document.Version = 2
	peer.Reply(t, change, protocol.TypeChangeSuccess, ack)
	eventually(t, "change to apply", func() bool {
		doc, _ := w.Docs.Get(id)
		return doc.Version == 2 && doc.Content == "xy\n"
	})
	if errs := rec.Errors(); len(errs) != 1 || errs[0].Title != "Search error" {
		t.Fatalf("notifications = %+v", errs)
	}
}

func TestRestoresSavedStateOnRootListing(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	ws, err := store.NewWorkspaceRepo(db.SQL()).Ensure(ctx, serverURL)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	state := store.NewStateRepo(db.SQL())
	if err := state.ReplaceExpanded(ctx, ws.ID, []string{"src"}); err != nil {
		t.Fatalf("ReplaceExpanded() error = %v", err)
	}
	if err := state.ReplaceDocuments(ctx, ws.ID, []store.OpenDocument{{Path: "a.txt", Active: true}}); err != nil {
		t.Fatalf("ReplaceDocuments() error = %v", err)
	}

	w, _ := newWorkspace(t, db)
	peer := channeltest.Connect(t, w.Conn)
	peer.Expect(t, protocol.TypeGetDirectory)
	pushRoot(t, peer)

	var pc protocol.PathContent
	if err := peer.Expect(t, protocol.TypeOpenFile).Decode(&pc); err != nil || pc.Path != "/work/a.txt" {
		t.Fatalf("reopen = %+v, %v", pc, err)
	}
	if err := peer.Expect(t, protocol.TypeGetDirectory).Decode(&pc); err != nil || pc.Path != "/work/src" {
		t.Fatalf("reload = %+v, %v", pc, err)
	}
	if got := w.Tree.Expanded(); !reflect.DeepEqual(got, []string{"src"}) {
		t.Fatalf("expanded = %v", got)
	}

	saved, err := store.NewWorkspaceRepo(db.SQL()).GetByServer(ctx, serverURL)
	if err != nil || saved.Root != "/work" {
		t.Fatalf("workspace = %+v, %v", saved, err)
	}

	// A second root listing on the same connection only reloads folders.
	pushRoot(t, peer)
	peer.Expect(t, protocol.TypeGetDirectory)
	peer.ExpectNone(t, 50*time.Millisecond)
}

func TestCloseSavesState(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	w, _ := newWorkspace(t, db)
	peer := channeltest.Connect(t, w.Conn)
	peer.Expect(t, protocol.TypeGetDirectory)
	pushRoot(t, peer)
	peer.Push(t, protocol.TypeDocumentContent, protocol.DocumentContent{Path: "/work/a.txt", Content: "abc", Version: 1})
	eventually(t, "document", func() bool {
		_, ok := w.Docs.ByPath("a.txt")
		return ok
	})
	w.Docs.NewBuffer("scratch.txt", "")
	if err := w.Tree.Toggle(ctx, "src"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ws, err := store.NewWorkspaceRepo(db.SQL()).GetByServer(ctx, serverURL)
	if err != nil {
		t.Fatalf("GetByServer() error = %v", err)
	}
	state := store.NewStateRepo(db.SQL())
	docs, err := state.ListDocuments(ctx, ws.ID)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "a.txt" {
		t.Fatalf("documents = %+v", docs)
	}
	dirs, err := state.ListExpanded(ctx, ws.ID)
	if err != nil || !reflect.DeepEqual(dirs, []string{"src"}) {
		t.Fatalf("expanded = %v, %v", dirs, err)
	}
}

func TestSearchHistory(t *testing.T) {
	w, _ := newWorkspace(t, openStore(t))
	peer := channeltest.Connect(t, w.Conn)
	peer.Expect(t, protocol.TypeGetDirectory)
	ctx := context.Background()

	for _, q := range []string{"alpha", "beta"} {
		if err := w.SearchFor(ctx, q, true); err != nil {
			t.Fatalf("SearchFor(%q) error = %v", q, err)
		}
		peer.Expect(t, protocol.TypeSearch)
	}

	w.Input.Type("g", false)
	peer.ExpectNone(t, 60*time.Millisecond)
	w.Input.Type("gamma", false)
	peer.Expect(t, protocol.TypeSearch)

	var recent []store.SearchEntry
	eventually(t, "debounced search in history", func() bool {
		var err error
		recent, err = w.RecentSearches(ctx, 10)
		return err == nil && len(recent) == 3
	})
	var got []string
	for _, e := range recent {
		got = append(got, e.Query)
	}
	if want := []string{"gamma", "beta", "alpha"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("recent = %v, want %v", got, want)
	}
}
