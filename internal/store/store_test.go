package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "remoteide-test.db")
	database, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return database, path
}

func assertTableExists(t *testing.T, conn *sql.DB, table string) {
	t.Helper()
	var count int
	err := conn.QueryRow(`SELECT count(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master error: %v", err)
	}
	if count != 1 {
		t.Fatalf("table %q not found", table)
	}
}

func TestOpenCreatesDBFileAndRunsMigrations(t *testing.T) {
	database, path := openTestDB(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected DB file at %q: %v", path, err)
	}
	for _, table := range []string{"_meta", "workspaces", "open_documents", "expanded_dirs", "search_history"} {
		assertTableExists(t, database.SQL(), table)
	}

	var version string
	if err := database.SQL().QueryRow(`SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != fmt.Sprint(len(migrations)) {
		t.Fatalf("schema_version = %s, want %d", version, len(migrations))
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	database, _ := openTestDB(t)
	if err := RunMigrations(context.Background(), database.SQL()); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestWorkspaceEnsureIsStable(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewWorkspaceRepo(database.SQL())
	ctx := context.Background()

	first, err := repo.Ensure(ctx, "ws://host/ws")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	second, err := repo.Ensure(ctx, "ws://host/ws")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("Ensure created a second workspace: %s vs %s", first.ID, second.ID)
	}

	if err := repo.SetRoot(ctx, first.ID, "/srv/project"); err != nil {
		t.Fatalf("SetRoot() error = %v", err)
	}
	got, err := repo.GetByServer(ctx, "ws://host/ws")
	if err != nil {
		t.Fatalf("GetByServer() error = %v", err)
	}
	if got.Root != "/srv/project" {
		t.Fatalf("Root = %q", got.Root)
	}

	if _, err := repo.GetByServer(ctx, "ws://other/ws"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetByServer(unknown) error = %v, want sql.ErrNoRows", err)
	}
}

func TestStateRepoRoundTrip(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	ws, err := NewWorkspaceRepo(database.SQL()).Ensure(ctx, "ws://host/ws")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	repo := NewStateRepo(database.SQL())

	if err := repo.ReplaceDocuments(ctx, ws.ID, []OpenDocument{
		{Path: "b.go"},
		{Path: "a.go", Active: true},
	}); err != nil {
		t.Fatalf("ReplaceDocuments() error = %v", err)
	}
	if err := repo.ReplaceDocuments(ctx, ws.ID, []OpenDocument{
		{Path: "c.go"},
		{Path: "a.go", Active: true},
	}); err != nil {
		t.Fatalf("ReplaceDocuments() error = %v", err)
	}
	docs, err := repo.ListDocuments(ctx, ws.ID)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	want := []OpenDocument{{Path: "c.go", Position: 0}, {Path: "a.go", Position: 1, Active: true}}
	if !reflect.DeepEqual(docs, want) {
		t.Fatalf("documents = %+v, want %+v", docs, want)
	}

	if err := repo.ReplaceExpanded(ctx, ws.ID, []string{"src", "docs", "src"}); err != nil {
		t.Fatalf("ReplaceExpanded() error = %v", err)
	}
	dirs, err := repo.ListExpanded(ctx, ws.ID)
	if err != nil {
		t.Fatalf("ListExpanded() error = %v", err)
	}
	if !reflect.DeepEqual(dirs, []string{"docs", "src"}) {
		t.Fatalf("expanded = %v", dirs)
	}
}

func TestDeletingWorkspaceCascades(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	workspaces := NewWorkspaceRepo(database.SQL())
	ws, _ := workspaces.Ensure(ctx, "ws://host/ws")
	state := NewStateRepo(database.SQL())
	_ = state.ReplaceExpanded(ctx, ws.ID, []string{"src"})

	if err := workspaces.Delete(ctx, ws.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	dirs, err := state.ListExpanded(ctx, ws.ID)
	if err != nil {
		t.Fatalf("ListExpanded() error = %v", err)
	}
	if len(dirs) != 0 {
		t.Fatalf("expanded dirs survived workspace delete: %v", dirs)
	}
}

func TestSearchHistoryDedupesAndPrunes(t *testing.T) {
	database, _ := openTestDB(t)
	ctx := context.Background()
	ws, _ := NewWorkspaceRepo(database.SQL()).Ensure(ctx, "ws://host/ws")
	repo := NewSearchHistoryRepo(database.SQL(), 3)

	for _, q := range []string{"alpha", "beta", "alpha", "gamma", "delta"} {
		if err := repo.Add(ctx, ws.ID, SearchEntry{Query: q, IncludeContent: q == "gamma"}); err != nil {
			t.Fatalf("Add(%q) error = %v", q, err)
		}
	}
	if err := repo.Add(ctx, ws.ID, SearchEntry{Query: "  "}); err == nil {
		t.Fatal("expected error for blank query")
	}

	entries, err := repo.Recent(ctx, ws.ID, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Query)
		if e.CreatedAt.IsZero() {
			t.Errorf("entry %q has no timestamp", e.Query)
		}
	}
	if !reflect.DeepEqual(got, []string{"delta", "gamma", "alpha"}) {
		t.Fatalf("history = %v", got)
	}
	if !entries[1].IncludeContent {
		t.Fatal("include_content not stored")
	}
}
