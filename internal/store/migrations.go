package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "create workspace state tables",
		sql: `
CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	server_url TEXT NOT NULL UNIQUE,
	root TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS open_documents (
	workspace_id TEXT NOT NULL,
	path TEXT NOT NULL,
	position INTEGER NOT NULL,
	active INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(workspace_id, path),
	FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS expanded_dirs (
	workspace_id TEXT NOT NULL,
	path TEXT NOT NULL,
	PRIMARY KEY(workspace_id, path),
	FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);
`,
	},
	{
		version: 2,
		name:    "add search history",
		sql: `
CREATE TABLE IF NOT EXISTS search_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id TEXT NOT NULL,
	query TEXT NOT NULL,
	include_content INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	FOREIGN KEY(workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_search_history_workspace ON search_history(workspace_id, id);
`,
	},
}

// RunMigrations applies every migration newer than the stored schema
// version. Each one commits on its own, so a failure keeps earlier steps.
func RunMigrations(ctx context.Context, conn *sql.DB) error {
	current, err := schemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, conn, m); err != nil {
			return err
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	const ensure = `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0');`
	if _, err := conn.ExecContext(ctx, ensure); err != nil {
		return 0, fmt.Errorf("prepare schema metadata: %w", err)
	}

	var raw string
	if err := conn.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&raw); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("schema version %q is not a number: %w", raw, err)
	}
	return v, nil
}

func apply(ctx context.Context, conn *sql.DB, m migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _meta SET value = ? WHERE key = 'schema_version'`, strconv.Itoa(m.version)); err != nil {
		return fmt.Errorf("migration %d: record version: %w", m.version, err)
	}
	return tx.Commit()
}
