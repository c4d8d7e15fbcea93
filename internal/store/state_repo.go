package store

import (
	"context"
	"database/sql"
	"fmt"
)

// StateRepo stores the tabs and expanded folders of a workspace. Both are
// replaced wholesale on every save.
type StateRepo struct {
	db *sql.DB
}

func NewStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

func (r *StateRepo) ReplaceDocuments(ctx context.Context, workspaceID string, docs []OpenDocument) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM open_documents WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("failed to clear open documents: %w", err)
	}
	for i, doc := range docs {
		_, err := tx.ExecContext(ctx, `
INSERT INTO open_documents (workspace_id, path, position, active)
VALUES (?, ?, ?, ?)
ON CONFLICT(workspace_id, path) DO UPDATE SET position = excluded.position, active = excluded.active
`, workspaceID, doc.Path, i, boolToInt(doc.Active))
		if err != nil {
			return fmt.Errorf("failed to save open document %q: %w", doc.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit open documents: %w", err)
	}
	return nil
}

func (r *StateRepo) ListDocuments(ctx context.Context, workspaceID string) ([]OpenDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT path, position, active
FROM open_documents
WHERE workspace_id = ?
ORDER BY position ASC
`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open documents: %w", err)
	}
	defer rows.Close()

	var docs []OpenDocument
	for rows.Next() {
		var doc OpenDocument
		var active int
		if err := rows.Scan(&doc.Path, &doc.Position, &active); err != nil {
			return nil, fmt.Errorf("failed to scan open document: %w", err)
		}
		doc.Active = active != 0
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *StateRepo) ReplaceExpanded(ctx context.Context, workspaceID string, dirs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM expanded_dirs WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("failed to clear expanded directories: %w", err)
	}
	for _, dir := range dirs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO expanded_dirs (workspace_id, path) VALUES (?, ?)`, workspaceID, dir); err != nil {
			return fmt.Errorf("failed to save expanded directory %q: %w", dir, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit expanded directories: %w", err)
	}
	return nil
}

func (r *StateRepo) ListExpanded(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT path FROM expanded_dirs WHERE workspace_id = ? ORDER BY path ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list expanded directories: %w", err)
	}
	defer rows.Close()

	var dirs []string
	for rows.Next() {
		var dir string
		if err := rows.Scan(&dir); err != nil {
			return nil, fmt.Errorf("failed to scan expanded directory: %w", err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, rows.Err()
}
