package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DefaultHistoryLimit is how many searches are kept per workspace.
const DefaultHistoryLimit = 50

type SearchHistoryRepo struct {
	db    *sql.DB
	limit int
}

func NewSearchHistoryRepo(db *sql.DB, limit int) *SearchHistoryRepo {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &SearchHistoryRepo{db: db, limit: limit}
}

// Add records a search. A repeated query moves to the front,
// and the oldest entries beyond the limit are pruned.
func (r *SearchHistoryRepo) Add(ctx context.Context, workspaceID string, entry SearchEntry) error {
	entry.Query = strings.TrimSpace(entry.Query)
	if entry.Query == "" {
		return fmt.Errorf("search query is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM search_history WHERE workspace_id = ? AND query = ?`, workspaceID, entry.Query); err != nil {
		return fmt.Errorf("failed to dedupe search history: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO search_history (workspace_id, query, include_content, created_at)
VALUES (?, ?, ?, ?)
`, workspaceID, entry.Query, boolToInt(entry.IncludeContent), formatTimestamp(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to add search history: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
DELETE FROM search_history
WHERE workspace_id = ? AND id NOT IN (
	SELECT id FROM search_history WHERE workspace_id = ? ORDER BY id DESC LIMIT ?
)
`, workspaceID, workspaceID, r.limit)
	if err != nil {
		return fmt.Errorf("failed to prune search history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit search history: %w", err)
	}
	return nil
}

// Recent returns up to n searches, newest first.
func (r *SearchHistoryRepo) Recent(ctx context.Context, workspaceID string, n int) ([]SearchEntry, error) {
	if n <= 0 {
		n = r.limit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT query, include_content, created_at
FROM search_history
WHERE workspace_id = ?
ORDER BY id DESC
LIMIT ?
`, workspaceID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", err)
	}
	defer rows.Close()

	var out []SearchEntry
	for rows.Next() {
		var e SearchEntry
		var include int
		var createdRaw string
		if err := rows.Scan(&e.Query, &include, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan search history: %w", err)
		}
		e.IncludeContent = include != 0
		if e.CreatedAt, err = parseTimestamp(createdRaw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
