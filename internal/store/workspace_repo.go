package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type WorkspaceRepo struct {
	db *sql.DB
}

func NewWorkspaceRepo(db *sql.DB) *WorkspaceRepo {
	return &WorkspaceRepo{db: db}
}

// Ensure returns the workspace for serverURL, creating it on first use.
func (r *WorkspaceRepo) Ensure(ctx context.Context, serverURL string) (*Workspace, error) {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	ws, err := r.GetByServer(ctx, serverURL)
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := nowUTC()
	ws = &Workspace{ID: NewID(), ServerURL: serverURL, CreatedAt: now, UpdatedAt: now}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO workspaces (id, server_url, root, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
`, ws.ID, ws.ServerURL, ws.Root, formatTimestamp(ws.CreatedAt), formatTimestamp(ws.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return ws, nil
}

// GetByServer returns sql.ErrNoRows (wrapped) when the server is unknown.
func (r *WorkspaceRepo) GetByServer(ctx context.Context, serverURL string) (*Workspace, error) {
	var ws Workspace
	var createdRaw, updatedRaw string
	err := r.db.QueryRowContext(ctx, `
SELECT id, server_url, root, created_at, updated_at
FROM workspaces
WHERE server_url = ?
`, serverURL).Scan(&ws.ID, &ws.ServerURL, &ws.Root, &createdRaw, &updatedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workspace for %q: %w", serverURL, err)
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	if ws.CreatedAt, err = parseTimestamp(createdRaw); err != nil {
		return nil, err
	}
	if ws.UpdatedAt, err = parseTimestamp(updatedRaw); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (r *WorkspaceRepo) SetRoot(ctx context.Context, id, root string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE workspaces SET root = ?, updated_at = ? WHERE id = ?`,
		root, formatTimestamp(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update workspace root: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %q not found", id)
	}
	return nil
}

func (r *WorkspaceRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}
