package store

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Workspace is the persisted state for one server.
type Workspace struct {
	ID        string
	ServerURL string
	Root      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OpenDocument is one tab, restored in Position order.
type OpenDocument struct {
	Path     string
	Position int
	Active   bool
}

type SearchEntry struct {
	Query          string
	IncludeContent bool
	CreatedAt      time.Time
}

func NewID() string {
	return ulid.Make().String()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
