package terminal

import "time"

// EventType distinguishes the kind of event delivered for a session.
type EventType int

const (
	// EventOutput carries decoded terminal output.
	EventOutput EventType = iota
	// EventClosed is the last event of a session.
	EventClosed
)

// Event is a single notification delivered on Session.Events.
type Event struct {
	Type EventType
	ID   string
	Data string
}

// Size is a terminal size in character cells.
type Size struct {
	Cols int
	Rows int
}

// DefaultSize is used when Create is given no size.
var DefaultSize = Size{Cols: 80, Rows: 24}

// SessionInfo is a read-only snapshot returned by Multiplexer.List.
type SessionInfo struct {
	ID        string
	Size      Size
	CreatedAt time.Time
}
