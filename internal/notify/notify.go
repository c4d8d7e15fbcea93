// Package notify carries user-facing messages from the client core to
// whatever layer displays them.
package notify

import (
	"log/slog"
	"sync"
)

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

type Notification struct {
	Level   Level
	Title   string
	Message string
}

type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Logger writes notifications to a slog logger.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Notify(n Notification) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	if n.Level == LevelError {
		log.Error(n.Title, "message", n.Message)
		return
	}
	log.Info(n.Title, "message", n.Message)
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

func (r *Recorder) Errors() []Notification {
	var out []Notification
	for _, n := range r.All() {
		if n.Level == LevelError {
			out = append(out, n)
		}
	}
	return out
}

// Error is a shorthand for an error-level notification.
func Error(n Notifier, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notification{Level: LevelError, Title: title, Message: message})
}

// Info is a shorthand for an info-level notification.
func Info(n Notifier, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notification{Level: LevelInfo, Title: title, Message: message})
}
