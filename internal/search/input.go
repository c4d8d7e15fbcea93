package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultInputDelay = 300 * time.Millisecond
	DefaultMinQuery   = 2
)

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, query string, includeContent bool) error
}

// Input debounces keystrokes in a search box. Only the last query typed
// before a quiet period is searched, and only when it is long enough.
type Input struct {
	s      Searcher
	delay  time.Duration
	minLen int
	log    *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

func NewInput(s Searcher, delay time.Duration, minLen int) *Input {
	if delay <= 0 {
		delay = DefaultInputDelay
	}
	if minLen <= 0 {
		minLen = DefaultMinQuery
	}
	return &Input{s: s, delay: delay, minLen: minLen, log: slog.Default()}
}

// Type records a new value of the search box.
func (in *Input) Type(query string, includeContent bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.timer != nil {
		in.timer.Stop()
	}
	in.timer = time.AfterFunc(in.delay, func() {
		if !in.longEnough(query) {
			return
		}
		if err := in.s.Search(context.Background(), query, includeContent); err != nil {
			in.log.Debug("debounced search failed", "query", query, "error", err)
		}
	})
}

// Submit searches immediately, as pressing enter does. Queries shorter
// than the minimum are ignored here too.
func (in *Input) Submit(ctx context.Context, query string, includeContent bool) error {
	in.Stop()
	if !in.longEnough(query) {
		return nil
	}
	return in.s.Search(ctx, query, includeContent)
}

func (in *Input) longEnough(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) >= in.minLen
}

// Stop drops a pending search.
func (in *Input) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
}
