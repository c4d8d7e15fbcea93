package terminal

import (
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

const eventBuffer = 1024

// Session is one remote terminal. Output for it arrives on Events until
// the session is closed.
type Session struct {
	id        string
	createdAt time.Time
	log       *slog.Logger

	events chan Event

	mu     sync.Mutex
	size   Size
	carry  []byte
	closed bool
}

func newSession(id string, size Size, log *slog.Logger) *Session {
	return &Session{
		id:        id,
		createdAt: time.Now(),
		log:       log,
		events:    make(chan Event, eventBuffer),
		size:      size,
	}
}

// ID returns the server-assigned session id.
func (s *Session) ID() string { return s.id }

// Events returns the read-only channel of session events. It is closed
// after EventClosed.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Session) setSize(size Size) {
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
}

// deliver decodes data as UTF-8 and queues it. An incomplete sequence at
// the end of data is held back until the next frame completes it.
func (s *Session) deliver(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	buf := append(s.carry, data...)
	cut := completePrefix(buf)
	s.carry = append([]byte(nil), buf[cut:]...)
	if cut == 0 {
		return
	}

	select {
	case s.events <- Event{Type: EventOutput, ID: s.id, Data: string(buf[:cut])}:
	default:
		s.log.Warn("terminal output dropped, consumer too slow", "terminal_id", s.id, "bytes", cut)
	}
}

// completePrefix returns the length of buf without a trailing incomplete
// UTF-8 sequence. Invalid bytes are not held back.
func completePrefix(buf []byte) int {
	n := len(buf)
	// A sequence is at most utf8.UTFMax bytes long.
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if !utf8.RuneStart(buf[i]) {
			continue
		}
		if utf8.FullRune(buf[i:]) {
			return n
		}
		return i
	}
	return n
}

// close flushes any held-back bytes, emits EventClosed and closes the
// channel. It is safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if len(s.carry) > 0 {
		select {
		case s.events <- Event{Type: EventOutput, ID: s.id, Data: string(s.carry)}:
		default:
		}
		s.carry = nil
	}
	select {
	case s.events <- Event{Type: EventClosed, ID: s.id}:
	default:
	}
	close(s.events)
}
