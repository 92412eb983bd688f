package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldstone-labs/deskmate/internal/observability"
	"github.com/fieldstone-labs/deskmate/pkg/llm"
)

// DefaultIdleTimeout is how long a session may sit untouched before it is
// evicted.
const DefaultIdleTimeout = 60 * time.Minute

type state struct {
	messages     []llm.Message
	createdAt    time.Time
	lastActivity time.Time
}

// Store keeps conversation histories in memory, keyed by session id.
// Histories never touch disk; a process restart starts everyone fresh.
// Expired sessions are swept lazily on every access, so readers never see a
// history older than the idle timeout.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*state
	idleTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewStore creates a store with the given idle timeout. A timeout of zero
// uses the default.
func NewStore(idleTimeout time.Duration, logger zerolog.Logger) *Store {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Store{
		sessions:    make(map[string]*state),
		idleTimeout: idleTimeout,
		logger:      logger.With().Str("component", "session-store").Logger(),
		now:         time.Now,
	}
}

// History returns a copy of the session's conversation. An unknown or
// expired id starts a fresh session with an empty history; reads count as
// activity either way.
func (s *Store) History(sessionID string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	st, ok := s.sessions[sessionID]
	if !ok {
		st = &state{createdAt: s.now()}
		s.sessions[sessionID] = st
		observability.SetActiveSessions(len(s.sessions))
		s.logger.Debug().Str("session_id", sessionID).Msg("session created")
	}
	st.lastActivity = s.now()

	out := make([]llm.Message, len(st.messages))
	copy(out, st.messages)
	return out
}

// SetHistory replaces the session's conversation, creating the session if
// needed, and refreshes its activity timestamp.
func (s *Store) SetHistory(sessionID string, messages []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	st, ok := s.sessions[sessionID]
	if !ok {
		st = &state{createdAt: s.now()}
		s.sessions[sessionID] = st
	}
	st.messages = make([]llm.Message, len(messages))
	copy(st.messages, messages)
	st.lastActivity = s.now()

	observability.SetActiveSessions(len(s.sessions))
}

// Clear removes the session and reports whether it existed.
func (s *Store) Clear(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	_, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		observability.SetActiveSessions(len(s.sessions))
		s.logger.Debug().Str("session_id", sessionID).Msg("session cleared")
	}
	return ok
}

// ActiveCount returns the number of live sessions.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	return len(s.sessions)
}

// Sweep evicts every expired session immediately. Access paths already
// sweep lazily; this exists for the optional background sweeper so idle
// processes release memory too.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Store) sweepLocked() int {
	cutoff := s.now().Add(-s.idleTimeout)
	evicted := 0
	for id, st := range s.sessions {
		if st.lastActivity.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
			observability.RecordSessionEvicted()
			s.logger.Debug().Str("session_id", id).Time("last_activity", st.lastActivity).Msg("session evicted")
		}
	}
	if evicted > 0 {
		observability.SetActiveSessions(len(s.sessions))
	}
	return evicted
}
