package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultIdleExpiry is how long a session may sit unused before the
// janitor reclaims it.
const defaultIdleExpiry = time.Hour

// SessionStore keeps MCP sessions in memory. Sessions are created by
// the initialize handshake and expire after an idle period.
type SessionStore struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	idleExpiry time.Duration
}

// NewSessionStore creates a store with the given idle expiry;
// non-positive means the one hour default.
func NewSessionStore(idleExpiry time.Duration) *SessionStore {
	if idleExpiry <= 0 {
		idleExpiry = defaultIdleExpiry
	}
	return &SessionStore{
		sessions:   make(map[string]*Session),
		idleExpiry: idleExpiry,
	}
}

// Create registers a new session, negotiating the protocol version.
func (s *SessionStore) Create(params InitializeParams) *Session {
	now := time.Now().UTC()
	session := &Session{
		ID:              uuid.NewString(),
		ProtocolVersion: negotiateProtocolVersion(params.ProtocolVersion),
		ClientInfo:      params.ClientInfo,
		CreatedAt:       now,
		LastSeenAt:      now,
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session
}

// Get returns the session and refreshes its last-seen time, or nil if
// the id is unknown or expired.
func (s *SessionStore) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	if now.Sub(session.LastSeenAt) > s.idleExpiry {
		delete(s.sessions, id)
		return nil
	}
	session.LastSeenAt = now
	return session
}

// Delete removes a session. Unknown ids are a no-op.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len reports the live session count.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sweep drops sessions idle past the expiry.
func (s *SessionStore) sweep() {
	cutoff := time.Now().UTC().Add(-s.idleExpiry)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range s.sessions {
		if session.LastSeenAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

// RunJanitor sweeps expired sessions every interval until ctx is
// cancelled.
func (s *SessionStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

var supportedVersions = []string{protocolVersion}

// negotiateProtocolVersion falls back to the newest supported version
// when the client requests an unsupported one.
func negotiateProtocolVersion(requested string) string {
	for _, v := range supportedVersions {
		if requested == v {
			return v
		}
	}
	return protocolVersion
}
