// Package session maintains authenticated mail server connections on behalf of stateless API
// requests.
package session

import (
	"sync"
	"time"

	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/remote"
)

// State of a session's connection.
type State int

// Session states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	}
	return "Unknown"
}

// Session is one authenticated connection to the mail server.
type Session struct {
	ID        string
	Identity  account.Identity
	CreatedAt time.Time

	slot chan struct{} // Held for the duration of each protocol exchange.

	mu       sync.Mutex // Guards fields below.
	state    State
	lastUsed time.Time
	conn     remote.Conn

	values map[string]any // Guarded by slot.
}

func newSession(id string, identity account.Identity, now time.Time) *Session {
	return &Session{
		ID:        id,
		Identity:  identity,
		CreatedAt: now,
		slot:      make(chan struct{}, 1),
		state:     Disconnected,
		lastUsed:  now,
		values:    make(map[string]any),
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastUsed returns the time the session was last used.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// expired reports whether the session has been idle for longer than idle.
func (s *Session) expired(now time.Time, idle time.Duration) bool {
	return idle > 0 && now.Sub(s.LastUsed()) > idle
}

// Handle grants an operation exclusive use of a session's connection.  It must not be retained
// after the operation returns.
type Handle struct {
	Conn     remote.Conn
	Identity account.Identity
	session  *Session
}

// SessionID returns the id of the session this handle belongs to.
func (h *Handle) SessionID() string {
	return h.session.ID
}

// Value returns data cached on the session by an earlier operation.
func (h *Handle) Value(key string) any {
	return h.session.values[key]
}

// SetValue caches data on the session for later operations.
func (h *Handle) SetValue(key string, value any) {
	h.session.values[key] = value
}
