package session

import "sync"

// Store holds active sessions.
type Store interface {
	// Get returns the session with id.
	Get(id string) (*Session, bool)

	// Put adds or replaces a session.
	Put(s *Session)

	// Delete removes and returns the session with id, or nil if not present.
	Delete(id string) *Session

	// Range calls f for each session until f returns false.
	Range(f func(s *Session) bool)

	// Len returns the number of sessions.
	Len() int
}

// MemStore is a Store backed by a map.
type MemStore struct {
	sync.RWMutex
	sessions map[string]*Session
}

var _ Store = &MemStore{}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

func (m *MemStore) Get(id string) (*Session, bool) {
	m.RLock()
	defer m.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *MemStore) Put(s *Session) {
	m.Lock()
	defer m.Unlock()
	m.sessions[s.ID] = s
}

func (m *MemStore) Delete(id string) *Session {
	m.Lock()
	defer m.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	return s
}

// Range iterates over a snapshot, so f may modify the store.
func (m *MemStore) Range(f func(s *Session) bool) {
	m.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.RUnlock()
	for _, s := range snapshot {
		if !f(s) {
			return
		}
	}
}

func (m *MemStore) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.sessions)
}
