package gateway

import (
	"sync"
)

// Binding ties a live connection id to the room and username it joined as.
type Binding struct {
	RoomID   string
	Username string
}

// SessionBindings maps connection ids to bindings. A username can be bound
// from several connection ids over time (rejoins) but the room only honors
// the connection id it last saw for that username, so stale bindings route
// to no player.
type SessionBindings struct {
	mu     sync.RWMutex
	byConn map[string]Binding
}

// NewSessionBindings creates an empty binding table.
func NewSessionBindings() *SessionBindings {
	return &SessionBindings{
		byConn: make(map[string]Binding),
	}
}

// Bind records the room and username for a connection id, replacing any
// previous binding for that connection.
func (s *SessionBindings) Bind(connID, roomID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConn[connID] = Binding{RoomID: roomID, Username: username}
}

// Get returns the binding for a connection id.
func (s *SessionBindings) Get(connID string) (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byConn[connID]
	return b, ok
}

// Unbind removes and returns the binding for a connection id. Used on
// disconnect, after which the connection id routes nowhere.
func (s *SessionBindings) Unbind(connID string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byConn[connID]
	if ok {
		delete(s.byConn, connID)
	}
	return b, ok
}

// Len returns the number of live bindings.
func (s *SessionBindings) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConn)
}
