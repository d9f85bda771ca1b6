// Package server tracks live sessions and their room memberships via the
// Registry type, the single source of truth for "who is connected" and
// "who is in which room".
package server

import "sync"

// Registry indexes live sessions two ways: a session set for lifecycle
// operations and a room -> member-set index so fan-out never scans every
// connection. The index is maintained on every join, leave, and unregister
// and is always derived from the sessions' own room sets.
//
// Only the hub's dispatch goroutine mutates the registry; the lock exists so
// read-side snapshots (fan-out targets, presence rosters, stats) are
// consistent point-in-time views.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	rooms    map[string]map[*Session]struct{}
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
		rooms:    make(map[string]map[*Session]struct{}),
	}
}

// Register adds a session with no room memberships. Registering the same
// session twice is a no-op.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

// Unregister removes a session and every room membership it holds. It
// reports whether the session was present so callers can tolerate duplicate
// close signals; a second call is a no-op, never an error.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s]; !ok {
		return false
	}

	delete(r.sessions, s)
	for roomID := range s.rooms {
		r.removeMember(roomID, s)
	}
	s.rooms = make(map[string]struct{})
	return true
}

// Join adds the session to a room. It reports whether membership changed;
// repeated joins are idempotent.
func (r *Registry) Join(s *Session, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s]; !ok {
		return false
	}
	if _, member := s.rooms[roomID]; member {
		return false
	}

	s.rooms[roomID] = struct{}{}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[roomID] = members
	}
	members[s] = struct{}{}
	return true
}

// Leave removes the session from a room. Leaving a room the session never
// joined is a no-op.
func (r *Registry) Leave(s *Session, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, member := s.rooms[roomID]; !member {
		return false
	}

	delete(s.rooms, roomID)
	r.removeMember(roomID, s)
	return true
}

// MembersOf returns a snapshot of the sessions currently joined to a room.
// The returned slice is owned by the caller and unaffected by later
// membership changes.
func (r *Registry) MembersOf(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}

	snapshot := make([]*Session, 0, len(members))
	for s := range members {
		snapshot = append(snapshot, s)
	}
	return snapshot
}

// Snapshot returns every registered session, in no particular order.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	return snapshot
}

// Contains reports whether the session is registered.
func (r *Registry) Contains(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[s]
	return ok
}

// Counts returns the number of live sessions and non-empty rooms.
func (r *Registry) Counts() (sessions, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.rooms)
}

// removeMember must be called with the write lock held. Rooms vanish when
// their last member leaves; there is no separate room lifecycle.
func (r *Registry) removeMember(roomID string, s *Session) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
