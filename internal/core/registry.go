package core

import (
	"sort"
	"sync"
)

// Registry maps users to their live connections.
// A user key exists only while it holds at least one connection.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
	conns int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[string]struct{})}
}

// Add registers connID under userID. Returns true on the user's 0→1 transition.
func (r *Registry) Add(userID, connID string) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{}, 1)
		r.users[userID] = set
	}
	if _, dup := set[connID]; dup {
		return false
	}
	set[connID] = struct{}{}
	r.conns++
	return !ok
}

// Remove deletes connID from userID. Returns true on the user's 1→0 transition.
// Removing an unknown pair is a no-op.
func (r *Registry) Remove(userID, connID string) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, present := set[connID]; !present {
		return false
	}
	delete(set, connID)
	r.conns--
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

// ConnectionsOf returns a copy of the user's connection IDs.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// AllOnlineUsers returns the sorted IDs of users with at least one connection.
func (r *Registry) AllOnlineUsers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// IsOnline reports whether the user holds a connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Len returns the number of online users and live connections.
func (r *Registry) Len() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), r.conns
}
