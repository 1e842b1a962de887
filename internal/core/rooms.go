package core

import "sync"

// room groups the connections subscribed to one chat.
type room struct {
	conns map[string]struct{}
}

func newRoom() *room {
	return &room{conns: make(map[string]struct{})}
}

// add inserts a connection. Returns true if newly added.
func (r *room) add(connID string) bool {
	if _, exists := r.conns[connID]; exists {
		return false
	}
	r.conns[connID] = struct{}{}
	return true
}

// remove deletes a connection. Returns true if removed.
func (r *room) remove(connID string) bool {
	if _, exists := r.conns[connID]; !exists {
		return false
	}
	delete(r.conns, connID)
	return true
}

func (r *room) empty() bool {
	return len(r.conns) == 0
}

// Router keeps chat rooms and the reverse index used for cleanup.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]*room               // chatID -> connections
	conns map[string]map[string]struct{} // attached connID -> chatIDs
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{
		rooms: make(map[string]*room),
		conns: make(map[string]map[string]struct{}),
	}
}

// Attach opens connID for membership. Joins on a connection that was never
// attached, or already left, are refused.
func (r *Router) Attach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; !ok {
		r.conns[connID] = make(map[string]struct{})
	}
}

// JoinRoom adds connID to chatID. Returns true if newly joined.
func (r *Router) JoinRoom(connID, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(connID, chatID)
}

// JoinAll joins connID to every chat and returns how many were newly joined.
func (r *Router) JoinAll(connID string, chatIDs []string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := 0
	for _, chatID := range chatIDs {
		if r.joinLocked(connID, chatID) {
			joined++
		}
	}
	return joined
}

func (r *Router) joinLocked(connID, chatID string) bool {
	chats, attached := r.conns[connID]
	if !attached || chatID == "" {
		return false
	}
	rm, ok := r.rooms[chatID]
	if !ok {
		rm = newRoom()
		r.rooms[chatID] = rm
	}
	if !rm.add(connID) {
		return false
	}
	chats[chatID] = struct{}{}
	return true
}

// LeaveAll removes connID from every room and detaches it. Returns the chats it left.
func (r *Router) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)

	left := make([]string, 0, len(chats))
	for chatID := range chats {
		rm, exists := r.rooms[chatID]
		if !exists {
			continue
		}
		if rm.remove(connID) {
			left = append(left, chatID)
		}
		if rm.empty() {
			delete(r.rooms, chatID)
		}
	}
	return left
}

// MembersOf returns the connections currently joined to chatID.
func (r *Router) MembersOf(chatID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[chatID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.conns))
	for id := range rm.conns {
		ids = append(ids, id)
	}
	return ids
}

// RoomsOf returns the chats connID is joined to.
func (r *Router) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chats := r.conns[connID]
	ids := make([]string, 0, len(chats))
	for id := range chats {
		ids = append(ids, id)
	}
	return ids
}

// InRoom reports whether connID is joined to chatID.
func (r *Router) InRoom(connID, chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[connID][chatID]
	return ok
}

// Len returns the number of non-empty rooms.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
