// Package presence tracks who is connected to the chat room.
package presence

import "sync"

// Entry is the roster record for one live connection.
type Entry struct {
	Username string  `json:"username"`
	SocketID string  `json:"socketId"`
	UserID   *string `json:"userId"`
}

// Registry maps connection ids to entries and remembers insertion order.
// Duplicate usernames across connections are allowed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or overwrites the entry for connID. An overwrite keeps the
// connection's original position.
func (r *Registry) Register(connID, username string, userID *string) Entry {
	e := Entry{Username: username, SocketID: connID, UserID: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[connID]; !ok {
		r.order = append(r.order, connID)
	}
	r.entries[connID] = e
	return e
}

// Unregister removes connID and reports whether it was present.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.remove(connID)
}

// RemoveFirstByUsername drops the earliest entry with username.
func (r *Registry) RemoveFirstByUsername(username string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if e := r.entries[id]; e.Username == username {
			r.remove(id)
			return e, true
		}
	}
	return Entry{}, false
}

// FindByUsername returns the earliest entry with username.
func (r *Registry) FindByUsername(username string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if e := r.entries[id]; e.Username == username {
			return e, true
		}
	}
	return Entry{}, false
}

func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[connID]
	return e, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Snapshot copies the roster in insertion order.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *Registry) remove(connID string) bool {
	if _, ok := r.entries[connID]; !ok {
		return false
	}
	delete(r.entries, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
