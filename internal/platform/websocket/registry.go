package websocket

import (
	"sort"
	"sync"
)

// Entry is one (user, handle) pair held by the registry.
type Entry struct {
	UserID string
	Handle *Handle
}

// Registry maps each authenticated user to their single live handle. All
// operations are thread-safe via sync.RWMutex.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Handle
	// owners is a lookup aid for Remove; byUser stays authoritative.
	owners map[*Handle]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Handle),
		owners: make(map[*Handle]string),
	}
}

// Register binds h to userID, replacing any previous handle for that user.
// The superseded handle is returned so the caller can decide whether to close it.
func (r *Registry) Register(userID string, h *Handle) (previous *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.owners[h]; ok && prevUser != userID {
		if r.byUser[prevUser] == h {
			delete(r.byUser, prevUser)
		}
	}

	previous = r.byUser[userID]
	if previous == h {
		previous = nil
	}
	if previous != nil {
		delete(r.owners, previous)
	}

	r.byUser[userID] = h
	r.owners[h] = userID
	return previous
}

// Lookup returns the current handle for userID.
func (r *Registry) Lookup(userID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byUser[userID]
	return h, ok
}

// Remove deletes whichever entry currently holds exactly h. It reports
// whether an entry was removed; a superseded handle removes nothing.
func (r *Registry) Remove(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	hint, hinted := r.owners[h]
	delete(r.owners, h)

	// The owner hint is only trusted once byUser confirms it.
	if hinted && r.byUser[hint] == h {
		delete(r.byUser, hint)
		return true
	}
	for userID, current := range r.byUser {
		if current == h {
			delete(r.byUser, userID)
			return true
		}
	}
	return false
}

// All returns a snapshot of every entry, ordered by user ID.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.byUser))
	for userID, h := range r.byUser {
		entries = append(entries, Entry{UserID: userID, Handle: h})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
