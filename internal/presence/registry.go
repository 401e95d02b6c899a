package presence

import (
	"sync"
	"time"
)

// Pusher is the minimal surface of a live connection the delivery path
// needs. Push must never block and reports whether the event was
// accepted; a push to a dead connection returns false and is treated as
// a silent no-op by callers.
type Pusher interface {
	Push(event string, payload any) bool
}

// Entry holds the connection metadata for one principal.
type Entry struct {
	Conn     Pusher
	LastSeen time.Time
	IsActive bool
}

// Registry is the process-local mapping from principal id to connection
// metadata. It is mutated on every connect/disconnect and read by every
// delivery attempt, so all access goes through the mutex. Entries are
// overwritten on reconnect (last-writer-wins, one slot per principal)
// and never persisted; the registry is rebuilt from live connections
// after a restart.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register sets or overwrites the entry for user. A principal connected
// from two devices is represented by the most recent connection only;
// this is a deliberate single-connection-per-user simplification.
func (r *Registry) Register(user string, conn Pusher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[user] = &Entry{
		Conn:     conn,
		LastSeen: time.Now(),
		IsActive: true,
	}
}

// Unregister removes the entry for user regardless of which connection
// holds it. Used for explicit logout.
func (r *Registry) Unregister(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, user)
}

// UnregisterConn removes the entry for user only if conn still holds the
// slot. A stale connection disconnecting after a reconnect must not evict
// the live one.
func (r *Registry) UnregisterConn(user string, conn Pusher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[user]; ok && entry.Conn == conn {
		delete(r.entries, user)
	}
}

// IsOnline reports whether user currently holds a live connection.
func (r *Registry) IsOnline(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[user]
	return ok
}

// Lookup returns the connection handle for user, or nil when offline.
func (r *Registry) Lookup(user string) Pusher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.entries[user]; ok {
		return entry.Conn
	}
	return nil
}

// Touch refreshes the last-seen timestamp for user.
func (r *Registry) Touch(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[user]; ok {
		entry.LastSeen = time.Now()
	}
}

// Online returns the ids of all currently connected principals.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.entries))
	for user := range r.entries {
		users = append(users, user)
	}
	return users
}

// Count returns the number of connected principals.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
