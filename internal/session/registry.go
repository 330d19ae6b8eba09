// Package session tracks which live connections hold a verified identity and
// where each connection is in its login lifecycle.
package session

import (
	"sync"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Registry maps connection ids to verified identities. Entries exist only for
// live, authenticated connections and are never persisted.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]chat.Identity
}

func NewRegistry() *Registry {
	return &Registry{identities: make(map[string]chat.Identity)}
}

// Attach records the identity for a connection, replacing any previous one.
func (r *Registry) Attach(connectionID string, identity chat.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[connectionID] = identity
}

// Lookup returns the identity attached to a connection, if any.
func (r *Registry) Lookup(connectionID string) (chat.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[connectionID]
	return identity, ok
}

// Detach forgets a connection. Detaching an unknown connection is a no-op.
func (r *Registry) Detach(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.identities, connectionID)
}

// Len is the number of authenticated connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}
