package server

import (
	"sync"

	"github.com/evolvlabs/viewmymeetings/internal/protocol"
)

// PushSender delivers one frame on an employee's push channel.
type PushSender interface {
	SendPush(tag protocol.Tag, payload string) error
}

// Member is a bound session as the registry sees it.
type Member interface {
	PushSender
	Close() error
}

// Registry maps authenticated employee IDs to their live session. At most one
// session per identity is bound at a time.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Member
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Member)}
}

// Bind associates the identity with the session and returns the session it
// displaced, if any. The caller closes the displaced session outside the
// registry lock.
func (r *Registry) Bind(employeeID string, m Member) (evicted Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted = r.sessions[employeeID]
	r.sessions[employeeID] = m
	return evicted
}

// Release removes the binding, but only if it still points at the given
// session. A session evicted by a newer login must not unbind its successor.
func (r *Registry) Release(employeeID string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[employeeID] == m {
		delete(r.sessions, employeeID)
	}
}

// Lookup returns the identity's live session.
func (r *Registry) Lookup(employeeID string) (PushSender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[employeeID]
	return m, ok
}

// Size reports the number of bound identities.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
