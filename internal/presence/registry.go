// Package presence tracks which identities are reachable over a live connection.
package presence

import (
	"sort"
	"sync"

	"github.com/PaulBabatuyi/marketchat/internal/metrics"
	"github.com/PaulBabatuyi/marketchat/internal/normalize"
)

// EventPresenceChanged is broadcast whenever an identity goes on- or offline.
const EventPresenceChanged = "presence-changed"

// Conn is a live, addressable connection to a single client.
// Emit must not block on the network; transports enqueue and return.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
}

// Status is the payload of presence-changed and status-response events.
type Status struct {
	Email    string `json:"email"`
	IsOnline bool   `json:"isOnline"`
}

// Registry maps identities to their current connection handle and knows every
// attached connection so presence changes reach all of them.
//
// At most one handle is mapped per identity; a later Register wins. Unregister
// compares handles, so a disconnect from a superseded handle never evicts the
// newer mapping.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]Conn   // conn id -> conn, every attached connection
	byIdentity map[string]Conn   // identity -> current handle
	byConn     map[string]string // conn id -> identity it currently holds

	// emitMu is acquired before mu is released so broadcasts leave in the
	// same order as the mutations that caused them.
	emitMu   sync.Mutex
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewRegistry creates an empty registry that broadcasts through n.
func NewRegistry(n Notifier, m *metrics.Metrics) *Registry {
	return &Registry{
		conns:      make(map[string]Conn),
		byIdentity: make(map[string]Conn),
		byConn:     make(map[string]string),
		notifier:   n,
		metrics:    m,
	}
}

// Attach starts tracking c as a live connection. It is not addressable by
// identity until Register is called.
func (r *Registry) Attach(c Conn) {
	r.mu.Lock()
	r.conns[c.ID()] = c
	r.metrics.SetConnections(len(r.conns))
	r.mu.Unlock()
}

// Detach stops tracking c and unregisters the identity it holds, if any.
func (r *Registry) Detach(c Conn) (string, bool) {
	identity, ok := r.Unregister(c)

	r.mu.Lock()
	delete(r.conns, c.ID())
	r.metrics.SetConnections(len(r.conns))
	r.mu.Unlock()

	return identity, ok
}

// Register maps identity to c, replacing any previous handle for identity.
// If c held a different identity, that identity goes offline first. Repeating
// an existing (identity, c) mapping changes nothing and broadcasts nothing.
func (r *Registry) Register(identity string, c Conn) {
	identity = normalize.Email(identity)
	id := c.ID()

	r.mu.Lock()
	if cur, ok := r.byIdentity[identity]; ok && cur.ID() == id {
		r.mu.Unlock()
		return
	}

	var changes []Status
	if prev, ok := r.byConn[id]; ok && prev != identity {
		delete(r.byIdentity, prev)
		changes = append(changes, Status{Email: prev, IsOnline: false})
	}
	if old, ok := r.byIdentity[identity]; ok {
		// superseded handle keeps its connection but loses the identity
		delete(r.byConn, old.ID())
	}
	r.byIdentity[identity] = c
	r.byConn[id] = identity
	if _, ok := r.conns[id]; !ok {
		r.conns[id] = c
		r.metrics.SetConnections(len(r.conns))
	}
	r.metrics.SetOnline(len(r.byIdentity))
	changes = append(changes, Status{Email: identity, IsOnline: true})

	r.broadcastLocked(id, changes)
}

// Lookup returns the current handle for identity.
func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byIdentity[normalize.Email(identity)]
	return c, ok
}

// IsOnline reports whether identity currently has a registered handle.
func (r *Registry) IsOnline(identity string) bool {
	_, ok := r.Lookup(identity)
	return ok
}

// Unregister removes the identity currently mapped to exactly this handle and
// broadcasts it offline. A handle that was superseded by a newer registration
// holds no identity, so the call is a no-op.
func (r *Registry) Unregister(c Conn) (string, bool) {
	id := c.ID()

	r.mu.Lock()
	identity, ok := r.byConn[id]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	cur, mapped := r.byIdentity[identity]
	if !mapped || cur.ID() != id {
		// stale reverse entry; the identity moved on
		delete(r.byConn, id)
		r.mu.Unlock()
		return "", false
	}
	delete(r.byIdentity, identity)
	delete(r.byConn, id)
	r.metrics.SetOnline(len(r.byIdentity))

	r.broadcastLocked(id, []Status{{Email: identity, IsOnline: false}})
	return identity, true
}

// Online lists identities with a registered handle, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byIdentity))
	for identity := range r.byIdentity {
		out = append(out, identity)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Connections returns the number of attached connections.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// broadcastLocked must be called with r.mu held; it releases r.mu and sends
// every change to all attached connections except the one with id except.
func (r *Registry) broadcastLocked(except string, changes []Status) {
	targets := make([]Conn, 0, len(r.conns))
	for id, c := range r.conns {
		if id != except {
			targets = append(targets, c)
		}
	}

	r.emitMu.Lock()
	r.mu.Unlock()
	defer r.emitMu.Unlock()

	for _, st := range changes {
		for _, c := range targets {
			r.notifier.Notify(c, EventPresenceChanged, st)
		}
	}
}
