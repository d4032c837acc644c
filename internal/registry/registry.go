// Package registry is the single source of truth for which users are
// currently reachable over a live connection. It enforces the
// single-active-session policy: registering a new connection for a user
// force-closes the previous one.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/metrics"
)

// Bus event kinds published by the registry.
const (
	// EventPresenceChanged carries the full online-user snapshot ([]string).
	// Full snapshots, not diffs: a missed diff would leave clients drifted,
	// a missed snapshot is corrected by the next one.
	EventPresenceChanged = "presence.changed"
	// EventPresenceLeft carries the user ID (string) that went offline.
	// Internal-only; the signaling relay uses it to tear down call state.
	EventPresenceLeft = "presence.left"
)

// Conn is one live transport session owned by a user.
type Conn interface {
	// ID is the opaque transport-assigned connection identifier.
	ID() string
	// Send enqueues a payload for delivery. Returns false if the
	// connection's buffer is full or it is already closed.
	Send(payload []byte) bool
	// Close terminates the transport. Safe to call more than once.
	Close()
}

// Registry maps user identities to their single active connection.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]Conn
	owner  map[string]string // conn ID -> user ID, only for the active conn

	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates an empty registry.
func New(b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		byUser:  make(map[string]Conn),
		owner:   make(map[string]string),
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Register stores the connection as the user's active session. Any prior
// connection for the same user is force-closed; its late unregister will
// be a no-op because ownership already moved to the new connection.
func (r *Registry) Register(userID string, c Conn) {
	r.mu.Lock()
	old := r.byUser[userID]
	if old != nil {
		delete(r.owner, old.ID())
	}
	r.byUser[userID] = c
	r.owner[c.ID()] = userID
	online := r.snapshotLocked()
	// Snapshot broadcasts must leave in mutation order, so publish while
	// still holding the mutex; Publish never blocks. Closing the evicted
	// transport can block, so that stays outside.
	r.metrics.ActiveConnections.Set(float64(len(online)))
	r.bus.Publish(EventPresenceChanged, online)
	r.mu.Unlock()

	if old != nil {
		r.logger.Info("superseding connection",
			zap.String("user", userID),
			zap.String("old_conn", old.ID()),
			zap.String("new_conn", c.ID()))
		old.Close()
	} else {
		r.logger.Info("user online", zap.String("user", userID), zap.String("conn", c.ID()))
	}
}

// Unregister removes the mapping only if the given connection is still the
// one on record for its owner. Returns the owner when removal happened.
// Calling it for an already-replaced or already-removed connection is a
// no-op, not an error.
func (r *Registry) Unregister(c Conn) (string, bool) {
	r.mu.Lock()
	userID, ok := r.owner[c.ID()]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.owner, c.ID())
	delete(r.byUser, userID)
	online := r.snapshotLocked()
	r.metrics.ActiveConnections.Set(float64(len(online)))
	r.bus.Publish(EventPresenceLeft, userID)
	r.bus.Publish(EventPresenceChanged, online)
	r.mu.Unlock()

	r.logger.Info("user offline", zap.String("user", userID), zap.String("conn", c.ID()))
	return userID, true
}

// Resolve returns the user's active connection, if any.
func (r *Registry) Resolve(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// Snapshot returns the sorted set of currently online user IDs.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Conns returns all live connections, for full broadcasts.
func (r *Registry) Conns() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) snapshotLocked() []string {
	online := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		online = append(online, userID)
	}
	sort.Strings(online)
	return online
}
