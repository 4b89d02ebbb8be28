// Package registry tracks identified peer connections and their liveness.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codefionn/diffbridge/internal/logger"
)

// Role identifies which side of the bridge a socket speaks for
type Role string

const (
	RoleUnassigned Role = ""
	RoleEditor     Role = "editor"
	RoleAssistant  Role = "assistant"
)

// Valid reports whether r is an assignable role
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleAssistant
}

var (
	// ErrRoleConflict is returned when a socket already registered under one
	// role is registered under another.
	ErrRoleConflict = errors.New("socket already identified with a different role")
	// ErrInvalidRole is returned for roles other than editor and assistant
	ErrInvalidRole = errors.New("invalid role")
)

// Socket is the part of a transport connection the registry needs
type Socket interface {
	ID() string
	IsOpen() bool
	Send(data []byte) error
}

// Liveness is the derived health state of a connection
type Liveness int

const (
	// Idle means no ping is outstanding
	Idle Liveness = iota
	// AwaitingPong means a ping was sent and the deadline has not passed
	AwaitingPong
	// Dead means the socket is closed or the pong deadline passed
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Idle:
		return "idle"
	case AwaitingPong:
		return "awaiting_pong"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Connection is the registry record for one identified socket
type Connection struct {
	ID                 string
	Role               Role
	Socket             Socket
	ConnectedAt        time.Time
	LastPingSentAt     *time.Time
	LastPongReceivedAt *time.Time

	// awaitingSince is the send time of the oldest unanswered ping
	awaitingSince time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry holds one Connection per identified socket
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	bySocket map[string]string // socket ID -> connection ID

	interval time.Duration
	now      func() time.Time
	probe    *probe
	log      *logger.Logger
}

// New creates a registry whose liveness probe fires every interval
func New(interval time.Duration, opts ...Option) *Registry {
	r := &Registry{
		conns:    make(map[string]*Connection),
		bySocket: make(map[string]string),
		interval: interval,
		now:      time.Now,
		log:      logger.Global().WithPrefix("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Interval returns the probe period
func (r *Registry) Interval() time.Duration {
	return r.interval
}

// Register records sock under role and returns the connection ID. Registering
// an already known socket with the same role returns its existing ID.
func (r *Registry) Register(sock Socket, role Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySocket[sock.ID()]; ok {
		existing := r.conns[id]
		if existing.Role != role {
			return "", fmt.Errorf("%w: %s is %s", ErrRoleConflict, id, existing.Role)
		}
		return id, nil
	}

	now := r.now()
	id := fmt.Sprintf("%s_%d", role, now.UnixMilli())
	for n := 1; ; n++ {
		if _, taken := r.conns[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s_%d_%d", role, now.UnixMilli(), n)
	}

	r.conns[id] = &Connection{
		ID:          id,
		Role:        role,
		Socket:      sock,
		ConnectedAt: now,
	}
	r.bySocket[sock.ID()] = id
	r.log.Info("Registered connection %s (socket %s)", id, sock.ID())
	return id, nil
}

// Unregister removes a connection. It reports whether the ID was known.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(id)
}

func (r *Registry) unregisterLocked(id string) bool {
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	delete(r.conns, id)
	if r.bySocket[conn.Socket.ID()] == id {
		delete(r.bySocket, conn.Socket.ID())
	}
	return true
}

// Lookup returns the connection ID registered for sock
func (r *Registry) Lookup(sock Socket) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySocket[sock.ID()]
	return id, ok
}

// Get returns a copy of the connection record
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// RecordPing notes that a ping was just sent on the connection
func (r *Registry) RecordPing(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	now := r.now()
	conn.LastPingSentAt = &now
	if conn.awaitingSince.IsZero() {
		conn.awaitingSince = now
	}
	return true
}

// RecordPong notes that a pong arrived on the connection
func (r *Registry) RecordPong(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	now := r.now()
	conn.LastPongReceivedAt = &now
	conn.awaitingSince = time.Time{}
	return true
}

// State returns the liveness of a connection
func (r *Registry) State(id string) (Liveness, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return Dead, false
	}
	return r.stateLocked(conn, r.now()), true
}

func (r *Registry) stateLocked(conn *Connection, now time.Time) Liveness {
	if !conn.Socket.IsOpen() {
		return Dead
	}
	if conn.awaitingSince.IsZero() {
		return Idle
	}
	if now.Sub(conn.awaitingSince) > 2*r.interval {
		return Dead
	}
	return AwaitingPong
}

// CheckHealth evicts dead connections and returns their IDs. Eviction does
// not close the socket.
func (r *Registry) CheckHealth() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var dead []string
	for id, conn := range r.conns {
		if r.stateLocked(conn, now) != Dead {
			continue
		}
		if conn.Socket.IsOpen() {
			r.log.Warn("Connection %s appears to be dead (no pong for %s)", id, now.Sub(conn.awaitingSince))
		}
		dead = append(dead, id)
	}

	for _, id := range dead {
		r.unregisterLocked(id)
	}
	sort.Strings(dead)
	return dead
}

// Clear drops every connection record
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = make(map[string]*Connection)
	r.bySocket = make(map[string]string)
}

// Cleanup stops the liveness probe and clears the registry
func (r *Registry) Cleanup() {
	r.StopLivenessProbe()
	r.Clear()
}

// ConnectionStatus is the diagnostic view of one connection
type ConnectionStatus struct {
	ID          string     `json:"id"`
	Role        Role       `json:"type"`
	ConnectedAt time.Time  `json:"connected"`
	LastPing    *time.Time `json:"last_ping,omitempty"`
	LastPong    *time.Time `json:"last_pong,omitempty"`
	IsAlive     bool       `json:"is_alive"`
	State       string     `json:"state"`
}

// Status aggregates the registry for diagnostics
type Status struct {
	Total       int                `json:"total"`
	Editor      int                `json:"editor"`
	Assistant   int                `json:"assistant"`
	Connections []ConnectionStatus `json:"connections"`
}

// Status returns counts by role and one entry per connection, ordered by ID
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	status := Status{
		Total:       len(r.conns),
		Connections: make([]ConnectionStatus, 0, len(r.conns)),
	}
	for id, conn := range r.conns {
		switch conn.Role {
		case RoleEditor:
			status.Editor++
		case RoleAssistant:
			status.Assistant++
		}
		status.Connections = append(status.Connections, ConnectionStatus{
			ID:          id,
			Role:        conn.Role,
			ConnectedAt: conn.ConnectedAt,
			LastPing:    conn.LastPingSentAt,
			LastPong:    conn.LastPongReceivedAt,
			IsAlive:     conn.Socket.IsOpen(),
			State:       r.stateLocked(conn, now).String(),
		})
	}
	sort.Slice(status.Connections, func(i, j int) bool {
		return status.Connections[i].ID < status.Connections[j].ID
	})
	return status
}

// IsConnected reports whether an open connection with role is registered
func (r *Registry) IsConnected(role Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		if conn.Role == role && conn.Socket.IsOpen() {
			return true
		}
	}
	return false
}
