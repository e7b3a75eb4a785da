package websocket

import (
	"sync"

	"classlens/pkg/interfaces"
)

// Registry tracks live presence channel connections by connection id
// ARCHITECTURAL DISCOVERY: Pure connection tracking without session logic;
// session membership lives in the roster, the registry only resolves ids to sockets
type Registry struct {
	mu          sync.RWMutex                   // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*Connection         // connectionID -> Connection
	byAccount   map[string]map[string]struct{} // accountID -> connectionIDs
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byAccount:   make(map[string]map[string]struct{}),
	}
}

// RegisterConnection adds a connection
// FUNCTIONAL DISCOVERY: One account may hold several connections (a teacher
// with two tabs), so nothing is replaced on register
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn

	accountID := conn.Identity().AccountID
	ids, ok := r.byAccount[accountID]
	if !ok {
		ids = make(map[string]struct{})
		r.byAccount[accountID] = ids
	}
	ids[conn.ID()] = struct{}{}

	return nil
}

// UnregisterConnection removes a connection; idempotent
// RACE CONDITION FIX: Only removes the entry if it is the same instance that was registered
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return
	}
	delete(r.connections, conn.ID())

	accountID := conn.Identity().AccountID
	if ids, ok := r.byAccount[accountID]; ok {
		delete(ids, conn.ID())
		if len(ids) == 0 {
			delete(r.byAccount, accountID)
		}
	}
}

// GetConnection returns the connection for an id with O(1) lookup
func (r *Registry) GetConnection(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connectionID]
	return conn, exists
}

// AccountConnections returns the number of live connections for an account
func (r *Registry) AccountConnections(accountID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byAccount[accountID])
}

// CloseAll closes every registered connection, used during shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"unique_accounts":   len(r.byAccount),
	}
}

// Lookup is GetConnection behind the interfaces.Connection abstraction for delivery
func (r *Registry) Lookup(connectionID string) (interfaces.Connection, bool) {
	conn, ok := r.GetConnection(connectionID)
	if !ok {
		return nil, false
	}
	return conn, true
}
