package websocket

import "sync"

// Registry tracks live connections by id and by user. A user may hold several
// connections at once.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connID -> Connection
	byUser      map[string]map[string]*Connection // userID -> connID -> Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
	}
}

func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if conn.UserID() == "" {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	conns := r.byUser[conn.UserID()]
	if conns == nil {
		conns = make(map[string]*Connection)
		r.byUser[conn.UserID()] = conns
	}
	conns[conn.ID()] = conn
	return nil
}

// Unregister removes conn. It is a no-op for unknown or replaced connections.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.connections[conn.ID()]; !ok || registered != conn {
		return
	}
	delete(r.connections, conn.ID())
	if conns, ok := r.byUser[conn.UserID()]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.byUser, conn.UserID())
		}
	}
}

func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// UserConnections returns every live connection of userID.
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// CloseAll closes every registered connection. Used during shutdown.
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

func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
		"connected_users":   len(r.byUser),
	}
}
