package rpc

import "sync"

// Engine is the process-scoped registry a host uses to catch a
// duplicate connection id — Design Notes §9's "global connection
// registry on the host," rendered as an explicit struct instead of a
// package-level singleton so a process can run more than one
// independent host without shared mutable state. One Engine is passed
// to every ConnectHost call that should share a duplicate-id check;
// ConnectGuest accepts one too, purely so both sides of the API look
// the same, but a guest never populates it beyond its own connection.
type Engine struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// NewEngine creates an empty connection registry.
func NewEngine() *Engine {
	return &Engine{conns: make(map[string]*Connection)}
}

func (e *Engine) register(conn *Connection) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.conns[conn.ID]; exists {
		return ErrDuplicateConnection
	}
	e.conns[conn.ID] = conn
	return nil
}

func (e *Engine) unregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, id)
}

// Connections returns the ids currently registered.
func (e *Engine) Connections() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.conns))
	for id := range e.conns {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every connection still registered with the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	conns := make([]*Connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return nil
}
