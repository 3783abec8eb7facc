package realtime

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/spec-kit/student-support/internal/events"
	"github.com/spec-kit/student-support/internal/observability"
)

// ErrUnknownConnection is returned when subscribing a connection that is not registered.
var ErrUnknownConnection = errors.New("realtime: unknown connection")

// Connection is one live client session bound to a single user for its lifetime.
type Connection struct {
	id     string
	userID string

	mu     sync.Mutex
	closed bool
	send   chan events.Event
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// UserID returns the authenticated user behind the connection.
func (c *Connection) UserID() string { return c.userID }

// Events is closed when the connection is disconnected.
func (c *Connection) Events() <-chan events.Event { return c.send }

// deliver never blocks. It reports false when the connection is gone or its buffer is full.
func (c *Connection) deliver(event events.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Registry tracks live connections, the user each belongs to, and the threads each follows.
type Registry struct {
	mu          sync.RWMutex
	bufferSize  int
	connections map[string]*Connection
	byUser      map[string]map[string]*Connection
	byThread    map[string]map[string]*Connection
	threadsOf   map[string]map[string]struct{}
	metrics     *observability.Metrics
}

// NewRegistry creates an empty registry. bufferSize bounds each connection's pending events.
func NewRegistry(bufferSize int, metrics *observability.Metrics) *Registry {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Registry{
		bufferSize:  bufferSize,
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
		byThread:    make(map[string]map[string]*Connection),
		threadsOf:   make(map[string]map[string]struct{}),
		metrics:     metrics,
	}
}

// Connect registers a new connection for userID.
func (r *Registry) Connect(userID string) *Connection {
	conn := &Connection{
		id:     uuid.NewString(),
		userID: userID,
		send:   make(chan events.Event, r.bufferSize),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.id] = conn
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][conn.id] = conn
	r.threadsOf[conn.id] = make(map[string]struct{})
	r.metrics.SetConnections(len(r.connections))
	return conn
}

// Subscribe adds the connection to the thread's subscriber set. Subscribing twice is a no-op.
func (r *Registry) Subscribe(connID, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if r.byThread[threadID] == nil {
		r.byThread[threadID] = make(map[string]*Connection)
	}
	r.byThread[threadID][connID] = conn
	r.threadsOf[connID][threadID] = struct{}{}
	return nil
}

// Unsubscribe removes the connection from the thread's subscriber set.
func (r *Registry) Unsubscribe(connID, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeSubscription(connID, threadID)
}

// Disconnect removes the connection from every subscriber set and closes its event channel.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	conn, ok := r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	for threadID := range r.threadsOf[connID] {
		r.removeSubscription(connID, threadID)
	}
	delete(r.threadsOf, connID)
	delete(r.connections, connID)
	if users := r.byUser[conn.userID]; users != nil {
		delete(users, connID)
		if len(users) == 0 {
			delete(r.byUser, conn.userID)
		}
	}
	r.metrics.SetConnections(len(r.connections))
	r.mu.Unlock()

	conn.close()
}

// Subscribers returns a snapshot of the connections following threadID.
func (r *Registry) Subscribers(threadID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.byThread[threadID]
	out := make([]*Connection, 0, len(subs))
	for _, conn := range subs {
		out = append(out, conn)
	}
	return out
}

// UserConnections returns a snapshot of the connections held by userID.
func (r *Registry) UserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]*Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn)
	}
	return out
}

// Subscriptions returns the thread ids a connection follows.
func (r *Registry) Subscriptions(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.threadsOf[connID]))
	for threadID := range r.threadsOf[connID] {
		out = append(out, threadID)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) removeSubscription(connID, threadID string) {
	if subs := r.byThread[threadID]; subs != nil {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.byThread, threadID)
		}
	}
	if threads := r.threadsOf[connID]; threads != nil {
		delete(threads, threadID)
	}
}
