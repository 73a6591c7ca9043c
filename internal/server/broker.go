package server

import (
	"log/slog"
	"sync"

	"orchmux/internal/mux"
	"orchmux/internal/protocol"
)

// Broker fans notifications out to subscribed connections. It implements
// the manager's event sink; Publish runs on the emitting task (pane reader,
// manager mutation) and only ever does a non-blocking enqueue per
// connection, so slow consumers cannot stall core I/O.
type Broker struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{conns: make(map[string]*Conn)}
}

func (b *Broker) register(c *Conn) {
	b.mu.Lock()
	b.conns[c.id] = c
	b.mu.Unlock()
}

func (b *Broker) unregister(c *Conn) {
	b.mu.Lock()
	if b.conns[c.id] == c {
		delete(b.conns, c.id)
	}
	b.mu.Unlock()
}

// Publish routes one event to every connection whose subscription set
// matches the method (exact or "*").
func (b *Broker) Publish(e mux.Event) {
	n, err := protocol.NewNotification(e.Method, e.Params)
	if err != nil {
		slog.Warn("[server] notification marshal failed", "method", e.Method, "error", err)
		return
	}

	b.mu.RLock()
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	for _, c := range conns {
		if !c.subscribedTo(e.Method) {
			continue
		}
		c.enqueueNotification(n, e)
	}
}

// closeAll begins Closing on every connection; used by graceful shutdown.
func (b *Broker) closeAll() {
	b.mu.RLock()
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.RUnlock()
	for _, c := range conns {
		c.beginClose("server shutdown")
	}
}

// connCount is used by tests.
func (b *Broker) connCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}
