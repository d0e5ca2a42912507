// Package ws carries chat events over gorilla websocket connections.
package ws

import (
	"context"
	"sync"

	"chatroom/backend/pkg/logger"
	wire "chatroom/backend/pkg/ws"
	"chatroom/backend/shared/observability"
)

// Namespaces a connection can belong to.
const (
	NamespaceMain  = "main"
	NamespaceAdmin = "admin"
)

// Hub tracks live connections per namespace and fans events out to them.
// Attach and detach are serialized by Run; delivery never blocks.
type Hub struct {
	mu     sync.RWMutex
	main   map[string]*Client
	admins map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	metrics *observability.Metrics
	log     *logger.Logger
}

func NewHub(metrics *observability.Metrics, log *logger.Logger) *Hub {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		main:       make(map[string]*Client),
		admins:     make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    metrics,
		log:        log.WithComponent("hub"),
	}
}

// Run processes attach and detach requests until ctx ends, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.table(client.Namespace)[client.ID] = client
			h.mu.Unlock()
			h.metrics.ConnectionOpened(client.Namespace)
			close(client.registered)
			h.log.Debug("Client registered", "conn_id", client.ID, "namespace", client.Namespace)

		case client := <-h.unregister:
			h.mu.Lock()
			h.detach(client)
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for _, table := range []map[string]*Client{h.main, h.admins} {
				for _, client := range table {
					h.detach(client)
				}
			}
			h.mu.Unlock()
			close(h.done)
			return
		}
	}
}

// Register attaches client and returns once it can receive events. It
// reports false if the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
	case <-h.done:
		return false
	}
	<-client.registered
	return true
}

// Unregister detaches client if it is still attached.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastAll sends ev to every main namespace connection.
func (h *Hub) BroadcastAll(ev wire.Event) {
	h.broadcast(NamespaceMain, ev)
}

// BroadcastAdmins sends ev to every admin namespace connection.
func (h *Hub) BroadcastAdmins(ev wire.Event) {
	h.broadcast(NamespaceAdmin, ev)
}

// Send delivers ev to one connection in either namespace.
func (h *Hub) Send(connID string, ev wire.Event) bool {
	data, ok := h.encode(ev)
	if !ok {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, found := h.main[connID]
	if !found {
		client, found = h.admins[connID]
	}
	if !found {
		return false
	}
	return h.enqueue(client, ev.Type(), data)
}

// Disconnect detaches connID; events already queued are written before the
// close frame.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.main[connID]; ok {
		h.detach(client)
		return
	}
	if client, ok := h.admins[connID]; ok {
		h.detach(client)
	}
}

// Count returns the number of live connections in namespace.
func (h *Hub) Count(namespace string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.table(namespace))
}

func (h *Hub) broadcast(namespace string, ev wire.Event) {
	data, ok := h.encode(ev)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.table(namespace) {
		h.enqueue(client, ev.Type(), data)
	}
}

func (h *Hub) encode(ev wire.Event) ([]byte, bool) {
	data, err := wire.Encode(ev)
	if err != nil {
		h.log.LogError(err, "Failed to encode event", "type", ev.Type())
		return nil, false
	}
	return data, true
}

// enqueue must be called with at least the read lock held.
func (h *Hub) enqueue(client *Client, eventType string, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		h.metrics.EventDropped(eventType)
		h.log.Warn("Dropped event for slow client", "conn_id", client.ID, "type", eventType)
		return false
	}
}

// detach must be called with the write lock held.
func (h *Hub) detach(client *Client) {
	table := h.table(client.Namespace)
	if current, ok := table[client.ID]; !ok || current != client {
		return
	}
	delete(table, client.ID)
	close(client.send)
	h.metrics.ConnectionClosed(client.Namespace)
	h.log.Debug("Client unregistered", "conn_id", client.ID, "namespace", client.Namespace)
}

func (h *Hub) table(namespace string) map[string]*Client {
	if namespace == NamespaceAdmin {
		return h.admins
	}
	return h.main
}
