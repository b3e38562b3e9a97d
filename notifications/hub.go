package notifications

import (
	"net/http"
	"sync"

	"github.com/btcsuite/websocket"

	"github.com/folionet/foliod/util/panics"
)

var spawn = panics.GoroutineWrapperFunc(log)

// Hub fans notification messages out to all connected websocket clients.
// Sends never block the pipeline: a client too slow to drain its queue is
// dropped.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

const clientQueueSize = 256

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeWS upgrades an HTTP request into a notification subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Failed to upgrade websocket connection: %s", err)
		return
	}
	c := &client{conn: conn, send: make(chan Message, clientQueueSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	spawn(func() { h.writeLoop(c) })
	spawn(func() { h.readLoop(c) })
}

func (h *Hub) writeLoop(c *client) {
	for message := range c.send {
		if err := c.conn.WriteJSON(message); err != nil {
			log.Debugf("Dropping websocket client after write error: %s", err)
			h.drop(c)
			return
		}
	}
	c.conn.Close()
}

// readLoop discards inbound frames and notices disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			// The client can't keep up. Disconnect it rather than
			// block the pipeline.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
