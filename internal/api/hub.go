package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"PacketRadar/internal/metrics"
	"PacketRadar/internal/model"
	"PacketRadar/internal/snapshot"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientSendSize = 4
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	mode string
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes map points to connected WebSocket clients after every snapshot.
// A client that cannot keep up misses updates rather than blocking the engine.
type Hub struct {
	store   *snapshot.Store
	metrics *metrics.Exporter

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub. New clients are primed from store.
func NewHub(store *snapshot.Store, m *metrics.Exporter) *Hub {
	return &Hub{store: store, metrics: m, clients: make(map[*client]struct{})}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends the points of snap to every client in its chosen mode.
func (h *Hub) Broadcast(snap model.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}

	msgs := make(map[string][]byte, 2)
	for c := range h.clients {
		msg, ok := msgs[c.mode]
		if !ok {
			var err error
			msg, err = encodePoints(c.mode, snap)
			if err != nil {
				log.Printf("Failed to encode points: %v", err)
				return
			}
			msgs[c.mode] = msg
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	mode, ok := parseMode(r)
	if !ok {
		http.Error(w, "unknown mode", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{mode: mode, conn: conn, send: make(chan []byte, clientSendSize)}
	if snap, ok := h.store.Latest(); ok {
		if msg, err := encodePoints(mode, snap); err == nil {
			c.send <- msg
		}
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SetClients(n)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SetClients(n)
	}
}

// readPump only watches for the peer going away; clients never send data.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodePoints(mode string, snap model.Snapshot) ([]byte, error) {
	return json.Marshal(PointsPayload{Mode: mode, Points: nonNil(snap.Points(mode))})
}
