package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rawblock/keysweep/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local operator tooling
	},
}

const writeTimeout = 5 * time.Second

// Hub fans scan events (descriptor hits, UTXOs found, session completion)
// out to websocket subscribers. A subscriber may follow one scan session
// or every session on the engine.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]string // conn -> session filter; "" follows everything
	events  chan models.ScanEvent
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]string),
		events:  make(chan models.ScanEvent, 256),
	}
}

// Run delivers queued events until the events channel closes. Each event
// is marshalled once per broadcast, not once per client.
func (h *Hub) Run() {
	for ev := range h.events {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[Hub] dropping unmarshallable event: %v", err)
			continue
		}

		h.mu.Lock()
		for conn, filter := range h.clients {
			if filter != "" && filter != ev.SessionID {
				continue
			}
			// Bound each write so one stalled client cannot hold up the hub.
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("[Hub] dropping client after write error: %v", err)
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe upgrades the request to a websocket. A `session` query
// parameter narrows the stream to that scan session's events; without it
// the client receives events from every session.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Hub] failed to upgrade websocket: %v", err)
		return
	}
	filter := c.Query("session")

	h.mu.Lock()
	h.clients[conn] = filter
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[Hub] client subscribed (session=%q). Total clients: %d", filter, total)

	// The stream is push-only, but the connection must still be read to
	// observe disconnects.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			remaining := len(h.clients)
			h.mu.Unlock()
			conn.Close()
			log.Printf("[Hub] client disconnected. Total clients: %d", remaining)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[Hub] websocket error: %v", err)
				}
				return
			}
		}
	}()
}

// Broadcast enqueues one scan event for delivery.
func (h *Hub) Broadcast(ev models.ScanEvent) {
	h.events <- ev
}
