// Package notify delivers engine events to users over WebSocket.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atlasx/settlement-engine/internal/metrics"
	"github.com/atlasx/settlement-engine/internal/model"
)

// Notifier is the engine's event sink. Delivery is best effort; settlement
// never blocks on a slow consumer.
type Notifier interface {
	Notify(userID string, ev model.Event)
}

// Noop discards all events. Used in tests.
type Noop struct{}

func (Noop) Notify(string, model.Event) {}

// envelope is the wire form of an event: the variant kind plus its payload.
type envelope struct {
	Type string      `json:"type"`
	Data model.Event `json:"data"`
}

type userMessage struct {
	userID string
	data   []byte
}

// Hub manages WebSocket connections and routes each event to the sockets of
// the user it belongs to.
type Hub struct {
	clients    map[*websocket.Conn]string
	broadcast  chan userMessage
	register   chan registration
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

type registration struct {
	conn   *websocket.Conn
	userID string
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan userMessage, 256),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.conn] = reg.userID
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "user_id", reg.userID, "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, uid := range h.clients {
				if uid != msg.userID {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Notify sends an event to every connection the user has open.
func (h *Hub) Notify(userID string, ev model.Event) {
	data, err := json.Marshal(envelope{Type: ev.Kind(), Data: ev})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- userMessage{userID: userID, data: data}:
	default:
		// Drop if buffer full to avoid blocking settlement.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The user id
// comes from the user_id query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- registration{conn: conn, userID: userID}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
