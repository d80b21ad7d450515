package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// StaleMessage tells staff screens to refetch a view.
type StaleMessage struct {
	Type       string `json:"type"`
	Entity     Entity `json:"entity"`
	BusinessID string `json:"business_id"`
}

// Hub keeps websocket subscribers per business.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[*websocket.Conn]struct{}
	upgrader    websocket.Upgrader
	logger      *zerolog.Logger
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin.
func NewHub(allowedOrigins []string, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "ws_hub").Logger()

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		subscribers: make(map[string]map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
		logger: &l,
	}
}

// ServeWS upgrades the request and keeps the connection subscribed to
// businessID until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, businessID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	if h.subscribers[businessID] == nil {
		h.subscribers[businessID] = make(map[*websocket.Conn]struct{})
	}
	h.subscribers[businessID][conn] = struct{}{}
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(businessID, conn)
}

func (h *Hub) remove(businessID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.subscribers[businessID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subscribers, businessID)
		}
	}
	conn.Close()
}

// Broadcast sends msg to every subscriber of businessID, dropping
// connections that fail to accept it.
func (h *Hub) Broadcast(businessID string, msg interface{}) {
	body, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal broadcast")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.subscribers[businessID] {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			delete(h.subscribers[businessID], conn)
			conn.Close()
		}
	}
}

// Subscribers returns the number of open connections for businessID.
func (h *Hub) Subscribers(businessID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[businessID])
}
