package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// ──────────────────── WebSocket Hub ────────────────────

// WSHub pushes coordinator status events (task:update, scan:item, scan:done)
// to connected front-end clients.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool

	lastMu   sync.RWMutex
	lastTask json.RawMessage // most recent task:update, replayed to new clients
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type wsMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func NewWSHub() *WSHub {
	return &WSHub{clients: make(map[*wsClient]bool)}
}

func (h *WSHub) Broadcast(event string, data interface{}) {
	msg, err := json.Marshal(wsMessage{Event: event, Data: data})
	if err != nil {
		return
	}

	if event == "task:update" {
		h.lastMu.Lock()
		h.lastTask = json.RawMessage(msg)
		h.lastMu.Unlock()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (h *WSHub) addClient(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	// Replay the latest worker state so a fresh client doesn't wait for
	// the next transition.
	h.lastMu.RLock()
	last := h.lastTask
	h.lastMu.RUnlock()
	if last != nil {
		select {
		case c.send <- last:
		default:
		}
	}
}

func (h *WSHub) removeClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────── WebSocket Handler ────────────────────

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.hub.addClient(client)
	log.Printf("WebSocket client connected (%d total)", s.hub.ClientCount())

	ctx := r.Context()

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range client.send {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Reader loop only keeps the connection alive; the agent pushes, the
	// client listens.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.hub.removeClient(client)
	log.Println("WebSocket client disconnected")
}
