package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 32
)

// envelope is the websocket message frame: a type tag plus the event
// payload.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans events out to connected websocket clients. Clients that
// cannot keep up are dropped rather than blocking the publishers.
type hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub(log *zap.Logger) *hub {
	return &hub{log: log, clients: map[*wsClient]struct{}{}}
}

func (h *hub) broadcast(msgType string, data any) {
	raw, err := json.Marshal(envelope{Type: msgType, Data: data})
	if err != nil {
		h.log.Warn("encoding websocket event failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := normalizeOrigin(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients send no Origin; loopback-only
				// already applies.
				return r.Header.Get("Origin") == ""
			}
			_, ok := s.uiAllowedOrigins[origin]
			return ok
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	s.hub.register(client)

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) writePump(c *wsClient) {
	defer c.conn.Close()
	for raw := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards inbound messages; the socket is one-way. It exists
// to notice the close handshake and tear the client down.
func (s *Server) readPump(c *wsClient) {
	defer s.hub.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
