package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice-logs/pubsub"
)

// Hub mantém as conexões WebSocket inscritas por jogador
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	// player -> conexões
	subs map[string]map[*conn]struct{}
}

// conn serializa as escritas: gorilla não aceita writers concorrentes
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// NewHub cria o hub com política de origem customizada
func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*conn]struct{}),
	}
}

// HandleWS atende uma conexão até o cliente desconectar
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: wsConn}
	defer wsConn.Close()

	for {
		var msg ClientMsg
		if err := wsConn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if msg.Player != "" {
				h.subscribe(msg.Player, c)
			}
		case "unsubscribe":
			h.unsubscribe(msg.Player, c)
		case "ping":
			_ = c.write([]byte(`{"type":"pong"}`))
		}
	}

	h.mu.Lock()
	for player, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, player)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) subscribe(player string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[player]; !ok {
		h.subs[player] = make(map[*conn]struct{})
	}
	h.subs[player][c] = struct{}{}
}

func (h *Hub) unsubscribe(player string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[player]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, player)
		}
	}
}

// subscribers retorna quantas conexões acompanham o jogador
func (h *Hub) subscribers(player string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[player])
}

// Broadcast envia o aviso para as conexões inscritas no destinatário
func (h *Hub) Broadcast(n pubsub.Notice) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.subs[n.Recipient]))
	for c := range h.subs[n.Recipient] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	for _, c := range conns {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.String("player", n.Recipient), zap.Error(err))
		}
	}
}
