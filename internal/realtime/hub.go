package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"dreamweaver-server/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Message is the frame pushed to world subscribers.
type Message struct {
	Type    string               `json:"type"`
	Payload models.TurnCommitted `json:"payload"`
}

// MessageTypeTurnCommitted marks a committed-turn frame.
const MessageTypeTurnCommitted = "turn_committed"

type client struct {
	worldID string
	userID  string
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

func (c *client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

// Hub keeps the websocket subscribers of every world and fans committed turns
// out to them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu     sync.RWMutex
	worlds map[string]map[*client]struct{}
}

// NewHub creates a Hub. An empty origins list, or one containing "*", accepts
// any Origin header.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	h := &Hub{
		logger: logger.Named("RealtimeHub"),
		worlds: make(map[string]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// ServeWS upgrades the request and subscribes the connection to the world
// named by the world_id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	worldID := r.URL.Query().Get("world_id")
	if err := models.ValidateWorldID(worldID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID := r.URL.Query().Get("user_id")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.String("worldID", worldID), zap.Error(err))
		return
	}
	c := &client{worldID: worldID, userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	log := h.logger.With(zap.String("worldID", worldID), zap.String("userID", userID))
	log.Info("Subscriber connected")
	go c.writePump(log)
	go c.readPump(h, log)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.worlds[c.worldID]
	if !ok {
		subs = make(map[*client]struct{})
		h.worlds[c.worldID] = subs
	}
	subs[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.worlds[c.worldID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.worlds, c.worldID)
		}
	}
	c.closeSend()
}

// Subscribers returns the number of open connections for worldID.
func (h *Hub) Subscribers(worldID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.worlds[worldID])
}

// NotifyTurnCommitted queues event for every subscriber of its world. Slow
// subscribers whose buffer is full miss the frame.
func (h *Hub) NotifyTurnCommitted(_ context.Context, event models.TurnCommitted) error {
	frame, err := json.Marshal(Message{Type: MessageTypeTurnCommitted, Payload: event})
	if err != nil {
		return fmt.Errorf("realtime: marshal turn event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.worlds[event.WorldID] {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("Subscriber send queue full, dropping frame",
				zap.String("worldID", event.WorldID), zap.String("userID", c.userID))
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for worldID, subs := range h.worlds {
		for c := range subs {
			c.closeSend()
		}
		delete(h.worlds, worldID)
	}
}

// readPump discards client frames and keeps the read deadline fresh.
func (c *client) readPump(h *Hub, log *zap.Logger) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		log.Info("Subscriber disconnected")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump(log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn("Failed to write frame", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}
