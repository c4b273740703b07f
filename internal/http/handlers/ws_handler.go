package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pulsecrm/delivery/internal/auth"
	"github.com/pulsecrm/delivery/internal/broker"
	"go.uber.org/zap"
)

// WSHub fans the processed analytics stream out to dashboard connections.
type WSHub struct {
	secret      string
	broker      *broker.Broker
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	sub         *broker.Subscription
}

func NewWSHub(secret string, b *broker.Broker, log *zap.Logger) *WSHub {
	return &WSHub{
		secret:      secret,
		broker:      b,
		log:         log,
		connections: make(map[uuid.UUID][]*websocket.Conn),
	}
}

// Start subscribes to the analytics channel. Payloads are forwarded verbatim.
func (h *WSHub) Start(ctx context.Context) error {
	sub, err := h.broker.Subscribe(ctx, []string{broker.ChannelAnalytics}, func(m broker.Message) {
		h.broadcast(m.Payload)
	})
	if err != nil {
		return err
	}
	h.sub = sub
	return nil
}

func (h *WSHub) Stop() error {
	if h.sub == nil {
		return nil
	}
	return h.sub.Close()
}

func (h *WSHub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.connections {
		for _, conn := range conns {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("ws write failed", zap.Error(err))
			}
		}
	}
}

// Connections reports how many sockets are registered.
func (h *WSHub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.connections {
		n += len(conns)
	}
	return n
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.secret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	userID := claims.UserID

	h.mu.Lock()
	h.connections[userID] = append(h.connections[userID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[userID]
		for i, c := range conns {
			if c == conn {
				h.connections[userID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[userID]) == 0 {
			delete(h.connections, userID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop keeps the connection alive until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
