package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/auth"
	"github.com/modelgate/backend/internal/config"
	"github.com/modelgate/backend/internal/events"
	"github.com/modelgate/backend/internal/evm"
	"go.uber.org/zap"
)

const eventConnected = "connected"

// wsClient is one open socket. Writes are serialized per connection.
type wsClient struct {
	conn   *websocket.Conn
	wallet evm.Address
	mu     sync.Mutex
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub pushes payment events to the sockets of the user they belong to.
// Events without a user, such as a model activation, go to everyone.
type WSHub struct {
	cfg        *config.Config
	subscriber events.Subscriber
	log        *zap.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID][]*wsClient
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:        cfg,
		subscriber: subscriber,
		log:        log,
		clients:    make(map[uuid.UUID][]*wsClient),
	}
}

// Start feeds the hub from the payments stream until ctx is done.
func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.StreamPayments, h.dispatch)
}

func (h *WSHub) dispatch(event events.Event) {
	if event.UserID == "" {
		h.deliver(event, h.allClients())
		return
	}
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		h.log.Warn("event with invalid user id", zap.String("type", event.Type), zap.String("user_id", event.UserID))
		return
	}
	h.SendToUser(userID, event)
}

func (h *WSHub) SendToUser(userID uuid.UUID, event events.Event) {
	h.mu.RLock()
	targets := append([]*wsClient(nil), h.clients[userID]...)
	h.mu.RUnlock()
	h.deliver(event, targets)
}

// connected reports how many sockets userID has open.
func (h *WSHub) connected(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *WSHub) allClients() []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var all []*wsClient
	for _, cs := range h.clients {
		all = append(all, cs...)
	}
	return all
}

// deliver writes event to targets. A socket that fails a write is closed;
// its read loop then unregisters it.
func (h *WSHub) deliver(event events.Event, targets []*wsClient) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to encode ws event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.send(data); err != nil {
			h.log.Debug("ws write failed", zap.String("wallet", c.wallet.String()), zap.Error(err))
			_ = c.conn.Close()
		}
	}
}

func (h *WSHub) register(userID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	h.clients[userID] = append(h.clients[userID], c)
	h.mu.Unlock()
}

func (h *WSHub) unregister(userID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs := h.clients[userID]
	for i, other := range cs {
		if other == c {
			cs = append(cs[:i], cs[i+1:]...)
			break
		}
	}
	if len(cs) == 0 {
		delete(h.clients, userID)
		return
	}
	h.clients[userID] = cs
}

// WSUpgradeMiddleware answers 426 to anything that is not a websocket upgrade.
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleWS authenticates the socket with ?token=, greets it with the wallet
// and gate state, then keeps it registered until the client goes away.
func (h *WSHub) HandleWS(conn *websocket.Conn) {
	defer conn.Close()

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, conn.Query("token"))
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		return
	}
	wallet, err := evm.ParseAddress(claims.Wallet)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		return
	}

	client := &wsClient{conn: conn, wallet: wallet}
	h.register(claims.UserID, client)
	defer h.unregister(claims.UserID, client)

	h.log.Debug("ws connected", zap.String("user_id", claims.UserID.String()), zap.String("wallet", wallet.String()))

	h.deliver(events.Event{
		Type: eventConnected,
		Payload: map[string]any{
			"wallet":       wallet.String(),
			"gate_enabled": h.cfg.GateEnabled,
		},
	}, []*wsClient{client})

	// clients only send pings; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.log.Debug("ws disconnected", zap.String("user_id", claims.UserID.String()))
}
