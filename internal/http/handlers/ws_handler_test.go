package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/config"
	"github.com/modelgate/backend/internal/events"
	"go.uber.org/zap"
)

func TestWSHub_Registry(t *testing.T) {
	hub := NewWSHub(&config.Config{}, nil, zap.NewNop())
	user := uuid.New()
	first, second := &wsClient{}, &wsClient{}

	hub.register(user, first)
	hub.register(user, second)
	if n := hub.connected(user); n != 2 {
		t.Fatalf("connected = %d, want 2", n)
	}

	hub.unregister(user, first)
	if n := hub.connected(user); n != 1 {
		t.Fatalf("connected = %d, want 1", n)
	}
	hub.unregister(user, second)
	if _, ok := hub.clients[user]; ok {
		t.Error("user with no sockets should be dropped from the registry")
	}

	// no sockets: nothing to write to
	hub.dispatch(events.Event{Type: events.EventPaymentGranted, UserID: user.String()})
	hub.dispatch(events.Event{Type: events.EventPaymentGranted, UserID: "not-a-uuid"})
	hub.dispatch(events.Event{Type: events.EventModelActivated})
}

func TestWSUpgradeMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use("/ws", WSUpgradeMiddleware())
	app.Get("/ws", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
