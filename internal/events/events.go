package events

import "context"

// Channels
const (
	StreamPayments = "events:payments"
)

// Event types
const (
	EventPaymentGranted = "payment_granted"
	EventModelActivated = "model_activated"
)

type Event struct {
	Type    string         `json:"type"`
	UserID  string         `json:"user_id,omitempty"` // empty for broadcast events
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
