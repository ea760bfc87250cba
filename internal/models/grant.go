package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Access categories. Each has its own independent payment state.
const (
	CategoryPrediction = "prediction"
	CategoryEDA        = "eda"
)

func IsValidCategory(c string) bool {
	return c == CategoryPrediction || c == CategoryEDA
}

// Grant is the record written after a paid operation succeeds. A grant with a
// transaction hash doubles as proof of payment until it ages out.
type Grant struct {
	ID              int64           `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Category        string          `json:"category"`
	ModelID         *uuid.UUID      `json:"model_id,omitempty"`
	TransactionHash *string         `json:"transaction_hash,omitempty"`
	AmountWei       *string         `json:"amount_wei,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// GrantInput is what the caller supplies; the ledger assigns ID and CreatedAt.
type GrantInput struct {
	Category        string
	ModelID         *uuid.UUID
	TransactionHash *string
	AmountWei       *string
	Payload         json.RawMessage
}
