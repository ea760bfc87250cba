package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/evm"
)

// SignInNonce is a one-time challenge a wallet signs to log in.
type SignInNonce struct {
	ID        uuid.UUID   `json:"id"`
	Nonce     string      `json:"nonce"`
	Address   evm.Address `json:"address"`
	CreatedAt time.Time   `json:"-"`
	ExpiresAt time.Time   `json:"expires_at"`
	Used      bool        `json:"-"`
}
