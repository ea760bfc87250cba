package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/modelgate/backend/internal/evm"
)

type User struct {
	ID            uuid.UUID   `json:"id"`
	WalletAddress evm.Address `json:"wallet_address"`
	Role          string      `json:"role"` // consumer/admin
	CreatedAt     time.Time   `json:"created_at"`
	LastLoginAt   time.Time   `json:"last_login_at"`
}
