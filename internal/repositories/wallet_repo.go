package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/models"
)

// WalletRepo stores one-time sign-in nonces.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func (r *WalletRepo) CreateNonce(ctx context.Context, address evm.Address, ttl time.Duration) (*models.SignInNonce, error) {
	n := &models.SignInNonce{
		Nonce:   generateNonce(16),
		Address: address,
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO signin_nonces (nonce, address, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		RETURNING id, created_at, expires_at
	`, n.Nonce, address.String(), ttl.Seconds()).Scan(&n.ID, &n.CreatedAt, &n.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ConsumeNonce marks the nonce used. It succeeds once per nonce and only for
// the address it was issued to.
func (r *WalletRepo) ConsumeNonce(ctx context.Context, address evm.Address, nonce string) (*models.SignInNonce, error) {
	var n models.SignInNonce
	var addr string
	err := r.pool.QueryRow(ctx, `
		UPDATE signin_nonces
		SET used = true
		WHERE nonce = $1 AND address = $2 AND used = false AND expires_at > now()
		RETURNING id, nonce, address, created_at, expires_at, used
	`, nonce, address.String()).Scan(&n.ID, &n.Nonce, &addr, &n.CreatedAt, &n.ExpiresAt, &n.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNonceNotUsable
		}
		return nil, err
	}
	n.Address = evm.Address(addr)
	return &n, nil
}

// PurgeNonces deletes nonces that expired or were used before cutoff.
func (r *WalletRepo) PurgeNonces(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM signin_nonces
		WHERE expires_at < $1 OR (used AND created_at < $1)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func generateNonce(bytes int) string {
	b := make([]byte, bytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
