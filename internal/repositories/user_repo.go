package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelgate/backend/internal/evm"
	"github.com/modelgate/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, wallet_address, role, created_at, last_login_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var wallet string
	if err := row.Scan(&u.ID, &wallet, &u.Role, &u.CreatedAt, &u.LastLoginAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.WalletAddress = evm.Address(wallet)
	return &u, nil
}

// UpsertByWallet creates the user on first sign-in and refreshes the role and
// login time on later ones.
func (r *UserRepo) UpsertByWallet(ctx context.Context, wallet evm.Address, role string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `
		INSERT INTO users (wallet_address, role)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE SET
			role = EXCLUDED.role,
			last_login_at = now()
		RETURNING `+userColumns, wallet.String(), role))
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByWallet(ctx context.Context, wallet evm.Address) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, wallet.String()))
}
