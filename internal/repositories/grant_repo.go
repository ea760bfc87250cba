package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelgate/backend/internal/models"
)

// GrantRepo is the Postgres payment ledger. Every statement runs in a
// transaction scoped to one user through app.user_id, which the
// access_grants row level security policy checks.
type GrantRepo struct {
	pool *pgxpool.Pool
}

func NewGrantRepo(pool *pgxpool.Pool) *GrantRepo {
	return &GrantRepo{pool: pool}
}

const grantColumns = `id, user_id, category, model_id, transaction_hash, amount_wei, payload, created_at`

func (r *GrantRepo) withUser(ctx context.Context, userID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.user_id', $1, true)`, userID.String()); err != nil {
		return fmt.Errorf("set user context: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanGrant(row pgx.Row) (*models.Grant, error) {
	var g models.Grant
	var payload []byte
	if err := row.Scan(&g.ID, &g.UserID, &g.Category, &g.ModelID, &g.TransactionHash, &g.AmountWei, &payload, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Payload = payload
	return &g, nil
}

// RecordGrant appends a grant. Duplicate transaction hashes are allowed.
func (r *GrantRepo) RecordGrant(ctx context.Context, userID uuid.UUID, in models.GrantInput) (*models.Grant, error) {
	var g *models.Grant
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		var payload any
		if len(in.Payload) > 0 {
			payload = []byte(in.Payload)
		}
		var err error
		g, err = scanGrant(tx.QueryRow(ctx, `
			INSERT INTO access_grants (user_id, category, model_id, transaction_hash, amount_wei, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+grantColumns,
			userID, in.Category, in.ModelID, in.TransactionHash, in.AmountWei, payload))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record grant: %w", err)
	}
	return g, nil
}

// MostRecentGrant returns the newest grant in category that carries a
// transaction hash. Equal created_at values fall back to insertion order.
func (r *GrantRepo) MostRecentGrant(ctx context.Context, userID uuid.UUID, category string) (*models.Grant, error) {
	var g *models.Grant
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		var err error
		g, err = scanGrant(tx.QueryRow(ctx, `
			SELECT `+grantColumns+`
			FROM access_grants
			WHERE user_id = $1 AND category = $2 AND transaction_hash IS NOT NULL
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		`, userID, category))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("most recent grant: %w", err)
	}
	return g, nil
}

func (r *GrantRepo) ListByUser(ctx context.Context, userID uuid.UUID, category string, limit, offset int) ([]models.Grant, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Grant
	err := r.withUser(ctx, userID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+grantColumns+`
			FROM access_grants
			WHERE user_id = $1 AND ($2 = '' OR category = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3 OFFSET $4
		`, userID, category, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			g, err := scanGrant(rows)
			if err != nil {
				return err
			}
			out = append(out, *g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return out, nil
}
