package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/modelgate/backend/internal/models"
)

type ModelRepo struct {
	pool *pgxpool.Pool
}

func NewModelRepo(pool *pgxpool.Pool) *ModelRepo {
	return &ModelRepo{pool: pool}
}

const modelColumns = `id, name, description, artifact_key, template_key, is_active, uploaded_by, created_at`

func scanModel(row pgx.Row) (*models.MLModel, error) {
	var m models.MLModel
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.ArtifactKey, &m.TemplateKey, &m.IsActive, &m.UploadedBy, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *ModelRepo) Create(ctx context.Context, m *models.MLModel) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO ml_models (id, name, description, artifact_key, template_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING is_active, created_at
	`, m.ID, m.Name, m.Description, m.ArtifactKey, m.TemplateKey, m.UploadedBy).Scan(&m.IsActive, &m.CreatedAt)
}

func (r *ModelRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.MLModel, error) {
	return scanModel(r.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM ml_models WHERE id = $1`, id))
}

func (r *ModelRepo) GetActive(ctx context.Context) (*models.MLModel, error) {
	return scanModel(r.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM ml_models WHERE is_active`))
}

func (r *ModelRepo) List(ctx context.Context, limit, offset int) ([]models.MLModel, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+modelColumns+` FROM ml_models
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MLModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Activate makes id the only active model.
func (r *ModelRepo) Activate(ctx context.Context, id uuid.UUID) (*models.MLModel, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE ml_models SET is_active = false WHERE is_active AND id <> $1`, id); err != nil {
		return nil, err
	}
	m, err := scanModel(tx.QueryRow(ctx, `
		UPDATE ml_models SET is_active = true WHERE id = $1
		RETURNING `+modelColumns, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}
