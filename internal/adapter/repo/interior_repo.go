package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maincase/mdesign-backend/internal/domain"
)

// InteriorRepositoryPG implements domain.InteriorRepository. Renders live in
// a jsonb column so per-render appends and object updates stay single
// statements without a child table.
type InteriorRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewInteriorRepository creates a new interior repository backed by PostgreSQL.
func NewInteriorRepository(pool *pgxpool.Pool) *InteriorRepositoryPG {
	return &InteriorRepositoryPG{pool: pool}
}

// Migrate creates the interiors table and its listing index.
func (r *InteriorRepositoryPG) Migrate(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS interiors (
    id UUID PRIMARY KEY,
    room TEXT NOT NULL,
    style TEXT NOT NULL,
    image TEXT NOT NULL,
    progress DOUBLE PRECISION NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'processing',
    failure_reason TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT '',
    provider_id TEXT NOT NULL DEFAULT '',
    renders JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_interiors_completed
    ON interiors (updated_at DESC) WHERE progress = 100;
`
	_, err := r.pool.Exec(ctx, query)
	return err
}

// Create inserts a new interior record.
func (r *InteriorRepositoryPG) Create(ctx context.Context, interior *domain.Interior) error {
	query := `
INSERT INTO interiors (id, room, style, image, progress, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at;
`
	return r.pool.QueryRow(ctx, query,
		interior.ID,
		interior.Room,
		interior.Style,
		interior.Image,
		interior.Progress,
		interior.Status,
	).Scan(&interior.CreatedAt, &interior.UpdatedAt)
}

// GetByID fetches an interior by its identifier.
func (r *InteriorRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Interior, error) {
	query := `
SELECT id, room, style, image, progress, status, failure_reason, provider, provider_id, renders, created_at, updated_at
FROM interiors
WHERE id = $1;
`
	interior, err := scanInterior(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return interior, nil
}

// ListCompleted returns finished interiors, most recently updated first.
func (r *InteriorRepositoryPG) ListCompleted(ctx context.Context, limit, skip int) ([]domain.Interior, error) {
	query := `
SELECT id, room, style, image, progress, status, failure_reason, provider, provider_id, renders, created_at, updated_at
FROM interiors
WHERE progress = 100
ORDER BY updated_at DESC
LIMIT $1 OFFSET $2;
`
	rows, err := r.pool.Query(ctx, query, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Interior, 0, limit)
	for rows.Next() {
		interior, err := scanInterior(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *interior)
	}
	return out, rows.Err()
}

// SetProgress bumps progress, never lowering it.
func (r *InteriorRepositoryPG) SetProgress(ctx context.Context, id string, progress float64) error {
	query := `
UPDATE interiors
SET progress = GREATEST(progress, $2),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, progress)
	return err
}

// SetProviderJob records which backend is generating and its remote job id.
func (r *InteriorRepositoryPG) SetProviderJob(ctx context.Context, id string, provider domain.Provider, providerID string) error {
	query := `
UPDATE interiors
SET provider = $2,
    provider_id = $3,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, id, provider, providerID)
	return err
}

// AppendRender appends one render to the jsonb collection and bumps progress
// in the same statement.
func (r *InteriorRepositoryPG) AppendRender(ctx context.Context, id string, render domain.Render, progress float64) error {
	payload, err := json.Marshal([]domain.Render{render})
	if err != nil {
		return fmt.Errorf("marshal render: %w", err)
	}
	query := `
UPDATE interiors
SET renders = renders || $2::jsonb,
    progress = GREATEST(progress, $3),
    updated_at = NOW()
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, id, payload, progress)
	return err
}

// SetRenderObjects attaches detection results to the render at index.
func (r *InteriorRepositoryPG) SetRenderObjects(ctx context.Context, id string, index int, objects []domain.DetectedObject, progress float64) error {
	payload, err := json.Marshal(objects)
	if err != nil {
		return fmt.Errorf("marshal objects: %w", err)
	}
	query := `
UPDATE interiors
SET renders = jsonb_set(renders, ARRAY[$2::text, 'objects'], $3::jsonb),
    progress = GREATEST(progress, $4),
    updated_at = NOW()
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, id, fmt.Sprint(index), payload, progress)
	return err
}

// Finalize replaces the render set and marks the record completed at 100.
func (r *InteriorRepositoryPG) Finalize(ctx context.Context, id string, renders []domain.Render) error {
	payload, err := json.Marshal(renders)
	if err != nil {
		return fmt.Errorf("marshal renders: %w", err)
	}
	query := `
UPDATE interiors
SET renders = $2::jsonb,
    progress = 100,
    status = $3,
    updated_at = NOW()
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, id, payload, domain.StatusCompleted)
	return err
}

// MarkFailed records the terminal failure unless the record already
// completed; a late failure signal never un-completes an interior.
func (r *InteriorRepositoryPG) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `
UPDATE interiors
SET status = $2,
    failure_reason = $3,
    updated_at = NOW()
WHERE id = $1 AND status <> $4;
`
	_, err := r.pool.Exec(ctx, query, id, domain.StatusFailed, reason, domain.StatusCompleted)
	return err
}

func scanInterior(row pgx.Row) (*domain.Interior, error) {
	var (
		interior domain.Interior
		renders  []byte
	)
	if err := row.Scan(
		&interior.ID,
		&interior.Room,
		&interior.Style,
		&interior.Image,
		&interior.Progress,
		&interior.Status,
		&interior.FailureReason,
		&interior.Provider,
		&interior.ProviderID,
		&renders,
		&interior.CreatedAt,
		&interior.UpdatedAt,
	); err != nil {
		return nil, err
	}
	interior.Renders = []domain.Render{}
	if len(renders) > 0 {
		if err := json.Unmarshal(renders, &interior.Renders); err != nil {
			return nil, fmt.Errorf("decode renders: %w", err)
		}
	}
	return &interior, nil
}

var _ domain.InteriorRepository = (*InteriorRepositoryPG)(nil)
