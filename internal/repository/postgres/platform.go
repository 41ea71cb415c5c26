package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/pkg/database"
)

// PlatformRepository implements repository.PlatformRepository using PostgreSQL.
type PlatformRepository struct {
	pool database.DBTX
}

// NewPlatformRepository creates a new PostgreSQL-backed stream platform repository.
func NewPlatformRepository(pool database.DBTX) *PlatformRepository {
	return &PlatformRepository{pool: pool}
}

// Create inserts a new stream platform.
func (r *PlatformRepository) Create(ctx context.Context, p *domain.StreamPlatform) error {
	query := `
		INSERT INTO stream_platforms (id, name, about, website, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.pool.Exec(ctx, query, p.ID, p.Name, p.About, p.Website, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("insert stream platform: %w", err)
	}
	return nil
}

// GetByID retrieves a stream platform by its ID.
func (r *PlatformRepository) GetByID(ctx context.Context, id string) (*domain.StreamPlatform, error) {
	query := `SELECT ` + platformColumns + ` FROM stream_platforms WHERE id = $1`

	p, err := scanPlatform(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlatformNotFound
		}
		return nil, fmt.Errorf("get stream platform: %w", err)
	}
	return p, nil
}

// List returns every stream platform ordered by name.
func (r *PlatformRepository) List(ctx context.Context) ([]domain.StreamPlatform, error) {
	query := `SELECT ` + platformColumns + ` FROM stream_platforms ORDER BY name, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list stream platforms: %w", err)
	}
	defer rows.Close()

	platforms := []domain.StreamPlatform{}
	for rows.Next() {
		p, err := scanPlatform(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream platform row: %w", err)
		}
		platforms = append(platforms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream platform rows: %w", err)
	}
	return platforms, nil
}

// Update overwrites the platform's editable fields.
func (r *PlatformRepository) Update(ctx context.Context, p *domain.StreamPlatform) error {
	query := `
		UPDATE stream_platforms
		SET name = $2, about = $3, website = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, p.ID, p.Name, p.About, p.Website, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update stream platform: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlatformNotFound
	}
	return nil
}

// Delete removes a stream platform; its titles go with it.
func (r *PlatformRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stream_platforms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream platform: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlatformNotFound
	}
	return nil
}
