package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	"github.com/kpmidhlaj/watchmate/pkg/database"
	apperrors "github.com/kpmidhlaj/watchmate/pkg/errors"
)

// WatchlistRepository implements repository.WatchlistRepository using PostgreSQL.
type WatchlistRepository struct {
	pool database.DBTX
}

// NewWatchlistRepository creates a new PostgreSQL-backed watchlist repository.
func NewWatchlistRepository(pool database.DBTX) *WatchlistRepository {
	return &WatchlistRepository{pool: pool}
}

var errUnknownPlatform = apperrors.InvalidInput("platform_id does not reference an existing stream platform")

// Create inserts a new title with an empty rating aggregate.
func (r *WatchlistRepository) Create(ctx context.Context, w *domain.Watchlist) error {
	query := `
		INSERT INTO watchlists (id, title, description, platform_id, active, avg_rating, number_rating, rating_sum, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $7)`

	_, err := r.pool.Exec(ctx, query, w.ID, w.Title, w.Description, w.PlatformID, w.Active, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return errUnknownPlatform
		}
		return fmt.Errorf("insert watchlist: %w", err)
	}
	return nil
}

// GetByID retrieves a title by its ID.
func (r *WatchlistRepository) GetByID(ctx context.Context, id string) (*domain.Watchlist, error) {
	query := `SELECT ` + watchlistColumns + ` FROM watchlists WHERE id = $1`

	w, err := scanWatchlist(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWatchlistNotFound
		}
		return nil, fmt.Errorf("get watchlist: %w", err)
	}
	return w, nil
}

// List returns one page of titles ordered by title along with the total count.
func (r *WatchlistRepository) List(ctx context.Context, filter repository.WatchlistFilter) ([]domain.Watchlist, int, error) {
	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	query := `
		SELECT ` + watchlistColumns + `, count(*) OVER() AS total_count
		FROM watchlists
		WHERE ($1::uuid IS NULL OR platform_id = $1::uuid)
		ORDER BY title, id
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ListWatchlists", query)
	rows, err := r.pool.Query(ctx, query, filter.PlatformID, limit, offset)
	if err != nil {
		end(err)
		return nil, 0, fmt.Errorf("list watchlists: %w", err)
	}
	defer rows.Close()

	var (
		items      = []domain.Watchlist{}
		totalCount int
	)
	for rows.Next() {
		w, err := scanWatchlist(rows, &totalCount)
		if err != nil {
			end(err)
			return nil, 0, fmt.Errorf("scan watchlist row: %w", err)
		}
		items = append(items, *w)
	}
	if err := rows.Err(); err != nil {
		end(err)
		return nil, 0, fmt.Errorf("iterate watchlist rows: %w", err)
	}
	end(nil)

	return items, totalCount, nil
}

// Update overwrites the title's editable fields. The rating aggregate is
// left untouched.
func (r *WatchlistRepository) Update(ctx context.Context, w *domain.Watchlist) error {
	query := `
		UPDATE watchlists
		SET title = $2, description = $3, platform_id = $4, active = $5, updated_at = $6
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, w.ID, w.Title, w.Description, w.PlatformID, w.Active, w.UpdatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return errUnknownPlatform
		}
		return fmt.Errorf("update watchlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWatchlistNotFound
	}
	return nil
}

// Delete removes a title and its reviews.
func (r *WatchlistRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM watchlists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete watchlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWatchlistNotFound
	}
	return nil
}
