package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	"github.com/kpmidhlaj/watchmate/pkg/database"
)

// LedgerStore implements repository.LedgerStore with READ COMMITTED
// transactions and row locks on the watchlist.
type LedgerStore struct {
	db database.DB
}

// NewLedgerStore creates a PostgreSQL-backed ledger store.
func NewLedgerStore(db database.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// InTx runs fn inside a transaction. Serialization failures and deadlocks
// are reported as repository.ErrTxConflict.
func (s *LedgerStore) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return classifyTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyTxError(fmt.Errorf("commit ledger transaction: %w", err))
	}
	return nil
}

func classifyTxError(err error) error {
	if database.IsTransient(err) && !errors.Is(err, repository.ErrTxConflict) {
		return fmt.Errorf("%w: %w", repository.ErrTxConflict, err)
	}
	return err
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockWatchlist(ctx context.Context, id string) (w *domain.Watchlist, err error) {
	query := `SELECT ` + watchlistColumns + ` FROM watchlists WHERE id = $1 FOR UPDATE`

	ctx, end := database.TraceQuery(ctx, "LockWatchlist", query)
	defer func() { end(err) }()

	w, err = scanWatchlist(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWatchlistNotFound
		}
		return nil, fmt.Errorf("lock watchlist: %w", err)
	}
	return w, nil
}

func (t *ledgerTx) FindActiveReview(ctx context.Context, watchlistID, userID string) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE watchlist_id = $1 AND user_id = $2 AND active`

	rv, err := scanReview(t.tx.QueryRow(ctx, query, watchlistID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active review: %w", err)
	}
	return rv, nil
}

func (t *ledgerTx) LockReview(ctx context.Context, id string) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1 FOR UPDATE`

	rv, err := scanReview(t.tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReviewNotFound
		}
		return nil, fmt.Errorf("lock review: %w", err)
	}
	return rv, nil
}

func (t *ledgerTx) InsertReview(ctx context.Context, rv *domain.Review) error {
	query := `
		INSERT INTO reviews (id, watchlist_id, user_id, username, rating, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.Exec(ctx, query,
		rv.ID,
		rv.WatchlistID,
		rv.UserID,
		rv.Username,
		rv.Rating,
		rv.Description,
		rv.Active,
		rv.CreatedAt,
		rv.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicateActiveReview
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (t *ledgerTx) UpdateReview(ctx context.Context, rv *domain.Review) error {
	query := `
		UPDATE reviews
		SET rating = $2, description = $3, active = $4, updated_at = $5
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, rv.ID, rv.Rating, rv.Description, rv.Active, rv.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicateActiveReview
		}
		return fmt.Errorf("update review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReviewNotFound
	}
	return nil
}

func (t *ledgerTx) UpdateAggregate(ctx context.Context, watchlistID string, agg domain.RatingAggregate) error {
	query := `
		UPDATE watchlists
		SET rating_sum = $2, number_rating = $3, avg_rating = $4, updated_at = NOW()
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, watchlistID, agg.Sum, agg.Count, agg.Average())
	if err != nil {
		return fmt.Errorf("update rating aggregate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWatchlistNotFound
	}
	return nil
}
