package repository

import (
	"context"
	"errors"

	"github.com/kpmidhlaj/watchmate/internal/domain"
)

// ErrTxConflict marks a transaction aborted by the store because of a
// concurrent writer (serialization failure or deadlock). Retrying the whole
// transaction is safe.
var ErrTxConflict = errors.New("transaction conflict")

// WatchlistFilter defines filter criteria for listing watchlist titles.
type WatchlistFilter struct {
	PlatformID *string
	Page       int
	PerPage    int
}

// PlatformRepository defines persistence operations for stream platforms.
type PlatformRepository interface {
	Create(ctx context.Context, platform *domain.StreamPlatform) error
	GetByID(ctx context.Context, id string) (*domain.StreamPlatform, error)
	List(ctx context.Context) ([]domain.StreamPlatform, error)
	Update(ctx context.Context, platform *domain.StreamPlatform) error

	// Delete removes the platform and, with it, every title it hosts.
	Delete(ctx context.Context, id string) error
}

// WatchlistRepository defines persistence operations for watchlist titles.
// Update never touches the rating aggregate columns.
type WatchlistRepository interface {
	Create(ctx context.Context, watchlist *domain.Watchlist) error
	GetByID(ctx context.Context, id string) (*domain.Watchlist, error)

	// List returns titles ordered by title along with the total count.
	List(ctx context.Context, filter WatchlistFilter) ([]domain.Watchlist, int, error)

	Update(ctx context.Context, watchlist *domain.Watchlist) error
	Delete(ctx context.Context, id string) error
}

// ReviewRepository defines read operations for reviews. All review writes go
// through the LedgerStore.
type ReviewRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// ListActive returns one page of active reviews for a title, newest
	// first, along with the total count.
	ListActive(ctx context.Context, watchlistID string, page, perPage int) ([]domain.Review, int, error)

	// ListActiveAfter returns up to limit active reviews for a title with an
	// id greater than afterID, ordered by id. An empty afterID starts from
	// the beginning.
	ListActiveAfter(ctx context.Context, watchlistID, afterID string, limit int) ([]domain.Review, error)

	// ListByUser returns every review written by userID, newest first.
	ListByUser(ctx context.Context, userID string) ([]domain.Review, error)
}

// LedgerStore runs rating ledger work in a single atomic unit.
type LedgerStore interface {
	// InTx runs fn in a transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the set of operations available inside a ledger transaction.
// Locks are taken in watchlist-then-review order.
type LedgerTx interface {
	// LockWatchlist reads a title and holds its row lock until the
	// transaction ends. Returns domain.ErrWatchlistNotFound when missing.
	LockWatchlist(ctx context.Context, id string) (*domain.Watchlist, error)

	// FindActiveReview returns the user's active review on a title, or nil.
	FindActiveReview(ctx context.Context, watchlistID, userID string) (*domain.Review, error)

	// LockReview reads a review under a row lock. Returns
	// domain.ErrReviewNotFound when missing.
	LockReview(ctx context.Context, id string) (*domain.Review, error)

	// InsertReview stores a new review. Returns
	// domain.ErrDuplicateActiveReview if the user already has an active
	// review on the title.
	InsertReview(ctx context.Context, review *domain.Review) error

	// UpdateReview rewrites rating, description and active flag.
	UpdateReview(ctx context.Context, review *domain.Review) error

	// UpdateAggregate stores the rating aggregate and its derived average.
	UpdateAggregate(ctx context.Context, watchlistID string, agg domain.RatingAggregate) error
}
