package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/kpmidhlaj/watchmate/internal/config"
	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	apperrors "github.com/kpmidhlaj/watchmate/pkg/errors"
)

const (
	defaultMaxAttempts = 3
	defaultBatchSize   = 100
	defaultBackoff     = 20 * time.Millisecond
)

// LedgerConfig tunes the rating ledger.
type LedgerConfig struct {
	// DuplicatePolicy is config.DuplicatePolicyMerge (default) or
	// config.DuplicatePolicyReject.
	DuplicatePolicy string

	// MaxAttempts bounds how often a conflicting transaction is run.
	MaxAttempts int

	// BatchSize is the keyset page size used by ListActiveReviews.
	BatchSize int

	// RetryBackoff is the base wait before a retry. It doubles per attempt
	// and carries ±25% jitter.
	RetryBackoff time.Duration
}

// SubmitReviewInput holds the parameters of a review submission.
type SubmitReviewInput struct {
	WatchlistID string
	UserID      string
	Username    string
	Rating      int
	Description *string
}

// EditReviewInput holds an author's change to one of their reviews.
type EditReviewInput struct {
	ReviewID    string
	UserID      string
	Rating      int
	Description *string
}

// SubmitResult is the committed state after a submission.
type SubmitResult struct {
	Review    domain.Review
	Outcome   domain.Outcome
	Watchlist domain.Watchlist
}

// RatingLedger is the only writer of reviews and of each title's rating
// aggregate. Every mutation re-reads the aggregate under the title's row lock
// and writes the review and the aggregate in one transaction.
type RatingLedger struct {
	store   repository.LedgerStore
	reviews repository.ReviewRepository
	events  ReviewEventPublisher
	cache   WatchlistCache
	logger  *slog.Logger

	policy      string
	maxAttempts int
	batchSize   int
	backoff     time.Duration

	now   func() time.Time
	newID func() string
}

// NewRatingLedger creates a rating ledger. Nil events or cache fall back to
// no-op implementations.
func NewRatingLedger(
	store repository.LedgerStore,
	reviews repository.ReviewRepository,
	events ReviewEventPublisher,
	cache WatchlistCache,
	cfg LedgerConfig,
	logger *slog.Logger,
) *RatingLedger {
	if events == nil {
		events = NoopEvents{}
	}
	if cache == nil {
		cache = NoopCache{}
	}
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = config.DuplicatePolicyMerge
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultBackoff
	}

	return &RatingLedger{
		store:       store,
		reviews:     reviews,
		events:      events,
		cache:       cache,
		logger:      logger,
		policy:      cfg.DuplicatePolicy,
		maxAttempts: cfg.MaxAttempts,
		batchSize:   cfg.BatchSize,
		backoff:     cfg.RetryBackoff,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SubmitReview creates the caller's review of a title, or rewrites their
// active review in place when one exists and the policy is merge.
func (l *RatingLedger) SubmitReview(ctx context.Context, in SubmitReviewInput) (*SubmitResult, error) {
	if err := domain.ValidateRating(in.Rating); err != nil {
		return nil, err
	}
	if in.UserID == "" {
		return nil, apperrors.InvalidInput("user_id is required")
	}

	var res *SubmitResult
	err := l.withRetry(ctx, "submit", func() error {
		var err error
		res, err = l.submitOnce(ctx, in)
		return err
	})
	if err != nil {
		ledgerSubmissions.WithLabelValues(submitErrorResult(err)).Inc()
		return nil, err
	}
	ledgerSubmissions.WithLabelValues(res.Outcome.String()).Inc()

	l.afterCommit(ctx, res.Watchlist.ID, func() error {
		return l.events.PublishReviewSubmitted(ctx, &res.Review, res.Outcome, &res.Watchlist)
	})

	l.logger.InfoContext(ctx, "review submitted",
		slog.String("review_id", res.Review.ID),
		slog.String("watchlist_id", res.Watchlist.ID),
		slog.String("user_id", in.UserID),
		slog.Int("rating", in.Rating),
		slog.String("outcome", res.Outcome.String()),
		slog.Int("number_rating", res.Watchlist.NumberRating),
	)
	return res, nil
}

func (l *RatingLedger) submitOnce(ctx context.Context, in SubmitReviewInput) (*SubmitResult, error) {
	var res SubmitResult

	err := l.store.InTx(ctx, func(tx repository.LedgerTx) error {
		w, err := tx.LockWatchlist(ctx, in.WatchlistID)
		if err != nil {
			return err
		}

		existing, err := tx.FindActiveReview(ctx, in.WatchlistID, in.UserID)
		if err != nil {
			return err
		}

		now := l.now().UTC()
		agg := w.Aggregate()

		if existing == nil {
			next, err := agg.Add(in.Rating)
			if err != nil {
				return err
			}
			rv := domain.Review{
				ID:          l.newID(),
				WatchlistID: in.WatchlistID,
				UserID:      in.UserID,
				Username:    in.Username,
				Rating:      in.Rating,
				Description: in.Description,
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.InsertReview(ctx, &rv); err != nil {
				return err
			}
			if err := tx.UpdateAggregate(ctx, w.ID, next); err != nil {
				return err
			}
			w.SetAggregate(next)
			res = SubmitResult{Review: rv, Outcome: domain.OutcomeCreated, Watchlist: *w}
			return nil
		}

		if l.policy == config.DuplicatePolicyReject {
			return domain.ErrAlreadyReviewed
		}

		next, err := agg.Replace(existing.Rating, in.Rating)
		if err != nil {
			return err
		}
		existing.Rating = in.Rating
		if in.Description != nil {
			existing.Description = in.Description
		}
		existing.UpdatedAt = now
		if err := tx.UpdateReview(ctx, existing); err != nil {
			return err
		}
		if err := tx.UpdateAggregate(ctx, w.ID, next); err != nil {
			return err
		}
		w.SetAggregate(next)
		res = SubmitResult{Review: *existing, Outcome: domain.OutcomeUpdatedExisting, Watchlist: *w}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// EditReview rewrites the rating and, when given, the description of the
// author's active review, moving the title's aggregate with it.
func (l *RatingLedger) EditReview(ctx context.Context, in EditReviewInput) (*SubmitResult, error) {
	if err := domain.ValidateRating(in.Rating); err != nil {
		return nil, err
	}
	// Unlocked read to learn the title; the transaction re-reads under lock.
	current, err := l.reviews.GetByID(ctx, in.ReviewID)
	if err != nil {
		return nil, err
	}
	if current.UserID != in.UserID {
		return nil, domain.ErrNotReviewAuthor
	}

	var res SubmitResult
	err = l.withRetry(ctx, "edit", func() error {
		return l.store.InTx(ctx, func(tx repository.LedgerTx) error {
			w, err := tx.LockWatchlist(ctx, current.WatchlistID)
			if err != nil {
				return err
			}
			rv, err := tx.LockReview(ctx, in.ReviewID)
			if err != nil {
				return err
			}
			if rv.UserID != in.UserID {
				return domain.ErrNotReviewAuthor
			}
			if !rv.Active {
				return domain.ErrReviewInactive
			}

			next, err := w.Aggregate().Replace(rv.Rating, in.Rating)
			if err != nil {
				return err
			}
			rv.Rating = in.Rating
			if in.Description != nil {
				rv.Description = in.Description
			}
			rv.UpdatedAt = l.now().UTC()
			if err := tx.UpdateReview(ctx, rv); err != nil {
				return err
			}
			if err := tx.UpdateAggregate(ctx, w.ID, next); err != nil {
				return err
			}
			w.SetAggregate(next)
			res = SubmitResult{Review: *rv, Outcome: domain.OutcomeUpdatedExisting, Watchlist: *w}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.afterCommit(ctx, res.Watchlist.ID, func() error {
		return l.events.PublishReviewSubmitted(ctx, &res.Review, res.Outcome, &res.Watchlist)
	})

	l.logger.InfoContext(ctx, "review edited",
		slog.String("review_id", res.Review.ID),
		slog.String("watchlist_id", res.Watchlist.ID),
		slog.Int("rating", in.Rating),
		slog.Int("number_rating", res.Watchlist.NumberRating),
	)
	return &res, nil
}

// DeactivateReview takes the author's review out of its title's aggregate.
// Deactivating an inactive review changes nothing.
func (l *RatingLedger) DeactivateReview(ctx context.Context, reviewID, userID string) (*domain.Review, error) {
	// Unlocked read to learn the title; the transaction re-reads under lock.
	current, err := l.reviews.GetByID(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, domain.ErrNotReviewAuthor
	}
	if !current.Active {
		return current, nil
	}

	var (
		result    domain.Review
		watchlist domain.Watchlist
		changed   bool
	)
	err = l.withRetry(ctx, "deactivate", func() error {
		changed = false
		return l.store.InTx(ctx, func(tx repository.LedgerTx) error {
			w, err := tx.LockWatchlist(ctx, current.WatchlistID)
			if err != nil {
				return err
			}
			rv, err := tx.LockReview(ctx, reviewID)
			if err != nil {
				return err
			}
			if rv.UserID != userID {
				return domain.ErrNotReviewAuthor
			}
			if !rv.Active {
				result, watchlist = *rv, *w
				return nil
			}

			next, err := w.Aggregate().Remove(rv.Rating)
			if err != nil {
				return err
			}
			rv.Active = false
			rv.UpdatedAt = l.now().UTC()
			if err := tx.UpdateReview(ctx, rv); err != nil {
				return err
			}
			if err := tx.UpdateAggregate(ctx, w.ID, next); err != nil {
				return err
			}
			w.SetAggregate(next)
			result, watchlist, changed = *rv, *w, true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return &result, nil
	}
	ledgerDeactivations.Inc()

	l.afterCommit(ctx, watchlist.ID, func() error {
		return l.events.PublishReviewDeactivated(ctx, &result, &watchlist)
	})

	l.logger.InfoContext(ctx, "review deactivated",
		slog.String("review_id", reviewID),
		slog.String("watchlist_id", watchlist.ID),
		slog.Int("number_rating", watchlist.NumberRating),
	)
	return &result, nil
}

// ListActiveReviews yields every active review of a title in keyset batches.
// Each range re-queries from the start; nothing is held between batches.
func (l *RatingLedger) ListActiveReviews(ctx context.Context, watchlistID string) iter.Seq2[domain.Review, error] {
	return func(yield func(domain.Review, error) bool) {
		after := ""
		for {
			batch, err := l.reviews.ListActiveAfter(ctx, watchlistID, after, l.batchSize)
			if err != nil {
				yield(domain.Review{}, fmt.Errorf("list active reviews: %w", err))
				return
			}
			for _, rv := range batch {
				if !yield(rv, nil) {
					return
				}
			}
			if len(batch) < l.batchSize {
				return
			}
			after = batch[len(batch)-1].ID
		}
	}
}

// ListReviewsByUser returns every review written by userID. No user means
// no reviews.
func (l *RatingLedger) ListReviewsByUser(ctx context.Context, userID string) ([]domain.Review, error) {
	if userID == "" {
		return []domain.Review{}, nil
	}
	reviews, err := l.reviews.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list reviews by user: %w", err)
	}
	return reviews, nil
}

// withRetry runs fn up to maxAttempts times while it fails with a conflict
// that a fresh transaction can resolve.
func (l *RatingLedger) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		err = fn()
		if !isRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt == l.maxAttempts {
			break
		}

		wait := retryWait(l.backoff, attempt)
		ledgerRetries.WithLabelValues(op).Inc()
		l.logger.DebugContext(ctx, "retrying ledger transaction",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.logger.WarnContext(ctx, "ledger transaction retries exhausted",
		slog.String("operation", op),
		slog.Int("attempts", l.maxAttempts),
		slog.String("error", err.Error()),
	)
	return domain.ErrLedgerBusy
}

// retryWait returns base doubled per prior attempt, with ±25% jitter.
func retryWait(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	jitter := time.Duration(float64(d) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- backoff jitter
	return d + jitter
}

func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrDuplicateActiveReview) || errors.Is(err, repository.ErrTxConflict)
}

// afterCommit invalidates the cached title and runs publish. Both run after
// the transaction committed, so failures are logged and not returned.
func (l *RatingLedger) afterCommit(ctx context.Context, watchlistID string, publish func() error) {
	if err := l.cache.Invalidate(ctx, watchlistID); err != nil {
		l.logger.WarnContext(ctx, "failed to invalidate watchlist cache",
			slog.String("watchlist_id", watchlistID),
			slog.String("error", err.Error()),
		)
	}
	if err := publish(); err != nil {
		l.logger.ErrorContext(ctx, "failed to publish review event",
			slog.String("watchlist_id", watchlistID),
			slog.String("error", err.Error()),
		)
	}
}

func submitErrorResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return "rejected"
	case errors.Is(err, domain.ErrLedgerBusy):
		return "busy"
	default:
		return "error"
	}
}
