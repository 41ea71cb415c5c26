package domain

import (
	"fmt"

	apperrors "github.com/kpmidhlaj/watchmate/pkg/errors"
)

// Domain errors wrap the shared sentinels so pkg/errors can map them to
// HTTP statuses.
var (
	ErrInvalidRating         = fmt.Errorf("%w: rating must be between %d and %d", apperrors.ErrInvalidInput, MinRating, MaxRating)
	ErrWatchlistNotFound     = fmt.Errorf("watchlist %w", apperrors.ErrNotFound)
	ErrPlatformNotFound      = fmt.Errorf("stream platform %w", apperrors.ErrNotFound)
	ErrReviewNotFound        = fmt.Errorf("review %w", apperrors.ErrNotFound)
	ErrAlreadyReviewed       = fmt.Errorf("%w: you have already reviewed this title", apperrors.ErrConflict)
	ErrLedgerBusy            = fmt.Errorf("%w: server busy, retry the review submission", apperrors.ErrServiceUnavail)
	ErrNotReviewAuthor       = fmt.Errorf("%w: only the author can change this review", apperrors.ErrForbidden)
	ErrReviewInactive        = fmt.Errorf("%w: review is no longer active, submit a new one", apperrors.ErrConflict)
	ErrAggregateCorrupt      = fmt.Errorf("%w: rating aggregate inconsistent with reviews", apperrors.ErrInternal)
	ErrDuplicateActiveReview = fmt.Errorf("%w: concurrent active review for the same user and title", apperrors.ErrConflict)
)
