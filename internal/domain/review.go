package domain

import "time"

// Rating bounds accepted on submission.
const (
	MinRating = 1
	MaxRating = 5
)

// Review is a single user's rating of a watchlist title. Only active reviews
// count toward the title's aggregate.
type Review struct {
	ID          string    `json:"id"`
	WatchlistID string    `json:"watchlist_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"review_user"`
	Rating      int       `json:"rating"`
	Description *string   `json:"description"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created"`
	UpdatedAt   time.Time `json:"updated"`
}

// Outcome tells a caller of SubmitReview which path the submission took.
type Outcome int

const (
	// OutcomeCreated means a new active review was inserted.
	OutcomeCreated Outcome = iota + 1
	// OutcomeUpdatedExisting means the caller's active review was rewritten in place.
	OutcomeUpdatedExisting
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdatedExisting:
		return "updated_existing"
	default:
		return "unknown"
	}
}

// ValidateRating reports whether r is an acceptable submitted rating.
func ValidateRating(r int) error {
	if r < MinRating || r > MaxRating {
		return ErrInvalidRating
	}
	return nil
}
