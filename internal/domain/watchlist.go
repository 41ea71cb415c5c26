package domain

import "time"

// Watchlist is a catalog title that accumulates user reviews. RatingSum and
// NumberRating are owned by the rating ledger; AvgRating is derived from them.
type Watchlist struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	PlatformID   *string   `json:"platform_id,omitempty"`
	Active       bool      `json:"active"`
	AvgRating    float64   `json:"avg_rating"`
	NumberRating int       `json:"number_rating"`
	RatingSum    int       `json:"-"`
	CreatedAt    time.Time `json:"created"`
	UpdatedAt    time.Time `json:"updated"`
}

// Aggregate returns the rating aggregate stored on w.
func (w *Watchlist) Aggregate() RatingAggregate {
	return RatingAggregate{Sum: w.RatingSum, Count: w.NumberRating}
}

// SetAggregate stores agg on w, including the derived average.
func (w *Watchlist) SetAggregate(agg RatingAggregate) {
	w.RatingSum = agg.Sum
	w.NumberRating = agg.Count
	w.AvgRating = agg.Average()
}
