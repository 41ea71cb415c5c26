package domain

import (
	"fmt"
	"math"
)

// Bounds checked when folding a rating into an aggregate. Wider than
// submission validation.
const (
	aggregateMin = 0
	aggregateMax = 5
)

// RatingAggregate is the sufficient statistic for a title's average rating:
// the sum of the ratings of its active reviews and how many there are.
type RatingAggregate struct {
	Sum   int
	Count int
}

// Add folds a new active review's rating into the aggregate.
func (a RatingAggregate) Add(rating int) (RatingAggregate, error) {
	if err := checkAggregateRating(rating); err != nil {
		return a, err
	}
	return RatingAggregate{Sum: a.Sum + rating, Count: a.Count + 1}, nil
}

// Replace swaps an already-counted rating for a new one without changing
// the count.
func (a RatingAggregate) Replace(oldRating, newRating int) (RatingAggregate, error) {
	if err := checkAggregateRating(oldRating); err != nil {
		return a, err
	}
	if err := checkAggregateRating(newRating); err != nil {
		return a, err
	}
	if a.Count == 0 || a.Sum < oldRating {
		return a, fmt.Errorf("%w: replace %d in sum=%d count=%d", ErrAggregateCorrupt, oldRating, a.Sum, a.Count)
	}
	return RatingAggregate{Sum: a.Sum - oldRating + newRating, Count: a.Count}, nil
}

// Remove takes a deactivated review's rating out of the aggregate.
func (a RatingAggregate) Remove(rating int) (RatingAggregate, error) {
	if err := checkAggregateRating(rating); err != nil {
		return a, err
	}
	if a.Count == 0 || a.Sum < rating {
		return a, fmt.Errorf("%w: remove %d from sum=%d count=%d", ErrAggregateCorrupt, rating, a.Sum, a.Count)
	}
	return RatingAggregate{Sum: a.Sum - rating, Count: a.Count - 1}, nil
}

// Average is the mean rating rounded to one decimal digit, or 0 for an
// empty aggregate.
func (a RatingAggregate) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return math.Round(float64(a.Sum)/float64(a.Count)*10) / 10
}

// AggregateOf recomputes the aggregate from scratch over active reviews.
func AggregateOf(reviews []Review) RatingAggregate {
	var agg RatingAggregate
	for _, r := range reviews {
		if !r.Active {
			continue
		}
		agg.Sum += r.Rating
		agg.Count++
	}
	return agg
}

func checkAggregateRating(rating int) error {
	if rating < aggregateMin || rating > aggregateMax {
		return fmt.Errorf("%w: %d outside [%d,%d]", ErrInvalidRating, rating, aggregateMin, aggregateMax)
	}
	return nil
}
