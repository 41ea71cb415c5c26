package memory

import (
	"context"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
)

// InTx runs fn against a staged view of the store. Writes become visible
// atomically when fn returns nil; title locks are released either way.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	tx := &ledgerTx{
		s:          s,
		held:       make(map[string]chan struct{}),
		reviews:    make(map[string]domain.Review),
		aggregates: make(map[string]domain.RatingAggregate),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type ledgerTx struct {
	s    *Store
	held map[string]chan struct{}

	reviews    map[string]domain.Review
	aggregates map[string]domain.RatingAggregate
}

func (t *ledgerTx) LockWatchlist(ctx context.Context, id string) (*domain.Watchlist, error) {
	if _, ok := t.held[id]; !ok {
		l := t.s.titleLock(id)
		select {
		case l <- struct{}{}:
			t.held[id] = l
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.s.mu.RLock()
	w, ok := t.s.watchlists[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrWatchlistNotFound
	}
	if agg, staged := t.aggregates[id]; staged {
		w.SetAggregate(agg)
	}
	return &w, nil
}

func (t *ledgerTx) FindActiveReview(_ context.Context, watchlistID, userID string) (*domain.Review, error) {
	return t.findActive(watchlistID, userID), nil
}

// LockReview reads a review. The review is guarded by its title's lock, so
// callers lock the title first.
func (t *ledgerTx) LockReview(_ context.Context, id string) (*domain.Review, error) {
	if rv, ok := t.reviews[id]; ok {
		return &rv, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	rv, ok := t.s.reviews[id]
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	return &rv, nil
}

func (t *ledgerTx) InsertReview(_ context.Context, rv *domain.Review) error {
	if rv.Active && t.findActive(rv.WatchlistID, rv.UserID) != nil {
		return domain.ErrDuplicateActiveReview
	}
	t.reviews[rv.ID] = *rv
	return nil
}

func (t *ledgerTx) UpdateReview(ctx context.Context, rv *domain.Review) error {
	cur, err := t.LockReview(ctx, rv.ID)
	if err != nil {
		return err
	}
	if rv.Active && !cur.Active {
		if other := t.findActive(cur.WatchlistID, cur.UserID); other != nil && other.ID != rv.ID {
			return domain.ErrDuplicateActiveReview
		}
	}
	cur.Rating, cur.Description, cur.Active, cur.UpdatedAt = rv.Rating, rv.Description, rv.Active, rv.UpdatedAt
	t.reviews[rv.ID] = *cur
	return nil
}

func (t *ledgerTx) UpdateAggregate(_ context.Context, watchlistID string, agg domain.RatingAggregate) error {
	t.s.mu.RLock()
	_, ok := t.s.watchlists[watchlistID]
	t.s.mu.RUnlock()
	if !ok {
		return domain.ErrWatchlistNotFound
	}
	t.aggregates[watchlistID] = agg
	return nil
}

// findActive looks through staged writes first, then committed state.
func (t *ledgerTx) findActive(watchlistID, userID string) *domain.Review {
	for _, rv := range t.reviews {
		if rv.WatchlistID == watchlistID && rv.UserID == userID && rv.Active {
			return &rv
		}
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	for id, rv := range t.s.reviews {
		if rv.WatchlistID != watchlistID || rv.UserID != userID || !rv.Active {
			continue
		}
		if staged, ok := t.reviews[id]; ok && !staged.Active {
			continue
		}
		return &rv
	}
	return nil
}

func (t *ledgerTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for _, rv := range t.reviews {
		if _, ok := t.s.watchlists[rv.WatchlistID]; !ok {
			return domain.ErrWatchlistNotFound
		}
		if rv.Active && t.conflictsLocked(rv) {
			return domain.ErrDuplicateActiveReview
		}
	}

	now := t.s.now()
	for id, rv := range t.reviews {
		t.s.reviews[id] = rv
	}
	for id, agg := range t.aggregates {
		w := t.s.watchlists[id]
		w.SetAggregate(agg)
		w.UpdatedAt = now
		t.s.watchlists[id] = w
	}
	return nil
}

// conflictsLocked reports whether committing rv would leave its author with
// two active reviews of the title. Caller holds t.s.mu.
func (t *ledgerTx) conflictsLocked(rv domain.Review) bool {
	for id, other := range t.s.reviews {
		if id == rv.ID || !other.Active || other.WatchlistID != rv.WatchlistID || other.UserID != rv.UserID {
			continue
		}
		if staged, ok := t.reviews[id]; ok && !staged.Active {
			continue
		}
		return true
	}
	for id, other := range t.reviews {
		if id != rv.ID && other.Active && other.WatchlistID == rv.WatchlistID && other.UserID == rv.UserID {
			return true
		}
	}
	return false
}

func (t *ledgerTx) release() {
	for _, l := range t.held {
		<-l
	}
}
