package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	apperrors "github.com/kpmidhlaj/watchmate/pkg/errors"
)

var (
	_ repository.PlatformRepository  = (*PlatformRepository)(nil)
	_ repository.WatchlistRepository = (*WatchlistRepository)(nil)
	_ repository.ReviewRepository    = (*ReviewRepository)(nil)
	_ repository.LedgerStore         = (*Store)(nil)
)

var errUnknownPlatform = apperrors.InvalidInput("platform_id does not reference an existing stream platform")

// Store is an in-memory implementation of every repository interface plus
// repository.LedgerStore. Ledger transactions hold a per-title lock from
// LockWatchlist until commit or rollback and stage their writes until commit.
// One active review per user and title is checked on insert and again at
// commit. Thread-safe.
type Store struct {
	mu         sync.RWMutex
	platforms  map[string]domain.StreamPlatform
	watchlists map[string]domain.Watchlist
	reviews    map[string]domain.Review

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		platforms:  make(map[string]domain.StreamPlatform),
		watchlists: make(map[string]domain.Watchlist),
		reviews:    make(map[string]domain.Review),
		locks:      make(map[string]chan struct{}),
		now:        time.Now,
	}
}

// Platforms returns the store as a repository.PlatformRepository.
func (s *Store) Platforms() *PlatformRepository { return &PlatformRepository{s: s} }

// Watchlists returns the store as a repository.WatchlistRepository.
func (s *Store) Watchlists() *WatchlistRepository { return &WatchlistRepository{s: s} }

// Reviews returns the store as a repository.ReviewRepository.
func (s *Store) Reviews() *ReviewRepository { return &ReviewRepository{s: s} }

// titleLock returns the lock channel guarding a title's aggregate.
func (s *Store) titleLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

// ─── PlatformRepository ─────────────────────────────────────────────────────

// PlatformRepository implements repository.PlatformRepository in memory.
type PlatformRepository struct{ s *Store }

func (r *PlatformRepository) Create(_ context.Context, p *domain.StreamPlatform) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.platforms[p.ID] = *p
	return nil
}

func (r *PlatformRepository) GetByID(_ context.Context, id string) (*domain.StreamPlatform, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.platforms[id]
	if !ok {
		return nil, domain.ErrPlatformNotFound
	}
	return &p, nil
}

func (r *PlatformRepository) List(_ context.Context) ([]domain.StreamPlatform, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]domain.StreamPlatform, 0, len(r.s.platforms))
	for _, p := range r.s.platforms {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.StreamPlatform) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (r *PlatformRepository) Update(_ context.Context, p *domain.StreamPlatform) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.platforms[p.ID]
	if !ok {
		return domain.ErrPlatformNotFound
	}
	cur.Name, cur.About, cur.Website, cur.UpdatedAt = p.Name, p.About, p.Website, p.UpdatedAt
	r.s.platforms[p.ID] = cur
	return nil
}

// Delete removes the platform, its titles and their reviews.
func (r *PlatformRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.platforms[id]; !ok {
		return domain.ErrPlatformNotFound
	}
	delete(r.s.platforms, id)
	for wid, w := range r.s.watchlists {
		if w.PlatformID != nil && *w.PlatformID == id {
			r.s.deleteWatchlistLocked(wid)
		}
	}
	return nil
}

// ─── WatchlistRepository ────────────────────────────────────────────────────

// WatchlistRepository implements repository.WatchlistRepository in memory.
type WatchlistRepository struct{ s *Store }

func (r *WatchlistRepository) Create(_ context.Context, w *domain.Watchlist) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if w.PlatformID != nil {
		if _, ok := r.s.platforms[*w.PlatformID]; !ok {
			return errUnknownPlatform
		}
	}
	stored := *w
	stored.SetAggregate(domain.RatingAggregate{})
	r.s.watchlists[w.ID] = stored
	return nil
}

func (r *WatchlistRepository) GetByID(_ context.Context, id string) (*domain.Watchlist, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	w, ok := r.s.watchlists[id]
	if !ok {
		return nil, domain.ErrWatchlistNotFound
	}
	return &w, nil
}

func (r *WatchlistRepository) List(_ context.Context, filter repository.WatchlistFilter) ([]domain.Watchlist, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make([]domain.Watchlist, 0, len(r.s.watchlists))
	for _, w := range r.s.watchlists {
		if filter.PlatformID != nil && (w.PlatformID == nil || *w.PlatformID != *filter.PlatformID) {
			continue
		}
		matched = append(matched, w)
	}
	slices.SortFunc(matched, func(a, b domain.Watchlist) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})

	return page(matched, filter.Page, filter.PerPage), len(matched), nil
}

// Update overwrites editable fields and keeps the stored aggregate.
func (r *WatchlistRepository) Update(_ context.Context, w *domain.Watchlist) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.watchlists[w.ID]
	if !ok {
		return domain.ErrWatchlistNotFound
	}
	if w.PlatformID != nil {
		if _, ok := r.s.platforms[*w.PlatformID]; !ok {
			return errUnknownPlatform
		}
	}
	cur.Title, cur.Description, cur.PlatformID, cur.Active, cur.UpdatedAt =
		w.Title, w.Description, w.PlatformID, w.Active, w.UpdatedAt
	r.s.watchlists[w.ID] = cur
	return nil
}

func (r *WatchlistRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.watchlists[id]; !ok {
		return domain.ErrWatchlistNotFound
	}
	r.s.deleteWatchlistLocked(id)
	return nil
}

func (s *Store) deleteWatchlistLocked(id string) {
	delete(s.watchlists, id)
	for rid, rv := range s.reviews {
		if rv.WatchlistID == id {
			delete(s.reviews, rid)
		}
	}
}

// ─── ReviewRepository ───────────────────────────────────────────────────────

// ReviewRepository implements repository.ReviewRepository in memory.
type ReviewRepository struct{ s *Store }

func (r *ReviewRepository) GetByID(_ context.Context, id string) (*domain.Review, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rv, ok := r.s.reviews[id]
	if !ok {
		return nil, domain.ErrReviewNotFound
	}
	return &rv, nil
}

func (r *ReviewRepository) ListActive(_ context.Context, watchlistID string, pg, perPage int) ([]domain.Review, int, error) {
	active := r.s.activeReviews(watchlistID)
	slices.SortFunc(active, func(a, b domain.Review) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return page(active, pg, perPage), len(active), nil
}

func (r *ReviewRepository) ListActiveAfter(_ context.Context, watchlistID, afterID string, limit int) ([]domain.Review, error) {
	active := r.s.activeReviews(watchlistID)
	slices.SortFunc(active, func(a, b domain.Review) int { return cmp.Compare(a.ID, b.ID) })

	if limit <= 0 {
		limit = 100
	}
	start, _ := slices.BinarySearchFunc(active, afterID, func(rv domain.Review, id string) int {
		return cmp.Compare(rv.ID, id)
	})
	if start < len(active) && active[start].ID == afterID {
		start++
	}
	end := min(start+limit, len(active))
	return active[start:end], nil
}

func (r *ReviewRepository) ListByUser(_ context.Context, userID string) ([]domain.Review, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []domain.Review{}
	for _, rv := range r.s.reviews {
		if rv.UserID == userID {
			out = append(out, rv)
		}
	}
	slices.SortFunc(out, func(a, b domain.Review) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *Store) activeReviews(watchlistID string) []domain.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Review{}
	for _, rv := range s.reviews {
		if rv.WatchlistID == watchlistID && rv.Active {
			out = append(out, rv)
		}
	}
	return out
}

func page[T any](items []T, pg, perPage int) []T {
	if perPage <= 0 {
		perPage = 20
	}
	if pg < 1 {
		pg = 1
	}
	start := (pg - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+perPage, len(items))]
}
