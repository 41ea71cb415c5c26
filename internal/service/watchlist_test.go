package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	"github.com/kpmidhlaj/watchmate/internal/repository/memory"
	apperrors "github.com/kpmidhlaj/watchmate/pkg/errors"
	"github.com/kpmidhlaj/watchmate/pkg/pagination"
)

type services struct {
	store      *memory.Store
	ledger     *RatingLedger
	watchlists *WatchlistService
	platforms  *PlatformService
	cache      *countingCache
}

// countingCache is an in-process stand-in for the Redis cache.
type countingCache struct {
	entries     map[string]domain.Watchlist
	loads       int
	invalidated []string
}

func (c *countingCache) GetOrLoad(ctx context.Context, id string, load func(context.Context) (*domain.Watchlist, error)) (*domain.Watchlist, error) {
	if w, ok := c.entries[id]; ok {
		return &w, nil
	}
	c.loads++
	w, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.entries[id] = *w
	return w, nil
}

func (c *countingCache) Invalidate(_ context.Context, id string) error {
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func newServices(t *testing.T) *services {
	t.Helper()
	store := memory.New()
	cache := &countingCache{entries: make(map[string]domain.Watchlist)}
	ledger := NewRatingLedger(store, store.Reviews(), nil, cache, LedgerConfig{}, newTestLogger())
	return &services{
		store:      store,
		ledger:     ledger,
		watchlists: NewWatchlistService(store.Watchlists(), store.Reviews(), ledger, cache, newTestLogger()),
		platforms:  NewPlatformService(store.Platforms(), store.Watchlists(), newTestLogger()),
		cache:      cache,
	}
}

func TestPlatformService_CRUD(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	p, err := s.platforms.CreatePlatform(ctx, PlatformInput{Name: "Netflix", About: "Streaming", Website: "https://netflix.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	_, err = s.watchlists.CreateWatchlist(ctx, WatchlistInput{Title: "Dune", PlatformID: &p.ID, Active: true})
	require.NoError(t, err)

	detail, err := s.platforms.GetPlatform(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Netflix", detail.Name)
	require.Len(t, detail.Watchlist, 1)
	assert.Equal(t, "Dune", detail.Watchlist[0].Title)

	updated, err := s.platforms.UpdatePlatform(ctx, p.ID, PlatformInput{Name: "Netflix Inc", Website: "https://netflix.com"})
	require.NoError(t, err)
	assert.Equal(t, "Netflix Inc", updated.Name)

	all, err := s.platforms.ListPlatforms(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.platforms.DeletePlatform(ctx, p.ID))
	_, err = s.platforms.GetPlatform(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrPlatformNotFound)

	list, err := s.watchlists.ListWatchlists(ctx, nil, pagination.DefaultParams())
	require.NoError(t, err)
	assert.Empty(t, list.Data, "titles cascade with their platform")
}

func TestPlatformService_UpdateMissing(t *testing.T) {
	s := newServices(t)
	_, err := s.platforms.UpdatePlatform(context.Background(), "missing", PlatformInput{Name: "x"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWatchlistService_CreateIgnoresAggregate(t *testing.T) {
	s := newServices(t)

	w, err := s.watchlists.CreateWatchlist(context.Background(), WatchlistInput{Title: "Dune", Description: "Spice", Active: true})
	require.NoError(t, err)
	assert.Zero(t, w.NumberRating)
	assert.Zero(t, w.AvgRating)
}

func TestWatchlistService_CreateUnknownPlatform(t *testing.T) {
	s := newServices(t)

	_, err := s.watchlists.CreateWatchlist(context.Background(), WatchlistInput{Title: "Dune", PlatformID: strPtr("nope")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestWatchlistService_GetUsesCacheAndLedgerInvalidates(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	w, err := s.watchlists.CreateWatchlist(ctx, WatchlistInput{Title: "Dune", Active: true})
	require.NoError(t, err)

	_, err = s.watchlists.GetWatchlist(ctx, w.ID)
	require.NoError(t, err)
	_, err = s.watchlists.GetWatchlist(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, s.cache.loads)

	_, err = s.ledger.SubmitReview(ctx, SubmitReviewInput{WatchlistID: w.ID, UserID: "U1", Rating: 4})
	require.NoError(t, err)

	got, err := s.watchlists.GetWatchlist(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, s.cache.loads)
	assert.Equal(t, 4.0, got.AvgRating)
	assert.Equal(t, 1, got.NumberRating)
}

func TestWatchlistService_UpdateKeepsAggregate(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	w, err := s.watchlists.CreateWatchlist(ctx, WatchlistInput{Title: "Dune", Active: true})
	require.NoError(t, err)
	_, err = s.ledger.SubmitReview(ctx, SubmitReviewInput{WatchlistID: w.ID, UserID: "U1", Rating: 5})
	require.NoError(t, err)

	updated, err := s.watchlists.UpdateWatchlist(ctx, w.ID, WatchlistInput{Title: "Dune: Part One", Description: "Arrakis"})
	require.NoError(t, err)
	assert.Equal(t, "Dune: Part One", updated.Title)
	assert.False(t, updated.Active)
	assert.Equal(t, 5.0, updated.AvgRating)
	assert.Equal(t, 1, updated.NumberRating)
	assert.Contains(t, s.cache.invalidated, w.ID)
}

func TestWatchlistService_DeleteRemovesReviews(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	w, err := s.watchlists.CreateWatchlist(ctx, WatchlistInput{Title: "Dune", Active: true})
	require.NoError(t, err)
	res, err := s.ledger.SubmitReview(ctx, SubmitReviewInput{WatchlistID: w.ID, UserID: "U1", Rating: 5})
	require.NoError(t, err)

	require.NoError(t, s.watchlists.DeleteWatchlist(ctx, w.ID))

	_, err = s.watchlists.GetWatchlist(ctx, w.ID)
	assert.ErrorIs(t, err, domain.ErrWatchlistNotFound)
	_, err = s.watchlists.GetReview(ctx, res.Review.ID)
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)
	assert.ErrorIs(t, s.watchlists.DeleteWatchlist(ctx, w.ID), domain.ErrWatchlistNotFound)
}

func TestWatchlistService_ListPaginated(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	for _, title := range []string{"Dune", "Arrival", "Solaris"} {
		_, err := s.watchlists.CreateWatchlist(ctx, WatchlistInput{Title: title, Active: true})
		require.NoError(t, err)
	}

	page, err := s.watchlists.ListWatchlists(ctx, nil, pagination.Params{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "Arrival", page.Data[0].Title)
	assert.Equal(t, "Dune", page.Data[1].Title)
}

func TestWatchlistService_ListReviews(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	w, err := s.watchlists.CreateWatchlist(ctx, WatchlistInput{Title: "Dune", Active: true})
	require.NoError(t, err)
	for _, u := range []string{"U1", "U2", "U3"} {
		_, err := s.ledger.SubmitReview(ctx, SubmitReviewInput{WatchlistID: w.ID, UserID: u, Rating: 3})
		require.NoError(t, err)
	}

	page, err := s.watchlists.ListReviews(ctx, w.ID, pagination.Params{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	assert.Len(t, page.Data, 2)

	_, err = s.watchlists.ListReviews(ctx, "missing", pagination.DefaultParams())
	assert.ErrorIs(t, err, domain.ErrWatchlistNotFound)
}

func TestWatchlistService_VerifyAggregate(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	w, err := s.watchlists.CreateWatchlist(ctx, WatchlistInput{Title: "Dune", Active: true})
	require.NoError(t, err)
	for u, rating := range map[string]int{"U1": 4, "U2": 3, "U3": 3} {
		_, err := s.ledger.SubmitReview(ctx, SubmitReviewInput{WatchlistID: w.ID, UserID: u, Rating: rating})
		require.NoError(t, err)
	}

	report, err := s.watchlists.VerifyAggregate(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, domain.RatingAggregate{Sum: 10, Count: 3}, report.Computed)
	assert.Equal(t, 3.3, report.ComputedAvg)

	// Corrupt the stored aggregate behind the ledger's back.
	err = s.store.InTx(ctx, func(tx repository.LedgerTx) error {
		return tx.UpdateAggregate(ctx, w.ID, domain.RatingAggregate{Sum: 12, Count: 3})
	})
	require.NoError(t, err)

	report, err = s.watchlists.VerifyAggregate(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, 4.0, report.StoredAvg)

	_, err = s.watchlists.VerifyAggregate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrWatchlistNotFound)
}
