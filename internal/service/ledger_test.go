package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpmidhlaj/watchmate/internal/config"
	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	"github.com/kpmidhlaj/watchmate/internal/repository/memory"
	apperrors "github.com/kpmidhlaj/watchmate/pkg/errors"
)

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

type recordingEvents struct {
	mu          sync.Mutex
	submitted   []domain.Outcome
	deactivated []string
	err         error
}

func (r *recordingEvents) PublishReviewSubmitted(_ context.Context, _ *domain.Review, outcome domain.Outcome, _ *domain.Watchlist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, outcome)
	return r.err
}

func (r *recordingEvents) PublishReviewDeactivated(_ context.Context, review *domain.Review, _ *domain.Watchlist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated = append(r.deactivated, review.ID)
	return r.err
}

type recordingCache struct {
	NoopCache
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, id)
	return nil
}

type fixture struct {
	store  *memory.Store
	ledger *RatingLedger
	events *recordingEvents
	cache  *recordingCache
}

func newFixture(t *testing.T, cfg LedgerConfig) *fixture {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Watchlists().Create(context.Background(), &domain.Watchlist{ID: "item", Title: "Dune", Active: true}))

	events := &recordingEvents{}
	cache := &recordingCache{}
	return &fixture{
		store:  store,
		ledger: NewRatingLedger(store, store.Reviews(), events, cache, cfg, newTestLogger()),
		events: events,
		cache:  cache,
	}
}

func (f *fixture) submit(t *testing.T, user string, rating int) *SubmitResult {
	t.Helper()
	res, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{
		WatchlistID: "item", UserID: user, Username: user, Rating: rating,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) item(t *testing.T) *domain.Watchlist {
	t.Helper()
	w, err := f.store.Watchlists().GetByID(context.Background(), "item")
	require.NoError(t, err)
	return w
}

// assertInvariants checks count and mean consistency against the stored reviews.
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	var active []domain.Review
	for rv, err := range f.ledger.ListActiveReviews(context.Background(), "item") {
		require.NoError(t, err)
		active = append(active, rv)
	}
	w := f.item(t)
	agg := domain.AggregateOf(active)
	assert.Equal(t, agg.Count, w.NumberRating, "count consistency")
	assert.Equal(t, agg.Sum, w.RatingSum, "sum consistency")
	assert.Equal(t, agg.Average(), w.AvgRating, "mean consistency")

	seen := make(map[string]bool)
	for _, rv := range active {
		assert.False(t, seen[rv.UserID], "one active review per user")
		seen[rv.UserID] = true
	}
}

// --- Submission ---

func TestSubmitReview_CreateThenMergeSecondSubmission(t *testing.T) {
	f := newFixture(t, LedgerConfig{})

	// First review of the title.
	resA := f.submit(t, "U1", 4)
	assert.Equal(t, domain.OutcomeCreated, resA.Outcome)
	assert.Equal(t, 4.0, resA.Watchlist.AvgRating)
	assert.Equal(t, 1, resA.Watchlist.NumberRating)

	// Another user.
	resB := f.submit(t, "U2", 2)
	assert.Equal(t, domain.OutcomeCreated, resB.Outcome)
	assert.Equal(t, 3.0, resB.Watchlist.AvgRating)
	assert.Equal(t, 2, resB.Watchlist.NumberRating)

	// Same user again rewrites their review.
	resC := f.submit(t, "U1", 5)
	assert.Equal(t, domain.OutcomeUpdatedExisting, resC.Outcome)
	assert.Equal(t, resA.Review.ID, resC.Review.ID, "review mutated in place")
	assert.Equal(t, 5, resC.Review.Rating)
	assert.Equal(t, 3.5, resC.Watchlist.AvgRating)
	assert.Equal(t, 2, resC.Watchlist.NumberRating)

	w := f.item(t)
	assert.Equal(t, 3.5, w.AvgRating)
	assert.Equal(t, 2, w.NumberRating)

	mine, err := f.ledger.ListReviewsByUser(context.Background(), "U1")
	require.NoError(t, err)
	assert.Len(t, mine, 1, "no second row")

	f.assertInvariants(t)
	assert.Equal(t, []domain.Outcome{domain.OutcomeCreated, domain.OutcomeCreated, domain.OutcomeUpdatedExisting}, f.events.submitted)
	assert.Equal(t, []string{"item", "item", "item"}, f.cache.invalidated)
}

func TestSubmitReview_ConcurrentFirstSubmissionsSameUser(t *testing.T) {
	for range 20 {
		f := newFixture(t, LedgerConfig{})
		f.submit(t, "U1", 4)
		f.submit(t, "U2", 2)
		before := f.item(t).NumberRating

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			outcomes []domain.Outcome
		)
		for _, rating := range []int{3, 1} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{
					WatchlistID: "item", UserID: "U3", Rating: rating,
				})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				outcomes = append(outcomes, res.Outcome)
				mu.Unlock()
			}()
		}
		wg.Wait()

		assert.ElementsMatch(t, []domain.Outcome{domain.OutcomeCreated, domain.OutcomeUpdatedExisting}, outcomes)
		assert.Equal(t, before+1, f.item(t).NumberRating)
		f.assertInvariants(t)
	}
}

func TestSubmitReview_ManyUsersConcurrently(t *testing.T) {
	f := newFixture(t, LedgerConfig{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{
				WatchlistID: "item", UserID: fmt.Sprintf("user-%d", i%25), Rating: i%5 + 1,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, f.item(t).NumberRating)
	f.assertInvariants(t)
}

func TestSubmitReview_Boundary(t *testing.T) {
	f := newFixture(t, LedgerConfig{})

	for _, rating := range []int{0, 6, -1} {
		_, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: rating})
		assert.ErrorIs(t, err, domain.ErrInvalidRating, "rating %d", rating)
		assert.Equal(t, 400, apperrors.HTTPStatus(err))
	}
	assert.Zero(t, f.item(t).NumberRating, "no mutation on invalid rating")

	assert.Equal(t, domain.OutcomeCreated, f.submit(t, "U1", 1).Outcome)
	assert.Equal(t, domain.OutcomeCreated, f.submit(t, "U2", 5).Outcome)
	assert.Equal(t, 3.0, f.item(t).AvgRating)
}

func TestSubmitReview_MergeIdempotence(t *testing.T) {
	f := newFixture(t, LedgerConfig{})

	f.submit(t, "U1", 3)
	res := f.submit(t, "U1", 3)

	assert.Equal(t, domain.OutcomeUpdatedExisting, res.Outcome)
	w := f.item(t)
	assert.Equal(t, 1, w.NumberRating)
	assert.Equal(t, 3.0, w.AvgRating)
	f.assertInvariants(t)
}

func TestSubmitReview_MergeKeepsDescriptionWhenOmitted(t *testing.T) {
	f := newFixture(t, LedgerConfig{})

	_, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{
		WatchlistID: "item", UserID: "U1", Rating: 3, Description: strPtr("first"),
	})
	require.NoError(t, err)

	res := f.submit(t, "U1", 4)
	require.NotNil(t, res.Review.Description)
	assert.Equal(t, "first", *res.Review.Description)

	res, err = f.ledger.SubmitReview(context.Background(), SubmitReviewInput{
		WatchlistID: "item", UserID: "U1", Rating: 4, Description: strPtr("second"),
	})
	require.NoError(t, err)
	assert.Equal(t, "second", *res.Review.Description)
}

func TestSubmitReview_RejectPolicy(t *testing.T) {
	f := newFixture(t, LedgerConfig{DuplicatePolicy: config.DuplicatePolicyReject})

	f.submit(t, "U1", 4)
	_, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: 1})

	assert.ErrorIs(t, err, domain.ErrAlreadyReviewed)
	assert.Equal(t, 409, apperrors.HTTPStatus(err))
	w := f.item(t)
	assert.Equal(t, 4.0, w.AvgRating, "no mutation")
	assert.Equal(t, 1, w.NumberRating)
	assert.Len(t, f.events.submitted, 1)
}

func TestSubmitReview_WatchlistNotFound(t *testing.T) {
	f := newFixture(t, LedgerConfig{})

	_, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "missing", UserID: "U1", Rating: 3})
	assert.ErrorIs(t, err, domain.ErrWatchlistNotFound)
	assert.Equal(t, 404, apperrors.HTTPStatus(err))
	assert.Empty(t, f.events.submitted)
}

func TestSubmitReview_RequiresUser(t *testing.T) {
	f := newFixture(t, LedgerConfig{})

	_, err := f.ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "item", Rating: 3})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestSubmitReview_EventFailureDoesNotFailSubmission(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	f.events.err = errors.New("kafka down")

	res := f.submit(t, "U1", 4)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.Equal(t, 1, f.item(t).NumberRating)
}

// --- Retry behavior ---

// conflictStore fails the first `failures` transactions with err.
type conflictStore struct {
	repository.LedgerStore
	failures int
	err      error

	mu    sync.Mutex
	calls int
}

func (s *conflictStore) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if call <= s.failures {
		return s.err
	}
	return s.LedgerStore.InTx(ctx, fn)
}

func TestSubmitReview_RetriesTransientConflict(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	store := &conflictStore{LedgerStore: f.store, failures: 2, err: fmt.Errorf("%w: deadlock", repository.ErrTxConflict)}
	ledger := NewRatingLedger(store, f.store.Reviews(), nil, nil, LedgerConfig{}, newTestLogger())

	res, err := ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.Equal(t, 3, store.calls)
}

func TestSubmitReview_RetriesExhausted(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	store := &conflictStore{LedgerStore: f.store, failures: 100, err: fmt.Errorf("%w: serialization failure", repository.ErrTxConflict)}
	ledger := NewRatingLedger(store, f.store.Reviews(), nil, nil, LedgerConfig{}, newTestLogger())

	_, err := ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: 4})
	assert.ErrorIs(t, err, domain.ErrLedgerBusy)
	assert.Equal(t, 503, apperrors.HTTPStatus(err))
	assert.Equal(t, 3, store.calls)
	assert.Zero(t, f.item(t).NumberRating)
}

func TestSubmitReview_NonRetryableErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	boom := errors.New("disk full")
	store := &conflictStore{LedgerStore: f.store, failures: 1, err: boom}
	ledger := NewRatingLedger(store, f.store.Reviews(), nil, nil, LedgerConfig{}, newTestLogger())

	_, err := ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: 4})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.calls)
}

// staleStore hides the user's active review on the first transaction, so the
// ledger takes the insert path and hits the uniqueness guard.
type staleStore struct {
	*memory.Store
	mu    sync.Mutex
	calls int
}

type staleTx struct {
	repository.LedgerTx
}

func (staleTx) FindActiveReview(context.Context, string, string) (*domain.Review, error) {
	return nil, nil
}

func (s *staleStore) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()

	return s.Store.InTx(ctx, func(tx repository.LedgerTx) error {
		if first {
			return fn(staleTx{tx})
		}
		return fn(tx)
	})
}

func TestSubmitReview_UniqueViolationFallsBackToUpdate(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	f.submit(t, "U1", 2)

	store := &staleStore{Store: f.store}
	ledger := NewRatingLedger(store, f.store.Reviews(), nil, nil, LedgerConfig{}, newTestLogger())

	res, err := ledger.SubmitReview(context.Background(), SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdatedExisting, res.Outcome)
	assert.Equal(t, 2, store.calls)

	w := f.item(t)
	assert.Equal(t, 1, w.NumberRating)
	assert.Equal(t, 5.0, w.AvgRating)
	f.assertInvariants(t)
}

func TestSubmitReview_CanceledContextStopsRetrying(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	store := &conflictStore{LedgerStore: f.store, failures: 100, err: repository.ErrTxConflict}
	ledger := NewRatingLedger(store, f.store.Reviews(), nil, nil, LedgerConfig{}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ledger.SubmitReview(ctx, SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: 4})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.calls)
}

func TestSubmitReview_ContextDeadlineDuringBackoff(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	store := &conflictStore{LedgerStore: f.store, failures: 100, err: repository.ErrTxConflict}
	ledger := NewRatingLedger(store, f.store.Reviews(), nil, nil, LedgerConfig{RetryBackoff: time.Minute}, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := ledger.SubmitReview(ctx, SubmitReviewInput{WatchlistID: "item", UserID: "U1", Rating: 4})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, store.calls)
}

func TestRetryWait_DoublesWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt, want := range map[int]time.Duration{1: base, 2: 2 * base, 3: 4 * base} {
		for range 50 {
			got := retryWait(base, attempt)
			assert.GreaterOrEqual(t, got, want*3/4)
			assert.LessOrEqual(t, got, want*5/4)
		}
	}
}

// --- Deactivation ---

func TestDeactivateReview(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	r1 := f.submit(t, "U1", 4)
	f.submit(t, "U2", 2)

	got, err := f.ledger.DeactivateReview(context.Background(), r1.Review.ID, "U1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	w := f.item(t)
	assert.Equal(t, 1, w.NumberRating)
	assert.Equal(t, 2.0, w.AvgRating)
	f.assertInvariants(t)
	assert.Equal(t, []string{r1.Review.ID}, f.events.deactivated)

	// Deactivating again is a no-op.
	again, err := f.ledger.DeactivateReview(context.Background(), r1.Review.ID, "U1")
	require.NoError(t, err)
	assert.False(t, again.Active)
	assert.Equal(t, 1, f.item(t).NumberRating)
	assert.Len(t, f.events.deactivated, 1)

	// A fresh submission after deactivation creates a new review.
	res := f.submit(t, "U1", 5)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.NotEqual(t, r1.Review.ID, res.Review.ID)
	assert.Equal(t, 3.5, f.item(t).AvgRating)
	f.assertInvariants(t)
}

func TestDeactivateReview_LastReviewResetsAverage(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	r := f.submit(t, "U1", 4)

	_, err := f.ledger.DeactivateReview(context.Background(), r.Review.ID, "U1")
	require.NoError(t, err)

	w := f.item(t)
	assert.Zero(t, w.NumberRating)
	assert.Zero(t, w.AvgRating)
}

func TestDeactivateReview_Errors(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	r := f.submit(t, "U1", 4)

	_, err := f.ledger.DeactivateReview(context.Background(), r.Review.ID, "U2")
	assert.ErrorIs(t, err, domain.ErrNotReviewAuthor)
	assert.Equal(t, 403, apperrors.HTTPStatus(err))
	assert.Equal(t, 1, f.item(t).NumberRating)

	_, err = f.ledger.DeactivateReview(context.Background(), "missing", "U1")
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)
}

// --- Editing ---

func TestEditReview(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	r1 := f.submit(t, "U1", 4)
	f.submit(t, "U2", 2)

	res, err := f.ledger.EditReview(context.Background(), EditReviewInput{
		ReviewID: r1.Review.ID, UserID: "U1", Rating: 5, Description: strPtr("better on rewatch"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdatedExisting, res.Outcome)
	assert.Equal(t, r1.Review.ID, res.Review.ID)
	assert.Equal(t, 5, res.Review.Rating)
	assert.Equal(t, "better on rewatch", *res.Review.Description)
	assert.Equal(t, 3.5, res.Watchlist.AvgRating)
	assert.Equal(t, 2, res.Watchlist.NumberRating)

	// Omitting the description keeps it.
	res, err = f.ledger.EditReview(context.Background(), EditReviewInput{ReviewID: r1.Review.ID, UserID: "U1", Rating: 3})
	require.NoError(t, err)
	assert.Equal(t, "better on rewatch", *res.Review.Description)
	assert.Equal(t, 2.5, f.item(t).AvgRating)

	f.assertInvariants(t)
	assert.Equal(t, []string{"item", "item", "item", "item"}, f.cache.invalidated)
	assert.Len(t, f.events.submitted, 4)
}

func TestEditReview_Errors(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	r := f.submit(t, "U1", 4)

	_, err := f.ledger.EditReview(context.Background(), EditReviewInput{ReviewID: r.Review.ID, UserID: "U2", Rating: 1})
	assert.ErrorIs(t, err, domain.ErrNotReviewAuthor)

	_, err = f.ledger.EditReview(context.Background(), EditReviewInput{ReviewID: r.Review.ID, UserID: "U1", Rating: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidRating)

	_, err = f.ledger.EditReview(context.Background(), EditReviewInput{ReviewID: "missing", UserID: "U1", Rating: 3})
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)

	_, err = f.ledger.DeactivateReview(context.Background(), r.Review.ID, "U1")
	require.NoError(t, err)
	_, err = f.ledger.EditReview(context.Background(), EditReviewInput{ReviewID: r.Review.ID, UserID: "U1", Rating: 3})
	assert.ErrorIs(t, err, domain.ErrReviewInactive)
	assert.Equal(t, 409, apperrors.HTTPStatus(err))

	assert.Zero(t, f.item(t).NumberRating)
	f.assertInvariants(t)
}

// --- Reads ---

func TestListActiveReviews_Batches(t *testing.T) {
	f := newFixture(t, LedgerConfig{BatchSize: 2})
	ids := make(map[string]bool)
	for i := range 5 {
		ids[f.submit(t, fmt.Sprintf("user-%d", i), 3).Review.ID] = true
	}
	inactive := f.submit(t, "gone", 1)
	_, err := f.ledger.DeactivateReview(context.Background(), inactive.Review.ID, "gone")
	require.NoError(t, err)

	seq := f.ledger.ListActiveReviews(context.Background(), "item")

	got := make(map[string]bool)
	for rv, err := range seq {
		require.NoError(t, err)
		assert.True(t, rv.Active)
		got[rv.ID] = true
	}
	assert.Equal(t, ids, got)

	// Restartable: ranging again yields the same reviews.
	count := 0
	for _, err := range seq {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 5, count)

	// Early exit stops iteration.
	count = 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

type failingReviews struct {
	repository.ReviewRepository
}

func (failingReviews) ListActiveAfter(context.Context, string, string, int) ([]domain.Review, error) {
	return nil, errors.New("connection reset")
}

func TestListActiveReviews_YieldsError(t *testing.T) {
	ledger := NewRatingLedger(memory.New(), failingReviews{}, nil, nil, LedgerConfig{}, newTestLogger())

	var errs []error
	for _, err := range ledger.ListActiveReviews(context.Background(), "item") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "connection reset")
}

func TestListReviewsByUser(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	f.submit(t, "U1", 4)

	none, err := f.ledger.ListReviewsByUser(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	mine, err := f.ledger.ListReviewsByUser(context.Background(), "U1")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestSubmitReview_UsesInjectedClock(t *testing.T) {
	f := newFixture(t, LedgerConfig{})
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f.ledger.now = func() time.Time { return fixed }
	f.ledger.newID = func() string { return "review-1" }

	res := f.submit(t, "U1", 4)
	assert.Equal(t, "review-1", res.Review.ID)
	assert.Equal(t, fixed, res.Review.CreatedAt)
	assert.Equal(t, fixed, res.Review.UpdatedAt)
}
