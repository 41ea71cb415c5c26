package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/service"
	"github.com/kpmidhlaj/watchmate/pkg/httputil"
	"github.com/kpmidhlaj/watchmate/pkg/middleware"
	"github.com/kpmidhlaj/watchmate/pkg/pagination"
	"github.com/kpmidhlaj/watchmate/pkg/validator"
)

// MessageUpdatedExisting accompanies a 200 when a submission rewrote the
// caller's existing review.
const MessageUpdatedExisting = "you already reviewed this title; your existing review was updated"

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	ledger     *service.RatingLedger
	watchlists *service.WatchlistService
	logger     *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(ledger *service.RatingLedger, watchlists *service.WatchlistService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		ledger:     ledger,
		watchlists: watchlists,
		logger:     logger,
	}
}

// --- Request DTOs ---

// SubmitReviewRequest is the JSON request body for submitting a review.
// Rating bounds are enforced by the ledger.
type SubmitReviewRequest struct {
	Rating      int     `json:"rating"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=200"`
}

// --- Response DTOs ---

// SubmitReviewResponse is the data returned for a review submission.
type SubmitReviewResponse struct {
	Review       domain.Review `json:"review"`
	Outcome      string        `json:"outcome"`
	AvgRating    float64       `json:"avg_rating"`
	NumberRating int           `json:"number_rating"`
}

// --- Handlers ---

// SubmitReview handles POST /api/v1/watchlist/{id}/reviews
func (h *ReviewHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req SubmitReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ctx := r.Context()
	res, err := h.ledger.SubmitReview(ctx, service.SubmitReviewInput{
		WatchlistID: id.String(),
		UserID:      middleware.UserIDFromContext(ctx),
		Username:    middleware.UsernameFromContext(ctx),
		Rating:      req.Rating,
		Description: req.Description,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	body := httputil.Response{Data: SubmitReviewResponse{
		Review:       res.Review,
		Outcome:      res.Outcome.String(),
		AvgRating:    res.Watchlist.AvgRating,
		NumberRating: res.Watchlist.NumberRating,
	}}
	if res.Outcome == domain.OutcomeUpdatedExisting {
		body.Message = MessageUpdatedExisting
		httputil.WriteJSON(w, http.StatusOK, body)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, body)
}

// ListReviews handles GET /api/v1/watchlist/{id}/reviews
func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	result, err := h.watchlists.ListReviews(r.Context(), id.String(), pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// GetReview handles GET /api/v1/watchlist/reviews/{reviewId}
func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	review, err := h.watchlists.GetReview(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}

// EditReview handles PUT /api/v1/watchlist/reviews/{reviewId}
func (h *ReviewHandler) EditReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	var req SubmitReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	ctx := r.Context()
	res, err := h.ledger.EditReview(ctx, service.EditReviewInput{
		ReviewID:    id.String(),
		UserID:      middleware.UserIDFromContext(ctx),
		Rating:      req.Rating,
		Description: req.Description,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: SubmitReviewResponse{
		Review:       res.Review,
		Outcome:      res.Outcome.String(),
		AvgRating:    res.Watchlist.AvgRating,
		NumberRating: res.Watchlist.NumberRating,
	}})
}

// DeactivateReview handles DELETE /api/v1/watchlist/reviews/{reviewId}
func (h *ReviewHandler) DeactivateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "reviewId"))
	if !ok {
		return
	}

	review, err := h.ledger.DeactivateReview(r.Context(), id.String(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: review})
}

// ListReviewsByUser handles GET /api/v1/reviews?user_id=...
// Without a user_id the result is empty.
func (h *ReviewHandler) ListReviewsByUser(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.ledger.ListReviewsByUser(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: reviews})
}
