package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kpmidhlaj/watchmate/internal/service"
	"github.com/kpmidhlaj/watchmate/pkg/httputil"
	"github.com/kpmidhlaj/watchmate/pkg/pagination"
	"github.com/kpmidhlaj/watchmate/pkg/validator"
)

// WatchlistHandler handles HTTP requests for watchlist title endpoints.
type WatchlistHandler struct {
	service *service.WatchlistService
	logger  *slog.Logger
}

// NewWatchlistHandler creates a new watchlist HTTP handler.
func NewWatchlistHandler(svc *service.WatchlistService, logger *slog.Logger) *WatchlistHandler {
	return &WatchlistHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// WatchlistRequest is the JSON request body for creating or replacing a
// title. Unknown fields such as avg_rating are rejected by the decoder.
type WatchlistRequest struct {
	Title       string  `json:"title" validate:"required,notblank,min=2,max=50"`
	Description string  `json:"description" validate:"max=200,nefield=Title"`
	PlatformID  *string `json:"platform_id,omitempty" validate:"omitempty,uuid"`
	Active      *bool   `json:"active,omitempty"`
}

func (req WatchlistRequest) input() service.WatchlistInput {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return service.WatchlistInput{
		Title:       req.Title,
		Description: req.Description,
		PlatformID:  req.PlatformID,
		Active:      active,
	}
}

// --- Handlers ---

// ListWatchlists handles GET /api/v1/watchlist
func (h *WatchlistHandler) ListWatchlists(w http.ResponseWriter, r *http.Request) {
	var platformID *string
	if raw := r.URL.Query().Get("platform_id"); raw != "" {
		id, ok := httputil.ParseUUID(w, raw)
		if !ok {
			return
		}
		s := id.String()
		platformID = &s
	}

	result, err := h.service.ListWatchlists(r.Context(), platformID, pagination.FromRequest(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// CreateWatchlist handles POST /api/v1/watchlist
func (h *WatchlistHandler) CreateWatchlist(w http.ResponseWriter, r *http.Request) {
	var req WatchlistRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	title, err := h.service.CreateWatchlist(r.Context(), req.input())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: title})
}

// GetWatchlist handles GET /api/v1/watchlist/{id}
func (h *WatchlistHandler) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	title, err := h.service.GetWatchlist(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: title})
}

// UpdateWatchlist handles PUT /api/v1/watchlist/{id}
func (h *WatchlistHandler) UpdateWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req WatchlistRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	title, err := h.service.UpdateWatchlist(r.Context(), id.String(), req.input())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: title})
}

// DeleteWatchlist handles DELETE /api/v1/watchlist/{id}
func (h *WatchlistHandler) DeleteWatchlist(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeleteWatchlist(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyRating handles GET /api/v1/watchlist/{id}/rating/verify
func (h *WatchlistHandler) VerifyRating(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	report, err := h.service.VerifyAggregate(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: report})
}
