package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kpmidhlaj/watchmate/internal/service"
	"github.com/kpmidhlaj/watchmate/pkg/httputil"
	"github.com/kpmidhlaj/watchmate/pkg/validator"
)

// PlatformHandler handles HTTP requests for stream platform endpoints.
type PlatformHandler struct {
	service *service.PlatformService
	logger  *slog.Logger
}

// NewPlatformHandler creates a new stream platform HTTP handler.
func NewPlatformHandler(svc *service.PlatformService, logger *slog.Logger) *PlatformHandler {
	return &PlatformHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// PlatformRequest is the JSON request body for creating or replacing a platform.
type PlatformRequest struct {
	Name    string `json:"name" validate:"required,notblank,max=50"`
	About   string `json:"about" validate:"max=200"`
	Website string `json:"website" validate:"omitempty,url,max=100"`
}

func (req PlatformRequest) input() service.PlatformInput {
	return service.PlatformInput{Name: req.Name, About: req.About, Website: req.Website}
}

// --- Handlers ---

// ListPlatforms handles GET /api/v1/stream
func (h *PlatformHandler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := h.service.ListPlatforms(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: platforms})
}

// CreatePlatform handles POST /api/v1/stream
func (h *PlatformHandler) CreatePlatform(w http.ResponseWriter, r *http.Request) {
	var req PlatformRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	p, err := h.service.CreatePlatform(r.Context(), req.input())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: p})
}

// GetPlatform handles GET /api/v1/stream/{id}
func (h *PlatformHandler) GetPlatform(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	detail, err := h.service.GetPlatform(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: detail})
}

// UpdatePlatform handles PUT /api/v1/stream/{id}
func (h *PlatformHandler) UpdatePlatform(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req PlatformRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	p, err := h.service.UpdatePlatform(r.Context(), id.String(), req.input())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: p})
}

// DeletePlatform handles DELETE /api/v1/stream/{id}
func (h *PlatformHandler) DeletePlatform(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeletePlatform(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
