package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	"github.com/kpmidhlaj/watchmate/internal/repository"
)

// maxPerPlatform caps the titles embedded in a platform detail.
const maxPerPlatform = 500

// PlatformInput holds the editable fields of a stream platform.
type PlatformInput struct {
	Name    string
	About   string
	Website string
}

// PlatformService implements stream platform CRUD.
type PlatformService struct {
	platforms  repository.PlatformRepository
	watchlists repository.WatchlistRepository
	logger     *slog.Logger
}

// NewPlatformService creates a new stream platform service.
func NewPlatformService(platforms repository.PlatformRepository, watchlists repository.WatchlistRepository, logger *slog.Logger) *PlatformService {
	return &PlatformService{
		platforms:  platforms,
		watchlists: watchlists,
		logger:     logger,
	}
}

// CreatePlatform stores a new stream platform.
func (s *PlatformService) CreatePlatform(ctx context.Context, in PlatformInput) (*domain.StreamPlatform, error) {
	now := time.Now().UTC()
	p := &domain.StreamPlatform{
		ID:        uuid.NewString(),
		Name:      in.Name,
		About:     in.About,
		Website:   in.Website,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.platforms.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create stream platform: %w", err)
	}

	s.logger.InfoContext(ctx, "stream platform created",
		slog.String("platform_id", p.ID),
		slog.String("name", p.Name),
	)
	return p, nil
}

// ListPlatforms returns every stream platform.
func (s *PlatformService) ListPlatforms(ctx context.Context) ([]domain.StreamPlatform, error) {
	return s.platforms.List(ctx)
}

// GetPlatform returns a platform together with the titles it hosts.
func (s *PlatformService) GetPlatform(ctx context.Context, id string) (*domain.StreamPlatformDetail, error) {
	p, err := s.platforms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	titles, _, err := s.watchlists.List(ctx, repository.WatchlistFilter{PlatformID: &id, PerPage: maxPerPlatform})
	if err != nil {
		return nil, fmt.Errorf("list platform titles: %w", err)
	}
	return &domain.StreamPlatformDetail{StreamPlatform: *p, Watchlist: titles}, nil
}

// UpdatePlatform overwrites a platform's editable fields.
func (s *PlatformService) UpdatePlatform(ctx context.Context, id string, in PlatformInput) (*domain.StreamPlatform, error) {
	p, err := s.platforms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name, p.About, p.Website = in.Name, in.About, in.Website
	p.UpdatedAt = time.Now().UTC()

	if err := s.platforms.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePlatform removes a platform along with its titles and their reviews.
func (s *PlatformService) DeletePlatform(ctx context.Context, id string) error {
	if err := s.platforms.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "stream platform deleted", slog.String("platform_id", id))
	return nil
}
