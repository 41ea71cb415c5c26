// Command seed populates a watchmate database with demo platforms, titles
// and reviews. Reviews go through the rating ledger, so every seeded
// aggregate is consistent with its reviews.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kpmidhlaj/watchmate/internal/config"
	"github.com/kpmidhlaj/watchmate/internal/repository/postgres"
	"github.com/kpmidhlaj/watchmate/internal/service"
	"github.com/kpmidhlaj/watchmate/migrations"
	"github.com/kpmidhlaj/watchmate/pkg/database"
	"github.com/kpmidhlaj/watchmate/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("watchmate-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPass,
		DBName:   cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSL,
		MaxConns: 4,
		MinConns: 1,
	}, log)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	platforms := postgres.NewPlatformRepository(pool)
	watchlists := postgres.NewWatchlistRepository(pool)
	reviews := postgres.NewReviewRepository(pool)
	ledger := service.NewRatingLedger(postgres.NewLedgerStore(pool), reviews, nil, nil, service.LedgerConfig{
		DuplicatePolicy: cfg.ReviewDuplicatePolicy,
	}, log)

	s := seeder{
		platforms:  service.NewPlatformService(platforms, watchlists, log),
		watchlists: service.NewWatchlistService(watchlists, reviews, ledger, nil, log),
		ledger:     ledger,
		logger:     log,
	}
	stats, err := s.seed(ctx, demoCatalog, demoUsers)
	if err != nil {
		return err
	}

	log.Info("seed complete",
		slog.Int("platforms", stats.platforms),
		slog.Int("titles", stats.titles),
		slog.Int("reviews", stats.reviews),
	)
	return nil
}
