package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/kpmidhlaj/watchmate/internal/auth"
	"github.com/kpmidhlaj/watchmate/internal/config"
	"github.com/kpmidhlaj/watchmate/internal/event"
	handler "github.com/kpmidhlaj/watchmate/internal/handler/http"
	"github.com/kpmidhlaj/watchmate/internal/repository"
	"github.com/kpmidhlaj/watchmate/internal/repository/memory"
	"github.com/kpmidhlaj/watchmate/internal/repository/postgres"
	rediscache "github.com/kpmidhlaj/watchmate/internal/repository/redis"
	"github.com/kpmidhlaj/watchmate/internal/service"
	"github.com/kpmidhlaj/watchmate/migrations"
	"github.com/kpmidhlaj/watchmate/pkg/database"
	"github.com/kpmidhlaj/watchmate/pkg/health"
	pkgkafka "github.com/kpmidhlaj/watchmate/pkg/kafka"
	"github.com/kpmidhlaj/watchmate/pkg/middleware"
	"github.com/kpmidhlaj/watchmate/pkg/tracing"
)

const serviceName = "watchmate"

// stores is the repository set a storage driver provides.
type stores struct {
	platforms  repository.PlatformRepository
	watchlists repository.WatchlistRepository
	reviews    repository.ReviewRepository
	ledger     repository.LedgerStore
}

// App wires together all dependencies and runs the watchmate service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *goredis.Client
	producer       *pkgkafka.Producer
	dlqWriter      *kafka.Writer
	consumer       *pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	st, err := a.initStores(ctx, healthHandler)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	// The ledger and the watchlist service treat a nil interface as "off".
	var cache service.WatchlistCache
	var watchlistCache *rediscache.WatchlistCache
	if cfg.RedisEnabled() {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,

			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		})
		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		watchlistCache = rediscache.NewWatchlistCache(client, cfg.CacheTTL, logger)
		cache = watchlistCache
		healthHandler.RegisterNonCritical("redis", watchlistCache.Ping)
		logger.Info("watchlist cache enabled", slog.String("addr", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)))
	}

	var events service.ReviewEventPublisher
	if cfg.KafkaEnabled() {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		events = event.NewProducer(a.producer, event.DefaultBreakerConfig(), logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)

		// Other replicas invalidate their cached titles from the same events.
		if watchlistCache != nil {
			a.dlqWriter = &kafka.Writer{
				Addr:                   kafka.TCP(cfg.KafkaBrokers...),
				RequiredAcks:           kafka.RequireAll,
				AllowAutoTopicCreation: true,
			}
			a.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
				Brokers: cfg.KafkaBrokers,
				GroupID: cfg.KafkaGroupID,
				Topics:  event.ReviewTopics,
			}, event.NewConsumer(watchlistCache, logger).HandleReviewEvent, logger).
				WithDLQ(pkgkafka.NewDLQProducer(a.dlqWriter, logger))
		}
	}

	// Build the dependency graph.
	ledger := service.NewRatingLedger(st.ledger, st.reviews, events, cache, service.LedgerConfig{
		DuplicatePolicy: cfg.ReviewDuplicatePolicy,
	}, logger)
	services := handler.Services{
		Platforms:  service.NewPlatformService(st.platforms, st.watchlists, logger),
		Watchlists: service.NewWatchlistService(st.watchlists, st.reviews, ledger, cache, logger),
		Ledger:     ledger,
	}

	validator := auth.NewTokenValidator(cfg.JWTSecret, cfg.JWTIssuer)
	router := handler.NewRouter(services, validator.Validate, healthHandler, logger, handler.RouterConfig{
		CORS:              middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins},
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		ReviewThrottleRPS: cfg.ReviewThrottleRPS,
		ReviewBurst:       cfg.ReviewBurst,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// initStores opens the configured storage driver.
func (a *App) initStores(ctx context.Context, healthHandler *health.Handler) (stores, error) {
	cfg, logger := a.cfg, a.logger

	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		s := memory.New()
		return stores{
			platforms:  s.Platforms(),
			watchlists: s.Watchlists(),
			reviews:    s.Reviews(),
			ledger:     s,
		}, nil
	}

	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, logger)
	if err != nil {
		return stores{}, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return stores{}, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	return stores{
		platforms:  postgres.NewPlatformRepository(pool),
		watchlists: postgres.NewWatchlistRepository(pool),
		reviews:    postgres.NewReviewRepository(pool),
		ledger:     postgres.NewLedgerStore(pool),
	}, nil
}

// Run starts the HTTP server and the cache invalidation consumer, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("review event consumer: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush spans from drained requests)
// 3. Kafka consumer, DLQ writer and producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	errs = append(errs, a.closeResources())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything NewApp may have opened. Nil members are
// skipped so it is safe on a partially built App.
func (a *App) closeResources() error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlqWriter != nil {
		if err := a.dlqWriter.Close(); err != nil {
			a.logger.Error("kafka dlq writer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
