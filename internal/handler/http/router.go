package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpmidhlaj/watchmate/internal/service"
	"github.com/kpmidhlaj/watchmate/pkg/health"
	"github.com/kpmidhlaj/watchmate/pkg/middleware"
)

// Services groups the application services the router exposes.
type Services struct {
	Platforms  *service.PlatformService
	Watchlists *service.WatchlistService
	Ledger     *service.RatingLedger
}

// RouterConfig holds the HTTP-level knobs of the API.
type RouterConfig struct {
	CORS              middleware.CORSConfig
	RateLimitRequests int
	RateLimitWindow   time.Duration
	ReviewThrottleRPS float64
	ReviewBurst       int
	PprofAllowedCIDRs []string
}

// NewRouter creates a chi router with all watchmate routes registered.
// Reads are public; every write requires a bearer token.
func NewRouter(
	services Services,
	tokenValidator middleware.TokenValidator,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing())
	r.Use(middleware.PrometheusMetrics("watchmate"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	platformHandler := NewPlatformHandler(services.Platforms, logger)
	watchlistHandler := NewWatchlistHandler(services.Watchlists, logger)
	reviewHandler := NewReviewHandler(services.Ledger, services.Watchlists, logger)

	authenticated := func(r chi.Router) {
		r.Use(middleware.Auth(tokenValidator))
		r.Use(middleware.RequestLogger(logger))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/stream", func(r chi.Router) {
			r.Get("/", platformHandler.ListPlatforms)
			r.Get("/{id}", platformHandler.GetPlatform)

			r.Group(func(r chi.Router) {
				authenticated(r)
				r.Post("/", platformHandler.CreatePlatform)
				r.Put("/{id}", platformHandler.UpdatePlatform)
				r.Delete("/{id}", platformHandler.DeletePlatform)
			})
		})

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", watchlistHandler.ListWatchlists)
			r.Get("/{id}", watchlistHandler.GetWatchlist)
			r.Get("/{id}/rating/verify", watchlistHandler.VerifyRating)
			r.Get("/{id}/reviews", reviewHandler.ListReviews)
			r.Get("/reviews/{reviewId}", reviewHandler.GetReview)

			r.Group(func(r chi.Router) {
				authenticated(r)
				r.Post("/", watchlistHandler.CreateWatchlist)
				r.Put("/{id}", watchlistHandler.UpdateWatchlist)
				r.Delete("/{id}", watchlistHandler.DeleteWatchlist)
				r.Put("/reviews/{reviewId}", reviewHandler.EditReview)
				r.Delete("/reviews/{reviewId}", reviewHandler.DeactivateReview)

				r.With(middleware.UserThrottle(cfg.ReviewThrottleRPS, cfg.ReviewBurst)).
					Post("/{id}/reviews", reviewHandler.SubmitReview)
			})
		})

		r.Get("/reviews", reviewHandler.ListReviewsByUser)
	})

	return r
}
