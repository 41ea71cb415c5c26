package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	"github.com/kpmidhlaj/watchmate/internal/domain"
	pkgkafka "github.com/kpmidhlaj/watchmate/pkg/kafka"
	"github.com/kpmidhlaj/watchmate/pkg/logger"
)

// Kafka topics for review events.
var (
	TopicReviewCreated     = pkgkafka.Topic(AggregateTypeReview, "created")
	TopicReviewUpdated     = pkgkafka.Topic(AggregateTypeReview, "updated")
	TopicReviewDeactivated = pkgkafka.Topic(AggregateTypeReview, "deactivated")
)

// ReviewTopics lists every topic the review producer writes to.
var ReviewTopics = []string{TopicReviewCreated, TopicReviewUpdated, TopicReviewDeactivated}

// AggregateTypeReview is the aggregate type of review events.
const AggregateTypeReview = "review"

// SourceWatchmate identifies events originating from this service.
const SourceWatchmate = "watchmate"

// ErrBreakerOpen is returned while the publish breaker rejects calls.
var ErrBreakerOpen = gobreaker.ErrOpenState

// ReviewEventData is the payload of every review event. It carries the
// title's aggregate as committed by the same ledger transaction.
type ReviewEventData struct {
	ReviewID     string  `json:"review_id"`
	WatchlistID  string  `json:"watchlist_id"`
	UserID       string  `json:"user_id"`
	Rating       int     `json:"rating"`
	Active       bool    `json:"active"`
	AvgRating    float64 `json:"avg_rating"`
	NumberRating int     `json:"number_rating"`
}

// Publisher writes one event to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// BreakerConfig configures the circuit breaker in front of the publisher.
type BreakerConfig struct {
	Name string

	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts. 0 never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "kafka-review-events",
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "event_publisher_breaker_state",
	Help: "State of the event publish circuit breaker (0=closed, 1=half-open, 2=open).",
}, []string{"name"})

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Producer publishes review domain events. While Kafka keeps failing the
// breaker opens and publishes fail fast with ErrBreakerOpen.
type Producer struct {
	publisher Publisher
	breaker   *gobreaker.CircuitBreaker[struct{}]
	logger    *slog.Logger
}

// NewProducer creates a review event producer over publisher.
func NewProducer(publisher Publisher, cfg BreakerConfig, logger *slog.Logger) *Producer {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("event publish breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &Producer{
		publisher: publisher,
		breaker:   gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:    logger,
	}
}

// PublishReviewSubmitted publishes review.created or review.updated
// depending on the submission outcome.
func (p *Producer) PublishReviewSubmitted(ctx context.Context, review *domain.Review, outcome domain.Outcome, watchlist *domain.Watchlist) error {
	topic := TopicReviewCreated
	if outcome == domain.OutcomeUpdatedExisting {
		topic = TopicReviewUpdated
	}
	return p.publish(ctx, topic, review, watchlist)
}

// PublishReviewDeactivated publishes review.deactivated.
func (p *Producer) PublishReviewDeactivated(ctx context.Context, review *domain.Review, watchlist *domain.Watchlist) error {
	return p.publish(ctx, TopicReviewDeactivated, review, watchlist)
}

func (p *Producer) publish(ctx context.Context, topic string, review *domain.Review, watchlist *domain.Watchlist) error {
	data := ReviewEventData{
		ReviewID:     review.ID,
		WatchlistID:  review.WatchlistID,
		UserID:       review.UserID,
		Rating:       review.Rating,
		Active:       review.Active,
		AvgRating:    watchlist.AvgRating,
		NumberRating: watchlist.NumberRating,
	}

	event, err := pkgkafka.NewEvent(topic, review.WatchlistID, AggregateTypeReview, SourceWatchmate, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	event.WithMetadata("user_id", review.UserID)

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(ctx, topic, event)
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published review event",
		slog.String("topic", topic),
		slog.String("review_id", review.ID),
		slog.String("watchlist_id", review.WatchlistID),
	)
	return nil
}

// State returns the breaker state.
func (p *Producer) State() gobreaker.State {
	return p.breaker.State()
}
