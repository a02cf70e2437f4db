package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"footballtips/predictions/internal/cache"
	"footballtips/predictions/internal/metrics"
	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/patterns"
	"footballtips/predictions/internal/predictor"
	"footballtips/predictions/internal/repository"
	"footballtips/predictions/internal/settlement"
	"footballtips/predictions/internal/stats"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Job names, used in reports, logs and metrics
const (
	JobTeamStats = "aggregate-team-stats"
	JobPatterns  = "build-patterns"
	JobPredict   = "predict-upcoming"
	JobSettle    = "settle-predictions"
	JobSync      = "sync-feed"
	JobIngest    = "ingest-matches"
)

var (
	// ErrBadRequest wraps job arguments that cannot be served
	ErrBadRequest = errors.New("bad request")
	// ErrFeedDisabled is returned by SyncFeed when no feed client is configured
	ErrFeedDisabled = errors.New("data feed is not configured")
)

// MatchStore is the match persistence the jobs need
type MatchStore interface {
	Upsert(ctx context.Context, m *models.MatchRecord) error
	GetByID(ctx context.Context, matchID string) (*models.MatchRecord, error)
	ListSettled(ctx context.Context, competition string) ([]models.MatchRecord, error)
	ListUpcoming(ctx context.Context, competition string, from, to time.Time, offset, limit int) ([]models.MatchRecord, error)
	ListTeams(ctx context.Context, competition string) ([]string, error)
	ListCompetitions(ctx context.Context) ([]string, error)
}

// TeamStatStore persists aggregated team statistics
type TeamStatStore interface {
	Upsert(ctx context.Context, s *models.TeamStat) error
	Get(ctx context.Context, team, competition string) (*models.TeamStat, error)
}

// PatternStore is the builder store plus bucket resolution for the predictor
type PatternStore interface {
	patterns.Store
	Resolve(ctx context.Context, lookups []predictor.BucketLookup) (map[string]models.PatternBucket, error)
}

// PredictionStore persists predictions and settles them
type PredictionStore interface {
	settlement.Store
	Upsert(ctx context.Context, pred *models.Prediction) error
	GetByMatchID(ctx context.Context, matchID string) (*models.Prediction, error)
}

// AccuracyStore reads the running settlement counters
type AccuracyStore interface {
	List(ctx context.Context) ([]models.AccuracyCounter, error)
}

// Feed pulls fixtures, results and odds from the data provider
type Feed interface {
	FetchMatches(ctx context.Context, competition, season string) ([]models.MatchInput, error)
}

// Stores groups the persistence used by the service
type Stores struct {
	Matches     MatchStore
	TeamStats   TeamStatStore
	Patterns    PatternStore
	Predictions PredictionStore
	Accuracy    AccuracyStore
}

// Config holds the explicit parameters of every job
type Config struct {
	Aggregator     stats.AggregatorConfig
	Builder        patterns.BuilderConfig
	Predictor      predictor.Config
	PredictHorizon time.Duration
	MaxBatchSize   int
	FeedSeason     string
	Competitions   []string // feed sync targets when a request names none
}

// JobRequest selects the slice of work a job run covers
type JobRequest struct {
	Competition string `json:"competition"`
	Offset      int    `json:"offset"`
	BatchSize   int    `json:"batch_size"`
}

// RowFailure is a row a job could not process; it never aborts the batch
type RowFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Report summarises one job run
type Report struct {
	RunID        string       `json:"run_id"`
	Job          string       `json:"job"`
	Competition  string       `json:"competition,omitempty"`
	Processed    int          `json:"processed"`
	Succeeded    int          `json:"succeeded"`
	Skipped      int          `json:"skipped"`
	Insufficient int          `json:"insufficient"`
	Failures     []RowFailure `json:"failures"`
	NextOffset   int          `json:"next_offset"`
	HasMore      bool         `json:"has_more"`
	Duration     float64      `json:"duration_seconds"`
	Details      any          `json:"details,omitempty"`
}

func (r *Report) fail(key string, err error) {
	r.Failures = append(r.Failures, RowFailure{Key: key, Reason: err.Error()})
}

// Service runs the batch jobs and single predictions over the stores
type Service struct {
	stores   Stores
	feed     Feed
	cache    cache.PredictionCache
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

// NewService creates a job service. feed may be nil, cache may be nil.
func NewService(stores Stores, feed Feed, predictionCache cache.PredictionCache, cfg Config) *Service {
	if predictionCache == nil {
		predictionCache = cache.Nop{}
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.PredictHorizon <= 0 {
		cfg.PredictHorizon = 7 * 24 * time.Hour
	}
	return &Service{
		stores:   stores,
		feed:     feed,
		cache:    predictionCache,
		cfg:      cfg,
		validate: validator.New(),
		now:      time.Now,
	}
}

// batchSize clamps the requested batch size to the configured maximum
func (s *Service) batchSize(req JobRequest) int {
	if req.BatchSize <= 0 || req.BatchSize > s.cfg.MaxBatchSize {
		return s.cfg.MaxBatchSize
	}
	return req.BatchSize
}

// run wraps a job with a run id, timing, logging and metrics
func (s *Service) run(ctx context.Context, job string, req JobRequest, fn func(ctx context.Context, report *Report) error) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:       uuid.NewString(),
		Job:         job,
		Competition: req.Competition,
		Failures:    []RowFailure{},
	}

	logger := log.With().Str("job", job).Str("run_id", report.RunID).Str("competition", req.Competition).Logger()
	logger.Info().Int("offset", req.Offset).Int("batch_size", req.BatchSize).Msg("Job started")

	err := fn(logger.WithContext(ctx), report)
	report.Duration = time.Since(start).Seconds()

	if err != nil {
		metrics.RecordJob(job, "error", report.Duration)
		metrics.RecordError(job, errorType(err))
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Job failed")
		return report, err
	}

	metrics.RecordJob(job, "success", report.Duration)
	metrics.RecordJobRows(job, report.Succeeded, report.Skipped, report.Insufficient, len(report.Failures))

	logger.Info().
		Int("processed", report.Processed).
		Int("succeeded", report.Succeeded).
		Int("skipped", report.Skipped).
		Int("insufficient", report.Insufficient).
		Int("failures", len(report.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Job complete")

	return report, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrBadRequest), errors.Is(err, patterns.ErrUnknownFeature):
		return "bad_request"
	}
	return "upstream"
}

// competitions returns the requested competition, or every competition with stored matches
func (s *Service) competitions(ctx context.Context, req JobRequest) ([]string, error) {
	if req.Competition != "" {
		return []string{req.Competition}, nil
	}
	comps, err := s.stores.Matches.ListCompetitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	return comps, nil
}

// StoresFrom wires the Postgres repositories into the service stores
func StoresFrom(db *repository.Database) Stores {
	return Stores{
		Matches:     db.Matches,
		TeamStats:   db.TeamStats,
		Patterns:    db.Patterns,
		Predictions: db.Predictions,
		Accuracy:    db.Accuracy,
	}
}
