package config

import (
	"fmt"
	"os"
	"time"

	"footballtips/predictions/internal/jobs"
	"footballtips/predictions/internal/patterns"
	"footballtips/predictions/internal/predictor"
	"footballtips/predictions/internal/repository"
	"footballtips/predictions/internal/stats"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	// Football data feed
	FeedAPIKey    string        `envconfig:"FEED_API_KEY" default:""`
	FeedBaseURL   string        `envconfig:"FEED_BASE_URL" default:"https://api.football-data.example/v1"`
	FeedTimeout   time.Duration `envconfig:"FEED_TIMEOUT" default:"30s"`
	FeedRateLimit int           `envconfig:"FEED_RATE_LIMIT" default:"5"` // requests per second
	FeedSeason    string        `envconfig:"FEED_SEASON" default:"2025"`

	// Database
	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     int    `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"footballtips"`
	DatabaseUser     string `envconfig:"DATABASE_USER" default:"footballtips"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD" required:"true"`
	DatabaseSSLMode  string `envconfig:"DATABASE_SSL_MODE" default:"disable"`
	AutoMigrate      bool   `envconfig:"AUTO_MIGRATE" default:"true"`

	// Redis
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP API
	IngestionPort int           `envconfig:"INGESTION_PORT" default:"8080"`
	JobTimeout    time.Duration `envconfig:"JOB_TIMEOUT" default:"55s"`
	MaxBatchSize  int           `envconfig:"MAX_BATCH_SIZE" default:"500"`

	// Scheduler
	EnableScheduler bool     `envconfig:"ENABLE_SCHEDULER" default:"false"`
	TeamStatsCron   string   `envconfig:"TEAM_STATS_CRON" default:"0 3 * * *"`
	PatternsCron    string   `envconfig:"PATTERNS_CRON" default:"15 * * * *"`
	PredictCron     string   `envconfig:"PREDICT_CRON" default:"30 */2 * * *"`
	SettleCron      string   `envconfig:"SETTLE_CRON" default:"*/20 * * * *"`
	FeedSyncCron    string   `envconfig:"FEED_SYNC_CRON" default:"0 */6 * * *"`
	Competitions    []string `envconfig:"COMPETITIONS" default:"PL,ELC,PD,SA,BL1,FL1"`

	// Caching TTL (in seconds)
	CacheTTLPredictions int `envconfig:"CACHE_TTL_PREDICTIONS" default:"600"` // 10 minutes

	// Aggregator
	FormWindow     int     `envconfig:"FORM_WINDOW" default:"10"`
	FormDecay      float64 `envconfig:"FORM_DECAY" default:"0.8"`
	MinTeamMatches int     `envconfig:"MIN_TEAM_MATCHES" default:"3"`

	// Pattern builder
	PatternBatchSize int `envconfig:"PATTERN_BATCH_SIZE" default:"1000"`

	// Predictor
	PredictorFeatures  []string `envconfig:"PREDICTOR_FEATURES" default:"odds_tier,home_venue"`
	MinPatternSample   int      `envconfig:"MIN_PATTERN_SAMPLE" default:"20"`
	MinGradeSample     int      `envconfig:"MIN_GRADE_SAMPLE" default:"30"`
	AgreementTolerance float64  `envconfig:"AGREEMENT_TOLERANCE" default:"0.10"`
	FormSteepness      float64  `envconfig:"FORM_STEEPNESS" default:"4.0"`
	HomeAdvantage      float64  `envconfig:"HOME_ADVANTAGE" default:"0.25"`
	DrawBase           float64  `envconfig:"DRAW_BASE" default:"0.30"`
	PatternWeight      float64  `envconfig:"PATTERN_WEIGHT" default:"1.0"`
	FormWeight         float64  `envconfig:"FORM_WEIGHT" default:"1.0"`
	OddsWeight         float64  `envconfig:"ODDS_WEIGHT" default:"1.5"`
	ModelVersion       string   `envconfig:"MODEL_VERSION" default:"blend-v3"`
	PredictHorizon     time.Duration `envconfig:"PREDICT_HORIZON" default:"168h"` // upcoming window for the predict job

	// Monitoring
	EnableMetrics bool `envconfig:"ENABLE_METRICS" default:"true"`
	MetricsPort   int  `envconfig:"METRICS_PORT" default:"9090"`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DatabasePassword == "" {
		return fmt.Errorf("DATABASE_PASSWORD is required")
	}
	if c.FormWindow <= 0 {
		return fmt.Errorf("FORM_WINDOW must be positive")
	}
	if c.FormDecay <= 0 || c.FormDecay > 1 {
		return fmt.Errorf("FORM_DECAY must be in (0, 1]")
	}
	if c.MinTeamMatches < 1 {
		return fmt.Errorf("MIN_TEAM_MATCHES must be at least 1")
	}
	if c.DrawBase < 0 || c.DrawBase >= 1 {
		return fmt.Errorf("DRAW_BASE must be in [0, 1)")
	}
	if c.PredictHorizon <= 0 {
		return fmt.Errorf("PREDICT_HORIZON must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}
	if c.PatternWeight < 0 || c.FormWeight < 0 || c.OddsWeight < 0 {
		return fmt.Errorf("PATTERN_WEIGHT, FORM_WEIGHT and ODDS_WEIGHT must not be negative")
	}
	if c.PatternWeight+c.FormWeight+c.OddsWeight == 0 {
		return fmt.Errorf("at least one of PATTERN_WEIGHT, FORM_WEIGHT, ODDS_WEIGHT must be positive")
	}
	for _, name := range c.PredictorFeatures {
		if _, ok := patterns.LookupCandidate(name); !ok {
			return fmt.Errorf("PREDICTOR_FEATURES: %q is not a pre-match feature set", name)
		}
	}
	return nil
}

// AggregatorConfig returns the explicit aggregator parameters
func (c *Config) AggregatorConfig() stats.AggregatorConfig {
	return stats.AggregatorConfig{
		Window:         c.FormWindow,
		Decay:          c.FormDecay,
		MinTeamMatches: c.MinTeamMatches,
	}
}

// BuilderConfig returns the explicit pattern builder parameters
func (c *Config) BuilderConfig() patterns.BuilderConfig {
	return patterns.BuilderConfig{
		BatchSize: c.PatternBatchSize,
	}
}

// PredictorConfig returns the explicit predictor parameters
func (c *Config) PredictorConfig() predictor.Config {
	return predictor.Config{
		Features:           c.PredictorFeatures,
		MinPatternSample:   c.MinPatternSample,
		MinGradeSample:     c.MinGradeSample,
		AgreementTolerance: c.AgreementTolerance,
		FormSteepness:      c.FormSteepness,
		HomeAdvantage:      c.HomeAdvantage,
		DrawBase:           c.DrawBase,
		PatternWeight:      c.PatternWeight,
		FormWeight:         c.FormWeight,
		OddsWeight:         c.OddsWeight,
		ModelVersion:       c.ModelVersion,
	}
}

// JobsConfig returns the parameters of every batch job
func (c *Config) JobsConfig() jobs.Config {
	return jobs.Config{
		Aggregator:     c.AggregatorConfig(),
		Builder:        c.BuilderConfig(),
		Predictor:      c.PredictorConfig(),
		PredictHorizon: c.PredictHorizon,
		MaxBatchSize:   c.MaxBatchSize,
		FeedSeason:     c.FeedSeason,
		Competitions:   c.Competitions,
	}
}

// DatabaseConfig returns the connection settings for the repository layer
func (c *Config) DatabaseConfig() repository.Config {
	return repository.Config{
		Host:     c.DatabaseHost,
		Port:     c.DatabasePort,
		User:     c.DatabaseUser,
		Password: c.DatabasePassword,
		Database: c.DatabaseName,
		SSLMode:  c.DatabaseSSLMode,
	}
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return c.DatabaseConfig().DSN()
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// MustLoad loads configuration or panics on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
