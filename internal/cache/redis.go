package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"footballtips/predictions/internal/metrics"
	"footballtips/predictions/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrMiss is returned when a key is not cached
var ErrMiss = errors.New("cache miss")

const predictionKeyPrefix = "footy:prediction:"

// PredictionCache caches stored predictions by match id
type PredictionCache interface {
	GetPrediction(ctx context.Context, matchID string) (*models.Prediction, error)
	SetPrediction(ctx context.Context, pred *models.Prediction) error
	InvalidatePrediction(ctx context.Context, matchIDs ...string) error
}

// Config holds Redis connection settings
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache is a PredictionCache backed by Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

// GetPrediction returns the cached prediction or ErrMiss
func (c *RedisCache) GetPrediction(ctx context.Context, matchID string) (*models.Prediction, error) {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("get", time.Since(start).Seconds()) }()

	data, err := c.client.Get(ctx, predictionKeyPrefix+matchID).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheMiss()
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached prediction: %w", err)
	}

	var pred models.Prediction
	if err := json.Unmarshal(data, &pred); err != nil {
		// Corrupt entry: drop it and treat as a miss
		c.client.Del(ctx, predictionKeyPrefix+matchID)
		metrics.RecordCacheMiss()
		return nil, ErrMiss
	}

	metrics.RecordCacheHit()
	return &pred, nil
}

// SetPrediction caches a prediction for the configured TTL
func (c *RedisCache) SetPrediction(ctx context.Context, pred *models.Prediction) error {
	start := time.Now()
	defer func() { metrics.RecordCacheOperation("set", time.Since(start).Seconds()) }()

	data, err := json.Marshal(pred)
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}
	if err := c.client.Set(ctx, predictionKeyPrefix+pred.MatchID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache prediction: %w", err)
	}
	return nil
}

// InvalidatePrediction removes cached predictions
func (c *RedisCache) InvalidatePrediction(ctx context.Context, matchIDs ...string) error {
	if len(matchIDs) == 0 {
		return nil
	}
	keys := make([]string, len(matchIDs))
	for i, id := range matchIDs {
		keys[i] = predictionKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate predictions: %w", err)
	}
	log.Debug().Int("count", len(keys)).Msg("Prediction cache invalidated")
	return nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop is a PredictionCache that never stores anything
type Nop struct{}

func (Nop) GetPrediction(context.Context, string) (*models.Prediction, error) { return nil, ErrMiss }
func (Nop) SetPrediction(context.Context, *models.Prediction) error { return nil }
func (Nop) InvalidatePrediction(context.Context, ...string) error { return nil }
