package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/patterns"
	"footballtips/predictions/internal/predictor"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// PatternRepository handles pattern buckets and their watermarks
type PatternRepository struct {
	db *Database
}

// GetWatermark returns the watermark of a feature set, zero valued if it was never built
func (r *PatternRepository) GetWatermark(ctx context.Context, featureSet string) (*models.PatternWatermark, error) {
	query := `
		SELECT feature_set, last_seq, mode, updated_at
		FROM pattern_watermarks
		WHERE feature_set = $1
	`

	var wm models.PatternWatermark
	err := r.db.Pool.QueryRow(ctx, query, featureSet).Scan(&wm.FeatureSet, &wm.LastSeq, &wm.Mode, &wm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.PatternWatermark{FeatureSet: featureSet}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern watermark: %w", err)
	}
	return &wm, nil
}

// ListSettledSince retrieves matches settled after the watermark
func (r *PatternRepository) ListSettledSince(ctx context.Context, afterSeq int64, limit int) ([]models.MatchRecord, error) {
	return r.db.Matches.ListSettledSince(ctx, afterSeq, limit)
}

// ApplyDeltas adds counts to buckets and advances the watermark with a
// compare-and-set, all in one transaction
func (r *PatternRepository) ApplyDeltas(ctx context.Context, featureSet string, deltas map[string]models.OutcomeCounts, expectedSeq, newSeq int64) error {
	start := time.Now()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO pattern_watermarks (feature_set) VALUES ($1) ON CONFLICT (feature_set) DO NOTHING`,
		featureSet,
	); err != nil {
		return fmt.Errorf("failed to ensure watermark row: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE pattern_watermarks
		SET last_seq = $3, mode = 'incremental', updated_at = NOW()
		WHERE feature_set = $1 AND last_seq = $2
	`, featureSet, expectedSeq, newSeq)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return patterns.ErrWatermarkMoved
	}

	for code, d := range deltas {
		if d.Total() == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO pattern_buckets (feature_set, code, total, wins, draws, losses)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (feature_set, code) DO UPDATE SET
				total = pattern_buckets.total + EXCLUDED.total,
				wins = pattern_buckets.wins + EXCLUDED.wins,
				draws = pattern_buckets.draws + EXCLUDED.draws,
				losses = pattern_buckets.losses + EXCLUDED.losses,
				updated_at = NOW()
		`, featureSet, code, d.Total(), d.Wins, d.Draws, d.Losses); err != nil {
			return fmt.Errorf("failed to apply delta to bucket %s: %w", code, err)
		}
	}

	err = tx.Commit(ctx)
	observe("apply_deltas", "pattern_buckets", start, err)
	if err != nil {
		return fmt.Errorf("failed to commit pattern deltas: %w", err)
	}

	log.Debug().
		Str("feature_set", featureSet).
		Int("buckets", len(deltas)).
		Int64("watermark", newSeq).
		Msg("Pattern deltas applied")

	return nil
}

// ReplaceBuckets swaps every bucket of a feature set and sets the watermark in one transaction
func (r *PatternRepository) ReplaceBuckets(ctx context.Context, featureSet string, buckets []models.PatternBucket, lastSeq int64) error {
	start := time.Now()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the watermark so a concurrent incremental run fails its CAS
	if _, err := tx.Exec(ctx, `
		INSERT INTO pattern_watermarks (feature_set, last_seq, mode) VALUES ($1, $2, 'full')
		ON CONFLICT (feature_set) DO UPDATE SET last_seq = EXCLUDED.last_seq, mode = 'full', updated_at = NOW()
	`, featureSet, lastSeq); err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM pattern_buckets WHERE feature_set = $1`, featureSet); err != nil {
		return fmt.Errorf("failed to clear buckets: %w", err)
	}

	if len(buckets) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"pattern_buckets"},
			[]string{"feature_set", "code", "total", "wins", "draws", "losses"},
			pgx.CopyFromSlice(len(buckets), func(i int) ([]any, error) {
				b := buckets[i]
				return []any{featureSet, b.Code, b.Total, b.Wins, b.Draws, b.Losses}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy buckets: %w", err)
		}
	}

	err = tx.Commit(ctx)
	observe("replace", "pattern_buckets", start, err)
	if err != nil {
		return fmt.Errorf("failed to commit bucket replacement: %w", err)
	}

	log.Info().
		Str("feature_set", featureSet).
		Int("buckets", len(buckets)).
		Int64("watermark", lastSeq).
		Msg("Pattern buckets replaced")

	return nil
}

// GetBucket retrieves one bucket
func (r *PatternRepository) GetBucket(ctx context.Context, featureSet, code string) (*models.PatternBucket, error) {
	query := `
		SELECT feature_set, code, total, wins, draws, losses, updated_at
		FROM pattern_buckets
		WHERE feature_set = $1 AND code = $2
	`

	var b models.PatternBucket
	err := r.db.Pool.QueryRow(ctx, query, featureSet, code).Scan(
		&b.FeatureSet, &b.Code, &b.Total, &b.Wins, &b.Draws, &b.Losses, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bucket %s/%s: %w", featureSet, code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return &b, nil
}

// Resolve fetches the buckets the predictor asked for, keyed by feature set.
// Missing buckets are left out.
func (r *PatternRepository) Resolve(ctx context.Context, lookups []predictor.BucketLookup) (map[string]models.PatternBucket, error) {
	out := make(map[string]models.PatternBucket, len(lookups))
	for _, l := range lookups {
		b, err := r.GetBucket(ctx, l.FeatureSet, l.Code)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[l.FeatureSet] = *b
	}
	return out, nil
}

// ListBuckets retrieves the largest buckets of a feature set
func (r *PatternRepository) ListBuckets(ctx context.Context, featureSet string, limit int) ([]models.PatternBucket, error) {
	query := `
		SELECT feature_set, code, total, wins, draws, losses, updated_at
		FROM pattern_buckets
		WHERE feature_set = $1
		ORDER BY total DESC, code ASC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, featureSet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}
	defer rows.Close()

	var buckets []models.PatternBucket
	for rows.Next() {
		var b models.PatternBucket
		if err := rows.Scan(&b.FeatureSet, &b.Code, &b.Total, &b.Wins, &b.Draws, &b.Losses, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating buckets: %w", err)
	}
	return buckets, nil
}
