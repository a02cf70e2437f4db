package repository

import (
	"context"
	"errors"
	"fmt"

	"footballtips/predictions/internal/models"

	"github.com/jackc/pgx/v5"
)

// AccuracyRepository reads the running settlement counters.
// Counters are written only by PredictionRepository.SettleOnce.
type AccuracyRepository struct {
	db *Database
}

// Get retrieves the counter for one scope
func (r *AccuracyRepository) Get(ctx context.Context, scope string) (*models.AccuracyCounter, error) {
	query := `
		SELECT scope, settled, correct, current_streak, best_streak, updated_at
		FROM accuracy_counters
		WHERE scope = $1
	`

	var c models.AccuracyCounter
	err := r.db.Pool.QueryRow(ctx, query, scope).Scan(
		&c.Scope, &c.Settled, &c.Correct, &c.CurrentStreak, &c.BestStreak, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("accuracy scope %s: %w", scope, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get accuracy counter: %w", err)
	}
	return &c, nil
}

// List retrieves every counter, "all" first
func (r *AccuracyRepository) List(ctx context.Context) ([]models.AccuracyCounter, error) {
	query := `
		SELECT scope, settled, correct, current_streak, best_streak, updated_at
		FROM accuracy_counters
		ORDER BY scope <> 'all', scope
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accuracy counters: %w", err)
	}
	defer rows.Close()

	var counters []models.AccuracyCounter
	for rows.Next() {
		var c models.AccuracyCounter
		if err := rows.Scan(&c.Scope, &c.Settled, &c.Correct, &c.CurrentStreak, &c.BestStreak, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan accuracy counter: %w", err)
		}
		counters = append(counters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accuracy counters: %w", err)
	}
	return counters, nil
}
