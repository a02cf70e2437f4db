package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/settlement"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// ErrPredictionSettled is returned when re-predicting a match whose prediction is settled
var ErrPredictionSettled = errors.New("prediction is settled and immutable")

// PredictionRepository handles prediction-related database operations
type PredictionRepository struct {
	db *Database
}

const predictionColumns = `
	match_id, competition, prob_home, prob_draw, prob_away,
	pick, grade, estimates, exclusions, model_version, created_at,
	result, outcome, settled_at`

func scanPrediction(row pgx.Row) (*models.Prediction, error) {
	var p models.Prediction
	err := row.Scan(
		&p.MatchID, &p.Competition, &p.ProbHome, &p.ProbDraw, &p.ProbAway,
		&p.Pick, &p.Grade, &p.Estimates, &p.Exclusions, &p.ModelVersion, &p.CreatedAt,
		&p.Result, &p.Outcome, &p.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert stores the prediction for a match, replacing an unsettled one
func (r *PredictionRepository) Upsert(ctx context.Context, pred *models.Prediction) error {
	if pred == nil {
		return fmt.Errorf("prediction cannot be nil")
	}

	// Validate prediction data before insert
	if err := pred.Validate(); err != nil {
		return fmt.Errorf("prediction validation failed: %w", err)
	}

	query := `
		INSERT INTO predictions (
			match_id, competition, prob_home, prob_draw, prob_away,
			pick, grade, estimates, exclusions, model_version, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (match_id) DO UPDATE SET
			competition = EXCLUDED.competition,
			prob_home = EXCLUDED.prob_home,
			prob_draw = EXCLUDED.prob_draw,
			prob_away = EXCLUDED.prob_away,
			pick = EXCLUDED.pick,
			grade = EXCLUDED.grade,
			estimates = EXCLUDED.estimates,
			exclusions = EXCLUDED.exclusions,
			model_version = EXCLUDED.model_version,
			created_at = EXCLUDED.created_at
		WHERE predictions.result IS NULL
		RETURNING created_at
	`

	start := time.Now()
	err := r.db.Pool.QueryRow(ctx, query,
		pred.MatchID, pred.Competition, pred.ProbHome, pred.ProbDraw, pred.ProbAway,
		pred.Pick, pred.Grade, pred.Estimates, pred.Exclusions, pred.ModelVersion, pred.CreatedAt,
	).Scan(&pred.CreatedAt)
	observe("upsert", "predictions", start, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrPredictionSettled, pred.MatchID)
	}
	if err != nil {
		log.Error().Err(err).Str("match_id", pred.MatchID).Msg("Failed to upsert prediction")
		return fmt.Errorf("failed to upsert prediction: %w", err)
	}

	log.Debug().
		Str("match_id", pred.MatchID).
		Str("pick", string(pred.Pick)).
		Str("grade", string(pred.Grade)).
		Msg("Prediction stored")
	return nil
}

// GetByMatchID retrieves the prediction for a match
func (r *PredictionRepository) GetByMatchID(ctx context.Context, matchID string) (*models.Prediction, error) {
	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE match_id = $1`

	start := time.Now()
	p, err := scanPrediction(r.db.Pool.QueryRow(ctx, query, matchID))
	observe("select", "predictions", start, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("prediction for match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

// ListPending retrieves unsettled predictions whose match is final, oldest kickoff first
func (r *PredictionRepository) ListPending(ctx context.Context, competition string, limit int) ([]settlement.Pending, error) {
	query := `
		SELECT ` + prefixed("p", predictionColumns) + `, ` + prefixed("m", matchColumns) + `
		FROM predictions p
		JOIN matches m ON m.match_id = p.match_id
		WHERE p.result IS NULL
		  AND m.status = 'final'
		  AND ($1 = '' OR p.competition = $1)
		ORDER BY m.kickoff ASC, m.match_id ASC
		LIMIT $2
	`

	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, query, competition, limit)
	observe("select", "predictions", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending predictions: %w", err)
	}
	defer rows.Close()

	var pending []settlement.Pending
	for rows.Next() {
		var item settlement.Pending
		p, m := &item.Prediction, &item.Match
		if err := rows.Scan(
			&p.MatchID, &p.Competition, &p.ProbHome, &p.ProbDraw, &p.ProbAway,
			&p.Pick, &p.Grade, &p.Estimates, &p.Exclusions, &p.ModelVersion, &p.CreatedAt,
			&p.Result, &p.Outcome, &p.SettledAt,
			&m.MatchID, &m.Competition, &m.Season, &m.Kickoff, &m.HomeTeam, &m.AwayTeam, &m.Status,
			&m.HomeGoals, &m.AwayGoals, &m.FirstScorer,
			&m.OddsHome, &m.OddsDraw, &m.OddsAway,
			&m.SettledSeq, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pending prediction: %w", err)
		}
		pending = append(pending, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending predictions: %w", err)
	}
	return pending, nil
}

// SettleOnce records the result of a prediction if it is still unsettled and,
// in the same transaction, folds it into the "all" and competition counters.
// It reports whether this call performed the settlement.
func (r *PredictionRepository) SettleOnce(ctx context.Context, matchID, competition string, outcome models.Outcome, result string, settledAt time.Time) (bool, error) {
	start := time.Now()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE predictions
		SET result = $2, outcome = $3, settled_at = $4
		WHERE match_id = $1 AND result IS NULL
	`, matchID, result, string(outcome), settledAt)
	if err != nil {
		return false, fmt.Errorf("failed to settle prediction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	correct := 0
	if result == models.ResultCorrect {
		correct = 1
	}
	for _, scope := range []string{models.ScopeAll, competition} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO accuracy_counters (scope, settled, correct, current_streak, best_streak)
			VALUES ($1, 1, $2, $2, $2)
			ON CONFLICT (scope) DO UPDATE SET
				settled = accuracy_counters.settled + 1,
				correct = accuracy_counters.correct + EXCLUDED.correct,
				current_streak = CASE WHEN EXCLUDED.correct = 1 THEN accuracy_counters.current_streak + 1 ELSE 0 END,
				best_streak = GREATEST(
					accuracy_counters.best_streak,
					CASE WHEN EXCLUDED.correct = 1 THEN accuracy_counters.current_streak + 1 ELSE 0 END
				),
				updated_at = NOW()
		`, scope, correct); err != nil {
			return false, fmt.Errorf("failed to update accuracy counter %s: %w", scope, err)
		}
	}

	err = tx.Commit(ctx)
	observe("settle", "predictions", start, err)
	if err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}

	log.Debug().Str("match_id", matchID).Str("result", result).Msg("Prediction settled")
	return true, nil
}
