package settlement

import (
	"context"
	"fmt"
	"time"

	"footballtips/predictions/internal/models"

	"github.com/rs/zerolog/log"
)

// Outcome maps a final score to home, draw or away
func Outcome(homeGoals, awayGoals int) models.Outcome {
	return models.OutcomeFromScore(homeGoals, awayGoals)
}

// Judge compares a pick to the actual outcome
func Judge(pick, outcome models.Outcome) string {
	if pick == outcome {
		return models.ResultCorrect
	}
	return models.ResultIncorrect
}

// Pending is an unsettled prediction paired with its final match
type Pending struct {
	Prediction models.Prediction
	Match      models.MatchRecord
}

// Store is the persistence the reporter needs
type Store interface {
	// ListPending returns unsettled predictions whose match is final
	ListPending(ctx context.Context, competition string, limit int) ([]Pending, error)
	// SettleOnce records the result only if the prediction is still unsettled and,
	// in the same transaction, folds it into the accuracy counters. It reports
	// whether this call performed the settlement.
	SettleOnce(ctx context.Context, matchID, competition string, outcome models.Outcome, result string, settledAt time.Time) (bool, error)
}

// RowFailure is a prediction that could not be settled
type RowFailure struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

// Settled is a prediction settled by this run
type Settled struct {
	MatchID string         `json:"match_id"`
	Outcome models.Outcome `json:"outcome"`
	Result  string         `json:"result"`
}

// Report summarises a settlement run
type Report struct {
	Processed   int          `json:"processed"`
	Settled     int          `json:"settled"`
	Correct     int          `json:"correct"`
	Skipped     int          `json:"skipped"`
	Settlements []Settled    `json:"settlements,omitempty"`
	Failures    []RowFailure `json:"failures,omitempty"`
}

// Reporter settles predictions against final scores
type Reporter struct {
	store Store
	now   func() time.Time
}

// NewReporter creates a settlement reporter
func NewReporter(store Store) *Reporter {
	return &Reporter{store: store, now: time.Now}
}

// Run settles up to limit pending predictions. A row failure is recorded and
// the run continues; a failure to list pending rows aborts it.
func (r *Reporter) Run(ctx context.Context, competition string, limit int) (*Report, error) {
	pending, err := r.store.ListPending(ctx, competition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending predictions: %w", err)
	}

	report := &Report{}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		outcome, err := p.Match.Outcome()
		if err != nil {
			report.Failures = append(report.Failures, RowFailure{MatchID: p.Match.MatchID, Reason: err.Error()})
			continue
		}
		result := Judge(p.Prediction.Pick, outcome)

		settled, err := r.store.SettleOnce(ctx, p.Prediction.MatchID, p.Prediction.Competition, outcome, result, r.now().UTC())
		if err != nil {
			log.Warn().Err(err).Str("match_id", p.Prediction.MatchID).Msg("Failed to settle prediction")
			report.Failures = append(report.Failures, RowFailure{MatchID: p.Prediction.MatchID, Reason: err.Error()})
			continue
		}
		if !settled {
			// Settled by a concurrent run
			report.Skipped++
			continue
		}

		report.Settled++
		report.Settlements = append(report.Settlements, Settled{MatchID: p.Prediction.MatchID, Outcome: outcome, Result: result})
		if result == models.ResultCorrect {
			report.Correct++
		}
	}

	log.Info().
		Str("competition", competition).
		Int("processed", report.Processed).
		Int("settled", report.Settled).
		Int("correct", report.Correct).
		Int("failures", len(report.Failures)).
		Msg("Settlement run complete")

	return report, nil
}
