//go:build integration

package repository

import (
	"errors"
	"testing"
	"time"

	"footballtips/predictions/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedPrediction(t *testing.T, match *models.MatchRecord, probs models.Triple) *models.Prediction {
	t.Helper()
	pred, err := models.NewPrediction(match, probs, models.GradeMedium,
		[]models.Estimate{{Method: models.MethodOdds, Probs: probs, Weight: 1}}, nil, "test")
	require.NoError(t, err)
	return pred
}

func TestPredictionRepository_SettleOnceIsIdempotent(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	match := scheduledMatch("pl-2001", "ARS", "CHE", time.Now().Add(time.Hour).UTC())
	require.NoError(t, db.Matches.Upsert(ctx, match))

	pred := storedPrediction(t, match, models.Triple{Home: 0.5, Draw: 0.3, Away: 0.2})
	require.NoError(t, db.Predictions.Upsert(ctx, pred))

	// Re-predicting an unsettled match replaces it
	pred = storedPrediction(t, match, models.Triple{Home: 0.2, Draw: 0.3, Away: 0.5})
	require.NoError(t, db.Predictions.Upsert(ctx, pred))

	stored, err := db.Predictions.GetByMatchID(ctx, "pl-2001")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAway, stored.Pick)

	finish(match, 0, 2, models.FirstScorerAway)
	require.NoError(t, db.Matches.Upsert(ctx, match))

	pending, err := db.Predictions.ListPending(ctx, "PL", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pl-2001", pending[0].Match.MatchID)

	settled, err := db.Predictions.SettleOnce(ctx, "pl-2001", "PL", models.OutcomeAway, models.ResultCorrect, time.Now())
	require.NoError(t, err)
	assert.True(t, settled)

	// Second settlement is a no-op
	settled, err = db.Predictions.SettleOnce(ctx, "pl-2001", "PL", models.OutcomeAway, models.ResultCorrect, time.Now())
	require.NoError(t, err)
	assert.False(t, settled)

	for _, scope := range []string{models.ScopeAll, "PL"} {
		counter, err := db.Accuracy.Get(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, 1, counter.Settled, scope)
		assert.Equal(t, 1, counter.Correct, scope)
		assert.Equal(t, 1, counter.BestStreak, scope)
	}

	// Settled predictions cannot be replaced
	err = db.Predictions.Upsert(ctx, storedPrediction(t, match, models.Triple{Home: 1}))
	assert.True(t, errors.Is(err, ErrPredictionSettled))

	pending, err = db.Predictions.ListPending(ctx, "PL", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	counters, err := db.Accuracy.List(ctx)
	require.NoError(t, err)
	require.Len(t, counters, 2)
	assert.Equal(t, models.ScopeAll, counters[0].Scope)
}

func TestPredictionRepository_StreakResets(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	results := []string{models.ResultCorrect, models.ResultCorrect, models.ResultIncorrect, models.ResultCorrect}
	for i, result := range results {
		id := "pl-30" + string(rune('0'+i))
		match := scheduledMatch(id, "ARS", "CHE", time.Now().Add(time.Duration(i)*time.Hour).UTC())
		require.NoError(t, db.Matches.Upsert(ctx, match))
		require.NoError(t, db.Predictions.Upsert(ctx, storedPrediction(t, match, models.Triple{Home: 0.5, Draw: 0.25, Away: 0.25})))

		settled, err := db.Predictions.SettleOnce(ctx, id, "PL", models.OutcomeHome, result, time.Now())
		require.NoError(t, err)
		require.True(t, settled)
	}

	counter, err := db.Accuracy.Get(ctx, models.ScopeAll)
	require.NoError(t, err)
	assert.Equal(t, 4, counter.Settled)
	assert.Equal(t, 3, counter.Correct)
	assert.Equal(t, 1, counter.CurrentStreak)
	assert.Equal(t, 2, counter.BestStreak)
}
