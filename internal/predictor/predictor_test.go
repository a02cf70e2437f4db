package predictor

import (
	"database/sql"
	"testing"

	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/patterns"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func teamStat(team string, played int, form float64) *models.TeamStat {
	return &models.TeamStat{
		Team:      team,
		Status:    models.StatusOK,
		Played:    played,
		FormIndex: sql.NullFloat64{Float64: form, Valid: true},
	}
}

func insufficientStat(team string) *models.TeamStat {
	return &models.TeamStat{Team: team, Status: models.StatusInsufficientData}
}

func candidate(odds *models.DecimalOdds) models.Candidate {
	return models.Candidate{MatchID: "m1", Competition: "PL", HomeTeam: "ARS", AwayTeam: "CHE", Odds: odds}
}

func TestOddsEstimate_NormalisesOverround(t *testing.T) {
	odds := &models.DecimalOdds{Home: 2.00, Draw: 3.50, Away: 4.00}

	res, err := Predict(DefaultConfig(), Input{Candidate: candidate(odds)})
	require.NoError(t, err)
	require.Equal(t, models.StatusOK, res.Status)
	require.Len(t, res.Estimates, 1)

	est := res.Estimates[0]
	assert.Equal(t, models.MethodOdds, est.Method)
	assert.InDelta(t, 1.0, est.Probs.Sum(), 1e-9)

	raw := 1/2.0 + 1/3.5 + 1/4.0
	assert.InDelta(t, (1/2.0)/raw, est.Probs.Home, 1e-9)
	assert.InDelta(t, (1/3.5)/raw, est.Probs.Draw, 1e-9)
	assert.InDelta(t, (1/4.0)/raw, est.Probs.Away, 1e-9)

	assert.Equal(t, models.OutcomeHome, res.Pick)
	assert.Equal(t, models.GradeMedium, res.Grade, "a single backed estimate is medium")
}

func TestOddsEstimate_RejectsPricesAtOrBelowOne(t *testing.T) {
	odds := &models.DecimalOdds{Home: 1.0, Draw: 3.50, Away: 4.00}

	res, err := Predict(DefaultConfig(), Input{Candidate: candidate(odds)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInsufficientData, res.Status)
	assert.Empty(t, res.Estimates)
	assert.Contains(t, res.Exclusions, models.Exclusion{Method: models.MethodOdds, Reason: "odds must all be greater than 1.0"})
}

func TestPredict_InsufficientTeamExcludesForm(t *testing.T) {
	in := Input{
		Candidate: candidate(nil),
		HomeStat:  teamStat("ARS", 10, 0.8),
		AwayStat:  insufficientStat("CHE"),
	}

	res, err := Predict(DefaultConfig(), in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInsufficientData, res.Status)
	assert.False(t, res.Sufficient())
	assert.Len(t, res.Exclusions, 3)
	assert.Contains(t, res.Exclusions, models.Exclusion{Method: models.MethodForm, Reason: "away team has insufficient history"})
}

func TestPredict_ZeroWeightIsExcluded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FormWeight = 0
	cfg.OddsWeight = 0
	in := Input{
		Candidate: candidate(&models.DecimalOdds{Home: 2.00, Draw: 3.50, Away: 4.00}),
		HomeStat:  teamStat("ARS", 10, 0.7),
		AwayStat:  teamStat("CHE", 10, 0.4),
	}

	res, err := Predict(cfg, in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInsufficientData, res.Status)
	assert.Empty(t, res.Estimates)
	require.Len(t, res.Exclusions, 3)
	assert.Contains(t, res.Exclusions, models.Exclusion{Method: models.MethodForm, Reason: "form weight is 0"})
	assert.Contains(t, res.Exclusions, models.Exclusion{Method: models.MethodOdds, Reason: "odds weight is 0"})

	cfg.OddsWeight = 1
	res, err = Predict(cfg, in)
	require.NoError(t, err)
	require.Equal(t, models.StatusOK, res.Status)
	require.Len(t, res.Estimates, 1)
	assert.Equal(t, models.MethodOdds, res.Estimates[0].Method)
	assert.Equal(t, models.GradeMedium, res.Grade)
}

func TestPredict_MissingTeamStatIsInsufficient(t *testing.T) {
	res, err := Predict(DefaultConfig(), Input{Candidate: candidate(nil)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInsufficientData, res.Status)
}

func TestPredict_BlendSumsToOne(t *testing.T) {
	cfg := DefaultConfig()
	odds := &models.DecimalOdds{Home: 2.10, Draw: 3.40, Away: 3.60}
	c := candidate(odds)

	lookups := Lookups(cfg, c)
	require.NotEmpty(t, lookups)
	assert.Equal(t, patterns.FeatureOddsTier, lookups[0].FeatureSet)
	assert.Equal(t, "PL:C-D-E", lookups[0].Code)

	in := Input{
		Candidate: c,
		HomeStat:  teamStat("ARS", 10, 0.65),
		AwayStat:  teamStat("CHE", 10, 0.45),
		Buckets: map[string]models.PatternBucket{
			patterns.FeatureOddsTier: {FeatureSet: patterns.FeatureOddsTier, Code: "PL:C-D-E", Total: 40, Wins: 18, Draws: 11, Losses: 11},
		},
	}

	res, err := Predict(cfg, in)
	require.NoError(t, err)
	require.Equal(t, models.StatusOK, res.Status)
	assert.Len(t, res.Estimates, 3)
	assert.InDelta(t, 1.0, res.Probs.Sum(), 0.01)
	for _, p := range []float64{res.Probs.Home, res.Probs.Draw, res.Probs.Away} {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.Equal(t, models.OutcomeHome, res.Pick)
}

func TestPatternEstimate_FallsBackToNextFeatureSet(t *testing.T) {
	cfg := DefaultConfig()
	c := candidate(&models.DecimalOdds{Home: 2.00, Draw: 3.50, Away: 4.00})
	in := Input{
		Candidate: c,
		Buckets: map[string]models.PatternBucket{
			patterns.FeatureOddsTier:  {Code: "PL:B-D-E", Total: 5, Wins: 3, Draws: 1, Losses: 1},
			patterns.FeatureHomeVenue: {Code: "PL:HOME:ARS", Total: 25, Wins: 15, Draws: 5, Losses: 5},
		},
	}

	est, reason := patternEstimate(cfg, in)
	require.Empty(t, reason)
	assert.Equal(t, 25, est.Sample)
	assert.Equal(t, "home_venue/PL:HOME:ARS", est.Source)
	assert.InDelta(t, 0.6, est.Probs.Home, 1e-9)
	assert.InDelta(t, 0.2, est.Probs.Away, 1e-9)
}

func TestPatternEstimate_SmallSampleExcluded(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{
		Candidate: candidate(nil),
		Buckets: map[string]models.PatternBucket{
			patterns.FeatureHomeVenue: {Code: "PL:HOME:ARS", Total: 12, Wins: 6, Draws: 3, Losses: 3},
		},
	}

	_, reason := patternEstimate(cfg, in)
	assert.Equal(t, "pattern sample 12 below minimum 20", reason)
}

func TestBlend_ZeroEstimates(t *testing.T) {
	_, err := Blend(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Blend([]models.Estimate{{Method: models.MethodOdds, Probs: models.Triple{Home: 1}, Weight: 0}})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBlend_WeightedAverage(t *testing.T) {
	blend, err := Blend([]models.Estimate{
		{Probs: models.Triple{Home: 0.6, Draw: 0.2, Away: 0.2}, Weight: 1},
		{Probs: models.Triple{Home: 0.3, Draw: 0.4, Away: 0.3}, Weight: 2},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, blend.Home, 1e-9)
	assert.InDelta(t, 1.0/3, blend.Draw, 1e-9)
	assert.InDelta(t, 0.8/3, blend.Away, 1e-9)
}

func TestFormProbabilities_Monotonic(t *testing.T) {
	cfg := DefaultConfig()
	prev := -1.0
	for diff := -1.0; diff <= 1.0; diff += 0.1 {
		probs := FormProbabilities(cfg, 0.5+diff/2, 0.5-diff/2)
		assert.InDelta(t, 1.0, probs.Sum(), 1e-9)
		assert.Greater(t, probs.Home, prev)
		prev = probs.Home
	}
}

func TestGradeOf(t *testing.T) {
	cfg := DefaultConfig()
	agree := models.Triple{Home: 0.50, Draw: 0.25, Away: 0.25}
	near := models.Triple{Home: 0.45, Draw: 0.28, Away: 0.27}
	far := models.Triple{Home: 0.10, Draw: 0.20, Away: 0.70}

	tests := []struct {
		name      string
		estimates []models.Estimate
		want      models.Grade
	}{
		{
			name: "agreeing and backed",
			estimates: []models.Estimate{
				{Method: models.MethodPattern, Probs: agree, Weight: 1, Sample: 40},
				{Method: models.MethodOdds, Probs: near, Weight: 1},
			},
			want: models.GradeHigh,
		},
		{
			name: "agreeing but thin sample",
			estimates: []models.Estimate{
				{Method: models.MethodForm, Probs: agree, Weight: 1, Sample: 10},
				{Method: models.MethodOdds, Probs: near, Weight: 1},
			},
			want: models.GradeMedium,
		},
		{
			name: "disagreeing",
			estimates: []models.Estimate{
				{Method: models.MethodPattern, Probs: agree, Weight: 1, Sample: 40},
				{Method: models.MethodOdds, Probs: far, Weight: 1},
			},
			want: models.GradeLow,
		},
		{
			// Each is within 0.08 of their average but 0.16 from each other
			name: "pairwise gap above tolerance",
			estimates: []models.Estimate{
				{Method: models.MethodPattern, Probs: agree, Weight: 1, Sample: 40},
				{Method: models.MethodForm, Probs: models.Triple{Home: 0.34, Draw: 0.33, Away: 0.33}, Weight: 1, Sample: 40},
			},
			want: models.GradeMedium,
		},
		{
			name: "one of three disagrees",
			estimates: []models.Estimate{
				{Method: models.MethodPattern, Probs: agree, Weight: 1, Sample: 40},
				{Method: models.MethodForm, Probs: near, Weight: 1, Sample: 40},
				{Method: models.MethodOdds, Probs: models.Triple{Home: 0.36, Draw: 0.32, Away: 0.32}, Weight: 1},
			},
			want: models.GradeMedium,
		},
		{
			name:      "single thin estimate",
			estimates: []models.Estimate{{Method: models.MethodForm, Probs: agree, Weight: 1, Sample: 8}},
			want:      models.GradeLow,
		},
		{
			name:      "single backed estimate",
			estimates: []models.Estimate{{Method: models.MethodPattern, Probs: agree, Weight: 1, Sample: 30}},
			want:      models.GradeMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GradeOf(cfg, tt.estimates))
		})
	}
}

func TestTriplePick_TieBreak(t *testing.T) {
	assert.Equal(t, models.OutcomeHome, models.Triple{Home: 0.4, Draw: 0.4, Away: 0.2}.Pick())
	assert.Equal(t, models.OutcomeDraw, models.Triple{Home: 0.2, Draw: 0.4, Away: 0.4}.Pick())
	assert.Equal(t, models.OutcomeAway, models.Triple{Home: 0.3, Draw: 0.3, Away: 0.4}.Pick())
}
