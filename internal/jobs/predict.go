package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"footballtips/predictions/internal/cache"
	"footballtips/predictions/internal/metrics"
	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/predictor"
	"footballtips/predictions/internal/repository"

	"github.com/rs/zerolog/log"
)

// predict gathers the team stats and pattern buckets for a candidate and runs the predictor
func (s *Service) predict(ctx context.Context, c models.Candidate) (*predictor.Result, error) {
	home, err := s.teamStat(ctx, c.HomeTeam, c.Competition)
	if err != nil {
		return nil, err
	}
	away, err := s.teamStat(ctx, c.AwayTeam, c.Competition)
	if err != nil {
		return nil, err
	}

	buckets, err := s.stores.Patterns.Resolve(ctx, predictor.Lookups(s.cfg.Predictor, c))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pattern buckets: %w", err)
	}

	res, err := predictor.Predict(s.cfg.Predictor, predictor.Input{
		Candidate: c,
		HomeStat:  home,
		AwayStat:  away,
		Buckets:   buckets,
	})
	if err != nil {
		metrics.RecordError("predictor", "blend")
		return nil, fmt.Errorf("failed to predict %s v %s: %w", c.HomeTeam, c.AwayTeam, err)
	}
	return res, nil
}

// teamStat returns nil when the team has no stored stats
func (s *Service) teamStat(ctx context.Context, team, competition string) (*models.TeamStat, error) {
	stat, err := s.stores.TeamStats.Get(ctx, team, competition)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load team stats for %s: %w", team, err)
	}
	return stat, nil
}

// PredictMatch predicts a scheduled stored match and persists the result when it is sufficient.
// The stored prediction is nil for insufficient data.
func (s *Service) PredictMatch(ctx context.Context, matchID string) (*predictor.Result, *models.Prediction, error) {
	m, err := s.stores.Matches.GetByID(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	if !m.IsScheduled() {
		return nil, nil, fmt.Errorf("%w: match %s is %s, only scheduled matches are predicted", ErrBadRequest, matchID, m.Status)
	}

	res, err := s.predict(ctx, m.Candidate())
	if err != nil {
		return nil, nil, err
	}
	if !res.Sufficient() {
		metrics.RecordPrediction(res.Status, "")
		return res, nil, nil
	}

	pred, err := models.NewPrediction(m, res.Probs, res.Grade, res.Estimates, res.Exclusions, s.cfg.Predictor.ModelVersion)
	if err != nil {
		return nil, nil, err
	}
	if err := s.stores.Predictions.Upsert(ctx, pred); err != nil {
		return nil, nil, err
	}
	metrics.RecordPrediction(res.Status, string(res.Grade))

	s.invalidate(ctx, m.MatchID)
	log.Info().
		Str("match_id", m.MatchID).
		Str("pick", string(pred.Pick)).
		Str("grade", string(pred.Grade)).
		Msg("Prediction stored")

	return res, pred, nil
}

// PredictCandidate predicts an ad-hoc fixture without storing anything
func (s *Service) PredictCandidate(ctx context.Context, c models.Candidate) (*predictor.Result, error) {
	c.Competition = strings.ToUpper(c.Competition)
	res, err := s.predict(ctx, c)
	if err != nil {
		return nil, err
	}
	metrics.RecordPrediction(res.Status, string(res.Grade))
	return res, nil
}

// GetPrediction reads a stored prediction, through the cache
func (s *Service) GetPrediction(ctx context.Context, matchID string) (*models.Prediction, error) {
	pred, err := s.cache.GetPrediction(ctx, matchID)
	if err == nil {
		return pred, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Warn().Err(err).Str("match_id", matchID).Msg("Prediction cache read failed")
	}

	pred, err = s.stores.Predictions.GetByMatchID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if s.cacheable(ctx, pred) {
		if err := s.cache.SetPrediction(ctx, pred); err != nil {
			log.Warn().Err(err).Str("match_id", matchID).Msg("Failed to cache prediction")
		}
	}
	return pred, nil
}

// cacheable reports whether pred can be cached without outliving a pending settlement.
// An unsettled prediction is only cached while its match is still scheduled.
func (s *Service) cacheable(ctx context.Context, pred *models.Prediction) bool {
	if pred.IsSettled() {
		return true
	}
	m, err := s.stores.Matches.GetByID(ctx, pred.MatchID)
	if err != nil {
		return false
	}
	return m.IsScheduled()
}

// Accuracy returns the running settlement counters, "all" first
func (s *Service) Accuracy(ctx context.Context) ([]models.AccuracyCounter, error) {
	counters, err := s.stores.Accuracy.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load accuracy counters: %w", err)
	}
	if counters == nil {
		counters = []models.AccuracyCounter{}
	}
	return counters, nil
}
