package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"footballtips/predictions/internal/metrics"
	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/patterns"
	"footballtips/predictions/internal/repository"
	"footballtips/predictions/internal/settlement"
	"footballtips/predictions/internal/stats"

	"github.com/rs/zerolog"
)

// AggregateTeamStats recomputes the rolling stats of every team in a competition,
// or in every stored competition when none is named. Offset and batch size page
// through the team list sorted by competition then team.
func (s *Service) AggregateTeamStats(ctx context.Context, req JobRequest) (*Report, error) {
	req.Competition = strings.ToUpper(req.Competition)
	return s.run(ctx, JobTeamStats, req, func(ctx context.Context, report *Report) error {
		logger := zerolog.Ctx(ctx)

		comps, err := s.competitions(ctx, req)
		if err != nil {
			return err
		}

		var all []models.TeamStat
		var skipped []stats.SkippedMatch
		for _, comp := range comps {
			matches, err := s.stores.Matches.ListSettled(ctx, comp)
			if err != nil {
				return fmt.Errorf("failed to load settled %s matches: %w", comp, err)
			}
			roster, err := s.stores.Matches.ListTeams(ctx, comp)
			if err != nil {
				return fmt.Errorf("failed to load %s teams: %w", comp, err)
			}

			res := stats.Aggregate(s.cfg.Aggregator, comp, matches, roster, s.now().UTC())
			for _, sk := range res.Skipped {
				logger.Warn().Str("match_id", sk.MatchID).Str("reason", sk.Reason).Msg("Match skipped by aggregator")
			}
			all = append(all, res.Stats...)
			skipped = append(skipped, res.Skipped...)
		}
		report.Details = map[string]any{"competitions": comps, "skipped_matches": skipped}

		page, next, more := paginate(all, req.Offset, s.batchSize(req))
		report.NextOffset, report.HasMore = next, more

		for i := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			stat := page[i]
			report.Processed++
			if err := s.stores.TeamStats.Upsert(ctx, &stat); err != nil {
				logger.Warn().Err(err).Str("team", stat.Team).Msg("Failed to store team stats")
				report.fail(stat.Competition+"/"+stat.Team, err)
				continue
			}
			if stat.Status == models.StatusInsufficientData {
				report.Insufficient++
				continue
			}
			report.Succeeded++
		}
		return nil
	})
}

// BuildPatterns runs the pattern builder for one feature set, or every
// registered feature set when featureSet is empty.
func (s *Service) BuildPatterns(ctx context.Context, req JobRequest, mode, featureSet string) (*Report, error) {
	return s.run(ctx, JobPatterns, req, func(ctx context.Context, report *Report) error {
		sets := patterns.Names()
		if featureSet != "" {
			if _, ok := patterns.Lookup(featureSet); !ok {
				return fmt.Errorf("%w: %w: %s", ErrBadRequest, patterns.ErrUnknownFeature, featureSet)
			}
			sets = []string{featureSet}
		}
		switch mode {
		case "", patterns.ModeIncremental, patterns.ModeFull:
		default:
			return fmt.Errorf("%w: unknown mode %q", ErrBadRequest, mode)
		}

		cfg := s.cfg.Builder
		if req.BatchSize > 0 {
			cfg.BatchSize = req.BatchSize
		}
		builder := patterns.NewBuilder(s.stores.Patterns, cfg)

		runs := make([]*patterns.RunReport, 0, len(sets))
		for _, name := range sets {
			run, err := builder.Run(ctx, name, mode)
			if errors.Is(err, patterns.ErrWatermarkMoved) {
				// Another run advanced the watermark first; nothing of ours was written
				report.fail(name, err)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to build %s patterns: %w", name, err)
			}

			runs = append(runs, run)
			report.Processed += run.Processed + run.Skipped
			report.Skipped += run.Skipped
			report.Succeeded += run.Processed - len(run.Failures)
			report.HasMore = report.HasMore || run.More
			for _, f := range run.Failures {
				report.Failures = append(report.Failures, RowFailure{Key: f.MatchID, Reason: f.Reason})
			}
			metrics.UpdatePatternWatermark(name, run.ToSeq)
		}
		report.Details = runs
		return nil
	})
}

// PredictUpcoming predicts scheduled matches kicking off within the horizon.
// Only sufficient predictions are stored; settled ones are left untouched.
func (s *Service) PredictUpcoming(ctx context.Context, req JobRequest) (*Report, error) {
	req.Competition = strings.ToUpper(req.Competition)
	return s.run(ctx, JobPredict, req, func(ctx context.Context, report *Report) error {
		logger := zerolog.Ctx(ctx)
		limit := s.batchSize(req)
		now := s.now().UTC()

		matches, err := s.stores.Matches.ListUpcoming(ctx, req.Competition, now, now.Add(s.cfg.PredictHorizon), req.Offset, limit)
		if err != nil {
			return fmt.Errorf("failed to list upcoming matches: %w", err)
		}
		if len(matches) == limit {
			report.HasMore = true
			report.NextOffset = req.Offset + len(matches)
		}

		var touched []string
		for i := range matches {
			if err := ctx.Err(); err != nil {
				return err
			}
			m := &matches[i]
			report.Processed++

			res, err := s.predict(ctx, m.Candidate())
			if err != nil {
				return err
			}
			if !res.Sufficient() {
				report.Insufficient++
				metrics.RecordPrediction(res.Status, "")
				continue
			}

			pred, err := models.NewPrediction(m, res.Probs, res.Grade, res.Estimates, res.Exclusions, s.cfg.Predictor.ModelVersion)
			if err != nil {
				report.fail(m.MatchID, err)
				continue
			}
			if err := s.stores.Predictions.Upsert(ctx, pred); err != nil {
				if errors.Is(err, repository.ErrPredictionSettled) {
					report.Skipped++
					continue
				}
				logger.Warn().Err(err).Str("match_id", m.MatchID).Msg("Failed to store prediction")
				report.fail(m.MatchID, err)
				continue
			}

			metrics.RecordPrediction(res.Status, string(res.Grade))
			touched = append(touched, m.MatchID)
			report.Succeeded++
		}

		s.invalidate(ctx, touched...)
		return nil
	})
}

// Settle judges pending predictions against final scores and updates the accuracy counters
func (s *Service) Settle(ctx context.Context, req JobRequest) (*Report, error) {
	req.Competition = strings.ToUpper(req.Competition)
	return s.run(ctx, JobSettle, req, func(ctx context.Context, report *Report) error {
		res, err := settlement.NewReporter(s.stores.Predictions).Run(ctx, req.Competition, s.batchSize(req))
		if err != nil {
			return err
		}

		report.Processed = res.Processed
		report.Succeeded = res.Settled
		report.Skipped = res.Skipped
		for _, f := range res.Failures {
			report.Failures = append(report.Failures, RowFailure{Key: f.MatchID, Reason: f.Reason})
		}

		ids := make([]string, 0, len(res.Settlements))
		for _, st := range res.Settlements {
			metrics.RecordSettlement(st.Result)
			ids = append(ids, st.MatchID)
		}
		s.invalidate(ctx, ids...)
		s.recache(ctx, ids...)

		report.Details = map[string]int{"correct": res.Correct}
		return nil
	})
}

// SyncFeed pulls fixtures, results and odds from the data feed and stores them.
// Without a competition it syncs every configured one, falling back to the stored ones.
func (s *Service) SyncFeed(ctx context.Context, req JobRequest) (*Report, error) {
	req.Competition = strings.ToUpper(req.Competition)
	return s.run(ctx, JobSync, req, func(ctx context.Context, report *Report) error {
		if s.feed == nil {
			return ErrFeedDisabled
		}

		comps := s.cfg.Competitions
		if req.Competition != "" || len(comps) == 0 {
			var err error
			if comps, err = s.competitions(ctx, req); err != nil {
				return err
			}
		}

		for _, comp := range comps {
			inputs, err := s.feed.FetchMatches(ctx, comp, s.cfg.FeedSeason)
			if err != nil {
				return fmt.Errorf("failed to fetch %s matches: %w", comp, err)
			}
			s.ingest(ctx, inputs, report)
		}
		report.Details = map[string]any{"competitions": comps}
		return nil
	})
}

// IngestMatches validates and stores a batch of matches. Invalid rows are
// reported and skipped; the valid rows are stored.
func (s *Service) IngestMatches(ctx context.Context, inputs []models.MatchInput) (*Report, error) {
	return s.run(ctx, JobIngest, JobRequest{}, func(ctx context.Context, report *Report) error {
		s.ingest(ctx, inputs, report)
		return nil
	})
}

func (s *Service) ingest(ctx context.Context, inputs []models.MatchInput, report *Report) {
	logger := zerolog.Ctx(ctx)
	var touched []string

	for i := range inputs {
		in := &inputs[i]
		report.Processed++

		key := in.MatchID
		if key == "" {
			key = fmt.Sprintf("row %d", i)
		}

		if err := s.validate.Struct(in); err != nil {
			report.fail(key, err)
			continue
		}
		m, err := in.ToMatch()
		if err != nil {
			report.fail(key, err)
			continue
		}
		if err := s.stores.Matches.Upsert(ctx, m); err != nil {
			if errors.Is(err, repository.ErrMatchSettled) {
				report.Skipped++
				continue
			}
			logger.Warn().Err(err).Str("match_id", m.MatchID).Msg("Failed to store match")
			report.fail(key, err)
			continue
		}

		if m.IsFinal() {
			touched = append(touched, m.MatchID)
		}
		report.Succeeded++
	}

	// A final score changes what a cached prediction shows once it is settled
	s.invalidate(ctx, touched...)
}

func (s *Service) invalidate(ctx context.Context, matchIDs ...string) {
	if len(matchIDs) == 0 {
		return
	}
	if err := s.cache.InvalidatePrediction(ctx, matchIDs...); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int("count", len(matchIDs)).Msg("Failed to invalidate cached predictions")
	}
}

// recache writes freshly settled predictions back into the cache, replacing
// any unsettled copy a reader stored while the settlement was running
func (s *Service) recache(ctx context.Context, matchIDs ...string) {
	logger := zerolog.Ctx(ctx)
	for _, id := range matchIDs {
		pred, err := s.stores.Predictions.GetByMatchID(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str("match_id", id).Msg("Failed to reload settled prediction")
			continue
		}
		if err := s.cache.SetPrediction(ctx, pred); err != nil {
			logger.Warn().Err(err).Str("match_id", id).Msg("Failed to cache settled prediction")
		}
	}
}

// paginate returns items[offset:offset+limit], the next offset and whether more remain
func paginate[T any](items []T, offset, limit int) ([]T, int, bool) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil, 0, false
	}
	end := offset + limit
	if end >= len(items) {
		return items[offset:], 0, false
	}
	return items[offset:end], end, true
}
