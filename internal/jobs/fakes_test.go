package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"footballtips/predictions/internal/cache"
	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/patterns"
	"footballtips/predictions/internal/predictor"
	"footballtips/predictions/internal/repository"
	"footballtips/predictions/internal/settlement"
)

// memDB is an in-memory stand-in for the Postgres repositories
type memDB struct {
	mu         sync.Mutex
	seq        int64
	matches    map[string]models.MatchRecord
	stats      map[string]models.TeamStat
	preds      map[string]models.Prediction
	counters   map[string]models.AccuracyCounter
	buckets    map[string]map[string]models.PatternBucket
	watermarks map[string]int64
}

func newMemDB() *memDB {
	return &memDB{
		matches:    make(map[string]models.MatchRecord),
		stats:      make(map[string]models.TeamStat),
		preds:      make(map[string]models.Prediction),
		counters:   make(map[string]models.AccuracyCounter),
		buckets:    make(map[string]map[string]models.PatternBucket),
		watermarks: make(map[string]int64),
	}
}

func (db *memDB) stores() Stores {
	return Stores{
		Matches:     matchStore{db},
		TeamStats:   teamStatStore{db},
		Patterns:    patternStore{db},
		Predictions: predictionStore{db},
		Accuracy:    accuracyStore{db},
	}
}

type matchStore struct{ db *memDB }

func (s matchStore) Upsert(_ context.Context, m *models.MatchRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if cur, ok := s.db.matches[m.MatchID]; ok && cur.SettledSeq.Valid {
		return fmt.Errorf("%w: %s", repository.ErrMatchSettled, m.MatchID)
	}
	if m.IsFinal() {
		s.db.seq++
		m.SettledSeq.Int64, m.SettledSeq.Valid = s.db.seq, true
	}
	s.db.matches[m.MatchID] = *m
	return nil
}

func (s matchStore) GetByID(_ context.Context, matchID string) (*models.MatchRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", matchID, repository.ErrNotFound)
	}
	return &m, nil
}

func (s matchStore) sorted(keep func(models.MatchRecord) bool) []models.MatchRecord {
	var out []models.MatchRecord
	for _, m := range s.db.matches {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Kickoff.Equal(out[j].Kickoff) {
			return out[i].Kickoff.Before(out[j].Kickoff)
		}
		return out[i].MatchID < out[j].MatchID
	})
	return out
}

func (s matchStore) ListSettled(_ context.Context, competition string) ([]models.MatchRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.sorted(func(m models.MatchRecord) bool {
		return m.Competition == competition && m.SettledSeq.Valid
	}), nil
}

func (s matchStore) ListUpcoming(_ context.Context, competition string, from, to time.Time, offset, limit int) ([]models.MatchRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	all := s.sorted(func(m models.MatchRecord) bool {
		if m.Status != models.MatchScheduled || (competition != "" && m.Competition != competition) {
			return false
		}
		if m.Kickoff.Before(from) || !m.Kickoff.Before(to) {
			return false
		}
		p, ok := s.db.preds[m.MatchID]
		return !ok || !p.IsSettled()
	})
	page, _, _ := paginate(all, offset, limit)
	return page, nil
}

func (s matchStore) ListTeams(_ context.Context, competition string) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	seen := map[string]bool{}
	for _, m := range s.db.matches {
		if m.Competition == competition {
			seen[m.HomeTeam], seen[m.AwayTeam] = true, true
		}
	}
	teams := make([]string, 0, len(seen))
	for t := range seen {
		teams = append(teams, t)
	}
	sort.Strings(teams)
	return teams, nil
}

func (s matchStore) ListCompetitions(_ context.Context) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	seen := map[string]bool{}
	var comps []string
	for _, m := range s.db.matches {
		if !seen[m.Competition] {
			seen[m.Competition] = true
			comps = append(comps, m.Competition)
		}
	}
	sort.Strings(comps)
	return comps, nil
}

type teamStatStore struct{ db *memDB }

func (s teamStatStore) Upsert(_ context.Context, st *models.TeamStat) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.stats[st.Competition+"|"+st.Team] = *st
	return nil
}

func (s teamStatStore) Get(_ context.Context, team, competition string) (*models.TeamStat, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	st, ok := s.db.stats[competition+"|"+team]
	if !ok {
		return nil, fmt.Errorf("team stats %s/%s: %w", competition, team, repository.ErrNotFound)
	}
	return &st, nil
}

type patternStore struct{ db *memDB }

func (s patternStore) GetWatermark(_ context.Context, featureSet string) (*models.PatternWatermark, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return &models.PatternWatermark{FeatureSet: featureSet, LastSeq: s.db.watermarks[featureSet]}, nil
}

func (s patternStore) ListSettledSince(_ context.Context, afterSeq int64, limit int) ([]models.MatchRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.MatchRecord
	for _, m := range s.db.matches {
		if m.SettledSeq.Valid && m.SettledSeq.Int64 > afterSeq {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledSeq.Int64 < out[j].SettledSeq.Int64 })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s patternStore) ApplyDeltas(_ context.Context, featureSet string, deltas map[string]models.OutcomeCounts, expectedSeq, newSeq int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.watermarks[featureSet] != expectedSeq {
		return patterns.ErrWatermarkMoved
	}
	set := s.db.set(featureSet)
	for code, d := range deltas {
		b := set[code]
		b.FeatureSet, b.Code = featureSet, code
		b.Add(d)
		set[code] = b
	}
	s.db.watermarks[featureSet] = newSeq
	return nil
}

func (s patternStore) ReplaceBuckets(_ context.Context, featureSet string, buckets []models.PatternBucket, lastSeq int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	set := make(map[string]models.PatternBucket, len(buckets))
	for _, b := range buckets {
		set[b.Code] = b
	}
	s.db.buckets[featureSet] = set
	s.db.watermarks[featureSet] = lastSeq
	return nil
}

func (s patternStore) Resolve(_ context.Context, lookups []predictor.BucketLookup) (map[string]models.PatternBucket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make(map[string]models.PatternBucket)
	for _, l := range lookups {
		if b, ok := s.db.buckets[l.FeatureSet][l.Code]; ok {
			out[l.FeatureSet] = b
		}
	}
	return out, nil
}

func (db *memDB) set(featureSet string) map[string]models.PatternBucket {
	set, ok := db.buckets[featureSet]
	if !ok {
		set = make(map[string]models.PatternBucket)
		db.buckets[featureSet] = set
	}
	return set
}

type predictionStore struct{ db *memDB }

func (s predictionStore) Upsert(_ context.Context, p *models.Prediction) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if cur, ok := s.db.preds[p.MatchID]; ok && cur.IsSettled() {
		return fmt.Errorf("%w: %s", repository.ErrPredictionSettled, p.MatchID)
	}
	s.db.preds[p.MatchID] = *p
	return nil
}

func (s predictionStore) GetByMatchID(_ context.Context, matchID string) (*models.Prediction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.preds[matchID]
	if !ok {
		return nil, fmt.Errorf("prediction for match %s: %w", matchID, repository.ErrNotFound)
	}
	return &p, nil
}

func (s predictionStore) ListPending(_ context.Context, competition string, limit int) ([]settlement.Pending, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []settlement.Pending
	for id, p := range s.db.preds {
		m := s.db.matches[id]
		if p.IsSettled() || m.Status != models.MatchFinal {
			continue
		}
		if competition != "" && p.Competition != competition {
			continue
		}
		out = append(out, settlement.Pending{Prediction: p, Match: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Match.MatchID < out[j].Match.MatchID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s predictionStore) SettleOnce(_ context.Context, matchID, competition string, outcome models.Outcome, result string, settledAt time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.preds[matchID]
	if !ok || p.IsSettled() {
		return false, nil
	}
	p.Result.String, p.Result.Valid = result, true
	p.Outcome.String, p.Outcome.Valid = string(outcome), true
	p.SettledAt.Time, p.SettledAt.Valid = settledAt, true
	s.db.preds[matchID] = p

	for _, scope := range []string{models.ScopeAll, competition} {
		c := s.db.counters[scope]
		c.Scope = scope
		c.Apply(result == models.ResultCorrect)
		s.db.counters[scope] = c
	}
	return true, nil
}

type accuracyStore struct{ db *memDB }

func (s accuracyStore) List(_ context.Context) ([]models.AccuracyCounter, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.AccuracyCounter
	for _, c := range s.db.counters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Scope == models.ScopeAll) != (out[j].Scope == models.ScopeAll) {
			return out[i].Scope == models.ScopeAll
		}
		return out[i].Scope < out[j].Scope
	})
	return out, nil
}

// recordingCache is a map cache that remembers invalidations
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string]models.Prediction
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]models.Prediction)}
}

func (c *recordingCache) GetPrediction(_ context.Context, matchID string) (*models.Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[matchID]
	if !ok {
		return nil, cache.ErrMiss
	}
	return &p, nil
}

func (c *recordingCache) SetPrediction(_ context.Context, p *models.Prediction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[p.MatchID] = *p
	return nil
}

func (c *recordingCache) InvalidatePrediction(_ context.Context, matchIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range matchIDs {
		delete(c.entries, id)
	}
	c.invalidated = append(c.invalidated, matchIDs...)
	return nil
}

type stubFeed struct {
	inputs []models.MatchInput
	err    error
	calls  int
}

func (f *stubFeed) FetchMatches(_ context.Context, competition, season string) ([]models.MatchInput, error) {
	f.calls++
	return f.inputs, f.err
}
