package patterns

import (
	"fmt"
	"sort"

	"footballtips/predictions/internal/models"
)

// Feature set names
const (
	FeatureOddsTier    = "odds_tier"
	FeatureHomeVenue   = "home_venue"
	FeatureScoredFirst = "scored_first"
)

// Observation is one bucket a settled match falls into, seen from one side
type Observation struct {
	Code        string
	Perspective models.Side
}

// Feature maps a settled match to the bucket codes it contributes to
type Feature interface {
	Name() string
	Observe(m models.MatchRecord) []Observation
}

// CandidateFeature is a feature whose code can be computed before kickoff,
// which makes it usable by the predictor.
type CandidateFeature interface {
	Feature
	CandidateCode(c models.Candidate) (Observation, bool)
}

var registry = map[string]Feature{
	FeatureOddsTier:    oddsTier{},
	FeatureHomeVenue:   homeVenue{},
	FeatureScoredFirst: scoredFirst{},
}

// Lookup returns the registered feature set with the given name
func Lookup(name string) (Feature, bool) {
	f, ok := registry[name]
	return f, ok
}

// LookupCandidate returns the named feature set if it can score candidates
func LookupCandidate(name string) (CandidateFeature, bool) {
	f, ok := registry[name]
	if !ok {
		return nil, false
	}
	cf, ok := f.(CandidateFeature)
	return cf, ok
}

// Names lists the registered feature sets
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OddsTier buckets a decimal price into a letter, A being the shortest
func OddsTier(price float64) string {
	switch {
	case price <= 1.50:
		return "A"
	case price <= 2.00:
		return "B"
	case price <= 2.50:
		return "C"
	case price <= 3.50:
		return "D"
	case price <= 5.00:
		return "E"
	default:
		return "F"
	}
}

// oddsTier groups matches by the tier of each 1X2 price, from the home side
type oddsTier struct{}

func (oddsTier) Name() string { return FeatureOddsTier }

func (f oddsTier) Observe(m models.MatchRecord) []Observation {
	obs, ok := f.CandidateCode(m.Candidate())
	if !ok {
		return nil
	}
	return []Observation{obs}
}

func (oddsTier) CandidateCode(c models.Candidate) (Observation, bool) {
	if c.Odds == nil || !c.Odds.Valid() || c.Competition == "" {
		return Observation{}, false
	}
	code := fmt.Sprintf("%s:%s-%s-%s", c.Competition, OddsTier(c.Odds.Home), OddsTier(c.Odds.Draw), OddsTier(c.Odds.Away))
	return Observation{Code: code, Perspective: models.SideHome}, true
}

// homeVenue groups a team's home matches
type homeVenue struct{}

func (homeVenue) Name() string { return FeatureHomeVenue }

func (f homeVenue) Observe(m models.MatchRecord) []Observation {
	obs, ok := f.CandidateCode(m.Candidate())
	if !ok {
		return nil
	}
	return []Observation{obs}
}

func (homeVenue) CandidateCode(c models.Candidate) (Observation, bool) {
	if c.HomeTeam == "" || c.Competition == "" {
		return Observation{}, false
	}
	return Observation{Code: fmt.Sprintf("%s:HOME:%s", c.Competition, c.HomeTeam), Perspective: models.SideHome}, true
}

// scoredFirst groups matches by the team that opened the scoring.
// Not usable before kickoff.
type scoredFirst struct{}

func (scoredFirst) Name() string { return FeatureScoredFirst }

func (scoredFirst) Observe(m models.MatchRecord) []Observation {
	if !m.FirstScorer.Valid {
		return nil
	}
	switch m.FirstScorer.String {
	case models.FirstScorerHome:
		return []Observation{{Code: ScoredFirstCode(m.Competition, m.HomeTeam), Perspective: models.SideHome}}
	case models.FirstScorerAway:
		return []Observation{{Code: ScoredFirstCode(m.Competition, m.AwayTeam), Perspective: models.SideAway}}
	}
	return nil
}

// ScoredFirstCode is the bucket code for a team's matches in which it scored first
func ScoredFirstCode(competition, team string) string {
	return fmt.Sprintf("%s:SF:%s", competition, team)
}

// Classify returns the outcome counts one observation adds to its bucket
func Classify(m models.MatchRecord, perspective models.Side) (models.OutcomeCounts, error) {
	outcome, err := m.Outcome()
	if err != nil {
		return models.OutcomeCounts{}, err
	}
	switch {
	case outcome == models.OutcomeDraw:
		return models.OutcomeCounts{Draws: 1}, nil
	case string(outcome) == string(perspective):
		return models.OutcomeCounts{Wins: 1}, nil
	default:
		return models.OutcomeCounts{Losses: 1}, nil
	}
}
