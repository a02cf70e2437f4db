package predictor

import (
	"errors"
	"fmt"
	"math"

	"footballtips/predictions/internal/models"
	"footballtips/predictions/internal/patterns"
)

// ErrInsufficientData is returned by Blend when no estimate can be combined
var ErrInsufficientData = errors.New("insufficient data for prediction")

// Config holds the predictor parameters
type Config struct {
	Features           []string // predictor-capable feature sets, in priority order
	MinPatternSample   int
	MinGradeSample     int
	AgreementTolerance float64
	FormSteepness      float64
	HomeAdvantage      float64
	DrawBase           float64
	PatternWeight      float64
	FormWeight         float64
	OddsWeight         float64
	ModelVersion       string
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Features:           []string{patterns.FeatureOddsTier, patterns.FeatureHomeVenue},
		MinPatternSample:   20,
		MinGradeSample:     30,
		AgreementTolerance: 0.10,
		FormSteepness:      4.0,
		HomeAdvantage:      0.25,
		DrawBase:           0.30,
		PatternWeight:      1.0,
		FormWeight:         1.0,
		OddsWeight:         1.5,
		ModelVersion:       "blend-v3",
	}
}

// Input is everything known about one candidate fixture
type Input struct {
	Candidate models.Candidate
	HomeStat  *models.TeamStat
	AwayStat  *models.TeamStat
	// Buckets found for the candidate, keyed by feature set
	Buckets map[string]models.PatternBucket
}

// Result is a blended prediction, or the reasons it could not be made
type Result struct {
	Status     string             `json:"status"`
	Probs      models.Triple      `json:"probs"`
	Pick       models.Outcome     `json:"pick,omitempty"`
	Grade      models.Grade       `json:"grade,omitempty"`
	Estimates  []models.Estimate  `json:"estimates"`
	Exclusions []models.Exclusion `json:"exclusions"`
}

// Sufficient reports whether the result carries a prediction
func (r *Result) Sufficient() bool {
	return r.Status == models.StatusOK
}

// BucketLookup is a bucket the predictor wants for a candidate
type BucketLookup struct {
	FeatureSet  string
	Code        string
	Perspective models.Side
}

// Lookups returns the buckets to fetch for a candidate, in priority order
func Lookups(cfg Config, c models.Candidate) []BucketLookup {
	var out []BucketLookup
	for _, name := range cfg.Features {
		feature, ok := patterns.LookupCandidate(name)
		if !ok {
			continue
		}
		obs, ok := feature.CandidateCode(c)
		if !ok {
			continue
		}
		out = append(out, BucketLookup{FeatureSet: name, Code: obs.Code, Perspective: obs.Perspective})
	}
	return out
}

// Predict builds the available estimates for the candidate and blends them
func Predict(cfg Config, in Input) (*Result, error) {
	res := &Result{Estimates: []models.Estimate{}, Exclusions: []models.Exclusion{}}

	pattern, reason := patternEstimate(cfg, in)
	res.add(models.MethodPattern, pattern, reason)

	form, reason := formEstimate(cfg, in.HomeStat, in.AwayStat)
	res.add(models.MethodForm, form, reason)

	odds, reason := oddsEstimate(cfg, in.Candidate.Odds)
	res.add(models.MethodOdds, odds, reason)

	probs, err := Blend(res.Estimates)
	if errors.Is(err, ErrInsufficientData) {
		res.Status = models.StatusInsufficientData
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res.Status = models.StatusOK
	res.Probs = probs
	res.Pick = probs.Pick()
	res.Grade = GradeOf(cfg, res.Estimates)
	return res, nil
}

// add records an estimate, or an exclusion when it is unavailable or carries no weight
func (r *Result) add(method string, est models.Estimate, reason string) {
	if reason == "" && est.Weight <= 0 {
		reason = fmt.Sprintf("%s weight is %g", method, est.Weight)
	}
	if reason != "" {
		r.Exclusions = append(r.Exclusions, models.Exclusion{Method: method, Reason: reason})
		return
	}
	r.Estimates = append(r.Estimates, est)
}

// Blend returns the weighted average of the estimates, renormalised to sum to one
func Blend(estimates []models.Estimate) (models.Triple, error) {
	var sum models.Triple
	var weight float64
	for _, e := range estimates {
		if e.Weight <= 0 {
			continue
		}
		sum.Home += e.Weight * e.Probs.Home
		sum.Draw += e.Weight * e.Probs.Draw
		sum.Away += e.Weight * e.Probs.Away
		weight += e.Weight
	}
	if weight == 0 {
		return models.Triple{}, ErrInsufficientData
	}

	blended := models.Triple{Home: sum.Home / weight, Draw: sum.Draw / weight, Away: sum.Away / weight}.Normalize()
	if err := blended.Validate(); err != nil {
		return models.Triple{}, fmt.Errorf("blended probabilities invalid: %w", err)
	}
	return blended, nil
}

// GradeOf assigns a confidence grade from pairwise estimate agreement and sample sizes
func GradeOf(cfg Config, estimates []models.Estimate) models.Grade {
	if len(estimates) == 0 {
		return models.GradeLow
	}

	backed := true
	spread := 0.0
	for i, e := range estimates {
		if e.SampleBased() && e.Sample < cfg.MinGradeSample {
			backed = false
		}
		for _, other := range estimates[i+1:] {
			spread = math.Max(spread, e.Probs.MaxDistance(other.Probs))
		}
	}

	if len(estimates) == 1 {
		if backed {
			return models.GradeMedium
		}
		return models.GradeLow
	}

	switch {
	case backed && spread <= cfg.AgreementTolerance:
		return models.GradeHigh
	case spread <= 2*cfg.AgreementTolerance:
		return models.GradeMedium
	default:
		return models.GradeLow
	}
}

func patternEstimate(cfg Config, in Input) (models.Estimate, string) {
	lookups := Lookups(cfg, in.Candidate)
	if len(lookups) == 0 {
		return models.Estimate{}, "no pattern code for candidate"
	}

	best := 0
	for _, l := range lookups {
		bucket, ok := in.Buckets[l.FeatureSet]
		if !ok || bucket.Code != l.Code {
			continue
		}
		if bucket.Total >= cfg.MinPatternSample {
			return models.Estimate{
				Method: models.MethodPattern,
				Probs:  bucket.HomeTriple(l.Perspective),
				Weight: cfg.PatternWeight,
				Sample: bucket.Total,
				Source: l.FeatureSet + "/" + l.Code,
			}, ""
		}
		if bucket.Total > best {
			best = bucket.Total
		}
	}
	return models.Estimate{}, fmt.Sprintf("pattern sample %d below minimum %d", best, cfg.MinPatternSample)
}

func formEstimate(cfg Config, home, away *models.TeamStat) (models.Estimate, string) {
	homeForm, ok := home.Form()
	if !ok {
		return models.Estimate{}, "home team has insufficient history"
	}
	awayForm, ok := away.Form()
	if !ok {
		return models.Estimate{}, "away team has insufficient history"
	}

	sample := home.Played
	if away.Played < sample {
		sample = away.Played
	}
	return models.Estimate{
		Method: models.MethodForm,
		Probs:  FormProbabilities(cfg, homeForm, awayForm),
		Weight: cfg.FormWeight,
		Sample: sample,
	}, ""
}

// FormProbabilities maps a pair of form indexes to a probability triple.
// The home probability rises monotonically with homeForm - awayForm.
func FormProbabilities(cfg Config, homeForm, awayForm float64) models.Triple {
	z := cfg.FormSteepness*(homeForm-awayForm) + cfg.HomeAdvantage
	s := 1 / (1 + math.Exp(-z))
	draw := cfg.DrawBase * (1 - math.Abs(2*s-1))
	return models.Triple{
		Home: (1 - draw) * s,
		Draw: draw,
		Away: (1 - draw) * (1 - s),
	}
}

func oddsEstimate(cfg Config, odds *models.DecimalOdds) (models.Estimate, string) {
	if odds == nil {
		return models.Estimate{}, "no odds recorded"
	}
	probs, ok := odds.ImpliedProbabilities()
	if !ok {
		return models.Estimate{}, "odds must all be greater than 1.0"
	}
	return models.Estimate{
		Method: models.MethodOdds,
		Probs:  probs,
		Weight: cfg.OddsWeight,
	}, ""
}
