package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Outcome is the result category of a match, also used as a pick
type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeDraw Outcome = "draw"
	OutcomeAway Outcome = "away"
)

// OutcomeFromScore maps a final score to its result category
func OutcomeFromScore(homeGoals, awayGoals int) Outcome {
	switch {
	case homeGoals > awayGoals:
		return OutcomeHome
	case homeGoals < awayGoals:
		return OutcomeAway
	default:
		return OutcomeDraw
	}
}

// Valid reports whether o is one of the three categories
func (o Outcome) Valid() bool {
	return o == OutcomeHome || o == OutcomeDraw || o == OutcomeAway
}

// Grade is the confidence grade attached to a prediction
type Grade string

const (
	GradeHigh   Grade = "high"
	GradeMedium Grade = "medium"
	GradeLow    Grade = "low"
)

// Prediction statuses
const (
	StatusOK               = "ok"
	StatusInsufficientData = "insufficient_data"
)

// Settlement results
const (
	ResultCorrect   = "correct"
	ResultIncorrect = "incorrect"
)

// ProbabilityTolerance bounds the rounding error allowed in a stored triple
const ProbabilityTolerance = 1e-6

// Triple is a home/draw/away probability distribution
type Triple struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// Sum returns home + draw + away
func (t Triple) Sum() float64 {
	return t.Home + t.Draw + t.Away
}

// Normalize rescales the triple to sum to one
func (t Triple) Normalize() Triple {
	sum := t.Sum()
	if sum <= 0 {
		return t
	}
	return Triple{Home: t.Home / sum, Draw: t.Draw / sum, Away: t.Away / sum}
}

// Validate checks every probability is in [0,1] and the triple sums to one
func (t Triple) Validate() error {
	for _, p := range []float64{t.Home, t.Draw, t.Away} {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("probability %v out of range [0,1]", p)
		}
	}
	if math.Abs(t.Sum()-1) > ProbabilityTolerance {
		return fmt.Errorf("probabilities sum to %v, want 1", t.Sum())
	}
	return nil
}

// MaxDistance returns the largest per-outcome absolute difference between t and u
func (t Triple) MaxDistance(u Triple) float64 {
	return math.Max(math.Abs(t.Home-u.Home), math.Max(math.Abs(t.Draw-u.Draw), math.Abs(t.Away-u.Away)))
}

// Pick returns the most likely outcome; ties prefer home, then draw
func (t Triple) Pick() Outcome {
	pick := OutcomeHome
	best := t.Home
	if t.Draw > best {
		pick, best = OutcomeDraw, t.Draw
	}
	if t.Away > best {
		pick = OutcomeAway
	}
	return pick
}

// Estimate is one probability estimate that fed into a blended prediction
type Estimate struct {
	Method string  `json:"method"`
	Probs  Triple  `json:"probs"`
	Weight float64 `json:"weight"`
	Sample int     `json:"sample"`         // observations backing the estimate, 0 when not sample based
	Source string  `json:"source,omitempty"` // e.g. the pattern code used
}

// SampleBased reports whether the estimate is backed by counted observations
func (e Estimate) SampleBased() bool {
	return e.Method != MethodOdds
}

// Estimate methods
const (
	MethodPattern = "pattern"
	MethodForm    = "form"
	MethodOdds    = "odds"
)

// Exclusion records why an estimate was left out of a prediction
type Exclusion struct {
	Method string `json:"method"`
	Reason string `json:"reason"`
}

// Prediction represents a stored blended prediction for a match
type Prediction struct {
	MatchID     string `db:"match_id"`
	Competition string `db:"competition"`

	// Blended probabilities
	ProbHome float64 `db:"prob_home"`
	ProbDraw float64 `db:"prob_draw"`
	ProbAway float64 `db:"prob_away"`

	// Recommendation
	Pick  Outcome `db:"pick"`
	Grade Grade   `db:"grade"`

	// Rationale (JSONB)
	Estimates  json.RawMessage `db:"estimates"`
	Exclusions json.RawMessage `db:"exclusions"`

	ModelVersion string    `db:"model_version"`
	CreatedAt    time.Time `db:"created_at"`

	// Settlement, set exactly once
	Result    sql.NullString `db:"result"`
	Outcome   sql.NullString `db:"outcome"`
	SettledAt sql.NullTime   `db:"settled_at"`
}

// Probs returns the stored probability triple
func (p *Prediction) Probs() Triple {
	return Triple{Home: p.ProbHome, Draw: p.ProbDraw, Away: p.ProbAway}
}

// IsSettled returns true once the settlement reporter has judged the prediction
func (p *Prediction) IsSettled() bool {
	return p.Result.Valid
}

// Validate ensures prediction data is valid before insertion
func (p *Prediction) Validate() error {
	if p.MatchID == "" {
		return fmt.Errorf("match_id is required")
	}
	if !p.Pick.Valid() {
		return fmt.Errorf("invalid pick %q", p.Pick)
	}
	switch p.Grade {
	case GradeHigh, GradeMedium, GradeLow:
	default:
		return fmt.Errorf("invalid grade %q", p.Grade)
	}
	if err := p.Probs().Validate(); err != nil {
		return err
	}
	return nil
}

// NewPrediction builds a storable prediction from blended output
func NewPrediction(match *MatchRecord, probs Triple, grade Grade, estimates []Estimate, exclusions []Exclusion, modelVersion string) (*Prediction, error) {
	pred := &Prediction{
		MatchID:      match.MatchID,
		Competition:  match.Competition,
		ProbHome:     probs.Home,
		ProbDraw:     probs.Draw,
		ProbAway:     probs.Away,
		Pick:         probs.Pick(),
		Grade:        grade,
		ModelVersion: modelVersion,
		CreatedAt:    time.Now().UTC(),
	}

	if estimates == nil {
		estimates = []Estimate{}
	}
	if exclusions == nil {
		exclusions = []Exclusion{}
	}

	var err error
	if pred.Estimates, err = json.Marshal(estimates); err != nil {
		return nil, fmt.Errorf("failed to encode estimates: %w", err)
	}
	if pred.Exclusions, err = json.Marshal(exclusions); err != nil {
		return nil, fmt.Errorf("failed to encode exclusions: %w", err)
	}

	if err := pred.Validate(); err != nil {
		return nil, fmt.Errorf("prediction validation failed: %w", err)
	}
	return pred, nil
}

// AccuracyCounter holds running settlement totals for a scope ("all" or a competition)
type AccuracyCounter struct {
	Scope         string    `db:"scope" json:"scope"`
	Settled       int       `db:"settled" json:"settled"`
	Correct       int       `db:"correct" json:"correct"`
	CurrentStreak int       `db:"current_streak" json:"current_streak"`
	BestStreak    int       `db:"best_streak" json:"best_streak"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ScopeAll is the accuracy scope covering every competition
const ScopeAll = "all"

// Accuracy returns correct/settled, or zero when nothing is settled
func (a *AccuracyCounter) Accuracy() float64 {
	if a.Settled == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Settled)
}

// Apply folds one newly settled result into the counter
func (a *AccuracyCounter) Apply(correct bool) {
	a.Settled++
	if correct {
		a.Correct++
		a.CurrentStreak++
		if a.CurrentStreak > a.BestStreak {
			a.BestStreak = a.CurrentStreak
		}
		return
	}
	a.CurrentStreak = 0
}
