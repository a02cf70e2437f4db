package models

import (
	"database/sql"
	"time"
)

// TeamStat represents rolling statistics for a team within one competition.
// Rates are derived from the stored counts and never persisted on their own.
type TeamStat struct {
	Team        string `db:"team" json:"team"`
	Competition string `db:"competition" json:"competition"`
	Status      string `db:"status" json:"status"`
	Window      int    `db:"window_size" json:"window"`

	// Sample
	Played int `db:"played" json:"played"`
	Wins   int `db:"wins" json:"wins"`
	Draws  int `db:"draws" json:"draws"`
	Losses int `db:"losses" json:"losses"`

	// Scored first
	ScoredFirst         int `db:"scored_first" json:"scored_first"`
	WonWhenScoredFirst  int `db:"won_when_scored_first" json:"won_when_scored_first"`
	DrewWhenScoredFirst int `db:"drew_when_scored_first" json:"drew_when_scored_first"`
	LostWhenScoredFirst int `db:"lost_when_scored_first" json:"lost_when_scored_first"`

	// Goals
	GoalsFor     int `db:"goals_for" json:"goals_for"`
	GoalsAgainst int `db:"goals_against" json:"goals_against"`

	// Home/away split
	HomePlayed int `db:"home_played" json:"home_played"`
	HomePoints int `db:"home_points" json:"home_points"`
	AwayPlayed int `db:"away_played" json:"away_played"`
	AwayPoints int `db:"away_points" json:"away_points"`

	// Recency weighted points, 0..1; null when there is insufficient data
	FormIndex sql.NullFloat64 `db:"form_index" json:"-"`

	LastMatchAt sql.NullTime `db:"last_match_at" json:"-"`
	ComputedAt  time.Time    `db:"computed_at" json:"computed_at"`
}

// Sufficient returns true when the stat is backed by enough matches to be used
func (s *TeamStat) Sufficient() bool {
	return s != nil && s.Status == StatusOK && s.FormIndex.Valid
}

// Form returns the form index and whether it is usable
func (s *TeamStat) Form() (float64, bool) {
	if !s.Sufficient() {
		return 0, false
	}
	return s.FormIndex.Float64, true
}

// ScoredFirstRates returns win/draw/loss rates in matches where the team scored first
func (s *TeamStat) ScoredFirstRates() (Triple, bool) {
	if s.ScoredFirst == 0 {
		return Triple{}, false
	}
	total := float64(s.ScoredFirst)
	return Triple{
		Home: float64(s.WonWhenScoredFirst) / total,
		Draw: float64(s.DrewWhenScoredFirst) / total,
		Away: float64(s.LostWhenScoredFirst) / total,
	}, true
}

// GoalsForPerGame returns average goals scored across the window
func (s *TeamStat) GoalsForPerGame() float64 {
	if s.Played == 0 {
		return 0
	}
	return float64(s.GoalsFor) / float64(s.Played)
}

