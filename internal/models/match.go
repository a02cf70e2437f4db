package models

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Match statuses
const (
	MatchScheduled = "scheduled"
	MatchInPlay    = "in_play"
	MatchFinal     = "final"
	MatchPostponed = "postponed"
)

// Side identifies one of the two teams in a match
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// First scorer values; a null first_scorer column means it was not recorded
const (
	FirstScorerHome = "home"
	FirstScorerAway = "away"
	FirstScorerNone = "none"
)

// MatchRecord represents a football match, historical or upcoming.
// Once SettledSeq is assigned the row is immutable.
type MatchRecord struct {
	MatchID     string    `db:"match_id"`
	Competition string    `db:"competition"`
	Season      string    `db:"season"`
	Kickoff     time.Time `db:"kickoff"`
	HomeTeam    string    `db:"home_team"`
	AwayTeam    string    `db:"away_team"`
	Status      string    `db:"status"`

	// Final score
	HomeGoals   sql.NullInt32  `db:"home_goals"`
	AwayGoals   sql.NullInt32  `db:"away_goals"`
	FirstScorer sql.NullString `db:"first_scorer"`

	// Pre-match decimal odds
	OddsHome sql.NullFloat64 `db:"odds_home"`
	OddsDraw sql.NullFloat64 `db:"odds_draw"`
	OddsAway sql.NullFloat64 `db:"odds_away"`

	// Assigned from a sequence when the match first becomes final
	SettledSeq sql.NullInt64 `db:"settled_seq"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsFinal returns true if the match is completed with a recorded score
func (m *MatchRecord) IsFinal() bool {
	return m.Status == MatchFinal && m.HomeGoals.Valid && m.AwayGoals.Valid
}

// IsScheduled returns true if the match has not started
func (m *MatchRecord) IsScheduled() bool {
	return m.Status == MatchScheduled
}

// Outcome returns the result category of a final match
func (m *MatchRecord) Outcome() (Outcome, error) {
	if !m.IsFinal() {
		return "", fmt.Errorf("match %s has no final score", m.MatchID)
	}
	return OutcomeFromScore(int(m.HomeGoals.Int32), int(m.AwayGoals.Int32)), nil
}

// TeamSide reports which side the team played on in this match
func (m *MatchRecord) TeamSide(team string) (Side, bool) {
	switch team {
	case m.HomeTeam:
		return SideHome, true
	case m.AwayTeam:
		return SideAway, true
	}
	return "", false
}

// Odds returns the pre-match decimal odds, if all three prices were recorded
func (m *MatchRecord) Odds() (DecimalOdds, bool) {
	if !m.OddsHome.Valid || !m.OddsDraw.Valid || !m.OddsAway.Valid {
		return DecimalOdds{}, false
	}
	odds := DecimalOdds{Home: m.OddsHome.Float64, Draw: m.OddsDraw.Float64, Away: m.OddsAway.Float64}
	return odds, odds.Valid()
}

// Validate checks the identifiers every stored match needs
func (m *MatchRecord) Validate() error {
	if strings.TrimSpace(m.MatchID) == "" {
		return fmt.Errorf("match_id is required")
	}
	if strings.TrimSpace(m.Competition) == "" {
		return fmt.Errorf("competition is required")
	}
	if m.HomeTeam == "" || m.AwayTeam == "" {
		return fmt.Errorf("home_team and away_team are required")
	}
	if m.HomeTeam == m.AwayTeam {
		return fmt.Errorf("home_team and away_team must differ")
	}
	if m.Kickoff.IsZero() {
		return fmt.Errorf("kickoff is required")
	}
	if m.Status == MatchFinal && (!m.HomeGoals.Valid || !m.AwayGoals.Valid) {
		return fmt.Errorf("final match requires a score")
	}
	return nil
}

// MaxGoals bounds an ingested score so it always fits the stored column
const MaxGoals = 99

// MatchInput is used for ingesting matches from the API and the data feed
type MatchInput struct {
	MatchID     string   `json:"match_id" validate:"required,max=64"`
	Competition string   `json:"competition" validate:"required,max=16"`
	Season      string   `json:"season" validate:"omitempty,max=16"`
	Kickoff     string   `json:"kickoff" validate:"required"` // RFC 3339
	HomeTeam    string   `json:"home_team" validate:"required,max=64"`
	AwayTeam    string   `json:"away_team" validate:"required,max=64,nefield=HomeTeam"`
	Status      string   `json:"status" validate:"required,oneof=scheduled in_play final postponed"`
	HomeGoals   *int     `json:"home_goals,omitempty" validate:"omitempty,min=0,max=99"`
	AwayGoals   *int     `json:"away_goals,omitempty" validate:"omitempty,min=0,max=99"`
	FirstScorer string   `json:"first_scorer,omitempty" validate:"omitempty,oneof=home away none"`
	OddsHome    *float64 `json:"odds_home,omitempty" validate:"omitempty,gt=1"`
	OddsDraw    *float64 `json:"odds_draw,omitempty" validate:"omitempty,gt=1"`
	OddsAway    *float64 `json:"odds_away,omitempty" validate:"omitempty,gt=1"`
}

// ToMatch converts MatchInput to the MatchRecord model
func (mi *MatchInput) ToMatch() (*MatchRecord, error) {
	kickoff, err := time.Parse(time.RFC3339, mi.Kickoff)
	if err != nil {
		return nil, fmt.Errorf("invalid kickoff %q: %w", mi.Kickoff, err)
	}

	match := &MatchRecord{
		MatchID:     mi.MatchID,
		Competition: strings.ToUpper(mi.Competition),
		Season:      mi.Season,
		Kickoff:     kickoff.UTC(),
		HomeTeam:    mi.HomeTeam,
		AwayTeam:    mi.AwayTeam,
		Status:      mi.Status,
	}

	if mi.HomeGoals != nil {
		if *mi.HomeGoals < 0 || *mi.HomeGoals > MaxGoals {
			return nil, fmt.Errorf("home_goals %d out of range 0-%d", *mi.HomeGoals, MaxGoals)
		}
		match.HomeGoals = sql.NullInt32{Int32: int32(*mi.HomeGoals), Valid: true}
	}
	if mi.AwayGoals != nil {
		if *mi.AwayGoals < 0 || *mi.AwayGoals > MaxGoals {
			return nil, fmt.Errorf("away_goals %d out of range 0-%d", *mi.AwayGoals, MaxGoals)
		}
		match.AwayGoals = sql.NullInt32{Int32: int32(*mi.AwayGoals), Valid: true}
	}
	if mi.FirstScorer != "" {
		match.FirstScorer = sql.NullString{String: mi.FirstScorer, Valid: true}
	}
	if mi.OddsHome != nil {
		match.OddsHome = sql.NullFloat64{Float64: *mi.OddsHome, Valid: true}
	}
	if mi.OddsDraw != nil {
		match.OddsDraw = sql.NullFloat64{Float64: *mi.OddsDraw, Valid: true}
	}
	if mi.OddsAway != nil {
		match.OddsAway = sql.NullFloat64{Float64: *mi.OddsAway, Valid: true}
	}

	if err := match.Validate(); err != nil {
		return nil, err
	}
	return match, nil
}

// Candidate is an upcoming fixture described only by pre-match attributes
type Candidate struct {
	MatchID     string       `json:"match_id,omitempty"`
	Competition string       `json:"competition"`
	Kickoff     time.Time    `json:"kickoff"`
	HomeTeam    string       `json:"home_team"`
	AwayTeam    string       `json:"away_team"`
	Odds        *DecimalOdds `json:"odds,omitempty"`
}

// Candidate strips the match down to what is known before kickoff
func (m *MatchRecord) Candidate() Candidate {
	c := Candidate{
		MatchID:     m.MatchID,
		Competition: m.Competition,
		Kickoff:     m.Kickoff,
		HomeTeam:    m.HomeTeam,
		AwayTeam:    m.AwayTeam,
	}
	if odds, ok := m.Odds(); ok {
		c.Odds = &odds
	}
	return c
}
