package stats

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"footballtips/predictions/internal/models"
)

// Points awarded per result when building the form index
const (
	pointsWin  = 3
	pointsDraw = 1
	maxPoints  = 3
)

// AggregatorConfig holds the parameters of one aggregation run
type AggregatorConfig struct {
	Window         int     // trailing matches per team
	Decay          float64 // weight multiplier per step back in time, (0,1]
	MinTeamMatches int     // below this a team is insufficient_data
}

// DefaultAggregatorConfig returns the production defaults
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{Window: 10, Decay: 0.8, MinTeamMatches: 3}
}

// SkippedMatch records a match record that could not be aggregated
type SkippedMatch struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

// Result is the output of one aggregation over a competition
type Result struct {
	Stats   []models.TeamStat
	Skipped []SkippedMatch
}

// Aggregate derives one TeamStat per team from the settled matches of a competition.
// Teams named in roster receive a row even when they have no history.
func Aggregate(cfg AggregatorConfig, competition string, matches []models.MatchRecord, roster []string, now time.Time) Result {
	var res Result

	history := make(map[string][]models.MatchRecord)
	for _, team := range roster {
		if team != "" {
			history[team] = nil
		}
	}

	for _, m := range matches {
		if reason := unusable(m, competition); reason != "" {
			res.Skipped = append(res.Skipped, SkippedMatch{MatchID: m.MatchID, Reason: reason})
			continue
		}
		history[m.HomeTeam] = append(history[m.HomeTeam], m)
		history[m.AwayTeam] = append(history[m.AwayTeam], m)
	}

	teams := make([]string, 0, len(history))
	for team := range history {
		teams = append(teams, team)
	}
	sort.Strings(teams)

	res.Stats = make([]models.TeamStat, 0, len(teams))
	for _, team := range teams {
		res.Stats = append(res.Stats, aggregateTeam(cfg, competition, team, history[team], now))
	}
	return res
}

func unusable(m models.MatchRecord, competition string) string {
	if m.MatchID == "" {
		return "missing match_id"
	}
	if m.HomeTeam == "" || m.AwayTeam == "" {
		return "missing team"
	}
	if m.HomeTeam == m.AwayTeam {
		return "home_team equals away_team"
	}
	if competition != "" && m.Competition != competition {
		return fmt.Sprintf("competition %s does not match %s", m.Competition, competition)
	}
	if !m.IsFinal() {
		return "no final score"
	}
	if m.HomeGoals.Int32 < 0 || m.AwayGoals.Int32 < 0 {
		return "negative score"
	}
	return ""
}

func aggregateTeam(cfg AggregatorConfig, competition, team string, matches []models.MatchRecord, now time.Time) models.TeamStat {
	// Most recent first, ties broken by match id so runs are deterministic
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Kickoff.Equal(matches[j].Kickoff) {
			return matches[i].Kickoff.After(matches[j].Kickoff)
		}
		return matches[i].MatchID > matches[j].MatchID
	})
	if cfg.Window > 0 && len(matches) > cfg.Window {
		matches = matches[:cfg.Window]
	}

	stat := models.TeamStat{
		Team:        team,
		Competition: competition,
		Window:      cfg.Window,
		Played:      len(matches),
		ComputedAt:  now.UTC(),
	}

	var weighted, weights float64
	weight := 1.0
	for _, m := range matches {
		side, _ := m.TeamSide(team)
		scored, conceded := int(m.HomeGoals.Int32), int(m.AwayGoals.Int32)
		if side == models.SideAway {
			scored, conceded = conceded, scored
		}

		pts := 0
		switch {
		case scored > conceded:
			stat.Wins++
			pts = pointsWin
		case scored == conceded:
			stat.Draws++
			pts = pointsDraw
		default:
			stat.Losses++
		}

		stat.GoalsFor += scored
		stat.GoalsAgainst += conceded

		if side == models.SideHome {
			stat.HomePlayed++
			stat.HomePoints += pts
		} else {
			stat.AwayPlayed++
			stat.AwayPoints += pts
		}

		if m.FirstScorer.Valid && m.FirstScorer.String == string(side) {
			stat.ScoredFirst++
			switch pts {
			case pointsWin:
				stat.WonWhenScoredFirst++
			case pointsDraw:
				stat.DrewWhenScoredFirst++
			default:
				stat.LostWhenScoredFirst++
			}
		}

		weighted += weight * float64(pts)
		weights += weight
		weight *= cfg.Decay
	}

	if len(matches) > 0 {
		stat.LastMatchAt = sql.NullTime{Time: matches[0].Kickoff, Valid: true}
	}

	if stat.Played < cfg.MinTeamMatches || stat.Played == 0 || weights == 0 {
		stat.Status = models.StatusInsufficientData
		return stat
	}

	stat.Status = models.StatusOK
	stat.FormIndex = sql.NullFloat64{Float64: clamp01(weighted / (maxPoints * weights)), Valid: true}
	return stat
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
