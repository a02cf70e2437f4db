package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"footballtips/predictions/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// TeamStatsRepository handles team rolling statistics
type TeamStatsRepository struct {
	db *Database
}

const teamStatColumns = `
	team, competition, status, window_size,
	played, wins, draws, losses,
	scored_first, won_when_scored_first, drew_when_scored_first, lost_when_scored_first,
	goals_for, goals_against,
	home_played, home_points, away_played, away_points,
	form_index, last_match_at, computed_at`

func scanTeamStat(row pgx.Row) (*models.TeamStat, error) {
	var s models.TeamStat
	err := row.Scan(
		&s.Team, &s.Competition, &s.Status, &s.Window,
		&s.Played, &s.Wins, &s.Draws, &s.Losses,
		&s.ScoredFirst, &s.WonWhenScoredFirst, &s.DrewWhenScoredFirst, &s.LostWhenScoredFirst,
		&s.GoalsFor, &s.GoalsAgainst,
		&s.HomePlayed, &s.HomePoints, &s.AwayPlayed, &s.AwayPoints,
		&s.FormIndex, &s.LastMatchAt, &s.ComputedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Upsert inserts or replaces the stats for a team (last write wins)
func (r *TeamStatsRepository) Upsert(ctx context.Context, s *models.TeamStat) error {
	query := `
		INSERT INTO team_stats (` + teamStatColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (team, competition) DO UPDATE SET
			status = EXCLUDED.status,
			window_size = EXCLUDED.window_size,
			played = EXCLUDED.played,
			wins = EXCLUDED.wins,
			draws = EXCLUDED.draws,
			losses = EXCLUDED.losses,
			scored_first = EXCLUDED.scored_first,
			won_when_scored_first = EXCLUDED.won_when_scored_first,
			drew_when_scored_first = EXCLUDED.drew_when_scored_first,
			lost_when_scored_first = EXCLUDED.lost_when_scored_first,
			goals_for = EXCLUDED.goals_for,
			goals_against = EXCLUDED.goals_against,
			home_played = EXCLUDED.home_played,
			home_points = EXCLUDED.home_points,
			away_played = EXCLUDED.away_played,
			away_points = EXCLUDED.away_points,
			form_index = EXCLUDED.form_index,
			last_match_at = EXCLUDED.last_match_at,
			computed_at = EXCLUDED.computed_at
	`

	start := time.Now()
	_, err := r.db.Pool.Exec(ctx, query,
		s.Team, s.Competition, s.Status, s.Window,
		s.Played, s.Wins, s.Draws, s.Losses,
		s.ScoredFirst, s.WonWhenScoredFirst, s.DrewWhenScoredFirst, s.LostWhenScoredFirst,
		s.GoalsFor, s.GoalsAgainst,
		s.HomePlayed, s.HomePoints, s.AwayPlayed, s.AwayPoints,
		s.FormIndex, s.LastMatchAt, s.ComputedAt,
	)
	observe("upsert", "team_stats", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert team stats: %w", err)
	}

	log.Debug().
		Str("team", s.Team).
		Str("competition", s.Competition).
		Str("status", s.Status).
		Int("played", s.Played).
		Msg("Team stats upserted")

	return nil
}

// Get retrieves the stats of one team in a competition
func (r *TeamStatsRepository) Get(ctx context.Context, team, competition string) (*models.TeamStat, error) {
	query := `SELECT ` + teamStatColumns + ` FROM team_stats WHERE team = $1 AND competition = $2`

	start := time.Now()
	s, err := scanTeamStat(r.db.Pool.QueryRow(ctx, query, team, competition))
	observe("select", "team_stats", start, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("team stats %s/%s: %w", competition, team, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team stats: %w", err)
	}
	return s, nil
}

// ListByCompetition retrieves all team stats of a competition ordered by form
func (r *TeamStatsRepository) ListByCompetition(ctx context.Context, competition string) ([]models.TeamStat, error) {
	query := `
		SELECT ` + teamStatColumns + `
		FROM team_stats
		WHERE competition = $1
		ORDER BY form_index DESC NULLS LAST, team ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, competition)
	if err != nil {
		return nil, fmt.Errorf("failed to list team stats: %w", err)
	}
	defer rows.Close()

	var list []models.TeamStat
	for rows.Next() {
		s, err := scanTeamStat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team stats: %w", err)
		}
		list = append(list, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team stats: %w", err)
	}
	return list, nil
}
