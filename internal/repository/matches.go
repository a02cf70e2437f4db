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

// ErrMatchSettled is returned when an upsert targets a match that is already settled
var ErrMatchSettled = errors.New("match is settled and immutable")

// finalizeLockKey is the advisory lock held while a match is stored as final.
// Finalisations commit one at a time, so settled_seq values become visible in
// increasing order and a reader never sees seq N+1 before seq N.
const finalizeLockKey int64 = 0x66696e616c // "final"

// MatchRepository handles match database operations
type MatchRepository struct {
	db *Database
}

const matchColumns = `
	match_id, competition, season, kickoff, home_team, away_team, status,
	home_goals, away_goals, first_scorer,
	odds_home, odds_draw, odds_away,
	settled_seq, created_at, updated_at`

func scanMatch(row pgx.Row) (*models.MatchRecord, error) {
	var m models.MatchRecord
	err := row.Scan(
		&m.MatchID, &m.Competition, &m.Season, &m.Kickoff, &m.HomeTeam, &m.AwayTeam, &m.Status,
		&m.HomeGoals, &m.AwayGoals, &m.FirstScorer,
		&m.OddsHome, &m.OddsDraw, &m.OddsAway,
		&m.SettledSeq, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMatches(rows pgx.Rows) ([]models.MatchRecord, error) {
	defer rows.Close()

	var matches []models.MatchRecord
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

// Upsert inserts or updates a match. Settled matches are never modified.
// The settled_seq is assigned by the database the first time a match is stored as final.
func (r *MatchRepository) Upsert(ctx context.Context, m *models.MatchRecord) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("match validation failed: %w", err)
	}

	query := `
		INSERT INTO matches (
			match_id, competition, season, kickoff, home_team, away_team, status,
			home_goals, away_goals, first_scorer,
			odds_home, odds_draw, odds_away
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (match_id) DO UPDATE SET
			competition = EXCLUDED.competition,
			season = EXCLUDED.season,
			kickoff = EXCLUDED.kickoff,
			home_team = EXCLUDED.home_team,
			away_team = EXCLUDED.away_team,
			status = EXCLUDED.status,
			home_goals = EXCLUDED.home_goals,
			away_goals = EXCLUDED.away_goals,
			first_scorer = EXCLUDED.first_scorer,
			odds_home = COALESCE(EXCLUDED.odds_home, matches.odds_home),
			odds_draw = COALESCE(EXCLUDED.odds_draw, matches.odds_draw),
			odds_away = COALESCE(EXCLUDED.odds_away, matches.odds_away),
			updated_at = NOW()
		WHERE matches.settled_seq IS NULL
		RETURNING settled_seq, created_at, updated_at
	`

	start := time.Now()

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if m.IsFinal() {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, finalizeLockKey); err != nil {
			return fmt.Errorf("failed to acquire finalize lock: %w", err)
		}
	}

	err = tx.QueryRow(
		ctx, query,
		m.MatchID, m.Competition, m.Season, m.Kickoff, m.HomeTeam, m.AwayTeam, m.Status,
		m.HomeGoals, m.AwayGoals, m.FirstScorer,
		m.OddsHome, m.OddsDraw, m.OddsAway,
	).Scan(&m.SettledSeq, &m.CreatedAt, &m.UpdatedAt)
	if err == nil {
		err = tx.Commit(ctx)
	}
	observe("upsert", "matches", start, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrMatchSettled, m.MatchID)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert match: %w", err)
	}

	log.Debug().
		Str("match_id", m.MatchID).
		Str("status", m.Status).
		Bool("settled", m.SettledSeq.Valid).
		Msg("Match upserted")

	return nil
}

// GetByID retrieves a match by its provider id
func (r *MatchRepository) GetByID(ctx context.Context, matchID string) (*models.MatchRecord, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE match_id = $1`

	start := time.Now()
	m, err := scanMatch(r.db.Pool.QueryRow(ctx, query, matchID))
	observe("select", "matches", start, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// ListSettled retrieves every settled match of a competition, oldest first
func (r *MatchRepository) ListSettled(ctx context.Context, competition string) ([]models.MatchRecord, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE competition = $1 AND settled_seq IS NOT NULL
		ORDER BY kickoff ASC, match_id ASC
	`

	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, query, competition)
	observe("select", "matches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list settled matches: %w", err)
	}
	return collectMatches(rows)
}

// ListSettledSince retrieves matches settled after the given sequence, in settlement order
func (r *MatchRepository) ListSettledSince(ctx context.Context, afterSeq int64, limit int) ([]models.MatchRecord, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE settled_seq > $1
		ORDER BY settled_seq ASC
		LIMIT $2
	`

	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, query, afterSeq, limit)
	observe("select", "matches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches settled since %d: %w", afterSeq, err)
	}
	return collectMatches(rows)
}

// ListUpcoming retrieves scheduled matches kicking off in [from, to) that have
// no settled prediction, ordered by kickoff
func (r *MatchRepository) ListUpcoming(ctx context.Context, competition string, from, to time.Time, offset, limit int) ([]models.MatchRecord, error) {
	query := `
		SELECT ` + prefixed("m", matchColumns) + `
		FROM matches m
		LEFT JOIN predictions p ON p.match_id = m.match_id
		WHERE m.status = 'scheduled'
		  AND ($1 = '' OR m.competition = $1)
		  AND m.kickoff >= $2 AND m.kickoff < $3
		  AND p.result IS NULL
		ORDER BY m.kickoff ASC, m.match_id ASC
		OFFSET $4 LIMIT $5
	`

	start := time.Now()
	rows, err := r.db.Pool.Query(ctx, query, competition, from, to, offset, limit)
	observe("select", "matches", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming matches: %w", err)
	}

	matches, err := collectMatches(rows)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("competition", competition).Int("count", len(matches)).Msg("Upcoming matches retrieved")
	return matches, nil
}

// ListTeams returns every team code seen in a competition, sorted
func (r *MatchRepository) ListTeams(ctx context.Context, competition string) ([]string, error) {
	query := `
		SELECT team FROM (
			SELECT home_team AS team FROM matches WHERE competition = $1
			UNION
			SELECT away_team AS team FROM matches WHERE competition = $1
		) t
		ORDER BY team
	`

	rows, err := r.db.Pool.Query(ctx, query, competition)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []string
	for rows.Next() {
		var team string
		if err := rows.Scan(&team); err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teams: %w", err)
	}
	return teams, nil
}

// ListCompetitions returns every competition code with at least one match
func (r *MatchRepository) ListCompetitions(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT competition FROM matches ORDER BY competition`)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitions: %w", err)
	}
	defer rows.Close()

	var comps []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		comps = append(comps, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating competitions: %w", err)
	}
	return comps, nil
}
