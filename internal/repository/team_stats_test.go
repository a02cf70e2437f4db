//go:build integration

package repository

import (
	"database/sql"
	"testing"
	"time"

	"footballtips/predictions/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamStatsRepository_UpsertLastWriteWins(t *testing.T) {
	db, ctx := setupTestDB(t)
	defer teardownTestDB(t, db)

	stat := &models.TeamStat{
		Team:        "ARS",
		Competition: "PL",
		Status:      models.StatusInsufficientData,
		Window:      10,
		Played:      1,
		Wins:        1,
		ComputedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.TeamStats.Upsert(ctx, stat))

	stored, err := db.TeamStats.Get(ctx, "ARS", "PL")
	require.NoError(t, err)
	assert.False(t, stored.FormIndex.Valid)
	assert.False(t, stored.Sufficient())

	stat.Status = models.StatusOK
	stat.Played = 5
	stat.Wins = 4
	stat.Draws = 1
	stat.FormIndex = sql.NullFloat64{Float64: 0.87, Valid: true}
	require.NoError(t, db.TeamStats.Upsert(ctx, stat))

	stored, err = db.TeamStats.Get(ctx, "ARS", "PL")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Played)
	form, ok := stored.Form()
	require.True(t, ok)
	assert.InDelta(t, 0.87, form, 1e-9)

	list, err := db.TeamStats.ListByCompetition(ctx, "PL")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = db.TeamStats.Get(ctx, "CHE", "PL")
	assert.ErrorIs(t, err, ErrNotFound)
}
