package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/footy?sslmode=disable", migrationURL("postgres://u:p@db:5432/footy?sslmode=disable"))
	assert.Equal(t, "pgx5://u:p@db/footy", migrationURL("postgresql://u:p@db/footy"))
	assert.Equal(t, "pgx5://already", migrationURL("pgx5://already"))
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "m.match_id, m.competition, m.kickoff", prefixed("m", "\n\tmatch_id, competition,\n\tkickoff"))
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "footy", Password: "secret", Database: "tips", SSLMode: "require"}
	assert.Equal(t, "postgres://footy:secret@db:5433/tips?sslmode=require", cfg.DSN())
}
