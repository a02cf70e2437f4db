package repository

import (
	"errors"
	"strings"
	"time"

	"footballtips/predictions/internal/metrics"

	"github.com/jackc/pgx/v5"
)

// observe records the duration and status of one query
func observe(operation, table string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		status = "error"
	}
	metrics.RecordDBQuery(operation, table, status, time.Since(start).Seconds())
}

// prefixed qualifies a comma separated column list with a table alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
