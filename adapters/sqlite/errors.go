package sqlite

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

type violation int

const (
	violationNone violation = iota
	violationAggregateVersion
	violationIdempotencyKey
)

// uniqueViolation classifies a UNIQUE constraint failure. SQLite reports the
// offending columns rather than the index name, e.g.
// "UNIQUE constraint failed: events.aggregate_id, events.version".
func uniqueViolation(err error) violation {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return violationNone
	}

	msg := sqliteErr.Error()
	switch {
	case strings.Contains(msg, "events.idempotency_key"):
		return violationIdempotencyKey
	case strings.Contains(msg, "events.aggregate_id"):
		return violationAggregateVersion
	}
	return violationNone
}
