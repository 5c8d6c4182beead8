package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Constraint names created by Migrate. Append relies on them to tell a lost
// version race from a replayed idempotency key.
const (
	constraintAggregateVersion = "events_aggregate_version_uniq"
	constraintIdempotencyKey   = "events_idempotency_key_uniq"
	constraintSnapshotVersion  = "snapshots_aggregate_version_uniq"
)

const uniqueViolationCode = "23505"

// uniqueViolation reports the violated constraint of a unique_violation
// raised by either supported driver.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return pgErr.ConstraintName, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
		return pqErr.Constraint, true
	}

	return "", false
}
