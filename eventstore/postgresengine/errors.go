package postgresengine

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// sqlStateUniqueViolation is the PostgreSQL error code for unique_violation.
const sqlStateUniqueViolation = "23505"

// isUniqueViolation detects unique constraint violations reported by pgx or by lib/pq.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUniqueViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == sqlStateUniqueViolation
	}

	return false
}
