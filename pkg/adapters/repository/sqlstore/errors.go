package sqlstore

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == pgUniqueViolation
	}
	// libsql reports constraint failures as plain text.
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// wrap maps driver errors onto the domain taxonomy.
func wrap(op string, err error) error {
	var se *domain.StorageError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict), errors.As(err, &se):
		return err
	case isUniqueViolation(err):
		return domain.ErrConflict
	}
	return &domain.StorageError{Op: op, Err: err}
}
