package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes mapped by MapError.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

// ErrConstraint is returned by MapError for CHECK constraint violations.
var ErrConstraint = errors.New("constraint violation")

// MapError translates driver errors into domain errors: sql.ErrNoRows becomes
// notFoundErr, a unique violation becomes duplicateErr and a check violation
// wraps ErrConstraint with the constraint name. Others pass through.
func MapError(err error, notFoundErr, duplicateErr error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return notFoundErr
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeUniqueViolation:
		return duplicateErr
	case codeCheckViolation:
		return &constraintError{name: pgErr.ConstraintName, err: err}
	}
	return err
}

type constraintError struct {
	name string
	err  error
}

func (e *constraintError) Error() string {
	return ErrConstraint.Error() + ": " + e.name
}

func (e *constraintError) Unwrap() []error {
	return []error{ErrConstraint, e.err}
}
