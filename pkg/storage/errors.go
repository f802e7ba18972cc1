package storage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Postgres SQLSTATE codes the service reacts to
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeInvalidPassword     = "28P01"
	CodeInvalidAuthSpec     = "28000"
	CodeInvalidCatalog      = "3D000"
	CodeRaiseException      = "P0001"
	CodeUndefinedTable      = "42P01"
)

// StoreError wraps a collaborator failure that is not an access decision
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError wraps err unless it is nil
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err carries a StoreError
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// PgCode returns the SQLSTATE of a postgres error, or "" for other errors
func PgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsUniqueViolation reports a unique violation, optionally on a named constraint
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
