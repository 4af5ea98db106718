package directory

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the membership or identity does not exist.
	ErrNotFound = errors.New("directory: not found")
	// ErrConflict indicates a concurrent write won or referenced rows vanished.
	ErrConflict = errors.New("directory: conflict")
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeForeignKeyViolation  = "23503"
	codeUniqueViolation      = "23505"
)

// mapError translates driver errors into directory sentinels.
func mapError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("directory: %s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeForeignKeyViolation, codeUniqueViolation:
			return fmt.Errorf("directory: %s: %w: %s", op, ErrConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("directory: %s: %w", op, err)
}
