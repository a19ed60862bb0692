package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound         = errors.New("resource not found")
	ErrUniqueViolation  = errors.New("unique violation")
	ErrForeignKeyFailed = errors.New("foreign key violation")
	ErrCheckViolation   = errors.New("check violation")
	// ErrTokenTaken is returned by InsertResponse when another response
	// already owns the resume token. The transaction stays usable.
	ErrTokenTaken = fmt.Errorf("resume token taken: %w", ErrUniqueViolation)
)

// mapError translates driver errors into store sentinels, keeping the
// original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.Join(ErrUniqueViolation, err)
		case "23503":
			return errors.Join(ErrForeignKeyFailed, err)
		case "23514":
			return errors.Join(ErrCheckViolation, err)
		}
	}
	return err
}
