package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an optimistic write lost a race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrNotEditable is returned by conditional writes on messages that left draft.
	ErrNotEditable = errors.New("record no longer editable")
)

// DuplicateKeyError reports that a natural key is already owned by ExistingID.
type DuplicateKeyError struct {
	Key        string
	ExistingID string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("natural key %s already owned by %s", e.Key, e.ExistingID)
}

// NaturalKeys are derived identity keys written alongside a record. A key
// that is already taken rejects the whole write.
type NaturalKeys struct {
	Unique []string
}

// AsDuplicate extracts a DuplicateKeyError from err.
func AsDuplicate(err error) (*DuplicateKeyError, bool) {
	var dup *DuplicateKeyError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
