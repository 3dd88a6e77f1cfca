package store

import (
	"errors"
	"fmt"

	"github.com/roach88/benchsync/internal/model"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrNotFound is returned when an entity or local record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIDConflict is matched by every *ConflictError.
	ErrIDConflict = errors.New("identifier already in use")

	// ErrNotReplicable is returned when a replicable write targets a
	// local-only or unknown entity type.
	ErrNotReplicable = errors.New("entity type is not replicable")

	// ErrMissingID is returned when a record has no id (or no category for
	// suggestions).
	ErrMissingID = errors.New("record has no id")
)

// ErrorCode categorizes store errors surfaced to callers.
type ErrorCode string

const (
	// ErrCodeIDConflict indicates a re-key targeted an id already in use.
	ErrCodeIDConflict ErrorCode = "ID_CONFLICT"
)

// ConflictError reports a rename/re-key that targets an existing id.
// It is returned before any write, so no outbox entry exists for it.
type ConflictError struct {
	Code       ErrorCode
	EntityType model.EntityType
	ID         string
}

// NewConflictError creates a ConflictError for id in entity type t.
func NewConflictError(t model.EntityType, id string) *ConflictError {
	return &ConflictError{Code: ErrCodeIDConflict, EntityType: t, ID: id}
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s %q already exists", e.Code, e.EntityType, e.ID)
}

// Is lets errors.Is(err, ErrIDConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrIDConflict
}

// IsConflict returns true if err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
