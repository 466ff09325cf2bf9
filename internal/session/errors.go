// ABOUTME: Error taxonomy surfaced by session, checkpoint and work-item operations
// ABOUTME: Classify turns store sentinels into NotFound/Precondition/Storage errors for callers

package session

import (
	"errors"
	"fmt"

	"github.com/2389/coven-context/internal/store"
)

// NotFoundError means a session, item, checkpoint or record id has no row
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, store.ErrNotFound) keep working across the boundary
func (e *NotFoundError) Is(target error) bool {
	return target == store.ErrNotFound
}

// PreconditionError means the operation is not valid in the current state
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// StorageError wraps an underlying I/O or constraint failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage failure: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// InvalidArgumentError rejects malformed input before any storage is touched
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Classify maps a store error from op on entity/id into the taxonomy.
// Errors already in the taxonomy pass through unchanged.
func Classify(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}

	var nf *NotFoundError
	var pe *PreconditionError
	var se *StorageError
	var ie *InvalidArgumentError
	if errors.As(err, &nf) || errors.As(err, &pe) || errors.As(err, &se) || errors.As(err, &ie) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: entity, ID: id}
	case errors.Is(err, store.ErrSessionActive):
		return &PreconditionError{Op: op, Reason: "session is active; pause or complete it first"}
	case errors.Is(err, store.ErrStatusConflict):
		return &PreconditionError{Op: op, Reason: err.Error()}
	case errors.Is(err, store.ErrDuplicate):
		return &PreconditionError{Op: op, Reason: entity + " already exists"}
	}
	return &StorageError{Op: op, Err: err}
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPrecondition reports whether err is a PreconditionError
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsInvalidArgument reports whether err is an InvalidArgumentError
func IsInvalidArgument(err error) bool {
	var ie *InvalidArgumentError
	return errors.As(err, &ie)
}
