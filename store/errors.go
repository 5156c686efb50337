package store

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrValidation is returned when a record, field value, or query fails validation.
	ErrValidation = errors.New("lattice: validation failed")

	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("lattice: record not found")

	// ErrParentNotFound is returned when a referenced parent record doesn't exist.
	ErrParentNotFound = errors.New("lattice: parent record not found")

	// ErrConflict is returned when a conditional write loses, e.g. a duplicate primary key.
	ErrConflict = errors.New("lattice: conflicting write")

	// ErrThrottled is returned when the store rejects a call for capacity reasons.
	ErrThrottled = errors.New("lattice: request throttled")

	// ErrUnavailable is returned when the store can't be reached or retries are exhausted.
	ErrUnavailable = errors.New("lattice: store unavailable")

	// ErrProvisioningTimeout is returned when a table or index doesn't become active in time.
	ErrProvisioningTimeout = errors.New("lattice: provisioning timed out")

	// ErrSearchSync is returned by search sinks when propagation to the search index fails.
	// The Store never surfaces it to callers of write operations.
	ErrSearchSync = errors.New("lattice: search sync failed")

	// ErrMigrationStep is returned when a migration operation fails.
	ErrMigrationStep = errors.New("lattice: migration step failed")

	// ErrTableNotFound is returned when the physical table doesn't exist.
	ErrTableNotFound = errors.New("lattice: table not found")

	// ErrResourceInUse is returned when a table or index is being created, updated, or already exists.
	ErrResourceInUse = errors.New("lattice: resource in use")

	// ErrNotRouted is returned when a model isn't served by this backend.
	ErrNotRouted = errors.New("lattice: model not routed to this backend")
)

// Error is a classified store error. It matches its Kind with errors.Is
// and keeps the underlying cause reachable through errors.As.
type Error struct {
	// Kind is one of the package sentinel errors.
	Kind error

	// Op names the store call that failed (e.g. "PutItem").
	Op string

	// Err is the underlying cause.
	Err error
}

// Error reports the failed operation with its kind and cause.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the kind and the cause, so errors.Is matches either.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ValidationError describes a rejected value.
type ValidationError struct {
	Model  string
	Field  string
	Reason string
}

// Error names the offending field and the reason.
func (e *ValidationError) Error() string {
	switch {
	case e.Model != "" && e.Field != "":
		return fmt.Sprintf("lattice: %s.%s: %s", e.Model, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("lattice: %s: %s", e.Field, e.Reason)
	default:
		return "lattice: " + e.Reason
	}
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(model, field, format string, args ...any) error {
	return &ValidationError{Model: model, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func isConditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	return errors.Is(err, ErrConflict) || errors.As(err, &condErr)
}

func isTableNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.Is(err, ErrTableNotFound) || errors.As(err, &nf)
}

func isResourceInUse(err error) bool {
	var inUse *types.ResourceInUseException
	return errors.Is(err, ErrResourceInUse) || errors.As(err, &inUse)
}
