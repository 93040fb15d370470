package saiagent

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when an operation references an entity
	// that has no handle.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned by a duplicate add. Nothing is
	// mutated when it is returned.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnsupported is returned for operations the hardware variant
	// does not provide.
	ErrUnsupported = errors.New("unsupported")

	// ErrConsistencyViolation means software's view of the hardware
	// can no longer be trusted. It is process-fatal.
	ErrConsistencyViolation = errors.New("consistency violation")
)

// NotFoundError reports a missing entity of a given kind.
type NotFoundError struct {
	Kind string
	Key  any
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrNotFound) match.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyExistsError reports a duplicate add.
type AlreadyExistsError struct {
	Kind string
	Key  any
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %v already exists", e.Kind, e.Key)
}

// Is makes errors.Is(err, ErrAlreadyExists) match.
func (e AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// UnsupportedError reports an operation the hardware cannot perform.
type UnsupportedError struct {
	Operation string
	Reason    string
}

func (e UnsupportedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is not supported", e.Operation)
	}
	return fmt.Sprintf("%s is not supported: %s", e.Operation, e.Reason)
}

// Is makes errors.Is(err, ErrUnsupported) match.
func (e UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// ConsistencyViolationError lists warm-boot objects that could not be
// reconciled with the intended state.
type ConsistencyViolationError struct {
	Unresolved []string
	Err        error
}

func (e *ConsistencyViolationError) Error() string {
	msg := fmt.Sprintf("%d unclaimed warm boot handles could not be removed: %s",
		len(e.Unresolved), strings.Join(e.Unresolved, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is makes errors.Is(err, ErrConsistencyViolation) match.
func (e *ConsistencyViolationError) Is(target error) bool { return target == ErrConsistencyViolation }

func (e *ConsistencyViolationError) Unwrap() error { return e.Err }

// joinSorted joins errs ordered by message so that errors collected
// from map iteration are reported deterministically.
func joinSorted(errs []error) error {
	slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
	return errors.Join(errs...)
}
