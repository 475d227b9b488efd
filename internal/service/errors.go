package service

import (
	"errors"
	"fmt"

	"ridedispatch/internal/repository"
)

var (
	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = errors.New("invalid ride id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrGeoIndexUnavailable is returned when the geo index could not be queried.
	ErrGeoIndexUnavailable = errors.New("geo index unavailable")
)

// Kind classifies a DispatchError.
type Kind string

const (
	KindInvalidInput           Kind = "INVALID_INPUT"
	KindNotFound               Kind = "NOT_FOUND"
	KindInvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	KindReservationConflict    Kind = "RESERVATION_CONFLICT"
	KindCompensationFailed     Kind = "COMPENSATION_FAILED"
	KindInternal               Kind = "INTERNAL"
)

// DispatchError is the error type returned by the services in this package.
// ReservationConflict never leaves the coordinator; it exists so internal
// logging can use the same taxonomy.
type DispatchError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal if err is not a DispatchError.
func KindOf(err error) Kind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// wrap tags err with op, deriving the kind from the repository sentinels.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return err
	}
	return &DispatchError{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, ErrInvalidRideID),
		errors.Is(err, ErrInvalidDriverID),
		errors.Is(err, ErrInvalidLocation):
		return KindInvalidInput
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repository.ErrInvalidStateTransition):
		return KindInvalidStateTransition
	case errors.Is(err, repository.ErrReservationNotHeld):
		return KindReservationConflict
	default:
		return KindInternal
	}
}
