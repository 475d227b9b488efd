package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidStateTransition is returned when a conditional state change
	// finds the entity in a state that does not permit it.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidInput is returned when an entity would be persisted with
	// malformed coordinates or identifiers.
	ErrInvalidInput = errors.New("invalid input")

	// ErrReservationNotHeld is returned when a ride is assigned to a driver
	// whose reservation for that ride no longer exists.
	ErrReservationNotHeld = errors.New("driver reservation not held")
)
