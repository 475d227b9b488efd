package repository

import (
	"context"

	"ridedispatch/internal/domain"
)

// RideRepository is the ride ledger: a durable record of ride requests and
// their dispatch outcome.
type RideRepository interface {
	// CreateRequest persists a new ride in REQUESTED state.
	// Returns ErrInvalidInput for a missing passenger or coordinate.
	CreateRequest(ctx context.Context, passengerID string, pickup, dropoff *domain.Point) (*domain.RideRequest, error)

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.RideRequest, error)

	// MarkAssigned moves a REQUESTED ride to ASSIGNED with the given driver,
	// provided the driver is still RESERVED for the ride. Returns ErrNotFound,
	// ErrInvalidStateTransition or ErrReservationNotHeld.
	MarkAssigned(ctx context.Context, id, driverID string) (*domain.RideRequest, error)

	// MarkUnmatched moves a REQUESTED ride to UNMATCHED.
	MarkUnmatched(ctx context.Context, id string) (*domain.RideRequest, error)

	// Cancel moves a REQUESTED ride to CANCELLED.
	Cancel(ctx context.Context, id, reason string) (*domain.RideRequest, error)

	// List returns the most recent rides, newest first.
	List(ctx context.Context, limit int) ([]*domain.RideRequest, error)
}
