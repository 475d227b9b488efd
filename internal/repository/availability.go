package repository

import (
	"context"
	"time"

	"ridedispatch/internal/domain"
)

// AvailabilityRepository is the driver availability registry. Every status
// write is a conditional update on the current status.
type AvailabilityRepository interface {
	// TryReserve moves the driver from AVAILABLE to RESERVED for rideID.
	// Returns false, nil when the driver was not AVAILABLE.
	TryReserve(ctx context.Context, driverID, rideID string) (bool, error)

	// Release moves the driver from RESERVED back to AVAILABLE, provided the
	// reservation still belongs to rideID.
	Release(ctx context.Context, driverID, rideID string) error

	// ReleaseOrphaned releases a reservation found by ListOrphanedReservations.
	// It re-checks the ride under lock and returns ErrInvalidStateTransition
	// when the ride has meanwhile been ASSIGNED to the driver.
	ReleaseOrphaned(ctx context.Context, driverID, rideID string) error

	// GoOnline creates the driver's record or moves it from OFFLINE to AVAILABLE.
	GoOnline(ctx context.Context, driverID string, pos domain.Position) (*domain.DriverAvailability, error)

	// GoOffline moves the driver from AVAILABLE to OFFLINE.
	GoOffline(ctx context.Context, driverID string) (*domain.DriverAvailability, error)

	// GetByID retrieves a driver's availability record.
	GetByID(ctx context.Context, driverID string) (*domain.DriverAvailability, error)

	// ListOrphanedReservations returns RESERVED drivers whose reservation is
	// older than olderThan and whose ride is not ASSIGNED.
	ListOrphanedReservations(ctx context.Context, olderThan time.Time) ([]*domain.DriverAvailability, error)
}
