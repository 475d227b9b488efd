package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/repository"
)

const availabilityColumns = `driver_id, status, last_lat, last_lng, last_position_at, current_ride_id, updated_at`

// AvailabilityRepository is a PostgreSQL implementation of repository.AvailabilityRepository.
// Status changes are single conditional UPDATE statements so that concurrent
// writers are serialized by the row lock Postgres takes for the update.
type AvailabilityRepository struct {
	db  *sql.DB
	q   Querier
	now func() time.Time
}

// NewAvailabilityRepository creates a new PostgreSQL availability repository.
func NewAvailabilityRepository(db *sql.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db, q: db, now: time.Now}
}

// NewAvailabilityRepositoryWithTx creates an availability repository using a transaction.
func NewAvailabilityRepositoryWithTx(tx *sql.Tx) *AvailabilityRepository {
	return &AvailabilityRepository{q: tx, now: time.Now}
}

var _ repository.AvailabilityRepository = (*AvailabilityRepository)(nil)

// TryReserve moves the driver from AVAILABLE to RESERVED for rideID.
func (r *AvailabilityRepository) TryReserve(ctx context.Context, driverID, rideID string) (bool, error) {
	if driverID == "" || rideID == "" {
		return false, repository.ErrInvalidInput
	}

	query := `
		UPDATE driver_availability
		SET status = 'RESERVED', current_ride_id = $2, reserved_at = $3, updated_at = $3
		WHERE driver_id = $1 AND status = 'AVAILABLE'
	`
	result, err := r.q.ExecContext(ctx, query, driverID, rideID, r.now().UTC())
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// Release moves the driver from RESERVED back to AVAILABLE if the reservation
// still belongs to rideID.
func (r *AvailabilityRepository) Release(ctx context.Context, driverID, rideID string) error {
	return r.release(ctx, r.q, driverID, rideID)
}

// ReleaseOrphaned locks the ride before the driver, like
// RideRepository.MarkAssigned, and keeps reservations whose ride has been
// assigned to the driver.
func (r *AvailabilityRepository) ReleaseOrphaned(ctx context.Context, driverID, rideID string) error {
	return inTx(ctx, r.db, r.q, func(q Querier) error {
		var state domain.RideState
		var assignedDriverID sql.NullString
		err := q.QueryRowContext(ctx,
			`SELECT state, assigned_driver_id FROM ride_requests WHERE id = $1 FOR UPDATE`, rideID,
		).Scan(&state, &assignedDriverID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case state == domain.RideStateAssigned && assignedDriverID.String == driverID:
			return repository.ErrInvalidStateTransition
		}

		return r.release(ctx, q, driverID, rideID)
	})
}

func (r *AvailabilityRepository) release(ctx context.Context, q Querier, driverID, rideID string) error {
	query := `
		UPDATE driver_availability
		SET status = 'AVAILABLE', current_ride_id = NULL, reserved_at = NULL, updated_at = $3
		WHERE driver_id = $1 AND status = 'RESERVED' AND current_ride_id = $2
	`
	result, err := q.ExecContext(ctx, query, driverID, rideID, r.now().UTC())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM driver_availability WHERE driver_id = $1)`, driverID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrInvalidStateTransition
	}

	return nil
}

// GoOnline creates the driver's record as AVAILABLE or moves an OFFLINE driver
// to AVAILABLE. A driver already AVAILABLE only has its position refreshed.
func (r *AvailabilityRepository) GoOnline(ctx context.Context, driverID string, pos domain.Position) (*domain.DriverAvailability, error) {
	if driverID == "" {
		return nil, repository.ErrInvalidInput
	}
	if pos.RecordedAt.IsZero() {
		pos.RecordedAt = r.now().UTC()
	}

	query := `
		INSERT INTO driver_availability (driver_id, status, last_lat, last_lng, last_position_at, updated_at)
		VALUES ($1, 'AVAILABLE', $2, $3, $4, $5)
		ON CONFLICT (driver_id) DO UPDATE
		SET status = 'AVAILABLE',
		    last_lat = EXCLUDED.last_lat,
		    last_lng = EXCLUDED.last_lng,
		    last_position_at = EXCLUDED.last_position_at,
		    updated_at = EXCLUDED.updated_at
		WHERE driver_availability.status IN ('OFFLINE', 'AVAILABLE')
		RETURNING ` + availabilityColumns

	driver, err := scanAvailability(r.q.QueryRowContext(ctx, query, driverID, pos.Lat, pos.Lng, pos.RecordedAt, r.now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The conflict row exists but is engaged with a ride.
			return nil, repository.ErrInvalidStateTransition
		}
		return nil, err
	}
	return driver, nil
}

// GoOffline moves the driver from AVAILABLE to OFFLINE.
func (r *AvailabilityRepository) GoOffline(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	query := `
		UPDATE driver_availability
		SET status = 'OFFLINE', updated_at = $2
		WHERE driver_id = $1 AND status IN ('AVAILABLE', 'OFFLINE')
		RETURNING ` + availabilityColumns

	driver, err := scanAvailability(r.q.QueryRowContext(ctx, query, driverID, r.now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := r.GetByID(ctx, driverID); err != nil {
				return nil, err
			}
			return nil, repository.ErrInvalidStateTransition
		}
		return nil, err
	}
	return driver, nil
}

// GetByID retrieves a driver's availability record.
func (r *AvailabilityRepository) GetByID(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	query := `SELECT ` + availabilityColumns + ` FROM driver_availability WHERE driver_id = $1`

	driver, err := scanAvailability(r.q.QueryRowContext(ctx, query, driverID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return driver, nil
}

// ListOrphanedReservations returns RESERVED drivers whose reservation is older
// than olderThan and whose ride did not end up ASSIGNED to them.
func (r *AvailabilityRepository) ListOrphanedReservations(ctx context.Context, olderThan time.Time) ([]*domain.DriverAvailability, error) {
	query := `
		SELECT d.driver_id, d.status, d.last_lat, d.last_lng, d.last_position_at, d.current_ride_id, d.updated_at
		FROM driver_availability d
		LEFT JOIN ride_requests r ON r.id = d.current_ride_id
		WHERE d.status = 'RESERVED'
		  AND d.reserved_at < $1
		  AND (r.id IS NULL OR r.state <> 'ASSIGNED' OR r.assigned_driver_id <> d.driver_id)
		ORDER BY d.reserved_at
		LIMIT 500
	`
	rows, err := r.q.QueryContext(ctx, query, olderThan.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*domain.DriverAvailability
	for rows.Next() {
		driver, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, driver)
	}
	return drivers, rows.Err()
}

func scanAvailability(row rowScanner) (*domain.DriverAvailability, error) {
	var driver domain.DriverAvailability
	var lastLat, lastLng sql.NullFloat64
	var lastPositionAt sql.NullTime
	var currentRideID sql.NullString

	err := row.Scan(
		&driver.DriverID,
		&driver.Status,
		&lastLat,
		&lastLng,
		&lastPositionAt,
		&currentRideID,
		&driver.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if !driver.Status.Valid() {
		return nil, fmt.Errorf("driver %s: unknown status %q", driver.DriverID, driver.Status)
	}
	if lastLat.Valid && lastLng.Valid {
		driver.LastKnownPosition = &domain.Position{
			Lat:        lastLat.Float64,
			Lng:        lastLng.Float64,
			RecordedAt: lastPositionAt.Time,
		}
	}
	if currentRideID.Valid {
		driver.CurrentRideID = currentRideID.String
	}

	return &driver, nil
}
