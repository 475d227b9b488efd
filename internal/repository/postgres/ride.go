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

const rideColumns = `id, passenger_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, state, assigned_driver_id, cancel_reason, created_at, decided_at`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	db  *sql.DB
	q   Querier
	now func() time.Time
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db, q: db, now: time.Now}
}

// NewRideRepositoryWithTx creates a ride repository using a transaction.
func NewRideRepositoryWithTx(tx *sql.Tx) *RideRepository {
	return &RideRepository{q: tx, now: time.Now}
}

var _ repository.RideRepository = (*RideRepository)(nil)

// CreateRequest persists a new ride in REQUESTED state.
func (r *RideRepository) CreateRequest(ctx context.Context, passengerID string, pickup, dropoff *domain.Point) (*domain.RideRequest, error) {
	ride, err := repository.NewRideRequest(passengerID, pickup, dropoff, r.now().UTC())
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO ride_requests (id, passenger_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.q.ExecContext(ctx, query,
		ride.ID,
		ride.PassengerID,
		ride.Pickup.Lat,
		ride.Pickup.Lng,
		ride.Dropoff.Lat,
		ride.Dropoff.Lng,
		ride.State,
		ride.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return ride, nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.RideRequest, error) {
	query := `SELECT ` + rideColumns + ` FROM ride_requests WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// MarkAssigned moves a REQUESTED ride to ASSIGNED. The ride row and then the
// driver row are locked, the same order ReleaseOrphaned uses, so a reservation
// released while the assignment was in flight makes it fail with
// ErrReservationNotHeld instead of committing.
func (r *RideRepository) MarkAssigned(ctx context.Context, id, driverID string) (*domain.RideRequest, error) {
	if driverID == "" {
		return nil, repository.ErrInvalidInput
	}

	var ride *domain.RideRequest
	err := inTx(ctx, r.db, r.q, func(q Querier) error {
		var state domain.RideState
		err := q.QueryRowContext(ctx, `SELECT state FROM ride_requests WHERE id = $1 FOR UPDATE`, id).Scan(&state)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}
		if state != domain.RideStateRequested {
			return repository.ErrInvalidStateTransition
		}

		var one int
		err = q.QueryRowContext(ctx, `
			SELECT 1 FROM driver_availability
			WHERE driver_id = $1 AND status = 'RESERVED' AND current_ride_id = $2
			FOR UPDATE
		`, driverID, id).Scan(&one)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrReservationNotHeld
			}
			return err
		}

		ride, err = scanRide(q.QueryRowContext(ctx, `
			UPDATE ride_requests
			SET state = 'ASSIGNED', assigned_driver_id = $2, decided_at = $3
			WHERE id = $1 AND state = 'REQUESTED'
			RETURNING `+rideColumns, id, driverID, r.now().UTC()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// MarkUnmatched moves a REQUESTED ride to UNMATCHED.
func (r *RideRepository) MarkUnmatched(ctx context.Context, id string) (*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET state = 'UNMATCHED', decided_at = $2
		WHERE id = $1 AND state = 'REQUESTED'
		RETURNING ` + rideColumns

	return r.transition(ctx, id, query, id, r.now().UTC())
}

// Cancel moves a REQUESTED ride to CANCELLED.
func (r *RideRepository) Cancel(ctx context.Context, id, reason string) (*domain.RideRequest, error) {
	query := `
		UPDATE ride_requests
		SET state = 'CANCELLED', cancel_reason = $2, decided_at = $3
		WHERE id = $1 AND state = 'REQUESTED'
		RETURNING ` + rideColumns

	return r.transition(ctx, id, query, id, nullString(reason), r.now().UTC())
}

// List returns the most recent rides, newest first.
func (r *RideRepository) List(ctx context.Context, limit int) ([]*domain.RideRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT ` + rideColumns + ` FROM ride_requests ORDER BY created_at DESC LIMIT $1`
	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.RideRequest
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// transition runs a conditional UPDATE ... RETURNING. When no row matches it
// distinguishes a missing ride from one in the wrong state.
func (r *RideRepository) transition(ctx context.Context, id, query string, args ...any) (*domain.RideRequest, error) {
	ride, err := scanRide(r.q.QueryRowContext(ctx, query, args...))
	if err == nil {
		return ride, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ride_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrInvalidStateTransition
}

func scanRide(row rowScanner) (*domain.RideRequest, error) {
	var ride domain.RideRequest
	var assignedDriverID sql.NullString
	var cancelReason sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(
		&ride.ID,
		&ride.PassengerID,
		&ride.Pickup.Lat,
		&ride.Pickup.Lng,
		&ride.Dropoff.Lat,
		&ride.Dropoff.Lng,
		&ride.State,
		&assignedDriverID,
		&cancelReason,
		&ride.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		return nil, err
	}

	if assignedDriverID.Valid {
		ride.AssignedDriverID = assignedDriverID.String
	}
	if cancelReason.Valid {
		ride.CancelReason = cancelReason.String
	}
	if !ride.State.Valid() {
		return nil, fmt.Errorf("ride %s: unknown state %q", ride.ID, ride.State)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		ride.DecidedAt = &t
	}

	return &ride, nil
}
