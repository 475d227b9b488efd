package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ridedispatch/internal/observability"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

const sweeperLockName = "dispatch:reservation-sweeper"

// SweeperConfig controls the orphaned reservation sweeper.
type SweeperConfig struct {
	Interval       time.Duration
	ReservationTTL time.Duration
}

// ReservationSweeper releases RESERVED drivers whose ride never became
// ASSIGNED to them, for example after a failed compensation.
// Only the instance holding the sweep lock runs a pass.
type ReservationSweeper struct {
	drivers repository.AvailabilityRepository
	locks   redis.LockStoreInterface
	logger  *slog.Logger
	cfg     SweeperConfig
	now     func() time.Time
}

// NewReservationSweeper creates a sweeper. locks may be nil for a single instance.
func NewReservationSweeper(
	drivers repository.AvailabilityRepository,
	locks redis.LockStoreInterface,
	logger *slog.Logger,
	cfg SweeperConfig,
) *ReservationSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 2 * time.Minute
	}
	return &ReservationSweeper{
		drivers: drivers,
		locks:   locks,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Run sweeps on every interval until ctx is done.
func (s *ReservationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("reservation_sweep_failed", "error", err)
			}
		}
	}
}

// SweepOnce runs a single pass and returns how many reservations it released.
func (s *ReservationSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locks != nil {
		acquired, err := s.locks.Acquire(ctx, sweeperLockName, s.cfg.Interval)
		if err != nil {
			return 0, err
		}
		if !acquired {
			return 0, nil
		}
		defer func() {
			if err := s.locks.Release(context.WithoutCancel(ctx), sweeperLockName); err != nil {
				s.logger.Warn("sweeper_lock_release_failed", "error", err)
			}
		}()
	}

	orphans, err := s.drivers.ListOrphanedReservations(ctx, s.now().Add(-s.cfg.ReservationTTL))
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for _, d := range orphans {
		err := s.drivers.ReleaseOrphaned(ctx, d.DriverID, d.CurrentRideID)
		switch {
		case err == nil:
			released++
			observability.OrphanedReservationsReleased.Inc()
			s.logger.Warn("orphaned_reservation_released", "driver_id", d.DriverID, "ride_id", d.CurrentRideID)
		case errors.Is(err, repository.ErrInvalidStateTransition), errors.Is(err, repository.ErrNotFound):
			// Moved on since the listing.
		default:
			errs = append(errs, err)
		}
	}

	return released, errors.Join(errs...)
}
