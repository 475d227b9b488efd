package service

import (
	"context"
	"log/slog"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/notify"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

const defaultListLimit = 100

// RideService handles ride queries and cancellation.
type RideService struct {
	rideRepo   repository.RideRepository
	cacheStore redis.CacheStoreInterface
	notifier   notify.Notifier
	logger     *slog.Logger
}

// NewRideService creates a new RideService. cacheStore may be nil.
func NewRideService(
	rideRepo repository.RideRepository,
	cacheStore redis.CacheStoreInterface,
	notifier notify.Notifier,
	logger *slog.Logger,
) *RideService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &RideService{
		rideRepo:   rideRepo,
		cacheStore: cacheStore,
		notifier:   notifier,
		logger:     logger,
	}
}

// GetRide retrieves a ride. Decided rides are served from cache when possible.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.RideRequest, error) {
	const op = "GetRide"
	if rideID == "" {
		return nil, wrap(op, ErrInvalidRideID)
	}

	if s.cacheStore != nil {
		cached, err := s.cacheStore.GetRide(ctx, rideID)
		if err != nil {
			s.logger.Warn("ride_cache_get_failed", "ride_id", rideID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, wrap(op, err)
	}

	if s.cacheStore != nil && ride.State.IsTerminal() {
		if err := s.cacheStore.SetRide(ctx, ride); err != nil {
			s.logger.Warn("ride_cache_set_failed", "ride_id", rideID, "error", err)
		}
	}

	return ride, nil
}

// ListRides returns the most recent rides, newest first.
func (s *RideService) ListRides(ctx context.Context, limit int) ([]*domain.RideRequest, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	rides, err := s.rideRepo.List(ctx, limit)
	if err != nil {
		return nil, wrap("ListRides", err)
	}
	return rides, nil
}

// CancelRideRequest contains the parameters for cancelling a ride.
type CancelRideRequest struct {
	RideID string
	Reason string
}

// CancelRide moves a REQUESTED ride to CANCELLED. Rides that already reached a
// terminal state fail with KindInvalidStateTransition. A dispatch in progress
// for the ride observes the cancellation when it tries to assign a driver and
// releases the reservation it holds.
func (s *RideService) CancelRide(ctx context.Context, req CancelRideRequest) (*domain.RideRequest, error) {
	const op = "CancelRide"
	if req.RideID == "" {
		return nil, wrap(op, ErrInvalidRideID)
	}

	ride, err := s.rideRepo.Cancel(ctx, req.RideID, req.Reason)
	if err != nil {
		return nil, wrap(op, err)
	}

	s.logger.Info("ride_cancelled", "ride_id", ride.ID, "reason", req.Reason)

	if ev, ok := notify.EventForRide(ride); ok {
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.logger.Warn("outcome_notification_failed", "ride_id", ride.ID, "error", err)
		}
	}

	return ride, nil
}
