package service

import (
	"context"
	"log/slog"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

// DriverService handles driver presence. It keeps the availability registry
// and the geo index in step: the registry is written first and is the source
// of truth, the index is best effort.
type DriverService struct {
	locationStore redis.LocationStoreInterface
	driverRepo    repository.AvailabilityRepository
	logger        *slog.Logger
	now           func() time.Time
}

// NewDriverService creates a new DriverService.
func NewDriverService(
	locationStore redis.LocationStoreInterface,
	driverRepo repository.AvailabilityRepository,
	logger *slog.Logger,
) *DriverService {
	return &DriverService{
		locationStore: locationStore,
		driverRepo:    driverRepo,
		logger:        logger,
		now:           time.Now,
	}
}

// GoOnlineRequest contains the parameters for bringing a driver online.
type GoOnlineRequest struct {
	DriverID string
	Location *domain.Point
}

// GoOnline marks the driver AVAILABLE and indexes their position. Calling it
// again while AVAILABLE refreshes the position. Engaged drivers are rejected
// with KindInvalidStateTransition.
func (s *DriverService) GoOnline(ctx context.Context, req GoOnlineRequest) (*domain.DriverAvailability, error) {
	const op = "GoOnline"
	if req.DriverID == "" {
		return nil, wrap(op, ErrInvalidDriverID)
	}
	if req.Location == nil || !req.Location.Valid() {
		return nil, wrap(op, ErrInvalidLocation)
	}

	driver, err := s.driverRepo.GoOnline(ctx, req.DriverID, domain.Position{
		Lat:        req.Location.Lat,
		Lng:        req.Location.Lng,
		RecordedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, wrap(op, err)
	}

	if err := s.locationStore.UpdateLocation(ctx, req.DriverID, *req.Location); err != nil {
		return nil, wrap(op, err)
	}

	s.logger.Info("driver_online", "driver_id", req.DriverID)
	return driver, nil
}

// GoOffline marks an AVAILABLE driver OFFLINE and removes them from the geo
// index. A stale index entry left behind by a failed removal is harmless since
// reservation only succeeds for AVAILABLE drivers.
func (s *DriverService) GoOffline(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	const op = "GoOffline"
	if driverID == "" {
		return nil, wrap(op, ErrInvalidDriverID)
	}

	driver, err := s.driverRepo.GoOffline(ctx, driverID)
	if err != nil {
		return nil, wrap(op, err)
	}

	if err := s.locationStore.RemoveLocation(ctx, driverID); err != nil {
		s.logger.Warn("geo_remove_failed", "driver_id", driverID, "error", err)
	}

	s.logger.Info("driver_offline", "driver_id", driverID)
	return driver, nil
}

// GetAvailability returns the driver's registry record.
func (s *DriverService) GetAvailability(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	const op = "GetAvailability"
	if driverID == "" {
		return nil, wrap(op, ErrInvalidDriverID)
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, wrap(op, err)
	}
	return driver, nil
}
