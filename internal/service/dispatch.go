package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/notify"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

const (
	defaultMaxCandidates       = 10
	defaultMaxRadiusMeters     = 5000.0
	defaultCompensationTimeout = 5 * time.Second
	defaultDispatchTimeout     = 10 * time.Second
)

// DispatchStatus is the outcome of a dispatch attempt.
type DispatchStatus string

const (
	DispatchAssigned  DispatchStatus = "ASSIGNED"
	DispatchUnmatched DispatchStatus = "UNMATCHED"
	DispatchRejected  DispatchStatus = "REJECTED"
	// DispatchCancelled is reported when the ride was cancelled while candidates
	// were being tried.
	DispatchCancelled DispatchStatus = "CANCELLED"

	dispatchFailed DispatchStatus = "FAILED"
)

// RejectReason explains a DispatchRejected outcome.
type RejectReason string

const ReasonInvalidInput RejectReason = "INVALID_INPUT"

// DispatchRequest contains the parameters for dispatching a ride.
type DispatchRequest struct {
	PassengerID string
	Pickup      *domain.Point
	Dropoff     *domain.Point
}

// DispatchResult contains the outcome of RequestRide.
type DispatchResult struct {
	Status   DispatchStatus
	Reason   RejectReason
	RideID   string
	DriverID string
	Ride     *domain.RideRequest
}

// DispatchConfig bounds a dispatch attempt. Timeout caps the candidate loop;
// compensation and finalization get CompensationTimeout on top of it.
type DispatchConfig struct {
	MaxCandidates       int
	MaxRadiusMeters     float64
	Timeout             time.Duration
	CompensationTimeout time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = defaultMaxCandidates
	}
	if c.MaxRadiusMeters <= 0 {
		c.MaxRadiusMeters = defaultMaxRadiusMeters
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultDispatchTimeout
	}
	if c.CompensationTimeout <= 0 {
		c.CompensationTimeout = defaultCompensationTimeout
	}
	return c
}

// DispatchService assigns the nearest available driver to new ride requests.
//
// It never holds a lock across candidates. Mutual exclusion between concurrent
// requests comes entirely from AvailabilityRepository.TryReserve, and a
// reservation whose ride could not be assigned is always released.
type DispatchService struct {
	rides     repository.RideRepository
	drivers   repository.AvailabilityRepository
	locations redis.LocationStoreInterface
	notifier  notify.Notifier
	logger    *slog.Logger
	cfg       DispatchConfig

	inflight sync.WaitGroup
}

// NewDispatchService creates a new DispatchService.
func NewDispatchService(
	rides repository.RideRepository,
	drivers repository.AvailabilityRepository,
	locations redis.LocationStoreInterface,
	notifier notify.Notifier,
	logger *slog.Logger,
	cfg DispatchConfig,
) *DispatchService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &DispatchService{
		rides:     rides,
		drivers:   drivers,
		locations: locations,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// RequestRide records a ride request and assigns the nearest driver that can
// be reserved, trying candidates in ascending distance.
//
// Unmatched is an outcome, not an error. Invalid input yields a Rejected result
// together with a KindInvalidInput error.
func (s *DispatchService) RequestRide(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	const op = "RequestRide"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ride, err := s.rides.CreateRequest(ctx, req.PassengerID, req.Pickup, req.Dropoff)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			s.record(start, DispatchRejected)
			return &DispatchResult{Status: DispatchRejected, Reason: ReasonInvalidInput}, wrap(op, err)
		}
		return nil, wrap(op, err)
	}

	log := s.logger.With("ride_id", ride.ID, "passenger_id", ride.PassengerID)

	candidates, err := s.locations.FindNearestAvailable(ctx, ride.Pickup, s.cfg.MaxCandidates, s.cfg.MaxRadiusMeters)
	if err != nil {
		log.Error("candidate_search_failed", "error", err)
		// Close the ride so it does not linger in REQUESTED.
		if final, ferr := s.finalizeUnmatched(ctx, ride); ferr == nil && final.State == domain.RideStateUnmatched {
			s.publish(ctx, final)
		}
		s.record(start, dispatchFailed)
		return nil, &DispatchError{Kind: KindInternal, Op: op, Err: errors.Join(ErrGeoIndexUnavailable, err)}
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			log.Warn("dispatch_interrupted", "error", ctx.Err())
			break
		}

		reserved, err := s.drivers.TryReserve(ctx, c.DriverID, ride.ID)
		if err != nil {
			// The write may have committed before the error surfaced.
			log.Warn("reserve_failed", "driver_id", c.DriverID, "error", err)
			if cerr := s.compensate(ctx, log, ride.ID, c.DriverID); cerr != nil {
				return s.abort(ctx, start, ride, op, cerr)
			}
			continue
		}
		if !reserved {
			observability.ReservationConflicts.Inc()
			log.Debug("reservation_conflict", "driver_id", c.DriverID, "distance_m", c.DistanceMeters)
			continue
		}

		assigned, err := s.rides.MarkAssigned(ctx, ride.ID, c.DriverID)
		if err == nil {
			s.record(start, DispatchAssigned)
			log.Info("dispatch_decided",
				"status", string(DispatchAssigned),
				"driver_id", c.DriverID,
				"distance_m", c.DistanceMeters,
				"candidates", len(candidates),
			)
			s.publish(ctx, assigned)
			return &DispatchResult{Status: DispatchAssigned, RideID: assigned.ID, DriverID: c.DriverID, Ride: assigned}, nil
		}

		log.Warn("assign_failed", "driver_id", c.DriverID, "error", err)
		if cerr := s.compensate(ctx, log, ride.ID, c.DriverID); cerr != nil {
			return s.abort(ctx, start, ride, op, cerr)
		}

		if errors.Is(err, repository.ErrNotFound) {
			s.record(start, dispatchFailed)
			return nil, wrap(op, err)
		}
		if errors.Is(err, repository.ErrInvalidStateTransition) {
			// The ride was decided elsewhere; no later candidate can succeed.
			break
		}
		if errors.Is(err, repository.ErrReservationNotHeld) {
			observability.ReservationConflicts.Inc()
		}
	}

	return s.finish(ctx, start, log, ride, len(candidates))
}

// finish closes a ride that found no driver and reports its final state.
func (s *DispatchService) finish(ctx context.Context, start time.Time, log *slog.Logger, ride *domain.RideRequest, candidates int) (*DispatchResult, error) {
	final, err := s.finalizeUnmatched(ctx, ride)
	if err != nil {
		log.Error("mark_unmatched_failed", "error", err)
		return nil, wrap("RequestRide", err)
	}

	status := DispatchUnmatched
	switch final.State {
	case domain.RideStateCancelled:
		status = DispatchCancelled
	case domain.RideStateAssigned:
		status = DispatchAssigned
	}

	s.record(start, status)
	log.Info("dispatch_decided", "status", string(status), "candidates", candidates)
	if status == DispatchUnmatched {
		s.publish(ctx, final)
	}

	return &DispatchResult{Status: status, RideID: final.ID, DriverID: final.AssignedDriverID, Ride: final}, nil
}

// finalizeUnmatched marks ride UNMATCHED on a context detached from the caller.
// When the ride was already decided elsewhere the current record is returned.
func (s *DispatchService) finalizeUnmatched(ctx context.Context, ride *domain.RideRequest) (*domain.RideRequest, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	final, err := s.rides.MarkUnmatched(ctx, ride.ID)
	if err == nil {
		return final, nil
	}
	if errors.Is(err, repository.ErrInvalidStateTransition) {
		return s.rides.GetByID(ctx, ride.ID)
	}
	return nil, err
}

// compensate releases driverID's reservation for rideID. It runs detached from
// the caller's cancellation so a timed-out request cannot orphan a driver.
// A reservation that is already gone counts as released.
func (s *DispatchService) compensate(ctx context.Context, log *slog.Logger, rideID, driverID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	err := s.drivers.Release(ctx, driverID, rideID)
	switch {
	case err == nil:
		observability.Compensations.WithLabelValues("released").Inc()
		return nil
	case errors.Is(err, repository.ErrInvalidStateTransition), errors.Is(err, repository.ErrNotFound):
		observability.Compensations.WithLabelValues("noop").Inc()
		return nil
	default:
		observability.Compensations.WithLabelValues("failed").Inc()
		log.Error("compensation_failed",
			"driver_id", driverID,
			"ride_id", rideID,
			"error", err,
		)
		return &DispatchError{Kind: KindCompensationFailed, Op: "Release", Err: err}
	}
}

// abort ends a request whose compensation failed. The ride is closed so the
// reservation sweeper can reclaim the driver.
func (s *DispatchService) abort(ctx context.Context, start time.Time, ride *domain.RideRequest, op string, cerr error) (*DispatchResult, error) {
	final, err := s.finalizeUnmatched(ctx, ride)
	if err != nil {
		s.logger.Error("mark_unmatched_failed", "ride_id", ride.ID, "error", err)
	} else if final.State == domain.RideStateUnmatched {
		s.publish(ctx, final)
	}
	s.record(start, dispatchFailed)
	return nil, &DispatchError{Kind: KindCompensationFailed, Op: op, Err: cerr}
}

func (s *DispatchService) record(start time.Time, status DispatchStatus) {
	observability.DispatchOutcomes.WithLabelValues(string(status)).Inc()
	observability.DispatchLatency.Observe(time.Since(start).Seconds())
}

// publish sends the outcome event in the background. Delivery failures are
// logged by the notifier and never change the dispatch result.
func (s *DispatchService) publish(ctx context.Context, ride *domain.RideRequest) {
	ev, ok := notify.EventForRide(ride)
	if !ok {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
			s.logger.Warn("outcome_notification_failed", "ride_id", ev.RideID, "error", err)
		}
	}()
}

// Wait blocks until in-flight outcome notifications have been handed to the notifier.
func (s *DispatchService) Wait() {
	s.inflight.Wait()
}

// RideDispatcher is the contract the HTTP layer depends on.
type RideDispatcher interface {
	RequestRide(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// Ensure DispatchService implements RideDispatcher.
var _ RideDispatcher = (*DispatchService)(nil)
