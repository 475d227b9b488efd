package tests

import (
	"context"
	"errors"
	"testing"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/notify"
	"ridedispatch/internal/service"
)

func seedRide(t *testing.T, rides *MockRideRepository) *domain.RideRequest {
	t.Helper()
	dropoff := north(2000)
	p := pickup
	ride, err := rides.CreateRequest(context.Background(), "passenger-1", &p, &dropoff)
	if err != nil {
		t.Fatalf("seed ride: %v", err)
	}
	return ride
}

func TestRideService_GetRideCachesDecidedRides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rides := NewMockRideRepository()
	cache := NewMockCacheStore()
	svc := service.NewRideService(rides, cache, nil, logging.Discard())

	ride := seedRide(t, rides)

	// REQUESTED rides are never cached.
	if _, err := svc.GetRide(ctx, ride.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.Has(ride.ID) {
		t.Fatal("pending ride must not be cached")
	}

	if _, err := rides.MarkUnmatched(ctx, ride.ID); err != nil {
		t.Fatalf("mark unmatched: %v", err)
	}

	got, err := svc.GetRide(ctx, ride.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != domain.RideStateUnmatched {
		t.Errorf("expected UNMATCHED, got %s", got.State)
	}
	if !cache.Has(ride.ID) {
		t.Fatal("expected decided ride to be cached")
	}

	if _, err := svc.GetRide(ctx, ride.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.HitCount != 1 {
		t.Errorf("expected 1 cache hit, got %d", cache.HitCount)
	}
}

func TestRideService_GetRideFallsBackWhenCacheFails(t *testing.T) {
	t.Parallel()

	rides := NewMockRideRepository()
	cache := NewMockCacheStore()
	cache.GetError = errors.New("redis down")
	svc := service.NewRideService(rides, cache, nil, logging.Discard())

	ride := seedRide(t, rides)
	got, err := svc.GetRide(context.Background(), ride.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != ride.ID {
		t.Errorf("expected %s, got %s", ride.ID, got.ID)
	}
}

func TestRideService_GetRideErrors(t *testing.T) {
	t.Parallel()

	svc := service.NewRideService(NewMockRideRepository(), nil, nil, logging.Discard())

	tests := []struct {
		name   string
		rideID string
		want   service.Kind
	}{
		{"empty id", "", service.KindInvalidInput},
		{"unknown id", "missing", service.KindNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.GetRide(context.Background(), tt.rideID)
			if got := service.KindOf(err); got != tt.want {
				t.Errorf("expected %s, got %s (%v)", tt.want, got, err)
			}
		})
	}
}

func TestRideService_ListRidesNewestFirst(t *testing.T) {
	t.Parallel()

	rides := NewMockRideRepository()
	svc := service.NewRideService(rides, nil, nil, logging.Discard())

	first := seedRide(t, rides)
	second := seedRide(t, rides)

	list, err := svc.ListRides(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("expected [%s %s], got %+v", second.ID, first.ID, list)
	}

	list, err = svc.ListRides(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected limit to apply, got %d rides", len(list))
	}
}

func TestRideService_CancelRide(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rides := NewMockRideRepository()
	notifier := NewRecordingNotifier()
	svc := service.NewRideService(rides, nil, notifier, logging.Discard())

	ride := seedRide(t, rides)

	cancelled, err := svc.CancelRide(ctx, service.CancelRideRequest{RideID: ride.ID, Reason: "changed plans"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.State != domain.RideStateCancelled || cancelled.CancelReason != "changed plans" {
		t.Errorf("unexpected ride %+v", cancelled)
	}

	events := notifier.Events()
	if len(events) != 1 || events[0].Event != notify.EventRideCancelled || events[0].Reason != "changed plans" {
		t.Errorf("expected one ride.cancelled event, got %+v", events)
	}

	_, err = svc.CancelRide(ctx, service.CancelRideRequest{RideID: ride.ID})
	if got := service.KindOf(err); got != service.KindInvalidStateTransition {
		t.Errorf("second cancel: expected INVALID_STATE_TRANSITION, got %s", got)
	}
}

func TestRideService_CancelDecidedRideFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newDispatchFixture(service.DispatchConfig{})
	f.addDriver("driver-1", domain.DriverStatusAvailable, north(100))

	result, err := f.svc.RequestRide(ctx, request())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc := service.NewRideService(f.rides, nil, nil, logging.Discard())
	_, err = svc.CancelRide(ctx, service.CancelRideRequest{RideID: result.RideID})
	if got := service.KindOf(err); got != service.KindInvalidStateTransition {
		t.Errorf("expected INVALID_STATE_TRANSITION, got %s", got)
	}
	if got := f.rides.GetRide(result.RideID).State; got != domain.RideStateAssigned {
		t.Errorf("assigned ride must stay ASSIGNED, got %s", got)
	}
}

func TestRideService_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rides := NewMockRideRepository()
	ride := seedRide(t, rides)

	if _, err := rides.MarkAssigned(ctx, ride.ID, "driver-1"); err != nil {
		t.Fatalf("first assignment: %v", err)
	}

	tests := []struct {
		name string
		run  func() error
	}{
		{"assign again", func() error { _, err := rides.MarkAssigned(ctx, ride.ID, "driver-2"); return err }},
		{"mark unmatched", func() error { _, err := rides.MarkUnmatched(ctx, ride.ID); return err }},
		{"cancel", func() error { _, err := rides.Cancel(ctx, ride.ID, ""); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); err == nil {
				t.Error("expected transition out of ASSIGNED to fail")
			}
		})
	}

	if got := rides.GetRide(ride.ID); got.AssignedDriverID != "driver-1" {
		t.Errorf("expected driver-1 kept, got %s", got.AssignedDriverID)
	}
}
