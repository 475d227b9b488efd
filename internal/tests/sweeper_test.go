package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/service"
)

func newSweeper(drivers *MockAvailabilityRepository, locks *MockLockStore) *service.ReservationSweeper {
	cfg := service.SweeperConfig{Interval: time.Minute, ReservationTTL: 2 * time.Minute}
	if locks == nil {
		return service.NewReservationSweeper(drivers, nil, logging.Discard(), cfg)
	}
	return service.NewReservationSweeper(drivers, locks, logging.Discard(), cfg)
}

func TestSweeper_ReleasesStaleReservations(t *testing.T) {
	t.Parallel()

	drivers := NewMockAvailabilityRepository()
	drivers.SetReservation("stale", "ride-1", time.Now().Add(-10*time.Minute))
	drivers.SetReservation("fresh", "ride-2", time.Now())
	drivers.AddDriver("idle", domain.DriverStatusAvailable)

	released, err := newSweeper(drivers, NewMockLockStore()).SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 release, got %d", released)
	}

	if got := drivers.GetDriver("stale"); got.Status != domain.DriverStatusAvailable || got.CurrentRideID != "" {
		t.Errorf("expected stale reservation released, got %+v", got)
	}
	if got := drivers.GetDriver("fresh").Status; got != domain.DriverStatusReserved {
		t.Errorf("fresh reservation must be kept, got %s", got)
	}
}

func TestSweeper_SkipsWhenLockHeld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	drivers := NewMockAvailabilityRepository()
	drivers.SetReservation("stale", "ride-1", time.Now().Add(-10*time.Minute))

	locks := NewMockLockStore()
	if ok, _ := locks.Acquire(ctx, "dispatch:reservation-sweeper", time.Minute); !ok {
		t.Fatal("failed to pre-acquire lock")
	}

	released, err := newSweeper(drivers, locks).SweepOnce(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released != 0 {
		t.Errorf("expected no releases while another instance sweeps, got %d", released)
	}
	if got := drivers.GetDriver("stale").Status; got != domain.DriverStatusReserved {
		t.Errorf("expected reservation untouched, got %s", got)
	}
}

func TestSweeper_ReleasesLockAfterPass(t *testing.T) {
	t.Parallel()

	locks := NewMockLockStore()
	sweeper := newSweeper(NewMockAvailabilityRepository(), locks)

	for i := 0; i < 2; i++ {
		if _, err := sweeper.SweepOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: unexpected error: %v", i, err)
		}
	}
	if locks.IsLocked("dispatch:reservation-sweeper") {
		t.Error("expected lock released after pass")
	}
	if locks.AcquireCallCount != 2 {
		t.Errorf("expected 2 lock attempts, got %d", locks.AcquireCallCount)
	}
}

func TestSweeper_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(d *MockAvailabilityRepository, l *MockLockStore)
	}{
		{"lock store down", func(_ *MockAvailabilityRepository, l *MockLockStore) {
			l.AcquireError = errors.New("redis down")
		}},
		{"listing fails", func(d *MockAvailabilityRepository, _ *MockLockStore) {
			d.ListError = errors.New("db down")
		}},
		{"release fails", func(d *MockAvailabilityRepository, _ *MockLockStore) {
			d.SetReservation("stale", "ride-1", time.Now().Add(-10*time.Minute))
			d.ReleaseError = errors.New("db down")
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			drivers := NewMockAvailabilityRepository()
			locks := NewMockLockStore()
			tt.setup(drivers, locks)

			released, err := newSweeper(drivers, locks).SweepOnce(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if released != 0 {
				t.Errorf("expected 0 releases, got %d", released)
			}
		})
	}
}

func TestSweeper_RecoversFailedCompensation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newDispatchFixture(service.DispatchConfig{})
	f.addDriver("driver-1", domain.DriverStatusAvailable, north(100))
	f.rides.MarkAssignedError = errors.New("connection reset")
	f.drivers.ReleaseError = errors.New("connection refused")

	if _, err := f.svc.RequestRide(ctx, request()); service.KindOf(err) != service.KindCompensationFailed {
		t.Fatalf("expected COMPENSATION_FAILED, got %v", err)
	}
	if got := f.drivers.GetDriver("driver-1").Status; got != domain.DriverStatusReserved {
		t.Fatalf("expected orphaned reservation, got %s", got)
	}

	// Backdate the orphan past the TTL and let the database recover.
	d := f.drivers.GetDriver("driver-1")
	f.drivers.SetReservation(d.DriverID, d.CurrentRideID, time.Now().Add(-time.Hour))
	f.drivers.ReleaseError = nil

	released, err := newSweeper(f.drivers, nil).SweepOnce(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released != 1 {
		t.Errorf("expected 1 release, got %d", released)
	}
	if got := f.drivers.GetDriver("driver-1").Status; got != domain.DriverStatusAvailable {
		t.Errorf("expected driver available again, got %s", got)
	}
}

func TestSweeper_KeepsAssignedReservations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newDispatchFixture(service.DispatchConfig{})
	f.addDriver("driver-1", domain.DriverStatusAvailable, north(100))

	result, err := f.svc.RequestRide(ctx, request())
	if err != nil || result.Status != service.DispatchAssigned {
		t.Fatalf("expected ASSIGNED, got %+v (%v)", result, err)
	}

	// An assigned ride's reservation is not an orphan, however old.
	f.drivers.SetReservation("driver-1", result.RideID, time.Now().Add(-time.Hour))

	released, err := newSweeper(f.drivers, nil).SweepOnce(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if released != 0 {
		t.Errorf("expected 0 releases, got %d", released)
	}
	if d := f.drivers.GetDriver("driver-1"); d.Status != domain.DriverStatusReserved || d.CurrentRideID != result.RideID {
		t.Errorf("expected driver still reserved for %s, got %+v", result.RideID, d)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	drivers := NewMockAvailabilityRepository()
	drivers.SetReservation("stale", "ride-1", time.Now().Add(-10*time.Minute))
	sweeper := service.NewReservationSweeper(drivers, nil, logging.Discard(), service.SweeperConfig{
		Interval:       10 * time.Millisecond,
		ReservationTTL: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for drivers.GetDriver("stale").Status != domain.DriverStatusAvailable {
		select {
		case <-deadline:
			t.Fatal("sweeper did not release the reservation")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
