package domain

import "testing"

func TestRideState_Valid(t *testing.T) {
	for _, s := range []RideState{RideStateRequested, RideStateAssigned, RideStateUnmatched, RideStateCancelled} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	for _, s := range []RideState{"", "requested", "COMPLETED"} {
		if s.Valid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestDriverStatus_Valid(t *testing.T) {
	for _, s := range []DriverStatus{DriverStatusAvailable, DriverStatusReserved, DriverStatusOnTrip, DriverStatusOffline} {
		if !s.Valid() {
			t.Errorf("expected %s to be valid", s)
		}
	}
	for _, s := range []DriverStatus{"", "available", "BUSY"} {
		if s.Valid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
