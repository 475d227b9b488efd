package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"ridedispatch/internal/domain"
)

// fakeRow scans fixed column values in order.
type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("expected %d columns, got %d", len(dest), len(r))
	}
	for i, d := range dest {
		v := r[i]
		switch d := d.(type) {
		case sql.Scanner:
			if err := d.Scan(v); err != nil {
				return err
			}
		case *string:
			*d = v.(string)
		case *float64:
			*d = v.(float64)
		case *time.Time:
			*d = v.(time.Time)
		case *domain.RideState:
			*d = domain.RideState(v.(string))
		case *domain.DriverStatus:
			*d = domain.DriverStatus(v.(string))
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func rideRow(state string, driverID any) fakeRow {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return fakeRow{"r1", "p1", 12.97, 77.59, 12.99, 77.59, state, driverID, nil, now, now}
}

func TestScanRide(t *testing.T) {
	t.Parallel()

	ride, err := scanRide(rideRow("ASSIGNED", "d1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ride.State != domain.RideStateAssigned || ride.AssignedDriverID != "d1" || ride.DecidedAt == nil {
		t.Errorf("unexpected ride %+v", ride)
	}
	if ride.CancelReason != "" {
		t.Errorf("expected empty cancel reason, got %q", ride.CancelReason)
	}
}

func TestScanRide_UnknownState(t *testing.T) {
	t.Parallel()

	_, err := scanRide(rideRow("COMPLETED", nil))
	if err == nil || !strings.Contains(err.Error(), "unknown state") {
		t.Fatalf("expected unknown state error, got %v", err)
	}
}

func TestScanAvailability(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		status  string
		wantErr bool
	}{
		{"reserved", "RESERVED", false},
		{"offline", "OFFLINE", false},
		{"unknown", "BUSY", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, err := scanAvailability(fakeRow{"d1", tt.status, 12.97, 77.59, now, "r1", now})
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr {
				return
			}
			if driver.LastKnownPosition == nil || driver.CurrentRideID != "r1" {
				t.Errorf("unexpected driver %+v", driver)
			}
		})
	}
}
