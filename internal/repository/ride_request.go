package repository

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"ridedispatch/internal/domain"
)

// NewRideRequest validates the input and builds a REQUESTED ride with a fresh ID.
// Ledger implementations share it so that validation is identical everywhere.
func NewRideRequest(passengerID string, pickup, dropoff *domain.Point, now time.Time) (*domain.RideRequest, error) {
	if strings.TrimSpace(passengerID) == "" {
		return nil, ErrInvalidInput
	}
	if pickup == nil || !pickup.Valid() {
		return nil, ErrInvalidInput
	}
	if dropoff == nil || !dropoff.Valid() {
		return nil, ErrInvalidInput
	}

	return &domain.RideRequest{
		ID:          uuid.New().String(),
		PassengerID: passengerID,
		Pickup:      *pickup,
		Dropoff:     *dropoff,
		State:       domain.RideStateRequested,
		CreatedAt:   now,
	}, nil
}
