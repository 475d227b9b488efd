package domain

import "time"

// RideState represents the dispatch state of a ride request.
type RideState string

const (
	RideStateRequested RideState = "REQUESTED"
	RideStateAssigned  RideState = "ASSIGNED"
	RideStateUnmatched RideState = "UNMATCHED"
	RideStateCancelled RideState = "CANCELLED"
)

// IsTerminal reports whether no further dispatch transition may leave the state.
func (s RideState) IsTerminal() bool {
	switch s {
	case RideStateAssigned, RideStateUnmatched, RideStateCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known ride state.
func (s RideState) Valid() bool {
	return s == RideStateRequested || s.IsTerminal()
}

// RideRequest represents a passenger's request for a ride and its dispatch outcome.
type RideRequest struct {
	ID               string
	PassengerID      string
	Pickup           Point
	Dropoff          Point
	State            RideState
	AssignedDriverID string // Non-empty only when State is ASSIGNED
	CancelReason     string
	CreatedAt        time.Time
	DecidedAt        *time.Time
}

// CanTransitionTo reports whether the ride may move from its current state to next.
func (r *RideRequest) CanTransitionTo(next RideState) bool {
	return r.State == RideStateRequested && next.IsTerminal()
}
