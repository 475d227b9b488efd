package domain

import "time"

// DriverStatus represents the dispatch status of a driver.
type DriverStatus string

const (
	DriverStatusAvailable DriverStatus = "AVAILABLE"
	DriverStatusReserved  DriverStatus = "RESERVED"
	DriverStatusOnTrip    DriverStatus = "ON_TRIP"
	DriverStatusOffline   DriverStatus = "OFFLINE"
)

// Valid reports whether s is a known driver status.
func (s DriverStatus) Valid() bool {
	switch s {
	case DriverStatusAvailable, DriverStatusReserved, DriverStatusOnTrip, DriverStatusOffline:
		return true
	default:
		return false
	}
}

// Engaged reports whether the driver is bound to a ride.
func (s DriverStatus) Engaged() bool {
	return s == DriverStatusReserved || s == DriverStatusOnTrip
}

// Position is a timestamped driver location. It is informational only;
// matching always uses the geospatial index.
type Position struct {
	Lat        float64
	Lng        float64
	RecordedAt time.Time
}

// DriverAvailability represents a driver's dispatch state.
type DriverAvailability struct {
	DriverID          string
	Status            DriverStatus
	LastKnownPosition *Position
	CurrentRideID     string // Non-empty while RESERVED or ON_TRIP
	UpdatedAt         time.Time
}

// Candidate is a driver returned by a proximity query.
type Candidate struct {
	DriverID       string
	DistanceMeters float64
}
