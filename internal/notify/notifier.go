// Package notify delivers dispatch outcomes to passengers and downstream systems.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/observability"
)

// EventType names an outcome event.
type EventType string

const (
	EventRideAssigned  EventType = "ride.assigned"
	EventRideUnmatched EventType = "ride.unmatched"
	EventRideCancelled EventType = "ride.cancelled"
)

// Event is the payload sent to every sink.
type Event struct {
	Event       EventType `json:"event"`
	RideID      string    `json:"rideId"`
	DriverID    string    `json:"driverId,omitempty"`
	PassengerID string    `json:"passengerId"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EventForRide builds the event describing a decided ride.
// It returns false for rides that are still REQUESTED.
func EventForRide(ride *domain.RideRequest) (Event, bool) {
	ev := Event{
		RideID:      ride.ID,
		PassengerID: ride.PassengerID,
		OccurredAt:  time.Now().UTC(),
	}
	if ride.DecidedAt != nil {
		ev.OccurredAt = *ride.DecidedAt
	}

	switch ride.State {
	case domain.RideStateAssigned:
		ev.Event = EventRideAssigned
		ev.DriverID = ride.AssignedDriverID
	case domain.RideStateUnmatched:
		ev.Event = EventRideUnmatched
	case domain.RideStateCancelled:
		ev.Event = EventRideCancelled
		ev.Reason = ride.CancelReason
	default:
		return Event{}, false
	}
	return ev, true
}

// Notifier delivers an outcome event.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Sink is a named notifier inside a Multi.
type Sink struct {
	Name     string
	Notifier Notifier
}

// Multi fans an event out to every sink. A failing sink does not stop the others.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti creates a fan-out notifier.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

// Add registers another sink.
func (m *Multi) Add(name string, n Notifier) {
	m.sinks = append(m.sinks, Sink{Name: name, Notifier: n})
}

// Notify delivers ev to all sinks and joins their errors.
func (m *Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notifier.Notify(ctx, ev); err != nil {
			observability.NotificationFailures.WithLabelValues(s.Name).Inc()
			m.logger.Warn("notification_failed",
				"sink", s.Name,
				"event", string(ev.Event),
				"ride_id", ev.RideID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, ev Event) error {
	n.logger.InfoContext(ctx, "ride_outcome",
		"event", string(ev.Event),
		"ride_id", ev.RideID,
		"driver_id", ev.DriverID,
		"passenger_id", ev.PassengerID,
	)
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
