package tests

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/notify"
	"ridedispatch/internal/redis"
	"ridedispatch/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is an in-memory RideRepository. Every transition is a
// compare-and-set under one mutex, like the conditional UPDATE in Postgres.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.RideRequest
	order []string

	// Counters for verification
	CreateCallCount        int32
	MarkAssignedCallCount  int32
	MarkUnmatchedCallCount int32

	// Error injection
	CreateError       error
	MarkAssignedError error
	GetError          error

	// BeforeMarkAssigned runs before the assignment write, outside the lock.
	BeforeMarkAssigned func(rideID, driverID string)

	// Drivers, when set, makes MarkAssigned require the driver's reservation
	// for the ride, like the locked check in Postgres.
	Drivers *MockAvailabilityRepository
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides: make(map[string]*domain.RideRequest),
	}
}

var _ repository.RideRepository = (*MockRideRepository)(nil)

// AddRide adds a ride to the mock repository.
func (m *MockRideRepository) AddRide(ride *domain.RideRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = ride
	m.order = append(m.order, ride.ID)
}

func (m *MockRideRepository) CreateRequest(ctx context.Context, passengerID string, pickup, dropoff *domain.Point) (*domain.RideRequest, error) {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return nil, m.CreateError
	}

	ride, err := repository.NewRideRequest(passengerID, pickup, dropoff, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	m.AddRide(ride)
	copy := *ride
	return &copy, nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.RideRequest, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *ride
	return &copy, nil
}

func (m *MockRideRepository) MarkAssigned(ctx context.Context, id, driverID string) (*domain.RideRequest, error) {
	atomic.AddInt32(&m.MarkAssignedCallCount, 1)
	if m.BeforeMarkAssigned != nil {
		m.BeforeMarkAssigned(id, driverID)
	}
	if m.MarkAssignedError != nil {
		return nil, m.MarkAssignedError
	}
	if driverID == "" {
		return nil, repository.ErrInvalidInput
	}

	// Ride lock first, then driver lock.
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !ride.CanTransitionTo(domain.RideStateAssigned) {
		return nil, repository.ErrInvalidStateTransition
	}
	if m.Drivers != nil && !m.Drivers.holds(driverID, id) {
		return nil, repository.ErrReservationNotHeld
	}

	now := time.Now().UTC()
	ride.State = domain.RideStateAssigned
	ride.AssignedDriverID = driverID
	ride.DecidedAt = &now
	copy := *ride
	return &copy, nil
}

func (m *MockRideRepository) MarkUnmatched(ctx context.Context, id string) (*domain.RideRequest, error) {
	atomic.AddInt32(&m.MarkUnmatchedCallCount, 1)
	return m.transition(id, domain.RideStateUnmatched, nil)
}

func (m *MockRideRepository) Cancel(ctx context.Context, id, reason string) (*domain.RideRequest, error) {
	return m.transition(id, domain.RideStateCancelled, func(r *domain.RideRequest) {
		r.CancelReason = reason
	})
}

func (m *MockRideRepository) List(ctx context.Context, limit int) ([]*domain.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.RideRequest, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		copy := *m.rides[m.order[i]]
		result = append(result, &copy)
	}
	return result, nil
}

func (m *MockRideRepository) transition(id string, next domain.RideState, apply func(*domain.RideRequest)) (*domain.RideRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !ride.CanTransitionTo(next) {
		return nil, repository.ErrInvalidStateTransition
	}
	now := time.Now().UTC()
	ride.State = next
	ride.DecidedAt = &now
	if apply != nil {
		apply(ride)
	}
	copy := *ride
	return &copy, nil
}

// GetRide returns ride for test assertions.
func (m *MockRideRepository) GetRide(id string) *domain.RideRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil
	}
	copy := *ride
	return &copy
}

// assignedTo reports whether rideID is ASSIGNED to driverID.
func (m *MockRideRepository) assignedTo(rideID, driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[rideID]
	return ok && ride.State == domain.RideStateAssigned && ride.AssignedDriverID == driverID
}

// CountRides returns the number of stored rides.
func (m *MockRideRepository) CountRides() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// CountByState returns the number of rides in state.
func (m *MockRideRepository) CountByState(state domain.RideState) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.rides {
		if r.State == state {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// MOCK AVAILABILITY REPOSITORY
// ──────────────────────────────────────────────

// MockAvailabilityRepository is an in-memory AvailabilityRepository with
// compare-and-set reservation.
type MockAvailabilityRepository struct {
	mu         sync.RWMutex
	drivers    map[string]*domain.DriverAvailability
	reservedAt map[string]time.Time

	// Counters for verification
	TryReserveCallCount int32
	ReleaseCallCount    int32

	// Error injection
	TryReserveError error
	ReleaseError    error
	ListError       error

	// Rides, when set, hides reservations whose ride is ASSIGNED to the
	// driver from ListOrphanedReservations, like the join in Postgres.
	Rides *MockRideRepository
}

// NewMockAvailabilityRepository creates a new mock availability repository.
func NewMockAvailabilityRepository() *MockAvailabilityRepository {
	return &MockAvailabilityRepository{
		drivers:    make(map[string]*domain.DriverAvailability),
		reservedAt: make(map[string]time.Time),
	}
}

var _ repository.AvailabilityRepository = (*MockAvailabilityRepository)(nil)

// AddDriver adds a driver with the given status.
func (m *MockAvailabilityRepository) AddDriver(driverID string, status domain.DriverStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driverID] = &domain.DriverAvailability{
		DriverID:  driverID,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
}

// SetReservation puts driverID in RESERVED for rideID since at.
func (m *MockAvailabilityRepository) SetReservation(driverID, rideID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driverID] = &domain.DriverAvailability{
		DriverID:      driverID,
		Status:        domain.DriverStatusReserved,
		CurrentRideID: rideID,
		UpdatedAt:     at,
	}
	m.reservedAt[driverID] = at
}

func (m *MockAvailabilityRepository) TryReserve(ctx context.Context, driverID, rideID string) (bool, error) {
	atomic.AddInt32(&m.TryReserveCallCount, 1)
	if m.TryReserveError != nil {
		return false, m.TryReserveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok || d.Status != domain.DriverStatusAvailable {
		return false, nil
	}
	now := time.Now().UTC()
	d.Status = domain.DriverStatusReserved
	d.CurrentRideID = rideID
	d.UpdatedAt = now
	m.reservedAt[driverID] = now
	return true, nil
}

func (m *MockAvailabilityRepository) Release(ctx context.Context, driverID, rideID string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	if m.ReleaseError != nil {
		return m.ReleaseError
	}
	return m.release(driverID, rideID)
}

// ReleaseOrphaned holds the ride lock across the release, so it serializes
// with MarkAssigned.
func (m *MockAvailabilityRepository) ReleaseOrphaned(ctx context.Context, driverID, rideID string) error {
	if m.ReleaseError != nil {
		return m.ReleaseError
	}
	if m.Rides == nil {
		return m.release(driverID, rideID)
	}

	m.Rides.mu.RLock()
	defer m.Rides.mu.RUnlock()
	if ride, ok := m.Rides.rides[rideID]; ok && ride.State == domain.RideStateAssigned && ride.AssignedDriverID == driverID {
		return repository.ErrInvalidStateTransition
	}
	return m.release(driverID, rideID)
}

func (m *MockAvailabilityRepository) release(driverID, rideID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return repository.ErrNotFound
	}
	if d.Status != domain.DriverStatusReserved || d.CurrentRideID != rideID {
		return repository.ErrInvalidStateTransition
	}
	d.Status = domain.DriverStatusAvailable
	d.CurrentRideID = ""
	d.UpdatedAt = time.Now().UTC()
	delete(m.reservedAt, driverID)
	return nil
}

func (m *MockAvailabilityRepository) GoOnline(ctx context.Context, driverID string, pos domain.Position) (*domain.DriverAvailability, error) {
	if driverID == "" {
		return nil, repository.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		d = &domain.DriverAvailability{DriverID: driverID}
		m.drivers[driverID] = d
	} else if d.Status.Engaged() {
		return nil, repository.ErrInvalidStateTransition
	}
	p := pos
	d.Status = domain.DriverStatusAvailable
	d.LastKnownPosition = &p
	d.UpdatedAt = time.Now().UTC()
	copy := *d
	return &copy, nil
}

func (m *MockAvailabilityRepository) GoOffline(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if d.Status.Engaged() {
		return nil, repository.ErrInvalidStateTransition
	}
	d.Status = domain.DriverStatusOffline
	d.UpdatedAt = time.Now().UTC()
	copy := *d
	return &copy, nil
}

func (m *MockAvailabilityRepository) GetByID(ctx context.Context, driverID string) (*domain.DriverAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *d
	return &copy, nil
}

// ListOrphanedReservations returns reservations older than olderThan whose
// ride is not ASSIGNED to the reserved driver.
func (m *MockAvailabilityRepository) ListOrphanedReservations(ctx context.Context, olderThan time.Time) ([]*domain.DriverAvailability, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	// Snapshot under the driver lock; rides are consulted after releasing it.
	m.mu.RLock()
	var stale []*domain.DriverAvailability
	for id, d := range m.drivers {
		if d.Status != domain.DriverStatusReserved {
			continue
		}
		if at, ok := m.reservedAt[id]; ok && at.Before(olderThan) {
			copy := *d
			stale = append(stale, &copy)
		}
	}
	m.mu.RUnlock()

	var result []*domain.DriverAvailability
	for _, d := range stale {
		if m.Rides != nil && m.Rides.assignedTo(d.CurrentRideID, d.DriverID) {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DriverID < result[j].DriverID })
	return result, nil
}

// holds reports whether driverID is RESERVED for rideID.
func (m *MockAvailabilityRepository) holds(driverID, rideID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[driverID]
	return ok && d.Status == domain.DriverStatusReserved && d.CurrentRideID == rideID
}

// GetDriver returns driver for test assertions.
func (m *MockAvailabilityRepository) GetDriver(driverID string) *domain.DriverAvailability {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil
	}
	copy := *d
	return &copy
}

// ReservedFor returns the drivers RESERVED for rideID.
func (m *MockAvailabilityRepository) ReservedFor(rideID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, d := range m.drivers {
		if d.Status == domain.DriverStatusReserved && d.CurrentRideID == rideID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is an in-memory geo index ordered by haversine distance.
// Equal distances keep insertion order.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]domain.Point
	order     []string

	// Counters for verification
	FindCallCount int32

	// Error injection
	FindError   error
	UpdateError error
	RemoveError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		locations: make(map[string]domain.Point),
	}
}

var _ redis.LocationStoreInterface = (*MockLocationStore)(nil)

// AddDriverLocation places a driver in the index.
func (m *MockLocationStore) AddDriverLocation(driverID string, point domain.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[driverID]; !ok {
		m.order = append(m.order, driverID)
	}
	m.locations[driverID] = point
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, point domain.Point) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.AddDriverLocation(driverID, point)
	return nil
}

func (m *MockLocationStore) FindNearestAvailable(ctx context.Context, point domain.Point, maxResults int, maxRadiusMeters float64) ([]domain.Candidate, error) {
	atomic.AddInt32(&m.FindCallCount, 1)
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []domain.Candidate
	for _, id := range m.order {
		loc, ok := m.locations[id]
		if !ok {
			continue
		}
		dist := point.DistanceTo(loc)
		if dist <= maxRadiusMeters {
			candidates = append(candidates, domain.Candidate{DriverID: id, DistanceMeters: dist})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].DistanceMeters < candidates[j].DistanceMeters
	})
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}
	return candidates, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	if m.RemoveError != nil {
		return m.RemoveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, driverID)
	for i, id := range m.order {
		if id == driverID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// HasLocation reports whether driverID is indexed.
func (m *MockLocationStore) HasLocation(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.locations[driverID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is an in-memory LockStoreInterface.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]time.Time

	AcquireCallCount int32
	AcquireError     error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{locks: make(map[string]time.Time)}
}

var _ redis.LockStoreInterface = (*MockLockStore)(nil)

func (m *MockLockStore) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.locks[name]; ok && time.Now().Before(exp) {
		return false, nil
	}
	m.locks[name] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockLockStore) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, name)
	return nil
}

// IsLocked reports whether name is currently held.
func (m *MockLockStore) IsLocked(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.locks[name]
	return ok && time.Now().Before(exp)
}

// ──────────────────────────────────────────────
// MOCK CACHE STORE
// ──────────────────────────────────────────────

// MockCacheStore is an in-memory CacheStoreInterface.
type MockCacheStore struct {
	mu    sync.RWMutex
	rides map[string]domain.RideRequest

	GetCallCount int32
	HitCount     int32
	GetError     error
}

// NewMockCacheStore creates a new mock cache store.
func NewMockCacheStore() *MockCacheStore {
	return &MockCacheStore{rides: make(map[string]domain.RideRequest)}
}

var _ redis.CacheStoreInterface = (*MockCacheStore)(nil)

func (m *MockCacheStore) GetRide(ctx context.Context, rideID string) (*domain.RideRequest, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[rideID]
	if !ok {
		return nil, nil
	}
	atomic.AddInt32(&m.HitCount, 1)
	return &ride, nil
}

func (m *MockCacheStore) SetRide(ctx context.Context, ride *domain.RideRequest) error {
	if ride == nil || !ride.State.IsTerminal() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = *ride
	return nil
}

// Has reports whether rideID is cached.
func (m *MockCacheStore) Has(rideID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rides[rideID]
	return ok
}

// ──────────────────────────────────────────────
// RECORDING NOTIFIER
// ──────────────────────────────────────────────

// RecordingNotifier records every event it receives.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event

	Err error
}

// NewRecordingNotifier creates a new recording notifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.Err
}

// Events returns a copy of the recorded events.
func (n *RecordingNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}
