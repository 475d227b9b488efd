package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/domain"
)

// DefaultLocationKey is the geo set holding online driver positions.
const DefaultLocationKey = "drivers:locations"

// LocationStore handles driver location operations in Redis.
type LocationStore struct {
	client *redis.Client
	key    string
}

// NewLocationStore creates a new LocationStore. An empty key selects DefaultLocationKey.
func NewLocationStore(client *redis.Client, key string) *LocationStore {
	if key == "" {
		key = DefaultLocationKey
	}
	return &LocationStore{client: client, key: key}
}

// UpdateLocation stores a driver's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, point domain.Point) error {
	return s.client.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      driverID,
		Longitude: point.Lng,
		Latitude:  point.Lat,
	}).Err()
}

// FindNearestAvailable returns up to maxResults drivers within maxRadiusMeters
// of point, nearest first. Membership in the index does not guarantee the
// driver is still AVAILABLE in the registry.
func (s *LocationStore) FindNearestAvailable(ctx context.Context, point domain.Point, maxResults int, maxRadiusMeters float64) ([]domain.Candidate, error) {
	if maxResults <= 0 || maxRadiusMeters <= 0 {
		return nil, nil
	}

	results, err := s.client.GeoSearchLocation(ctx, s.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  point.Lng,
			Latitude:   point.Lat,
			Radius:     maxRadiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      maxResults,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, domain.Candidate{
			DriverID:       r.Name,
			DistanceMeters: r.Dist,
		})
	}

	return candidates, nil
}

// RemoveLocation removes a driver's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, s.key, driverID).Err()
}
