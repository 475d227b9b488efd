package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
	token  string
}

// NewLockStore creates a new LockStore. Each store carries its own owner token,
// so one process can only release locks it acquired.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client, token: uuid.NewString()}
}

// Acquire attempts to take the named lock for ttl.
// Returns true if the lock was acquired, false if already held.
func (s *LockStore) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, lockKey(name), s.token, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// Release drops the named lock if this store still owns it.
func (s *LockStore) Release(ctx context.Context, name string) error {
	return releaseScript.Run(ctx, s.client, []string{lockKey(name)}, s.token).Err()
}

func lockKey(name string) string {
	return "lock:" + name
}
