package provision

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Locker guards the per-client provisioning critical section. Acquire returns
// ok=false when another run already holds the lock.
type Locker interface {
	Acquire(ctx context.Context, clientID string) (release func(), ok bool, err error)
}

// RedisLocker implements Locker with a SET NX key per client. The TTL bounds
// how long a crashed run can block a retry.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: 10 * time.Minute}
}

func (l *RedisLocker) key(clientID string) string {
	return "provision:lock:" + clientID
}

// Acquire takes the per-client lock.
func (l *RedisLocker) Acquire(ctx context.Context, clientID string) (func(), bool, error) {
	key := l.key(clientID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Release outlives the request context
		l.client.Del(context.Background(), key)
	}
	return release, true, nil
}
