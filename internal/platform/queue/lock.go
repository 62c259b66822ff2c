package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release only if we still hold the lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`)

// Locker hands out short-lived Redis mutexes keyed by name (SET NX PX).
type Locker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewLocker(rdb *redis.Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, prefix: prefix, ttl: ttl}
}

type Lock struct {
	rdb   *redis.Client
	key   string
	value string
}

// TryAcquire returns (nil, nil) when another holder has the lock.
func (l *Locker) TryAcquire(ctx context.Context, name string) (*Lock, error) {
	key := l.prefix + name
	value := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{rdb: l.rdb, key: key, value: value}, nil
}

// Release reports whether the lock was still ours when released.
func (k *Lock) Release(ctx context.Context) (bool, error) {
	deleted, err := releaseScript.Run(ctx, k.rdb, []string{k.key}, k.value).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", k.key, err)
	}
	return deleted == 1, nil
}
