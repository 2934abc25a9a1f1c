package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker is a SETNX lock. It never waits: a held key is reported as
// contention and the caller treats it as "someone else is on it".
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

func ReleaseLockKey(kind, id string) string { return fmt.Sprintf(KeyReleaseLock, kind, id) }

func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// lockMutated replaces the acquire timestamp once the guarded work is done.
const lockMutated = "mutated"

// MarkMutated records on a held lock that its work has been applied. The
// lock keeps its TTL; a lock that already expired is reported as an error.
func (l *Locker) MarkMutated(ctx context.Context, key string) error {
	err := l.rdb.SetArgs(ctx, key, lockMutated, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err == redis.Nil {
		return fmt.Errorf("mark %s: lock expired", key)
	}
	if err != nil {
		return fmt.Errorf("mark %s: %w", key, err)
	}
	return nil
}

// Mutated reports whether the holder of key finished its work.
func (l *Locker) Mutated(ctx context.Context, key string) (bool, error) {
	v, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	return v == lockMutated, nil
}

func (l *Locker) Release(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
