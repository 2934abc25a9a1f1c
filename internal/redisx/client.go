package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// MarkOnce sets a dedup marker; false means the id was marked before.
func MarkOnce(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
}

// Seen reports whether id already carries a dedup marker.
func Seen(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	n, err := rdb.Exists(ctx, fmt.Sprintf(KeyDedup, service, id)).Result()
	return n > 0, err
}
