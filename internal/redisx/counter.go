package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// First toucher initialises the counter, everybody else only decrements it.
var decrSlotScript = redis.NewScript(`
local key = KEYS[1]

if redis.call("EXISTS", key) == 0 then
  redis.call("SET", key, ARGV[1], "EX", ARGV[2])
end
return redis.call("DECR", key)
`)

// An expired counter is rebuilt from the team row on next decrement, so a
// release against a missing key must not recreate it.
var incrSlotScript = redis.NewScript(`
local key = KEYS[1]

if redis.call("EXISTS", key) == 0 then
  return {0, 0}
end
local v = redis.call("INCR", key)
if tonumber(ARGV[1]) > 0 then
  redis.call("EXPIRE", key, ARGV[1])
end
return {1, v}
`)

// Counters is the team-slot counter store.
type Counters struct {
	rdb *redis.Client
}

func NewCounters(rdb *redis.Client) *Counters {
	return &Counters{rdb: rdb}
}

func SlotKey(teamOrderID string) string { return fmt.Sprintf(KeyTeamSlotAvailable, teamOrderID) }

func lockedKey(teamOrderID string) string { return fmt.Sprintf(KeyTeamSlotLocked, teamOrderID) }

func seconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// DecrSlot returns the remaining slots after taking one. A negative result
// means the caller took nothing and must give it back with IncrSlot.
func (c *Counters) DecrSlot(ctx context.Context, teamOrderID string, initial int, ttl time.Duration) (int64, error) {
	n, err := decrSlotScript.Run(ctx, c.rdb, []string{SlotKey(teamOrderID)}, initial, seconds(ttl)).Int64()
	if err != nil {
		return 0, fmt.Errorf("decr slot: %w", err)
	}
	return n, nil
}

// IncrSlot gives one slot back and, when ttl is at least a second, refreshes
// the counter's expiry in the same script. ok is false when the counter no
// longer exists.
func (c *Counters) IncrSlot(ctx context.Context, teamOrderID string, ttl time.Duration) (bool, error) {
	res, err := incrSlotScript.Run(ctx, c.rdb, []string{SlotKey(teamOrderID)}, int64(ttl/time.Second)).Result()
	if err != nil {
		return false, fmt.Errorf("incr slot: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, fmt.Errorf("incr slot: unexpected redis response")
	}
	found, ok := vals[0].(int64)
	if !ok {
		return false, fmt.Errorf("incr slot: unexpected redis response")
	}
	return found == 1, nil
}

// MarkLocked bumps the audit counter of locks that passed the slot stage.
func (c *Counters) MarkLocked(ctx context.Context, teamOrderID string, ttl time.Duration) error {
	key := lockedKey(teamOrderID)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, key)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark locked: %w", err)
	}
	return nil
}

// Available reads the slot counter; ok is false when it is not initialised.
func (c *Counters) Available(ctx context.Context, teamOrderID string) (int64, bool, error) {
	n, err := c.rdb.Get(ctx, SlotKey(teamOrderID)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get slot: %w", err)
	}
	return n, true, nil
}
