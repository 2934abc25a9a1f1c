package redisx

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/redis/go-redis/v9"
)

// Audience answers crowd-tag membership from a precomputed SET per tag.
// Computing the tag itself happens elsewhere.
type Audience struct {
	rdb *redis.Client
}

func NewAudience(rdb *redis.Client) *Audience {
	return &Audience{rdb: rdb}
}

func (a *Audience) IsParticipable(ctx context.Context, userID string, act orders.Activity) (bool, string, error) {
	if act.TagID == "" {
		return true, "", nil
	}
	ok, err := a.rdb.SIsMember(ctx, fmt.Sprintf(KeyCrowdTagUsers, act.TagID), userID).Result()
	if err != nil {
		return false, "", fmt.Errorf("crowd tag lookup: %w", err)
	}
	if !ok {
		return false, fmt.Sprintf("user not in crowd tag %s", act.TagID), nil
	}
	return true, "", nil
}
