package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (r *Repo) GetActivity(ctx context.Context, id string) (Activity, error) {
	var (
		a                  Activity
		status, notifyType string
		validSeconds       int
	)
	err := r.queryRow(ctx, `
		SELECT id, name, status, start_at, end_at, valid_seconds, target_count, participation_limit,
		       plan_id, plan_config, tag_id, notify_type, notify_url, notify_topic
		FROM activities WHERE id=$1`, id).Scan(
		&a.ID, &a.Name, &status, &a.StartAt, &a.EndAt, &validSeconds, &a.TargetCount, &a.ParticipationLimit,
		&a.PlanID, &a.PlanConfig, &a.TagID, &notifyType, &a.Notify.URL, &a.Notify.Topic)
	if errors.Is(err, pgx.ErrNoRows) {
		return Activity{}, ErrActivityNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("get activity: %w", err)
	}
	a.Status = ActivityStatus(status)
	a.Notify.Type = NotifyType(notifyType)
	a.ValidFor = time.Duration(validSeconds) * time.Second
	return a, nil
}

func (r *Repo) GetSku(ctx context.Context, id string) (Sku, error) {
	var (
		s     Sku
		price string
	)
	err := r.queryRow(ctx,
		`SELECT id, spu_id, name, original_price::text, stock, frozen_stock FROM skus WHERE id=$1`, id).
		Scan(&s.ID, &s.SpuID, &s.Name, &price, &s.Stock, &s.Frozen)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sku{}, ErrSkuNotFound
	}
	if err != nil {
		return Sku{}, fmt.Errorf("get sku: %w", err)
	}
	if s.OriginalPrice, err = decimal.NewFromString(price); err != nil {
		return Sku{}, fmt.Errorf("parse sku price: %w", err)
	}
	return s, nil
}

// OccupyStock membekukan 1 unit; false jika stok habis.
func (r *Repo) OccupyStock(ctx context.Context, skuID string) (bool, error) {
	return r.affected(ctx, "occupy stock",
		`UPDATE skus SET frozen_stock = frozen_stock + 1 WHERE id=$1 AND frozen_stock < stock`, skuID)
}

func (r *Repo) ReleaseStock(ctx context.Context, skuID string) (bool, error) {
	return r.affected(ctx, "release stock",
		`UPDATE skus SET frozen_stock = frozen_stock - 1 WHERE id=$1 AND frozen_stock >= 1`, skuID)
}

// GetOrCreateAccount lazily creates the per-activity participation row.
func (r *Repo) GetOrCreateAccount(ctx context.Context, userID, activityID string) (Account, error) {
	if _, err := r.exec(ctx, `
		INSERT INTO accounts(id, user_id, activity_id, count, version)
		VALUES ($1,$2,$3,0,0)
		ON CONFLICT (user_id, activity_id) DO NOTHING`, uuid.NewString(), userID, activityID); err != nil {
		return Account{}, fmt.Errorf("ensure account: %w", err)
	}
	var a Account
	err := r.queryRow(ctx,
		`SELECT id, user_id, activity_id, count, version FROM accounts WHERE user_id=$1 AND activity_id=$2`,
		userID, activityID).Scan(&a.ID, &a.UserID, &a.ActivityID, &a.Count, &a.Version)
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// IncrParticipation is an optimistic write on version; limit 0 means unlimited.
func (r *Repo) IncrParticipation(ctx context.Context, acc Account, limit int) (bool, error) {
	return r.affected(ctx, "incr participation", `
		UPDATE accounts SET count = count + 1, version = version + 1
		WHERE id=$1 AND version=$2 AND ($3 = 0 OR count < $3)`, acc.ID, acc.Version, limit)
}

func (r *Repo) DecrParticipation(ctx context.Context, userID, activityID string) (bool, error) {
	return r.affected(ctx, "decr participation", `
		UPDATE accounts SET count = count - 1, version = version + 1
		WHERE user_id=$1 AND activity_id=$2 AND count > 0`, userID, activityID)
}
