package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const teamOrderColumns = `id, activity_id, leader_user_id, sku_id, spu_id, target_count, lock_count,
	complete_count, status, deadline, original_price::text, deduction_price::text, pay_price::text,
	notify_type, notify_url, notify_topic, created_at`

func (r *Repo) GetTeamOrder(ctx context.Context, id string) (TeamOrder, error) {
	var (
		t                    TeamOrder
		status, notifyType   string
		orig, deduction, pay string
	)
	err := r.queryRow(ctx, `SELECT `+teamOrderColumns+` FROM team_orders WHERE id=$1`, id).Scan(
		&t.ID, &t.ActivityID, &t.LeaderUserID, &t.SkuID, &t.SpuID, &t.TargetCount, &t.LockCount,
		&t.CompleteCount, &status, &t.Deadline, &orig, &deduction, &pay,
		&notifyType, &t.Notify.URL, &t.Notify.Topic, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TeamOrder{}, ErrTeamNotFound
	}
	if err != nil {
		return TeamOrder{}, fmt.Errorf("get team order: %w", err)
	}
	t.Status = TeamStatus(status)
	t.Notify.Type = NotifyType(notifyType)
	if t.Price, err = parsePrice(orig, deduction, pay); err != nil {
		return TeamOrder{}, err
	}
	return t, nil
}

func (r *Repo) CreateTeamOrder(ctx context.Context, t TeamOrder) error {
	_, err := r.exec(ctx, `
		INSERT INTO team_orders(id, activity_id, leader_user_id, sku_id, spu_id, target_count, lock_count,
			complete_count, status, deadline, original_price, deduction_price, pay_price,
			notify_type, notify_url, notify_topic, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::numeric,$12::numeric,$13::numeric,$14,$15,$16,$17)`,
		t.ID, t.ActivityID, t.LeaderUserID, t.SkuID, t.SpuID, t.TargetCount, t.LockCount,
		t.CompleteCount, string(t.Status), t.Deadline,
		t.Price.Original.String(), t.Price.Deduction.String(), t.Price.Pay.String(),
		string(t.Notify.Type), t.Notify.URL, t.Notify.Topic, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create team order: %w", err)
	}
	return nil
}

// IncrLockCount: 0 rows berarti slot penuh atau team sudah tidak PENDING.
func (r *Repo) IncrLockCount(ctx context.Context, teamOrderID string) (bool, error) {
	return r.affected(ctx, "incr lock count", `
		UPDATE team_orders SET lock_count = lock_count + 1
		WHERE id=$1 AND lock_count < target_count AND status='PENDING'`, teamOrderID)
}

// DecrLockCount keeps complete_count <= lock_count and never touches a
// team that already succeeded.
func (r *Repo) DecrLockCount(ctx context.Context, teamOrderID string) (bool, error) {
	return r.affected(ctx, "decr lock count", `
		UPDATE team_orders SET lock_count = lock_count - 1
		WHERE id=$1 AND lock_count > complete_count AND status <> 'SUCCESS'`, teamOrderID)
}

// IncrCompleteCount flips the team to SUCCESS in the same statement that
// fills the last slot.
func (r *Repo) IncrCompleteCount(ctx context.Context, teamOrderID string, now time.Time) (bool, error) {
	return r.affected(ctx, "incr complete count", `
		UPDATE team_orders
		SET complete_count = complete_count + 1,
		    status = CASE WHEN complete_count + 1 = target_count THEN 'SUCCESS' ELSE status END
		WHERE id=$1 AND complete_count < target_count AND complete_count < lock_count
		  AND status='PENDING' AND deadline > $2`, teamOrderID, now)
}

func (r *Repo) DecrCompleteCount(ctx context.Context, teamOrderID string) (bool, error) {
	return r.affected(ctx, "decr complete count", `
		UPDATE team_orders SET complete_count = complete_count - 1
		WHERE id=$1 AND complete_count > 0 AND status='PENDING'`, teamOrderID)
}

func (r *Repo) TransitionTeamOrder(ctx context.Context, id string, from, to TeamStatus) (bool, error) {
	return r.affected(ctx, "transition team order",
		`UPDATE team_orders SET status=$3 WHERE id=$1 AND status=$2`, id, string(from), string(to))
}

// ListExpiredTeams returns ids of PENDING teams past their deadline.
func (r *Repo) ListExpiredTeams(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.query(ctx, `
		SELECT id FROM team_orders
		WHERE status='PENDING' AND deadline <= $1
		ORDER BY deadline
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired teams: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
