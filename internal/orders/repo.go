package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres source of truth. Every counter column is changed by a
// single guarded UPDATE; callers read RowsAffected, never read-modify-write.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return postgres.WithTx(ctx, r.DB, fn)
}

func (r *Repo) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return postgres.Conn(ctx, r.DB).Exec(ctx, sql, args...)
}

func (r *Repo) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return postgres.Conn(ctx, r.DB).QueryRow(ctx, sql, args...)
}

func (r *Repo) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return postgres.Conn(ctx, r.DB).Query(ctx, sql, args...)
}

func (r *Repo) affected(ctx context.Context, op, sql string, args ...any) (bool, error) {
	ct, err := r.exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ct.RowsAffected() == 1, nil
}

const tradeOrderColumns = `id, team_order_id, activity_id, user_id, sku_id, out_trade_no, channel,
	original_price::text, deduction_price::text, pay_price::text, status,
	lock_count_released, slot_released, inventory_released, participation_released,
	created_at, paid_at`

func scanTradeOrder(row pgx.Row) (TradeOrder, error) {
	var (
		o                    TradeOrder
		orig, deduction, pay string
		status               string
	)
	err := row.Scan(&o.ID, &o.TeamOrderID, &o.ActivityID, &o.UserID, &o.SkuID, &o.OutTradeNo, &o.Channel,
		&orig, &deduction, &pay, &status,
		&o.Released.LockCount, &o.Released.Slot, &o.Released.Inventory, &o.Released.Participation,
		&o.CreatedAt, &o.PaidAt)
	if err != nil {
		return TradeOrder{}, err
	}
	o.Status = TradeStatus(status)
	if o.Price, err = parsePrice(orig, deduction, pay); err != nil {
		return TradeOrder{}, err
	}
	return o, nil
}

func parsePrice(orig, deduction, pay string) (Price, error) {
	var (
		p   Price
		err error
	)
	if p.Original, err = decimal.NewFromString(orig); err != nil {
		return Price{}, fmt.Errorf("parse original price: %w", err)
	}
	if p.Deduction, err = decimal.NewFromString(deduction); err != nil {
		return Price{}, fmt.Errorf("parse deduction price: %w", err)
	}
	if p.Pay, err = decimal.NewFromString(pay); err != nil {
		return Price{}, fmt.Errorf("parse pay price: %w", err)
	}
	return p, nil
}

// FindTradeOrderByToken returns nil, nil when no order carries the token.
func (r *Repo) FindTradeOrderByToken(ctx context.Context, outTradeNo string) (*TradeOrder, error) {
	o, err := scanTradeOrder(r.queryRow(ctx,
		`SELECT `+tradeOrderColumns+` FROM trade_orders WHERE out_trade_no=$1`, outTradeNo))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find trade order by token: %w", err)
	}
	return &o, nil
}

func (r *Repo) GetTradeOrder(ctx context.Context, id string) (TradeOrder, error) {
	o, err := scanTradeOrder(r.queryRow(ctx,
		`SELECT `+tradeOrderColumns+` FROM trade_orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return TradeOrder{}, ErrTradeOrderNotFound
	}
	if err != nil {
		return TradeOrder{}, fmt.Errorf("get trade order: %w", err)
	}
	return o, nil
}

// InsertTradeOrder maps a unique violation on out_trade_no to ErrDuplicateToken.
func (r *Repo) InsertTradeOrder(ctx context.Context, o TradeOrder) error {
	_, err := r.exec(ctx, `
		INSERT INTO trade_orders(id, team_order_id, activity_id, user_id, sku_id, out_trade_no, channel,
			original_price, deduction_price, pay_price, status,
			lock_count_released, slot_released, inventory_released, participation_released, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9::numeric,$10::numeric,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.TeamOrderID, o.ActivityID, o.UserID, o.SkuID, o.OutTradeNo, o.Channel,
		o.Price.Original.String(), o.Price.Deduction.String(), o.Price.Pay.String(), string(o.Status),
		o.Released.LockCount, o.Released.Slot, o.Released.Inventory, o.Released.Participation, o.CreatedAt)
	if postgres.IsUniqueViolation(err) {
		return ErrDuplicateToken
	}
	if err != nil {
		return fmt.Errorf("insert trade order: %w", err)
	}
	return nil
}

// TransitionTradeOrder flips status only when the row is still in from.
func (r *Repo) TransitionTradeOrder(ctx context.Context, id string, from, to TradeStatus) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return r.affected(ctx, "transition trade order",
		`UPDATE trade_orders SET status=$3 WHERE id=$1 AND status=$2`, id, string(from), string(to))
}

func (r *Repo) MarkTradeOrderPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	return r.affected(ctx, "mark trade order paid",
		`UPDATE trade_orders SET status='PAID', paid_at=$2 WHERE id=$1 AND status='CREATED'`, id, paidAt)
}

func releaseColumn(k ReleaseKind) (string, error) {
	switch k {
	case ReleaseLockCount:
		return "lock_count_released", nil
	case ReleaseSlot:
		return "slot_released", nil
	case ReleaseInventory:
		return "inventory_released", nil
	case ReleaseParticipation:
		return "participation_released", nil
	}
	return "", fmt.Errorf("unknown release kind %q", k)
}

// MarkReleased sets one release flag; false means it was already set.
func (r *Repo) MarkReleased(ctx context.Context, id string, kind ReleaseKind) (bool, error) {
	col, err := releaseColumn(kind)
	if err != nil {
		return false, err
	}
	return r.affected(ctx, "mark released",
		`UPDATE trade_orders SET `+col+`=TRUE WHERE id=$1 AND `+col+`=FALSE`, id)
}

func (r *Repo) collectTradeOrders(ctx context.Context, sql string, args ...any) ([]TradeOrder, error) {
	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeOrder
	for rows.Next() {
		o, err := scanTradeOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) ListTradeOrdersByTeam(ctx context.Context, teamOrderID string) ([]TradeOrder, error) {
	out, err := r.collectTradeOrders(ctx,
		`SELECT `+tradeOrderColumns+` FROM trade_orders WHERE team_order_id=$1 ORDER BY created_at, id`, teamOrderID)
	if err != nil {
		return nil, fmt.Errorf("list trade orders by team: %w", err)
	}
	return out, nil
}

// ListPendingReleases pages, by id, through reversed orders whose release did
// not finish. Pass the last id of the previous page, "" for the first.
func (r *Repo) ListPendingReleases(ctx context.Context, afterID string, limit int) ([]TradeOrder, error) {
	out, err := r.collectTradeOrders(ctx, `
		SELECT `+tradeOrderColumns+` FROM trade_orders
		WHERE status IN ('REFUNDED','TIMEOUT','CLOSED')
		  AND NOT (lock_count_released AND slot_released AND inventory_released AND participation_released)
		  AND id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending releases: %w", err)
	}
	return out, nil
}
