package trade

import (
	"context"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/filter"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/shopspring/decimal"
)

// Store is the SQL source of truth. *orders.Repo implements it.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetActivity(ctx context.Context, id string) (orders.Activity, error)
	GetSku(ctx context.Context, id string) (orders.Sku, error)
	ReleaseStock(ctx context.Context, skuID string) (bool, error)

	IncrParticipation(ctx context.Context, acc orders.Account, limit int) (bool, error)
	DecrParticipation(ctx context.Context, userID, activityID string) (bool, error)

	GetTeamOrder(ctx context.Context, id string) (orders.TeamOrder, error)
	CreateTeamOrder(ctx context.Context, t orders.TeamOrder) error
	IncrLockCount(ctx context.Context, teamOrderID string) (bool, error)
	DecrLockCount(ctx context.Context, teamOrderID string) (bool, error)
	IncrCompleteCount(ctx context.Context, teamOrderID string, now time.Time) (bool, error)
	DecrCompleteCount(ctx context.Context, teamOrderID string) (bool, error)
	TransitionTeamOrder(ctx context.Context, id string, from, to orders.TeamStatus) (bool, error)
	ListExpiredTeams(ctx context.Context, now time.Time, limit int) ([]string, error)

	FindTradeOrderByToken(ctx context.Context, outTradeNo string) (*orders.TradeOrder, error)
	GetTradeOrder(ctx context.Context, id string) (orders.TradeOrder, error)
	InsertTradeOrder(ctx context.Context, o orders.TradeOrder) error
	TransitionTradeOrder(ctx context.Context, id string, from, to orders.TradeStatus) (bool, error)
	MarkTradeOrderPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	MarkReleased(ctx context.Context, id string, kind orders.ReleaseKind) (bool, error)
	ListTradeOrdersByTeam(ctx context.Context, teamOrderID string) ([]orders.TradeOrder, error)
	ListPendingReleases(ctx context.Context, afterID string, limit int) ([]orders.TradeOrder, error)
}

type Admission interface {
	Run(ctx context.Context, req *filter.Request, fc *filter.Context) error
}

type Pricer interface {
	Quote(ctx context.Context, userID, planID, planConfig string, original decimal.Decimal) (orders.Price, error)
}

type SlotReleaser interface {
	IncrSlot(ctx context.Context, teamOrderID string, ttl time.Duration) (bool, error)
}

// Locker guards each release. A lock marked mutated means its release was
// applied and only the flag write may still be missing.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	MarkMutated(ctx context.Context, key string) error
	Mutated(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type RefundOutcome struct {
	Confirmed bool
	RefundID  string
	Message   string
}

type RefundGateway interface {
	Refund(ctx context.Context, outTradeNo string, amount decimal.Decimal, reason, requestID string) (RefundOutcome, error)
}

type TimeoutScheduler interface {
	ScheduleTimeoutCheck(ctx context.Context, o orders.TradeOrder, delay time.Duration) error
}

type NotifySink interface {
	Enqueue(ctx context.Context, o orders.TradeOrder, cfg orders.NotifyConfig) error
}
