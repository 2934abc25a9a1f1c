package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/ariefcatur/go-group-buy/internal/redisx"
)

// RecoveryKeys are what the admission chain reserved for one attempt.
type RecoveryKeys struct {
	AttemptID  string
	SlotTeamID string
	SlotTTL    time.Duration // 0 keeps the counter's expiry
	SkuID      string
}

type ReleaseResult string

const (
	ReleaseDone    ReleaseResult = "done"
	ReleaseSkipped ReleaseResult = "skipped" // flag already set, nothing to release, or held by someone else
	ReleaseFailed  ReleaseResult = "failed"
)

// ReleaseReport says what each kind ended up as. Failed kinds keep their
// flag unset and are picked up again by RetryReleases.
type ReleaseReport map[orders.ReleaseKind]ReleaseResult

func (r ReleaseReport) Failed() bool {
	for _, v := range r {
		if v == ReleaseFailed {
			return true
		}
	}
	return false
}

// Release is the only place that gives reserved resources back. Errors are
// logged and reported, never returned.
type Release struct {
	store   Store
	slots   SlotReleaser
	locker  Locker
	lockTTL time.Duration
	timeout time.Duration
	clock   clock.Clock
	metrics *Metrics
	log     *slog.Logger
}

func NewRelease(store Store, slots SlotReleaser, locker Locker, opts ...Option) *Release {
	o := buildOptions(opts)
	return &Release{
		store:   store,
		slots:   slots,
		locker:  locker,
		lockTTL: o.releaseLockTTL,
		timeout: o.releaseTimeout,
		clock:   o.clock,
		metrics: o.metrics,
		log:     logging.Or(o.log),
	}
}

// detach keeps a release running after the caller's request is cancelled or
// times out; nothing else would give the reservation back.
func (r *Release) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

type releaseOp struct {
	kind    orders.ReleaseKind
	lockID  string // trade order id, or attempt id when no order exists
	orderID string // flag owner; empty for a failed attempt
	mutate  func(ctx context.Context) (bool, error)
}

func (r *Release) run(ctx context.Context, op releaseOp) ReleaseResult {
	log := r.log.With("kind", string(op.kind), "lock_id", op.lockID)
	key := redisx.ReleaseLockKey(string(op.kind), op.lockID)

	acquired, err := r.locker.TryAcquire(ctx, key, r.lockTTL)
	if err != nil {
		return r.failed(log, op, "release lock unavailable", err)
	}
	if !acquired {
		if op.orderID == "" {
			log.Info("release already handled")
			return ReleaseSkipped
		}
		mutated, err := r.locker.Mutated(ctx, key)
		if err != nil {
			return r.failed(log, op, "read release lock", err)
		}
		if !mutated {
			log.Info("release already handled")
			return ReleaseSkipped
		}
		// applied earlier, only the flag write was lost
		return r.flag(ctx, log, op)
	}

	changed, err := op.mutate(ctx)
	if err != nil {
		if uerr := r.locker.Release(ctx, key); uerr != nil {
			log.Error("drop release lock", "err", uerr)
		}
		return r.failed(log, op, "release failed", err)
	}
	if !changed {
		log.Warn("release guard matched no row")
	}
	if op.orderID == "" {
		return ReleaseDone
	}
	if err := r.locker.MarkMutated(ctx, key); err != nil {
		log.Error("mark release lock mutated", "err", err)
	}
	return r.flag(ctx, log, op)
}

func (r *Release) flag(ctx context.Context, log *slog.Logger, op releaseOp) ReleaseResult {
	if _, err := r.store.MarkReleased(ctx, op.orderID, op.kind); err != nil {
		return r.failed(log, op, "set release flag", err)
	}
	return ReleaseDone
}

func (r *Release) failed(log *slog.Logger, op releaseOp, msg string, err error) ReleaseResult {
	log.Error(msg, "trade_order_id", op.orderID, "err", err)
	r.metrics.ReleaseFailures.WithLabelValues(string(op.kind)).Inc()
	return ReleaseFailed
}

func (r *Release) forOrder(ctx context.Context, o orders.TradeOrder, kind orders.ReleaseKind, mutate func(ctx context.Context) (bool, error)) ReleaseResult {
	if o.ID == "" || o.Released.Has(kind) {
		return ReleaseSkipped
	}
	return r.run(ctx, releaseOp{kind: kind, lockID: o.ID, orderID: o.ID, mutate: mutate})
}

func (r *Release) ReleaseLockCount(ctx context.Context, o orders.TradeOrder) ReleaseResult {
	if o.TeamOrderID == "" {
		return ReleaseSkipped
	}
	return r.forOrder(ctx, o, orders.ReleaseLockCount, func(ctx context.Context) (bool, error) {
		team, err := r.store.GetTeamOrder(ctx, o.TeamOrderID)
		if err != nil {
			return false, err
		}
		if team.Status == orders.TeamSuccess {
			return false, nil
		}
		return r.store.DecrLockCount(ctx, o.TeamOrderID)
	})
}

func (r *Release) ReleaseSlot(ctx context.Context, o orders.TradeOrder) ReleaseResult {
	if o.TeamOrderID == "" {
		return ReleaseSkipped
	}
	return r.forOrder(ctx, o, orders.ReleaseSlot, func(ctx context.Context) (bool, error) {
		var ttl time.Duration
		team, err := r.store.GetTeamOrder(ctx, o.TeamOrderID)
		switch {
		case err == nil:
			ttl = r.slotTTL(team)
		case !errors.Is(err, orders.ErrTeamNotFound):
			return false, err
		}
		return r.slots.IncrSlot(ctx, o.TeamOrderID, ttl)
	})
}

func (r *Release) ReleaseInventory(ctx context.Context, o orders.TradeOrder) ReleaseResult {
	if o.SkuID == "" {
		return ReleaseSkipped
	}
	return r.forOrder(ctx, o, orders.ReleaseInventory, func(ctx context.Context) (bool, error) {
		return r.store.ReleaseStock(ctx, o.SkuID)
	})
}

func (r *Release) ReleaseParticipation(ctx context.Context, o orders.TradeOrder) ReleaseResult {
	if o.UserID == "" || o.ActivityID == "" {
		return ReleaseSkipped
	}
	return r.forOrder(ctx, o, orders.ReleaseParticipation, func(ctx context.Context) (bool, error) {
		return r.store.DecrParticipation(ctx, o.UserID, o.ActivityID)
	})
}

// slotTTL keeps a counter alive until the team's deadline plus the margin.
func (r *Release) slotTTL(team orders.TeamOrder) time.Duration {
	left := team.Deadline.Sub(r.clock.Now())
	if left < 0 {
		left = 0
	}
	return left + redisx.TTLSlotMargin
}

// ReleaseAll undoes a lock that was committed and later reversed. Lock count
// goes first so an expired slot counter is rebuilt from the lowered count.
func (r *Release) ReleaseAll(ctx context.Context, o orders.TradeOrder) ReleaseReport {
	ctx, cancel := r.detach(ctx)
	defer cancel()
	rep := ReleaseReport{
		orders.ReleaseLockCount: r.ReleaseLockCount(ctx, o),
	}
	rep[orders.ReleaseSlot] = r.ReleaseSlot(ctx, o)
	rep[orders.ReleaseInventory] = r.ReleaseInventory(ctx, o)
	rep[orders.ReleaseParticipation] = r.ReleaseParticipation(ctx, o)
	if rep.Failed() {
		r.log.Warn("partial release, will retry", "trade_order_id", o.ID, "report", rep)
	}
	return rep
}

// ReleaseSlotAndInventory undoes the admission reservations of an attempt
// that never committed.
func (r *Release) ReleaseSlotAndInventory(ctx context.Context, keys RecoveryKeys) ReleaseReport {
	ctx, cancel := r.detach(ctx)
	defer cancel()
	rep := ReleaseReport{}
	if keys.AttemptID == "" {
		if keys.SlotTeamID != "" || keys.SkuID != "" {
			r.log.Error("recovery keys without attempt id", "keys", keys)
		}
		return rep
	}
	if keys.SlotTeamID != "" {
		rep[orders.ReleaseSlot] = r.run(ctx, releaseOp{
			kind:   orders.ReleaseSlot,
			lockID: keys.AttemptID,
			mutate: func(ctx context.Context) (bool, error) {
				return r.slots.IncrSlot(ctx, keys.SlotTeamID, keys.SlotTTL)
			},
		})
	}
	if keys.SkuID != "" {
		rep[orders.ReleaseInventory] = r.run(ctx, releaseOp{
			kind:   orders.ReleaseInventory,
			lockID: keys.AttemptID,
			mutate: func(ctx context.Context) (bool, error) {
				return r.store.ReleaseStock(ctx, keys.SkuID)
			},
		})
	}
	return rep
}
