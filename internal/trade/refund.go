package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
)

type RefundReason string

const (
	ReasonUserCancel    RefundReason = "USER_CANCEL"
	ReasonTimeout       RefundReason = "TIMEOUT"
	ReasonPaymentClosed RefundReason = "PAYMENT_CLOSED"
	ReasonTeamFailed    RefundReason = "TEAM_FAILED"
)

// systemInitiated reasons skip the user refund window.
func (r RefundReason) systemInitiated() bool {
	return r == ReasonTimeout || r == ReasonPaymentClosed || r == ReasonTeamFailed
}

type RefundStrategy string

const (
	StrategyUnpaid    RefundStrategy = "unpaid"
	StrategyPaid      RefundStrategy = "paid"
	StrategyWholeTeam RefundStrategy = "whole_team"
)

// StrategyFor picks the per-order strategy from the current status. ok is
// false for statuses that take no strategy at all.
func StrategyFor(s orders.TradeStatus) (RefundStrategy, bool) {
	switch s {
	case orders.TradeCreated:
		return StrategyUnpaid, true
	case orders.TradePaid:
		return StrategyPaid, true
	}
	return "", false
}

type Refunds struct {
	store        Store
	gateway      RefundGateway
	release      *Release
	unpaidWindow time.Duration
	clock        clock.Clock
	metrics      *Metrics
	log          *slog.Logger
}

func NewRefunds(store Store, gateway RefundGateway, release *Release, opts ...Option) *Refunds {
	o := buildOptions(opts)
	return &Refunds{
		store:        store,
		gateway:      gateway,
		release:      release,
		unpaidWindow: o.unpaidWindow,
		clock:        o.clock,
		metrics:      o.metrics,
		log:          logging.Or(o.log),
	}
}

// RefundTradeOrder reverses one order. Already reversed orders return nil
// (and get their unfinished releases retried); Settled orders cannot be
// refunded.
func (r *Refunds) RefundTradeOrder(ctx context.Context, tradeOrderID string, reason RefundReason) error {
	o, err := r.store.GetTradeOrder(ctx, tradeOrderID)
	if err != nil {
		return err
	}
	return r.refund(ctx, o, reason)
}

func (r *Refunds) refund(ctx context.Context, o orders.TradeOrder, reason RefundReason) error {
	if o.Status.Reversed() {
		if !o.Released.All() {
			r.release.ReleaseAll(ctx, o)
		}
		return nil
	}
	strategy, ok := StrategyFor(o.Status)
	if !ok {
		return fmt.Errorf("%w: trade order %s is %s", orders.ErrRefundNotAllowed, o.ID, o.Status)
	}

	var err error
	switch strategy {
	case StrategyUnpaid:
		err = r.refundUnpaid(ctx, o, reason)
	case StrategyPaid:
		err = r.refundPaid(ctx, o, reason)
	}
	r.metrics.Refunds.WithLabelValues(string(strategy), resultLabel(err)).Inc()
	return err
}

func (r *Refunds) refundUnpaid(ctx context.Context, o orders.TradeOrder, reason RefundReason) error {
	if !reason.systemInitiated() && r.clock.Now().Sub(o.CreatedAt) > r.unpaidWindow {
		return fmt.Errorf("%w: unpaid order %s older than %s", orders.ErrRefundWindowClosed, o.ID, r.unpaidWindow)
	}
	to := orders.TradeClosed
	if reason == ReasonTimeout || reason == ReasonPaymentClosed {
		to = orders.TradeTimedOut
	}

	ok, err := r.store.TransitionTradeOrder(ctx, o.ID, orders.TradeCreated, to)
	if err != nil {
		return err
	}
	if !ok {
		return r.settleRace(ctx, o.ID)
	}
	o.Status = to
	r.log.Info("unpaid trade order reversed", "trade_order_id", o.ID, "status", string(to), "reason", string(reason))
	r.release.ReleaseAll(ctx, o)
	return nil
}

func (r *Refunds) refundPaid(ctx context.Context, o orders.TradeOrder, reason RefundReason) error {
	team, err := r.store.GetTeamOrder(ctx, o.TeamOrderID)
	if err != nil {
		return err
	}
	if team.Status.Terminal() {
		return fmt.Errorf("%w: team %s already %s", orders.ErrRefundNotAllowed, team.ID, team.Status)
	}
	if !reason.systemInitiated() && !r.clock.Now().Before(team.Deadline) {
		return fmt.Errorf("%w: team %s past deadline", orders.ErrRefundWindowClosed, team.ID)
	}

	out, err := r.gateway.Refund(ctx, o.OutTradeNo, o.Price.Pay, string(reason), "refund-"+o.ID)
	if err != nil {
		return fmt.Errorf("refund gateway: %w", err)
	}
	if !out.Confirmed {
		return fmt.Errorf("%w: %s", orders.ErrRefundNotConfirmed, out.Message)
	}

	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		ok, err := r.store.TransitionTradeOrder(ctx, o.ID, orders.TradePaid, orders.TradeRefunded)
		if err != nil {
			return err
		}
		if !ok {
			return errReplayed
		}
		ok, err = r.store.DecrCompleteCount(ctx, team.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: team %s", orders.ErrTeamClosed, team.ID)
		}
		return nil
	})
	if errors.Is(err, errReplayed) {
		return r.settleRace(ctx, o.ID)
	}
	if err != nil {
		return err
	}
	o.Status = orders.TradeRefunded
	r.log.Info("paid trade order refunded", "trade_order_id", o.ID, "refund_id", out.RefundID, "reason", string(reason))
	r.release.ReleaseAll(ctx, o)
	return nil
}

// settleRace decides what a lost conditional update meant: somebody else
// already reversed the order (fine) or moved it forward (refund refused).
func (r *Refunds) settleRace(ctx context.Context, id string) error {
	cur, err := r.store.GetTradeOrder(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status.Reversed() {
		return nil
	}
	return fmt.Errorf("%w: trade order %s moved to %s", orders.ErrConcurrentUpdate, id, cur.Status)
}

// RefundTeam is the whole-team strategy for a team that missed its
// deadline. It fails only when every attempted refund failed. The team is
// marked Failed once no refundable order is left, otherwise it stays
// Pending for the next sweep.
func (r *Refunds) RefundTeam(ctx context.Context, teamOrderID string, reason RefundReason) error {
	err := r.refundTeam(ctx, teamOrderID, reason)
	r.metrics.Refunds.WithLabelValues(string(StrategyWholeTeam), resultLabel(err)).Inc()
	return err
}

func (r *Refunds) refundTeam(ctx context.Context, teamOrderID string, reason RefundReason) error {
	team, err := r.store.GetTeamOrder(ctx, teamOrderID)
	if err != nil {
		return err
	}
	if team.Status == orders.TeamSuccess {
		return fmt.Errorf("%w: team %s succeeded", orders.ErrRefundNotAllowed, team.ID)
	}
	list, err := r.store.ListTradeOrdersByTeam(ctx, teamOrderID)
	if err != nil {
		return err
	}

	var (
		attempted int
		errs      []error
	)
	for _, o := range list {
		if !o.Status.CanRefund() {
			if o.Status.Reversed() && !o.Released.All() {
				r.release.ReleaseAll(ctx, o)
			}
			continue
		}
		attempted++
		if err := r.refund(ctx, o, reason); err != nil {
			r.log.Warn("team member refund failed", "team_order_id", teamOrderID, "trade_order_id", o.ID, "err", err)
			errs = append(errs, fmt.Errorf("trade order %s: %w", o.ID, err))
		}
	}

	if len(errs) == 0 && !team.Status.Terminal() {
		if _, err := r.store.TransitionTeamOrder(ctx, teamOrderID, orders.TeamPending, orders.TeamFailed); err != nil {
			return err
		}
		r.log.Info("team failed", "team_order_id", teamOrderID, "refunded", attempted)
	}
	if attempted > 0 && len(errs) == attempted {
		return errors.Join(errs...)
	}
	return nil
}

// OnTimeoutCheck reverses a trade order that is still unpaid when its
// deferred check fires.
func (r *Refunds) OnTimeoutCheck(ctx context.Context, tradeOrderID string) error {
	o, err := r.store.GetTradeOrder(ctx, tradeOrderID)
	if err != nil {
		return err
	}
	if o.Status != orders.TradeCreated {
		return nil
	}
	return r.refund(ctx, o, ReasonTimeout)
}

// OnPaymentClosed handles the channel closing an unpaid trade.
func (r *Refunds) OnPaymentClosed(ctx context.Context, outTradeNo string) error {
	o, err := r.store.FindTradeOrderByToken(ctx, outTradeNo)
	if err != nil {
		return err
	}
	if o == nil {
		return orders.ErrTradeOrderNotFound
	}
	if o.Status != orders.TradeCreated {
		return nil
	}
	return r.refund(ctx, *o, ReasonPaymentClosed)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
