package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/shopspring/decimal"
)

type Settlement struct {
	store     Store
	notify    NotifySink
	blacklist map[string]bool
	clock     clock.Clock
	metrics   *Metrics
	log       *slog.Logger
}

func NewSettlement(store Store, opts ...Option) *Settlement {
	o := buildOptions(opts)
	return &Settlement{
		store:     store,
		notify:    o.notify,
		blacklist: o.blacklist,
		clock:     o.clock,
		metrics:   o.metrics,
		log:       logging.Or(o.log),
	}
}

// OnPaymentSucceeded tolerates duplicate delivery: a Paid or Settled order
// is a silent no-op.
func (s *Settlement) OnPaymentSucceeded(ctx context.Context, outTradeNo string, amount decimal.Decimal) error {
	result, err := s.onPaymentSucceeded(ctx, outTradeNo, amount)
	s.metrics.Settlements.WithLabelValues(result).Inc()
	return err
}

func (s *Settlement) onPaymentSucceeded(ctx context.Context, outTradeNo string, amount decimal.Decimal) (string, error) {
	log := s.log.With("out_trade_no", outTradeNo)

	o, err := s.store.FindTradeOrderByToken(ctx, outTradeNo)
	if err != nil {
		return "error", err
	}
	if o == nil {
		return "not_found", orders.ErrTradeOrderNotFound
	}
	log = log.With("trade_order_id", o.ID, "team_order_id", o.TeamOrderID)

	if o.Status == orders.TradePaid || o.Status == orders.TradeSettled {
		log.Info("duplicate payment callback ignored", "status", string(o.Status))
		return "duplicate", nil
	}
	if !amount.Equal(o.Price.Pay) {
		log.Error("payment amount mismatch", "security", true, "paid", amount.String(), "expected", o.Price.Pay.String())
		return "amount_mismatch", fmt.Errorf("%w: paid %s, expected %s", orders.ErrPaymentAmountMismatch, amount, o.Price.Pay)
	}
	if o.Status != orders.TradeCreated {
		return "invalid_status", fmt.Errorf("%w: trade order %s is %s", orders.ErrInvalidTransition, o.ID, o.Status)
	}

	team, err := s.store.GetTeamOrder(ctx, o.TeamOrderID)
	if err != nil {
		return "error", err
	}
	now := s.clock.Now()
	if s.blacklist[o.Channel] {
		return "channel_blocked", fmt.Errorf("%w: %s", orders.ErrChannelBlocked, o.Channel)
	}
	if team.Status.Terminal() || !now.Before(team.Deadline) {
		return "team_closed", fmt.Errorf("%w: team %s %s", orders.ErrTeamClosed, team.ID, team.Status)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.MarkTradeOrderPaid(ctx, o.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			// another delivery of the same callback got here first
			return errReplayed
		}
		ok, err = s.store.IncrCompleteCount(ctx, team.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: team %s", orders.ErrTeamClosed, team.ID)
		}
		return nil
	})
	if errors.Is(err, errReplayed) {
		log.Info("payment already applied by a concurrent callback")
		return "duplicate", nil
	}
	if err != nil {
		return "rejected", err
	}

	// jangan percaya copy lama, baca ulang dari DB
	team, err = s.store.GetTeamOrder(ctx, team.ID)
	if err != nil {
		return "paid", err
	}
	log.Info("trade order paid", "complete_count", team.CompleteCount, "target_count", team.TargetCount)
	if team.Status == orders.TeamSuccess {
		if _, err := s.SettleCompletedOrder(ctx, team.ID); err != nil {
			return "paid", err
		}
		return "settled", nil
	}
	return "paid", nil
}

// SettleCompletedOrder moves every Paid order of a successful team to
// Settled. Each row flips through a guarded update and only a flip that hit
// a row enqueues a notification, so re-running it is a no-op.
func (s *Settlement) SettleCompletedOrder(ctx context.Context, teamOrderID string) (int, error) {
	team, err := s.store.GetTeamOrder(ctx, teamOrderID)
	if err != nil {
		return 0, err
	}
	if team.Status != orders.TeamSuccess {
		return 0, nil
	}
	list, err := s.store.ListTradeOrdersByTeam(ctx, teamOrderID)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, o := range list {
		if o.Status != orders.TradePaid {
			continue
		}
		ok, err := s.store.TransitionTradeOrder(ctx, o.ID, orders.TradePaid, orders.TradeSettled)
		if err != nil {
			return settled, err
		}
		if !ok {
			continue
		}
		settled++
		o.Status = orders.TradeSettled
		s.enqueue(ctx, team, o)
	}
	s.log.Info("team settled", "team_order_id", teamOrderID, "settled", settled)
	return settled, nil
}

// SettleTeams re-runs settlement for a batch of teams, e.g. after a crash
// between the complete-count write and the settle pass.
func (s *Settlement) SettleTeams(ctx context.Context, teamOrderIDs []string) (int, error) {
	total := 0
	var errs []error
	for _, id := range teamOrderIDs {
		n, err := s.SettleCompletedOrder(ctx, id)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("team %s: %w", id, err))
		}
	}
	return total, errors.Join(errs...)
}

func (s *Settlement) enqueue(ctx context.Context, team orders.TeamOrder, o orders.TradeOrder) {
	if s.notify == nil || !team.Notify.NeedNotify() {
		return
	}
	if err := s.notify.Enqueue(ctx, o, team.Notify); err != nil {
		s.log.Warn("enqueue settle notification", "trade_order_id", o.ID, "err", err)
	}
}
