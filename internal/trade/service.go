// Package trade holds the lock, settle and refund state machine of a
// group-buy team. Correctness rests on guarded single-statement updates in
// Store plus the atomic slot counter; nothing here takes a mutex.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/filter"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/google/uuid"
)

// errReplayed rolls a transaction back when the token turned out to be
// taken; it never leaves this package.
var errReplayed = errors.New("idempotent replay")

type replayError struct{ order orders.TradeOrder }

func (e *replayError) Error() string { return errReplayed.Error() }
func (e *replayError) Unwrap() error { return errReplayed }

func errReplayedWith(o *orders.TradeOrder) error { return &replayError{order: *o} }

type LockCommand struct {
	UserID      string
	ActivityID  string
	SkuID       string
	TeamOrderID string // kosong = buka team baru
	OutTradeNo  string
	Channel     string
	Price       orders.Price
	Notify      *orders.NotifyConfig // nil = pakai config activity
}

func (c LockCommand) validate() error {
	switch {
	case c.UserID == "":
		return fmt.Errorf("%w: user_id required", orders.ErrInvalidRequest)
	case c.ActivityID == "":
		return fmt.Errorf("%w: activity_id required", orders.ErrInvalidRequest)
	case c.SkuID == "":
		return fmt.Errorf("%w: sku_id required", orders.ErrInvalidRequest)
	case c.OutTradeNo == "":
		return fmt.Errorf("%w: out_trade_no required", orders.ErrInvalidRequest)
	}
	return nil
}

type Service struct {
	store        Store
	admission    Admission
	pricer       Pricer
	committer    *Committer
	release      *Release
	timeouts     TimeoutScheduler
	timeoutDelay time.Duration
	clock        clock.Clock
	metrics      *Metrics
	log          *slog.Logger
}

func NewService(store Store, admission Admission, pricer Pricer, release *Release, opts ...Option) *Service {
	o := buildOptions(opts)
	return &Service{
		store:        store,
		admission:    admission,
		pricer:       pricer,
		committer:    NewCommitter(store, opts...),
		release:      release,
		timeouts:     o.timeouts,
		timeoutDelay: o.timeoutDelay,
		clock:        o.clock,
		metrics:      o.metrics,
		log:          logging.Or(o.log),
	}
}

// LockOrder admits, prices and commits one user into a team. Whatever the
// admission chain reserved is given back on every failure path.
func (s *Service) LockOrder(ctx context.Context, cmd LockCommand) (orders.TradeOrderResult, error) {
	start := time.Now()
	res, result, err := s.lockOrder(ctx, cmd)
	s.metrics.LockAttempts.WithLabelValues(result).Inc()
	s.metrics.LockLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Service) lockOrder(ctx context.Context, cmd LockCommand) (orders.TradeOrderResult, string, error) {
	if err := cmd.validate(); err != nil {
		return orders.TradeOrderResult{}, "invalid", err
	}
	log := s.log.With("out_trade_no", cmd.OutTradeNo, "user_id", cmd.UserID, "activity_id", cmd.ActivityID)

	existing, err := s.store.FindTradeOrderByToken(ctx, cmd.OutTradeNo)
	if err != nil {
		return orders.TradeOrderResult{}, "error", err
	}
	if existing != nil {
		log.Info("lock replayed", "trade_order_id", existing.ID)
		return orders.ResultOf(*existing), "replayed", nil
	}

	fc := &filter.Context{AttemptID: uuid.NewString()}
	order, created, err := s.attempt(ctx, cmd, fc)
	if err != nil || !created {
		keys := RecoveryKeys{
			AttemptID:  fc.AttemptID,
			SlotTeamID: fc.RecoverySlotTeamID,
			SkuID:      fc.RecoverySkuID,
		}
		if fc.Team != nil {
			keys.SlotTTL = s.release.slotTTL(*fc.Team)
		}
		s.release.ReleaseSlotAndInventory(ctx, keys)
	}
	if err != nil {
		// a concurrent request with the same token may have committed while
		// this one was rejected (participation already counted, duplicate insert)
		if winner, ferr := s.store.FindTradeOrderByToken(ctx, cmd.OutTradeNo); ferr == nil && winner != nil {
			order, created, err = *winner, false, nil
		}
	}
	if err != nil {
		if errors.Is(err, orders.ErrAdmissionRejected) {
			log.Info("lock rejected", "reason", err.Error())
			return orders.TradeOrderResult{}, "rejected", err
		}
		log.Warn("lock failed", "err", err)
		return orders.TradeOrderResult{}, "error", err
	}
	if !created {
		log.Info("lock replayed", "trade_order_id", order.ID)
		return orders.ResultOf(order), "replayed", nil
	}

	s.scheduleTimeout(ctx, order)
	log.Info("trade order locked", "trade_order_id", order.ID, "team_order_id", order.TeamOrderID)
	return orders.ResultOf(order), "locked", nil
}

func (s *Service) attempt(ctx context.Context, cmd LockCommand, fc *filter.Context) (orders.TradeOrder, bool, error) {
	req := &filter.Request{
		UserID:      cmd.UserID,
		ActivityID:  cmd.ActivityID,
		SkuID:       cmd.SkuID,
		TeamOrderID: cmd.TeamOrderID,
	}
	if err := s.admission.Run(ctx, req, fc); err != nil {
		return orders.TradeOrder{}, false, err
	}
	act := *fc.Activity

	sku, err := s.store.GetSku(ctx, cmd.SkuID)
	if err != nil {
		return orders.TradeOrder{}, false, err
	}
	price, err := s.pricer.Quote(ctx, cmd.UserID, act.PlanID, act.PlanConfig, sku.OriginalPrice)
	if err != nil {
		return orders.TradeOrder{}, false, err
	}
	if !price.Equal(cmd.Price) {
		return orders.TradeOrder{}, false, fmt.Errorf("%w: server pay %s deduction %s, client pay %s deduction %s",
			orders.ErrPriceMismatch, price.Pay, price.Deduction, cmd.Price.Pay, cmd.Price.Deduction)
	}

	notify := act.Notify
	if cmd.Notify != nil {
		notify = *cmd.Notify
	}
	if !notify.Valid() {
		return orders.TradeOrder{}, false, orders.ErrInvalidNotify
	}

	var (
		out     orders.TradeOrder
		created bool
	)
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		team, err := s.materializeTeam(ctx, cmd, act, sku, price, notify, now)
		if err != nil {
			return err
		}

		ok, err := s.store.IncrParticipation(ctx, *fc.Account, act.ParticipationLimit)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: participation account %s", orders.ErrConcurrentUpdate, fc.Account.ID)
		}

		order := orders.TradeOrder{
			ID:          uuid.NewString(),
			TeamOrderID: team.ID,
			ActivityID:  act.ID,
			UserID:      cmd.UserID,
			SkuID:       sku.ID,
			OutTradeNo:  cmd.OutTradeNo,
			Channel:     cmd.Channel,
			Price:       price,
			Status:      orders.TradeCreated,
			CreatedAt:   now,
		}
		out, created, err = s.committer.Commit(ctx, team, sku, order)
		if err != nil {
			return err
		}
		if !created {
			return errReplayedWith(&out)
		}
		return nil
	})
	var replay *replayError
	if errors.As(err, &replay) {
		return replay.order, false, nil
	}
	if err != nil {
		return orders.TradeOrder{}, false, err
	}
	return out, created, nil
}

func (s *Service) materializeTeam(ctx context.Context, cmd LockCommand, act orders.Activity, sku orders.Sku,
	price orders.Price, notify orders.NotifyConfig, now time.Time) (orders.TeamOrder, error) {
	if cmd.TeamOrderID != "" {
		team, err := s.store.GetTeamOrder(ctx, cmd.TeamOrderID)
		if err != nil {
			return orders.TeamOrder{}, err
		}
		if !team.Lockable(now) {
			return orders.TeamOrder{}, fmt.Errorf("%w: team %s %s", orders.ErrTeamNotLockable, team.ID, team.Status)
		}
		return team, nil
	}

	// second token check, closes the window between two first-time opens
	existing, err := s.store.FindTradeOrderByToken(ctx, cmd.OutTradeNo)
	if err != nil {
		return orders.TeamOrder{}, err
	}
	if existing != nil {
		return orders.TeamOrder{}, errReplayedWith(existing)
	}

	team := orders.TeamOrder{
		ID:           uuid.NewString(),
		ActivityID:   act.ID,
		LeaderUserID: cmd.UserID,
		SkuID:        sku.ID,
		SpuID:        sku.SpuID,
		TargetCount:  act.TargetCount,
		Status:       orders.TeamPending,
		Deadline:     now.Add(act.ValidFor),
		Price:        price,
		Notify:       notify,
		CreatedAt:    now,
	}
	if err := s.store.CreateTeamOrder(ctx, team); err != nil {
		return orders.TeamOrder{}, err
	}
	return team, nil
}

func (s *Service) scheduleTimeout(ctx context.Context, o orders.TradeOrder) {
	if s.timeouts == nil {
		return
	}
	if err := s.timeouts.ScheduleTimeoutCheck(ctx, o, s.timeoutDelay); err != nil {
		s.log.Warn("schedule timeout check", "trade_order_id", o.ID, "err", err)
	}
}

func (s *Service) QueryTradeOrder(ctx context.Context, tradeOrderID string) (orders.TradeOrderResult, error) {
	o, err := s.store.GetTradeOrder(ctx, tradeOrderID)
	if err != nil {
		return orders.TradeOrderResult{}, err
	}
	return orders.ResultOf(o), nil
}
