package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/cespare/xxhash/v2"
)

const (
	StageFlowControl   = "flow_control"
	StageActivity      = "activity"
	StageCrowdTag      = "crowd_tag"
	StageParticipation = "participation"
	StageTeamSlot      = "team_slot"
	StageInventory     = "inventory"
)

// StaticFlow is a flow policy read from config at startup.
type StaticFlow struct {
	Downgrade bool
	CutRange  int // 0..100
}

func (f StaticFlow) Allow(userID string) (bool, string) {
	if f.Downgrade {
		return false, "service downgraded"
	}
	if f.CutRange >= 100 {
		return true, ""
	}
	if xxhash.Sum64String(userID)%100 < uint64(f.CutRange) {
		return true, ""
	}
	return false, "user outside gray release range"
}

type stages struct {
	d   Deps
	log *slog.Logger
}

func (s *stages) flowControl(_ context.Context, req *Request, _ *Context) error {
	if s.d.Flow == nil {
		return nil
	}
	if ok, reason := s.d.Flow.Allow(req.UserID); !ok {
		return orders.Reject(StageFlowControl, orders.ErrFlowControlled, reason)
	}
	return nil
}

func (s *stages) activity(ctx context.Context, req *Request, fc *Context) error {
	act, err := s.d.Activities.GetActivity(ctx, req.ActivityID)
	if errors.Is(err, orders.ErrActivityNotFound) {
		return orders.Reject(StageActivity, orders.ErrActivityUnavailable, "activity not found")
	}
	if err != nil {
		return err
	}
	if now := s.d.Clock.Now(); !act.OpenAt(now) {
		reason := "activity ended"
		switch {
		case act.Status != orders.ActivityActive:
			reason = "activity not active"
		case now.Before(act.StartAt):
			reason = "activity not started"
		}
		return orders.Reject(StageActivity, orders.ErrActivityUnavailable, reason)
	}
	fc.Activity = &act
	return nil
}

func (s *stages) crowdTag(ctx context.Context, req *Request, fc *Context) error {
	if fc.Activity.TagID == "" || s.d.Audience == nil {
		return nil
	}
	ok, reason, err := s.d.Audience.IsParticipable(ctx, req.UserID, *fc.Activity)
	if err != nil {
		return err
	}
	if !ok {
		if reason == "" {
			reason = "user not in target audience"
		}
		return orders.Reject(StageCrowdTag, orders.ErrNotInAudience, reason)
	}
	return nil
}

func (s *stages) participation(ctx context.Context, req *Request, fc *Context) error {
	acc, err := s.d.Accounts.GetOrCreateAccount(ctx, req.UserID, req.ActivityID)
	if err != nil {
		return err
	}
	fc.Account = &acc
	limit := fc.Activity.ParticipationLimit
	if limit > 0 && acc.Count >= limit {
		return orders.Reject(StageParticipation, orders.ErrParticipationLimit,
			fmt.Sprintf("participated %d of %d", acc.Count, limit))
	}
	return nil
}

func (s *stages) teamSlot(ctx context.Context, req *Request, fc *Context) error {
	if req.TeamOrderID == "" {
		return nil
	}
	team, err := s.d.Teams.GetTeamOrder(ctx, req.TeamOrderID)
	if errors.Is(err, orders.ErrTeamNotFound) {
		return orders.Reject(StageTeamSlot, orders.ErrTeamNotLockable, "team not found")
	}
	if err != nil {
		return err
	}
	switch {
	case team.ActivityID != req.ActivityID:
		return orders.Reject(StageTeamSlot, orders.ErrTeamNotLockable, "team belongs to another activity")
	case team.Status.Terminal():
		return orders.Reject(StageTeamSlot, orders.ErrTeamNotLockable, "team "+string(team.Status))
	case !s.d.Clock.Now().Before(team.Deadline):
		return orders.Reject(StageTeamSlot, orders.ErrTeamNotLockable, "team expired")
	}
	fc.Team = &team

	ttl := fc.Activity.ValidFor + s.d.SlotMargin
	left, err := s.d.Slots.DecrSlot(ctx, team.ID, team.TargetCount-team.LockCount, ttl)
	if err != nil {
		return err
	}
	if left < 0 {
		if _, err := s.d.Slots.IncrSlot(ctx, team.ID, 0); err != nil {
			s.log.Warn("give back overdrawn slot failed", "team_order_id", team.ID, "err", err)
		}
		return orders.Reject(StageTeamSlot, orders.ErrTeamFull, "team full")
	}
	fc.RecoverySlotTeamID = team.ID

	if err := s.d.Slots.MarkLocked(ctx, team.ID, ttl); err != nil {
		s.log.Warn("slot audit counter failed", "team_order_id", team.ID, "err", err)
	}
	return nil
}

func (s *stages) inventory(ctx context.Context, req *Request, fc *Context) error {
	ok, err := s.d.Stock.OccupyStock(ctx, req.SkuID)
	if err != nil {
		return err
	}
	if !ok {
		return orders.Reject(StageInventory, orders.ErrInsufficientStock, "insufficient stock")
	}
	fc.RecoverySkuID = req.SkuID
	return nil
}
