// Package filter runs the ordered admission checks of a lock request.
// Only the slot and inventory stages reserve anything, and each records its
// recovery key in Context the moment the reservation succeeds.
package filter

import (
	"context"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
)

type Request struct {
	UserID      string
	ActivityID  string
	SkuID       string
	TeamOrderID string // kosong = buka team baru
}

// Context is shared by all stages of one attempt.
type Context struct {
	AttemptID string

	Activity *orders.Activity
	Account  *orders.Account
	Team     *orders.TeamOrder

	RecoverySlotTeamID string
	RecoverySkuID      string
}

// StageFunc returns nil to allow, an *orders.Rejection to reject, or any
// other error for infrastructure failures.
type StageFunc func(ctx context.Context, req *Request, fc *Context) error

type Stage struct {
	Name string
	Run  StageFunc
}

type Activities interface {
	GetActivity(ctx context.Context, id string) (orders.Activity, error)
}

type Accounts interface {
	GetOrCreateAccount(ctx context.Context, userID, activityID string) (orders.Account, error)
}

type Teams interface {
	GetTeamOrder(ctx context.Context, id string) (orders.TeamOrder, error)
}

type Stock interface {
	OccupyStock(ctx context.Context, skuID string) (bool, error)
}

type SlotCounter interface {
	DecrSlot(ctx context.Context, teamOrderID string, initial int, ttl time.Duration) (int64, error)
	IncrSlot(ctx context.Context, teamOrderID string, ttl time.Duration) (bool, error)
	MarkLocked(ctx context.Context, teamOrderID string, ttl time.Duration) error
}

type AudienceVerdict interface {
	IsParticipable(ctx context.Context, userID string, act orders.Activity) (bool, string, error)
}

type FlowPolicy interface {
	Allow(userID string) (bool, string)
}

type Deps struct {
	Flow       FlowPolicy
	Activities Activities
	Audience   AudienceVerdict
	Accounts   Accounts
	Teams      Teams
	Slots      SlotCounter
	Stock      Stock
	Clock      clock.Clock
	SlotMargin time.Duration
	Logger     *slog.Logger
}

type Chain struct {
	stages []Stage
	log    *slog.Logger
}

func New(d Deps) *Chain {
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	s := &stages{d: d, log: logging.Or(d.Logger)}
	return &Chain{
		stages: []Stage{
			{Name: StageFlowControl, Run: s.flowControl},
			{Name: StageActivity, Run: s.activity},
			{Name: StageCrowdTag, Run: s.crowdTag},
			{Name: StageParticipation, Run: s.participation},
			{Name: StageTeamSlot, Run: s.teamSlot},
			{Name: StageInventory, Run: s.inventory},
		},
		log: s.log,
	}
}

func (c *Chain) Stages() []string {
	out := make([]string, len(c.stages))
	for i, s := range c.stages {
		out[i] = s.Name
	}
	return out
}

// Run stops at the first stage that does not allow the request.
func (c *Chain) Run(ctx context.Context, req *Request, fc *Context) error {
	for _, st := range c.stages {
		if err := st.Run(ctx, req, fc); err != nil {
			c.log.Info("admission stopped",
				"stage", st.Name, "user_id", req.UserID, "activity_id", req.ActivityID, "err", err)
			return err
		}
	}
	return nil
}
