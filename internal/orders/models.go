package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price adalah snapshot harga: original - deduction = pay.
type Price struct {
	Original  decimal.Decimal `json:"original"`
	Deduction decimal.Decimal `json:"deduction"`
	Pay       decimal.Decimal `json:"pay"`
}

// Equal compares every field; 10.0 and 10.00 are the same amount.
func (p Price) Equal(o Price) bool {
	return p.Original.Equal(o.Original) &&
		p.Deduction.Equal(o.Deduction) &&
		p.Pay.Equal(o.Pay)
}

type NotifyType string

const (
	NotifyHTTP NotifyType = "HTTP"
	NotifyMQ   NotifyType = "MQ"
)

type NotifyConfig struct {
	Type  NotifyType `json:"type,omitempty"`
	URL   string     `json:"url,omitempty"`
	Topic string     `json:"topic,omitempty"`
}

// NeedNotify is false when the activity has no downstream hook configured.
func (n NotifyConfig) NeedNotify() bool { return n.Type != "" }

func (n NotifyConfig) Valid() bool {
	switch n.Type {
	case "":
		return true
	case NotifyHTTP:
		return n.URL != ""
	case NotifyMQ:
		return n.Topic != ""
	default:
		return false
	}
}

type Activity struct {
	ID                 string
	Name               string
	Status             ActivityStatus
	StartAt            time.Time
	EndAt              time.Time
	ValidFor           time.Duration // umur satu team sejak dibuka
	TargetCount        int
	ParticipationLimit int // 0 = unlimited
	PlanID             string
	PlanConfig         string
	TagID              string // kosong = tanpa batasan audience
	Notify             NotifyConfig
}

// OpenAt reports whether the activity accepts locks at now.
func (a Activity) OpenAt(now time.Time) bool {
	return a.Status == ActivityActive && !now.Before(a.StartAt) && now.Before(a.EndAt)
}

type Sku struct {
	ID            string
	SpuID         string
	Name          string
	OriginalPrice decimal.Decimal
	Stock         int
	Frozen        int
}

type TeamOrder struct {
	ID            string
	ActivityID    string
	LeaderUserID  string
	SkuID         string
	SpuID         string
	TargetCount   int
	LockCount     int
	CompleteCount int
	Status        TeamStatus
	Deadline      time.Time
	Price         Price
	Notify        NotifyConfig
	CreatedAt     time.Time
}

// Lockable: team masih PENDING, belum penuh, dan belum lewat deadline.
func (t TeamOrder) Lockable(now time.Time) bool {
	return t.Status == TeamPending && t.LockCount < t.TargetCount && now.Before(t.Deadline)
}

type ReleaseKind string

const (
	ReleaseLockCount     ReleaseKind = "lock_count"
	ReleaseSlot          ReleaseKind = "slot"
	ReleaseInventory     ReleaseKind = "inventory"
	ReleaseParticipation ReleaseKind = "participation"
)

// ReleaseFlags are set once per kind and never cleared.
type ReleaseFlags struct {
	LockCount     bool
	Slot          bool
	Inventory     bool
	Participation bool
}

func (f ReleaseFlags) Has(k ReleaseKind) bool {
	switch k {
	case ReleaseLockCount:
		return f.LockCount
	case ReleaseSlot:
		return f.Slot
	case ReleaseInventory:
		return f.Inventory
	case ReleaseParticipation:
		return f.Participation
	}
	return false
}

func (f *ReleaseFlags) Set(k ReleaseKind) {
	switch k {
	case ReleaseLockCount:
		f.LockCount = true
	case ReleaseSlot:
		f.Slot = true
	case ReleaseInventory:
		f.Inventory = true
	case ReleaseParticipation:
		f.Participation = true
	}
}

func (f ReleaseFlags) All() bool {
	return f.LockCount && f.Slot && f.Inventory && f.Participation
}

type TradeOrder struct {
	ID          string
	TeamOrderID string
	ActivityID  string
	UserID      string
	SkuID       string
	OutTradeNo  string // idempotency token dari caller
	Channel     string
	Price       Price
	Status      TradeStatus
	Released    ReleaseFlags
	CreatedAt   time.Time
	PaidAt      *time.Time
}

type Account struct {
	ID         string
	UserID     string
	ActivityID string
	Count      int
	Version    int64
}

// TradeOrderResult is what lock and query hand back to callers.
type TradeOrderResult struct {
	TradeOrderID string          `json:"trade_order_id"`
	TeamOrderID  string          `json:"team_order_id"`
	OutTradeNo   string          `json:"out_trade_no"`
	UserID       string          `json:"user_id"`
	Status       TradeStatus     `json:"status"`
	Original     decimal.Decimal `json:"original_price"`
	Deduction    decimal.Decimal `json:"deduction_price"`
	Pay          decimal.Decimal `json:"pay_price"`
	CreatedAt    time.Time       `json:"created_at"`
}

func ResultOf(o TradeOrder) TradeOrderResult {
	return TradeOrderResult{
		TradeOrderID: o.ID,
		TeamOrderID:  o.TeamOrderID,
		OutTradeNo:   o.OutTradeNo,
		UserID:       o.UserID,
		Status:       o.Status,
		Original:     o.Price.Original,
		Deduction:    o.Price.Deduction,
		Pay:          o.Price.Pay,
		CreatedAt:    o.CreatedAt,
	}
}
