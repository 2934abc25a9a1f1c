package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventTradeOrderLocked = "TradeOrderLocked"
	EventTimeoutCheck     = "TradeOrderTimeoutCheck"
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentClosed    = "PaymentClosed"
	EventTeamSettled      = "TeamSettled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "groupbuy-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya team_order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type TimeoutCheckPayload struct {
	TradeOrderID string    `json:"trade_order_id"`
	TeamOrderID  string    `json:"team_order_id"`
	OutTradeNo   string    `json:"out_trade_no"`
	DueAt        time.Time `json:"due_at"`
}

type PaymentSucceededPayload struct {
	OutTradeNo string          `json:"out_trade_no"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAt     time.Time       `json:"paid_at"`
}

type PaymentClosedPayload struct {
	OutTradeNo string `json:"out_trade_no"`
	Reason     string `json:"reason"` // e.g., TRADE_CLOSED
}

// TeamSettledPayload is one notification task per settled trade order.
type TeamSettledPayload struct {
	TeamOrderID  string          `json:"team_order_id"`
	TradeOrderID string          `json:"trade_order_id"`
	OutTradeNo   string          `json:"out_trade_no"`
	UserID       string          `json:"user_id"`
	PayAmount    decimal.Decimal `json:"pay_amount"`
	NotifyType   NotifyType      `json:"notify_type"`
	NotifyURL    string          `json:"notify_url,omitempty"`
	NotifyTopic  string          `json:"notify_topic,omitempty"`
}
