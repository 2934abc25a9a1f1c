package orders

type TeamStatus string

const (
	TeamPending TeamStatus = "PENDING"
	TeamSuccess TeamStatus = "SUCCESS"
	TeamFailed  TeamStatus = "FAILED"
	TeamClosed  TeamStatus = "CLOSED"
)

// Terminal team tidak menerima lock maupun complete baru.
func (s TeamStatus) Terminal() bool { return s != TeamPending }

type TradeStatus string

const (
	TradeCreated  TradeStatus = "CREATED"
	TradePaid     TradeStatus = "PAID"
	TradeSettled  TradeStatus = "SETTLED"
	TradeRefunded TradeStatus = "REFUNDED"
	TradeTimedOut TradeStatus = "TIMEOUT"
	TradeClosed   TradeStatus = "CLOSED"
)

var validNext = map[TradeStatus]map[TradeStatus]bool{
	TradeCreated:  {TradePaid: true, TradeTimedOut: true, TradeClosed: true},
	TradePaid:     {TradeSettled: true, TradeRefunded: true},
	TradeSettled:  {},
	TradeRefunded: {},
	TradeTimedOut: {},
	TradeClosed:   {},
}

func CanTransition(from, to TradeStatus) bool {
	return validNext[from][to]
}

// CanRefund: hanya order yang belum final (CREATED / PAID).
func (s TradeStatus) CanRefund() bool {
	return s == TradeCreated || s == TradePaid
}

// Reversed berarti order sudah dibatalkan dan resource-nya harus dilepas.
func (s TradeStatus) Reversed() bool {
	return s == TradeRefunded || s == TradeTimedOut || s == TradeClosed
}

type ActivityStatus string

const (
	ActivityDraft  ActivityStatus = "DRAFT"
	ActivityActive ActivityStatus = "ACTIVE"
	ActivityClosed ActivityStatus = "CLOSED"
)
