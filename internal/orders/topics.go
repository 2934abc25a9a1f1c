package orders

const (
	TopicTimeoutCheck     = "groupbuy.trade.timeout-check"
	TopicPaymentSucceeded = "groupbuy.payment.succeeded"
	TopicPaymentClosed    = "groupbuy.payment.closed"
	TopicTeamSettled      = "groupbuy.team.settled"
)

// Partition key = team_order_id, supaya semua event 1 team maintain urutan.
func PartitionKey(teamOrderID string) []byte { return []byte(teamOrderID) }
