// Package notify turns trade events into Kafka messages: the deferred
// timeout check after a lock and the per-order settlement notification.
package notify

import (
	"context"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	kafkax "github.com/ariefcatur/go-group-buy/internal/kafka"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// TimeoutScheduler publishes a check that the worker holds until DueAt.
type TimeoutScheduler struct {
	pub     Publisher
	service string
	clock   clock.Clock
}

func NewTimeoutScheduler(pub Publisher, service string, c clock.Clock) *TimeoutScheduler {
	if c == nil {
		c = clock.NewSystem()
	}
	return &TimeoutScheduler{pub: pub, service: service, clock: c}
}

func (s *TimeoutScheduler) ScheduleTimeoutCheck(ctx context.Context, o orders.TradeOrder, delay time.Duration) error {
	now := s.clock.Now()
	b, headers, err := kafkax.Encode(orders.EventTimeoutCheck, s.service, o.TeamOrderID, now, orders.TimeoutCheckPayload{
		TradeOrderID: o.ID,
		TeamOrderID:  o.TeamOrderID,
		OutTradeNo:   o.OutTradeNo,
		DueAt:        now.Add(delay),
	})
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, orders.PartitionKey(o.TeamOrderID), b, headers...)
}

// Sink enqueues one settlement notification task per trade order.
type Sink struct {
	pub     Publisher
	service string
	clock   clock.Clock
}

func NewSink(pub Publisher, service string, c clock.Clock) *Sink {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Sink{pub: pub, service: service, clock: c}
}

func (s *Sink) Enqueue(ctx context.Context, o orders.TradeOrder, cfg orders.NotifyConfig) error {
	if !cfg.NeedNotify() {
		return nil
	}
	b, headers, err := kafkax.Encode(orders.EventTeamSettled, s.service, o.TeamOrderID, s.clock.Now(), orders.TeamSettledPayload{
		TeamOrderID:  o.TeamOrderID,
		TradeOrderID: o.ID,
		OutTradeNo:   o.OutTradeNo,
		UserID:       o.UserID,
		PayAmount:    o.Price.Pay,
		NotifyType:   cfg.Type,
		NotifyURL:    cfg.URL,
		NotifyTopic:  cfg.Topic,
	})
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, orders.PartitionKey(o.TeamOrderID), b, headers...)
}
