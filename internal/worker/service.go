// Package worker holds the Kafka handlers of the payment and timeout topics.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	kafkax "github.com/ariefcatur/go-group-buy/internal/kafka"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/ariefcatur/go-group-buy/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type Settler interface {
	OnPaymentSucceeded(ctx context.Context, outTradeNo string, amount decimal.Decimal) error
}

type Reverser interface {
	OnPaymentClosed(ctx context.Context, outTradeNo string) error
	OnTimeoutCheck(ctx context.Context, tradeOrderID string) error
}

type Service struct {
	Settlement  Settler
	Refunds     Reverser
	Redis       *redis.Client
	ServiceName string
	Clock       clock.Clock
	Log         *slog.Logger
}

var errBadPayload = errors.New("bad payload")

// permanent errors are logged and committed; redelivery cannot fix them.
func permanent(err error) bool {
	for _, target := range []error{
		errBadPayload,
		orders.ErrTradeOrderNotFound,
		orders.ErrPaymentAmountMismatch,
		orders.ErrChannelBlocked,
		orders.ErrTeamClosed,
		orders.ErrInvalidTransition,
		orders.ErrRefundNotAllowed,
		orders.ErrRefundWindowClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) log() *slog.Logger { return logging.Or(s.Log) }

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

// handle decodes the envelope, skips event ids already processed and runs fn.
// The dedup marker is written only once fn succeeds or fails permanently, so
// an event whose run was cut short is processed again on redelivery.
func (s *Service) handle(ctx context.Context, m kafkago.Message, want string, fn func(ctx context.Context, env orders.Envelope) error) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.log().Warn("drop undecodable message", "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != want {
		// other event types share the topic; ignore
		return nil
	}
	log := s.log().With("event_id", env.EventID, "event_type", env.EventType)

	seen, err := redisx.Seen(ctx, s.Redis, s.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if seen {
		log.Info("duplicate event skipped")
		return nil
	}

	err = fn(ctx, env)
	switch {
	case err == nil:
	case permanent(err):
		log.Warn("event rejected", "err", err)
	default:
		return err
	}
	if _, merr := redisx.MarkOnce(context.WithoutCancel(ctx), s.Redis, s.ServiceName, env.EventID); merr != nil {
		log.Error("write dedup marker", "err", merr)
	}
	return nil
}

func (s *Service) HandlePaymentSucceeded(ctx context.Context, m kafkago.Message) error {
	return s.handle(ctx, m, orders.EventPaymentSucceeded, func(ctx context.Context, env orders.Envelope) error {
		p, err := kafkax.UnwrapPayload[orders.PaymentSucceededPayload](env.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return s.Settlement.OnPaymentSucceeded(ctx, p.OutTradeNo, p.Amount)
	})
}

func (s *Service) HandlePaymentClosed(ctx context.Context, m kafkago.Message) error {
	return s.handle(ctx, m, orders.EventPaymentClosed, func(ctx context.Context, env orders.Envelope) error {
		p, err := kafkax.UnwrapPayload[orders.PaymentClosedPayload](env.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		return s.Refunds.OnPaymentClosed(ctx, p.OutTradeNo)
	})
}

// HandleTimeoutCheck holds the message until its due time, then reverses
// the order if it is still unpaid.
func (s *Service) HandleTimeoutCheck(ctx context.Context, m kafkago.Message) error {
	return s.handle(ctx, m, orders.EventTimeoutCheck, func(ctx context.Context, env orders.Envelope) error {
		p, err := kafkax.UnwrapPayload[orders.TimeoutCheckPayload](env.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		if wait := p.DueAt.Sub(s.now()); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return s.Refunds.OnTimeoutCheck(ctx, p.TradeOrderID)
	})
}
