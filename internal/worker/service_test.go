package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-group-buy/internal/clock"
	kafkax "github.com/ariefcatur/go-group-buy/internal/kafka"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/ariefcatur/go-group-buy/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeTrade struct {
	mu       sync.Mutex
	paid     []string
	closed   []string
	timeouts []string
	err      error
}

func (f *fakeTrade) OnPaymentSucceeded(_ context.Context, token string, _ decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, token)
	return f.err
}

func (f *fakeTrade) OnPaymentClosed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, token)
	return f.err
}

func (f *fakeTrade) OnTimeoutCheck(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, id)
	return f.err
}

func newService(t *testing.T) (*Service, *fakeTrade, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ft := &fakeTrade{}
	return &Service{
		Settlement:  ft,
		Refunds:     ft,
		Redis:       rdb,
		ServiceName: "groupbuy-worker",
		Clock:       clock.NewManual(now),
	}, ft, mr
}

func message(t *testing.T, eventType string, payload any) kafkago.Message {
	t.Helper()
	b, headers, err := kafkax.Encode(eventType, "test", "team-1", now, payload)
	require.NoError(t, err)
	return kafkago.Message{Key: []byte("team-1"), Value: b, Headers: headers}
}

func TestPaymentSucceededDedup(t *testing.T) {
	s, ft, _ := newService(t)
	m := message(t, orders.EventPaymentSucceeded, orders.PaymentSucceededPayload{
		OutTradeNo: "tok-1", Amount: decimal.NewFromInt(80), PaidAt: now,
	})

	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), m))
	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), m))
	assert.Equal(t, []string{"tok-1"}, ft.paid)
}

func TestTransientErrorAllowsRedelivery(t *testing.T) {
	s, ft, _ := newService(t)
	ft.err = errors.New("db down")
	m := message(t, orders.EventPaymentClosed, orders.PaymentClosedPayload{OutTradeNo: "tok-1", Reason: "TRADE_CLOSED"})

	require.Error(t, s.HandlePaymentClosed(context.Background(), m))
	ft.err = nil
	require.NoError(t, s.HandlePaymentClosed(context.Background(), m))
	assert.Equal(t, []string{"tok-1", "tok-1"}, ft.closed)
}

func TestPermanentErrorIsCommitted(t *testing.T) {
	s, ft, _ := newService(t)
	ft.err = orders.ErrPaymentAmountMismatch
	m := message(t, orders.EventPaymentSucceeded, orders.PaymentSucceededPayload{OutTradeNo: "tok-1", Amount: decimal.NewFromInt(1)})

	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), m))
	// marker kept: a redelivery is skipped
	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), m))
	assert.Len(t, ft.paid, 1)
}

func TestIgnoresOtherEventsAndGarbage(t *testing.T) {
	s, ft, _ := newService(t)
	m := message(t, orders.EventTeamSettled, orders.TeamSettledPayload{TeamOrderID: "team-1"})
	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), m))
	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), kafkago.Message{Value: []byte("{not json")}))
	assert.Empty(t, ft.paid)
}

func TestTimeoutCheckDue(t *testing.T) {
	s, ft, _ := newService(t)
	m := message(t, orders.EventTimeoutCheck, orders.TimeoutCheckPayload{
		TradeOrderID: "to-1", TeamOrderID: "team-1", DueAt: now.Add(-time.Second),
	})
	require.NoError(t, s.HandleTimeoutCheck(context.Background(), m))
	assert.Equal(t, []string{"to-1"}, ft.timeouts)
}

func TestTimeoutCheckWaitsAndStopsOnCancel(t *testing.T) {
	s, ft, _ := newService(t)
	m := message(t, orders.EventTimeoutCheck, orders.TimeoutCheckPayload{
		TradeOrderID: "to-1", TeamOrderID: "team-1", DueAt: now.Add(time.Hour),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.HandleTimeoutCheck(ctx, m)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, ft.timeouts)

	// no marker was written, so the redelivered message is processed once due
	s.Clock = clock.NewManual(now.Add(2 * time.Hour))
	require.NoError(t, s.HandleTimeoutCheck(context.Background(), m))
	assert.Equal(t, []string{"to-1"}, ft.timeouts)
}

// crashingSettler stands in for a process that dies mid-handler: it records
// whether the dedup marker already existed while it ran, then cancels.
type crashingSettler struct {
	mr      *miniredis.Miniredis
	key     string
	calls   int
	crash   context.CancelFunc
	markers []bool
}

func (c *crashingSettler) OnPaymentSucceeded(ctx context.Context, _ string, _ decimal.Decimal) error {
	c.calls++
	c.markers = append(c.markers, c.mr.Exists(c.key))
	if c.crash != nil {
		c.crash()
		c.crash = nil
		return ctx.Err()
	}
	return nil
}

func TestDedupMarkerWrittenOnlyAfterSuccess(t *testing.T) {
	s, _, mr := newService(t)
	m := message(t, orders.EventPaymentSucceeded, orders.PaymentSucceededPayload{OutTradeNo: "tok-1", Amount: decimal.NewFromInt(80)})
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	require.NoError(t, err)
	key := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)

	ctx, cancel := context.WithCancel(context.Background())
	cs := &crashingSettler{mr: mr, key: key, crash: cancel}
	s.Settlement = cs

	require.ErrorIs(t, s.HandlePaymentSucceeded(ctx, m), context.Canceled)
	assert.False(t, mr.Exists(key), "interrupted run leaves no marker")

	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), m))
	assert.True(t, mr.Exists(key))
	require.NoError(t, s.HandlePaymentSucceeded(context.Background(), m))

	assert.Equal(t, 2, cs.calls, "redelivery after the crash runs, the later duplicate does not")
	assert.Equal(t, []bool{false, false}, cs.markers)
}
