package trade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/filter"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/ariefcatur/go-group-buy/internal/pricing"
	"github.com/ariefcatur/go-group-buy/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store    *fakeStore
	mr       *miniredis.Miniredis
	counters *redisx.Counters
	clock    *clock.Manual
	gateway  *fakeGateway
	notify   *fakeNotify
	timeouts *fakeTimeouts
	chain    *filter.Chain
	opts     []Option

	release *Release
	svc     *Service
	settle  *Settlement
	refunds *Refunds
	sweeper *Sweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), PoolSize: 64})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		store:    newFakeStore(),
		mr:       mr,
		counters: redisx.NewCounters(rdb),
		clock:    clock.NewManual(t0),
		gateway:  &fakeGateway{},
		notify:   &fakeNotify{},
		timeouts: &fakeTimeouts{},
	}
	h.store.put(orders.Activity{
		ID: "act-1", Name: "Paket hemat", Status: orders.ActivityActive,
		StartAt: t0.Add(-time.Hour), EndAt: t0.Add(24 * time.Hour),
		ValidFor: 30 * time.Minute, TargetCount: 3, ParticipationLimit: 1,
		PlanID: "direct", PlanConfig: "20",
		Notify: orders.NotifyConfig{Type: orders.NotifyHTTP, URL: "http://shop.local/settled"},
	})
	h.store.put(orders.Sku{ID: "sku-1", SpuID: "spu-1", Name: "Kopi 1kg",
		OriginalPrice: decimal.NewFromInt(100), Stock: 10})

	opts := []Option{
		WithClock(h.clock),
		WithMetrics(NewMetrics(prometheus.NewRegistry())),
		WithTimeoutScheduler(h.timeouts, 15*time.Minute),
		WithNotifySink(h.notify),
		WithChannelBlacklist([]string{"blocked-pay"}),
	}
	chain := filter.New(filter.Deps{
		Flow:       filter.StaticFlow{CutRange: 100},
		Activities: h.store,
		Accounts:   h.store,
		Teams:      h.store,
		Slots:      h.counters,
		Stock:      h.store,
		Clock:      h.clock,
		SlotMargin: redisx.TTLSlotMargin,
	})
	h.chain, h.opts = chain, opts
	h.release = NewRelease(h.store, h.counters, redisx.NewLocker(rdb), opts...)
	h.svc = NewService(h.store, chain, pricing.NewRegistry(), h.release, opts...)
	h.settle = NewSettlement(h.store, opts...)
	h.refunds = NewRefunds(h.store, h.gateway, h.release, opts...)
	h.sweeper = NewSweeper(h.store, h.refunds, h.release, 10, opts...)
	return h
}

// quoted is what the direct plan charges for sku-1.
func quoted() orders.Price {
	return orders.Price{
		Original:  decimal.NewFromInt(100),
		Deduction: decimal.NewFromInt(20),
		Pay:       decimal.NewFromInt(80),
	}
}

func (h *harness) lock(userID, teamID, token string) (orders.TradeOrderResult, error) {
	return h.svc.LockOrder(context.Background(), LockCommand{
		UserID:      userID,
		ActivityID:  "act-1",
		SkuID:       "sku-1",
		TeamOrderID: teamID,
		OutTradeNo:  token,
		Channel:     "wallet",
		Price:       quoted(),
	})
}

func (h *harness) seedTeam(id string, target, locked, completed int) orders.TeamOrder {
	team := orders.TeamOrder{
		ID: id, ActivityID: "act-1", LeaderUserID: "leader", SkuID: "sku-1", SpuID: "spu-1",
		TargetCount: target, LockCount: locked, CompleteCount: completed,
		Status: orders.TeamPending, Deadline: t0.Add(30 * time.Minute), Price: quoted(),
		Notify:    orders.NotifyConfig{Type: orders.NotifyHTTP, URL: "http://shop.local/settled"},
		CreatedAt: t0,
	}
	h.store.put(team)
	return team
}

// seedTrade stores an order together with the reservations it holds: one
// frozen unit and one participation.
func (h *harness) seedTrade(id, teamID, userID string, status orders.TradeStatus) orders.TradeOrder {
	o := orders.TradeOrder{
		ID: id, TeamOrderID: teamID, ActivityID: "act-1", UserID: userID, SkuID: "sku-1",
		OutTradeNo: "tok-" + id, Channel: "wallet", Price: quoted(), Status: status, CreatedAt: t0,
	}
	h.store.put(o)

	sku := h.store.sku("sku-1")
	sku.Frozen++
	h.store.put(sku)
	acc := h.store.account(userID, "act-1")
	if acc.ID == "" {
		acc = orders.Account{ID: accountKey(userID, "act-1"), UserID: userID, ActivityID: "act-1"}
	}
	acc.Count++
	h.store.put(acc)
	return o
}

func (h *harness) slot(t *testing.T, teamID string) int64 {
	t.Helper()
	n, ok, err := h.counters.Available(context.Background(), teamID)
	require.NoError(t, err)
	require.True(t, ok, "slot counter for %s not initialised", teamID)
	return n
}

func user(i int) string { return fmt.Sprintf("user-%03d", i) }
