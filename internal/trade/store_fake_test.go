package trade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/shopspring/decimal"
)

// fakeStore mirrors the guarded updates of orders.Repo in memory. WithTx
// serializes every operation behind one mutex and restores a snapshot on
// error, which is stricter than Postgres but keeps the guards honest.
type fakeStore struct {
	mu   sync.Mutex
	fail map[string]error

	activities map[string]orders.Activity
	skus       map[string]orders.Sku
	accounts   map[string]orders.Account
	teams      map[string]orders.TeamOrder
	trades     map[string]orders.TradeOrder
}

type txKey struct{}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fail:       map[string]error{},
		activities: map[string]orders.Activity{},
		skus:       map[string]orders.Sku{},
		accounts:   map[string]orders.Account{},
		teams:      map[string]orders.TeamOrder{},
		trades:     map[string]orders.TradeOrder{},
	}
}

type fakeSnapshot struct {
	accounts map[string]orders.Account
	skus     map[string]orders.Sku
	teams    map[string]orders.TeamOrder
	trades   map[string]orders.TradeOrder
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (f *fakeStore) snapshot() fakeSnapshot {
	return fakeSnapshot{
		accounts: copyMap(f.accounts),
		skus:     copyMap(f.skus),
		teams:    copyMap(f.teams),
		trades:   copyMap(f.trades),
	}
}

func (f *fakeStore) restore(s fakeSnapshot) {
	f.accounts, f.skus, f.teams, f.trades = s.accounts, s.skus, s.teams, s.trades
}

func (f *fakeStore) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	f.mu.Lock()
	return f.mu.Unlock
}

func (f *fakeStore) failing(op string) error { return f.fail[op] }

// failOn makes op return err until cleared with failOn(op, nil).
func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := f.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) GetActivity(ctx context.Context, id string) (orders.Activity, error) {
	defer f.lock(ctx)()
	a, ok := f.activities[id]
	if !ok {
		return orders.Activity{}, orders.ErrActivityNotFound
	}
	return a, nil
}

func (f *fakeStore) GetSku(ctx context.Context, id string) (orders.Sku, error) {
	defer f.lock(ctx)()
	s, ok := f.skus[id]
	if !ok {
		return orders.Sku{}, orders.ErrSkuNotFound
	}
	return s, nil
}

func (f *fakeStore) OccupyStock(ctx context.Context, skuID string) (bool, error) {
	defer f.lock(ctx)()
	if err := f.failing("OccupyStock"); err != nil {
		return false, err
	}
	s, ok := f.skus[skuID]
	if !ok || s.Frozen >= s.Stock {
		return false, nil
	}
	s.Frozen++
	f.skus[skuID] = s
	return true, nil
}

func (f *fakeStore) ReleaseStock(ctx context.Context, skuID string) (bool, error) {
	// like pgx, a done context fails the statement
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer f.lock(ctx)()
	if err := f.failing("ReleaseStock"); err != nil {
		return false, err
	}
	s, ok := f.skus[skuID]
	if !ok || s.Frozen < 1 {
		return false, nil
	}
	s.Frozen--
	f.skus[skuID] = s
	return true, nil
}

func accountKey(userID, activityID string) string { return userID + "/" + activityID }

func (f *fakeStore) GetOrCreateAccount(ctx context.Context, userID, activityID string) (orders.Account, error) {
	defer f.lock(ctx)()
	k := accountKey(userID, activityID)
	a, ok := f.accounts[k]
	if !ok {
		a = orders.Account{ID: k, UserID: userID, ActivityID: activityID}
		f.accounts[k] = a
	}
	return a, nil
}

func (f *fakeStore) IncrParticipation(ctx context.Context, acc orders.Account, limit int) (bool, error) {
	defer f.lock(ctx)()
	if err := f.failing("IncrParticipation"); err != nil {
		return false, err
	}
	a, ok := f.accounts[acc.ID]
	if !ok || a.Version != acc.Version || (limit > 0 && a.Count >= limit) {
		return false, nil
	}
	a.Count++
	a.Version++
	f.accounts[acc.ID] = a
	return true, nil
}

func (f *fakeStore) DecrParticipation(ctx context.Context, userID, activityID string) (bool, error) {
	defer f.lock(ctx)()
	if err := f.failing("DecrParticipation"); err != nil {
		return false, err
	}
	k := accountKey(userID, activityID)
	a, ok := f.accounts[k]
	if !ok || a.Count <= 0 {
		return false, nil
	}
	a.Count--
	a.Version++
	f.accounts[k] = a
	return true, nil
}

func (f *fakeStore) GetTeamOrder(ctx context.Context, id string) (orders.TeamOrder, error) {
	defer f.lock(ctx)()
	t, ok := f.teams[id]
	if !ok {
		return orders.TeamOrder{}, orders.ErrTeamNotFound
	}
	return t, nil
}

func (f *fakeStore) CreateTeamOrder(ctx context.Context, t orders.TeamOrder) error {
	defer f.lock(ctx)()
	f.teams[t.ID] = t
	return nil
}

// updateTeam applies fn when guard holds, like a single guarded UPDATE.
func (f *fakeStore) updateTeam(ctx context.Context, op, id string, guard func(orders.TeamOrder) bool, fn func(*orders.TeamOrder)) (bool, error) {
	defer f.lock(ctx)()
	if err := f.failing(op); err != nil {
		return false, err
	}
	t, ok := f.teams[id]
	if !ok || !guard(t) {
		return false, nil
	}
	fn(&t)
	f.teams[id] = t
	return true, nil
}

func (f *fakeStore) IncrLockCount(ctx context.Context, id string) (bool, error) {
	return f.updateTeam(ctx, "IncrLockCount", id,
		func(t orders.TeamOrder) bool { return t.LockCount < t.TargetCount && t.Status == orders.TeamPending },
		func(t *orders.TeamOrder) { t.LockCount++ })
}

func (f *fakeStore) DecrLockCount(ctx context.Context, id string) (bool, error) {
	return f.updateTeam(ctx, "DecrLockCount", id,
		func(t orders.TeamOrder) bool { return t.LockCount > t.CompleteCount && t.Status != orders.TeamSuccess },
		func(t *orders.TeamOrder) { t.LockCount-- })
}

func (f *fakeStore) IncrCompleteCount(ctx context.Context, id string, now time.Time) (bool, error) {
	return f.updateTeam(ctx, "IncrCompleteCount", id,
		func(t orders.TeamOrder) bool {
			return t.CompleteCount < t.TargetCount && t.CompleteCount < t.LockCount &&
				t.Status == orders.TeamPending && t.Deadline.After(now)
		},
		func(t *orders.TeamOrder) {
			t.CompleteCount++
			if t.CompleteCount == t.TargetCount {
				t.Status = orders.TeamSuccess
			}
		})
}

func (f *fakeStore) DecrCompleteCount(ctx context.Context, id string) (bool, error) {
	return f.updateTeam(ctx, "DecrCompleteCount", id,
		func(t orders.TeamOrder) bool { return t.CompleteCount > 0 && t.Status == orders.TeamPending },
		func(t *orders.TeamOrder) { t.CompleteCount-- })
}

func (f *fakeStore) TransitionTeamOrder(ctx context.Context, id string, from, to orders.TeamStatus) (bool, error) {
	return f.updateTeam(ctx, "TransitionTeamOrder", id,
		func(t orders.TeamOrder) bool { return t.Status == from },
		func(t *orders.TeamOrder) { t.Status = to })
}

func (f *fakeStore) ListExpiredTeams(ctx context.Context, now time.Time, limit int) ([]string, error) {
	defer f.lock(ctx)()
	var ids []string
	for id, t := range f.teams {
		if t.Status == orders.TeamPending && !t.Deadline.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeStore) FindTradeOrderByToken(ctx context.Context, token string) (*orders.TradeOrder, error) {
	defer f.lock(ctx)()
	for _, o := range f.trades {
		if o.OutTradeNo == token {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetTradeOrder(ctx context.Context, id string) (orders.TradeOrder, error) {
	defer f.lock(ctx)()
	o, ok := f.trades[id]
	if !ok {
		return orders.TradeOrder{}, orders.ErrTradeOrderNotFound
	}
	return o, nil
}

func (f *fakeStore) InsertTradeOrder(ctx context.Context, o orders.TradeOrder) error {
	defer f.lock(ctx)()
	if err := f.failing("InsertTradeOrder"); err != nil {
		return err
	}
	for _, cur := range f.trades {
		if cur.OutTradeNo == o.OutTradeNo {
			return orders.ErrDuplicateToken
		}
	}
	f.trades[o.ID] = o
	return nil
}

func (f *fakeStore) updateTrade(ctx context.Context, op, id string, guard func(orders.TradeOrder) bool, fn func(*orders.TradeOrder)) (bool, error) {
	defer f.lock(ctx)()
	if err := f.failing(op); err != nil {
		return false, err
	}
	o, ok := f.trades[id]
	if !ok || !guard(o) {
		return false, nil
	}
	fn(&o)
	f.trades[id] = o
	return true, nil
}

func (f *fakeStore) TransitionTradeOrder(ctx context.Context, id string, from, to orders.TradeStatus) (bool, error) {
	if !orders.CanTransition(from, to) {
		return false, orders.ErrInvalidTransition
	}
	return f.updateTrade(ctx, "TransitionTradeOrder", id,
		func(o orders.TradeOrder) bool { return o.Status == from },
		func(o *orders.TradeOrder) { o.Status = to })
}

func (f *fakeStore) MarkTradeOrderPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	return f.updateTrade(ctx, "MarkTradeOrderPaid", id,
		func(o orders.TradeOrder) bool { return o.Status == orders.TradeCreated },
		func(o *orders.TradeOrder) {
			o.Status = orders.TradePaid
			o.PaidAt = &paidAt
		})
}

func (f *fakeStore) MarkReleased(ctx context.Context, id string, kind orders.ReleaseKind) (bool, error) {
	return f.updateTrade(ctx, "MarkReleased", id,
		func(o orders.TradeOrder) bool { return !o.Released.Has(kind) },
		func(o *orders.TradeOrder) { o.Released.Set(kind) })
}

func (f *fakeStore) ListTradeOrdersByTeam(ctx context.Context, teamOrderID string) ([]orders.TradeOrder, error) {
	defer f.lock(ctx)()
	var out []orders.TradeOrder
	for _, o := range f.trades {
		if o.TeamOrderID == teamOrderID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListPendingReleases(ctx context.Context, afterID string, limit int) ([]orders.TradeOrder, error) {
	defer f.lock(ctx)()
	var out []orders.TradeOrder
	for _, o := range f.trades {
		if o.Status.Reversed() && !o.Released.All() && o.ID > afterID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// test accessors

func (f *fakeStore) team(id string) orders.TeamOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teams[id]
}

func (f *fakeStore) trade(id string) orders.TradeOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades[id]
}

func (f *fakeStore) sku(id string) orders.Sku {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skus[id]
}

func (f *fakeStore) account(userID, activityID string) orders.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[accountKey(userID, activityID)]
}

func (f *fakeStore) tradeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades)
}

func (f *fakeStore) teamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.teams)
}

func (f *fakeStore) put(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch x := v.(type) {
	case orders.Activity:
		f.activities[x.ID] = x
	case orders.Sku:
		f.skus[x.ID] = x
	case orders.Account:
		f.accounts[x.ID] = x
	case orders.TeamOrder:
		f.teams[x.ID] = x
	case orders.TradeOrder:
		f.trades[x.ID] = x
	}
}

type fakeGateway struct {
	mu       sync.Mutex
	decline  bool
	err      error
	requests []string
}

func (g *fakeGateway) Refund(_ context.Context, _ string, _ decimal.Decimal, _, requestID string) (RefundOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, requestID)
	if g.err != nil {
		return RefundOutcome{}, g.err
	}
	if g.decline {
		return RefundOutcome{Confirmed: false, Message: "declined"}, nil
	}
	return RefundOutcome{Confirmed: true, RefundID: "rf-" + requestID}, nil
}

type fakeNotify struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotify) Enqueue(_ context.Context, o orders.TradeOrder, _ orders.NotifyConfig) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, o.ID)
	return nil
}

func (n *fakeNotify) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeTimeouts struct {
	mu    sync.Mutex
	ids   []string
	delay time.Duration
}

func (s *fakeTimeouts) ScheduleTimeoutCheck(_ context.Context, o orders.TradeOrder, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, o.ID)
	s.delay = delay
	return nil
}
