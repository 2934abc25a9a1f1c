package trade

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/orders"
)

// Committer owns the only write that moves a team's lock count up.
type Committer struct {
	store Store
	clock clock.Clock
}

func NewCommitter(store Store, opts ...Option) *Committer {
	o := buildOptions(opts)
	return &Committer{store: store, clock: o.clock}
}

// Commit persists o and then takes one lock slot on team. created is false
// when o.OutTradeNo already belongs to a persisted order, which is returned
// instead. The order row is written before the counter so a crash between
// the two leaves a harmless pre-lock row, never an uncounted lock.
func (c *Committer) Commit(ctx context.Context, team orders.TeamOrder, sku orders.Sku, o orders.TradeOrder) (out orders.TradeOrder, created bool, err error) {
	err = c.store.WithTx(ctx, func(ctx context.Context) error {
		existing, err := c.store.FindTradeOrderByToken(ctx, o.OutTradeNo)
		if err != nil {
			return err
		}
		if existing != nil {
			out = *existing
			return nil
		}

		if !team.Lockable(c.clock.Now()) {
			return fmt.Errorf("%w: team %s", orders.ErrTeamNotLockable, team.ID)
		}
		if sku.SpuID != team.SpuID {
			return fmt.Errorf("%w: sku %s spu %s, team spu %s", orders.ErrSkuFamilyMismatch, sku.ID, sku.SpuID, team.SpuID)
		}

		if err := c.store.InsertTradeOrder(ctx, o); err != nil {
			return err
		}
		ok, err := c.store.IncrLockCount(ctx, team.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: team %s", orders.ErrTeamFull, team.ID)
		}
		out, created = o, true
		return nil
	})
	if err != nil {
		return orders.TradeOrder{}, false, err
	}
	return out, created, nil
}
