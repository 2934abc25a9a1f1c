package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/logging"
)

// Sweeper runs the periodic repair passes: teams that missed their deadline
// and reversed orders whose releases did not all complete.
type Sweeper struct {
	store   Store
	refunds *Refunds
	release *Release
	batch   int
	clock   clock.Clock
	log     *slog.Logger
}

func NewSweeper(store Store, refunds *Refunds, release *Release, batch int, opts ...Option) *Sweeper {
	o := buildOptions(opts)
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		store:   store,
		refunds: refunds,
		release: release,
		batch:   batch,
		clock:   o.clock,
		log:     logging.Or(o.log),
	}
}

// SweepExpiredTeams fails every Pending team past its deadline and refunds
// its members. It returns how many teams were processed.
func (s *Sweeper) SweepExpiredTeams(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpiredTeams(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, fmt.Errorf("list expired teams: %w", err)
	}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.refunds.RefundTeam(ctx, id, ReasonTeamFailed); err != nil {
			errs = append(errs, fmt.Errorf("team %s: %w", id, err))
		}
	}
	if len(ids) > 0 {
		s.log.Info("expired teams swept", "teams", len(ids), "failed", len(errs))
	}
	return len(ids), errors.Join(errs...)
}

// RetryReleases finishes releases that failed earlier. It pages through every
// pending order, so rows that keep failing do not hide the ones behind them.
// Kinds already flagged are skipped, so each order converges to fully released.
func (s *Sweeper) RetryReleases(ctx context.Context) (int, error) {
	seen, failed := 0, 0
	after := ""
	for {
		page, err := s.store.ListPendingReleases(ctx, after, s.batch)
		if err != nil {
			return seen, fmt.Errorf("list pending releases: %w", err)
		}
		for _, o := range page {
			if err := ctx.Err(); err != nil {
				return seen, err
			}
			if s.release.ReleaseAll(ctx, o).Failed() {
				failed++
			}
			seen++
		}
		if len(page) < s.batch {
			break
		}
		after = page[len(page)-1].ID
	}
	if seen > 0 {
		s.log.Info("pending releases retried", "orders", seen, "still_failing", failed)
	}
	return seen, nil
}
