package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/app"
	"github.com/ariefcatur/go-group-buy/internal/config"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName+"-sweeper", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		every(gctx, log, "expired_teams", cfg.SweepInterval, func(ctx context.Context) error {
			_, err := a.Sweeper.SweepExpiredTeams(ctx)
			return err
		})
		return nil
	})
	g.Go(func() error {
		every(gctx, log, "pending_releases", cfg.SweepInterval, func(ctx context.Context) error {
			_, err := a.Sweeper.RetryReleases(ctx)
			return err
		})
		return nil
	})
	_ = g.Wait()

	if err := a.Close(); err != nil {
		log.Warn("close", "err", err)
	}
}

// every runs fn immediately and then on each tick until ctx is done. Errors
// are logged; the next tick retries.
func every(ctx context.Context, log *slog.Logger, name string, interval time.Duration, fn func(ctx context.Context) error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.Warn("sweep failed", "sweep", name, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
