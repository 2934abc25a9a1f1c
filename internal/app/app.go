// Package app wires config into the trade services shared by every binary.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/config"
	"github.com/ariefcatur/go-group-buy/internal/filter"
	kafkax "github.com/ariefcatur/go-group-buy/internal/kafka"
	"github.com/ariefcatur/go-group-buy/internal/notify"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/ariefcatur/go-group-buy/internal/payment"
	"github.com/ariefcatur/go-group-buy/internal/postgres"
	"github.com/ariefcatur/go-group-buy/internal/pricing"
	"github.com/ariefcatur/go-group-buy/internal/redisx"
	"github.com/ariefcatur/go-group-buy/internal/trade"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config   config.Config
	Log      *slog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry

	Trade      *trade.Service
	Settlement *trade.Settlement
	Refunds    *trade.Refunds
	Release    *trade.Release
	Sweeper    *trade.Sweeper

	producers []*kafkax.Producer
}

// New connects to Postgres (running migrations), Redis and Kafka and builds
// the trade services. Producers run until ctx is cancelled.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redisx.New(cfg.RedisAddr)
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	timeoutsProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicTimeoutCheck, 1024, log)
	settledProd := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicTeamSettled, 1024, log)
	timeoutsProd.Start(ctx)
	settledProd.Start(ctx)

	sys := clock.NewSystem()
	opts := []trade.Option{
		trade.WithClock(sys),
		trade.WithLogger(log),
		trade.WithMetrics(trade.NewMetrics(reg)),
		trade.WithTimeoutScheduler(notify.NewTimeoutScheduler(timeoutsProd, cfg.ServiceName, sys), cfg.TimeoutCheck),
		trade.WithNotifySink(notify.NewSink(settledProd, cfg.ServiceName, sys)),
		trade.WithChannelBlacklist(cfg.ChannelBlacklist),
	}

	repo := &orders.Repo{DB: db}
	counters := redisx.NewCounters(rdb)
	chain := filter.New(filter.Deps{
		Flow:       filter.StaticFlow{Downgrade: cfg.Downgrade, CutRange: cfg.CutRange},
		Activities: repo,
		Audience:   redisx.NewAudience(rdb),
		Accounts:   repo,
		Teams:      repo,
		Slots:      counters,
		Stock:      repo,
		Clock:      sys,
		SlotMargin: redisx.TTLSlotMargin,
		Logger:     log,
	})
	release := trade.NewRelease(repo, counters, redisx.NewLocker(rdb), opts...)
	refunds := trade.NewRefunds(repo, payment.NewGateway(cfg.PaymentGatewayURL, cfg.PaymentTimeout), release, opts...)

	return &App{
		Config:     cfg,
		Log:        log,
		DB:         db,
		Redis:      rdb,
		Registry:   reg,
		Trade:      trade.NewService(repo, chain, pricing.NewRegistry(), release, opts...),
		Settlement: trade.NewSettlement(repo, opts...),
		Refunds:    refunds,
		Release:    release,
		Sweeper:    trade.NewSweeper(repo, refunds, release, cfg.SweepBatch, opts...),
		producers:  []*kafkax.Producer{timeoutsProd, settledProd},
	}, nil
}

// Close flushes the producers, then closes Redis and the pool.
func (a *App) Close() error {
	for _, p := range a.producers {
		p.Close()
	}
	for _, p := range a.producers {
		p.WaitClosed()
	}
	err := a.Redis.Close()
	a.DB.Close()
	if err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
