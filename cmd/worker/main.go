package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-group-buy/internal/app"
	"github.com/ariefcatur/go-group-buy/internal/config"
	kafkax "github.com/ariefcatur/go-group-buy/internal/kafka"
	"github.com/ariefcatur/go-group-buy/internal/logging"
	"github.com/ariefcatur/go-group-buy/internal/orders"
	"github.com/ariefcatur/go-group-buy/internal/worker"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.ServiceName+"-worker", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}

	svc := &worker.Service{
		Settlement:  a.Settlement,
		Refunds:     a.Refunds,
		Redis:       a.Redis,
		ServiceName: cfg.ServiceName + "-worker",
		Log:         log,
	}

	consumers := []struct {
		topic string
		h     kafkax.Handler
	}{
		{orders.TopicPaymentSucceeded, svc.HandlePaymentSucceeded},
		{orders.TopicPaymentClosed, svc.HandlePaymentClosed},
		{orders.TopicTimeoutCheck, svc.HandleTimeoutCheck},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, c.topic, cfg.Workers, log)
		h := c.h
		topic := c.topic
		g.Go(func() error {
			log.Info("consumer started", "topic", topic, "group", cfg.WorkerGroup, "workers", cfg.Workers)
			return cons.Start(gctx, h)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("consumer exit", "err", err)
	}
	stop()
	if err := a.Close(); err != nil {
		log.Warn("close", "err", err)
	}
}
