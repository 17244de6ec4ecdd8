package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"genforge/internal/bootstrap"
	"genforge/internal/infra"
	"genforge/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.QueueBackend != infra.QueueBackendAMQP {
		logger.Fatal().Str("queue_backend", cfg.QueueBackend).Msg("worker: QUEUE_BACKEND=amqp is required, the local queue runs inside cmd/api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer rt.Close()

	conn, err := infra.NewAMQPConnection(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: amqp connection failed")
	}
	defer conn.Close()

	topology := bootstrap.AMQPConfig(cfg)
	qlog := infra.Component(logger, "queue")
	consumer, err := queue.NewConsumer(conn, topology, qlog)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: consumer setup failed")
	}
	defer consumer.Close()
	// the sweeper re-publishes stalled jobs on its own channel
	publisher, err := queue.NewPublisher(conn, topology, qlog)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: publisher setup failed")
	}
	defer publisher.Close()

	id := bootstrap.WorkerID("worker")
	exec := rt.Executor(id)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx, exec.Run) })
	g.Go(func() error { return rt.Sweeper(publisher).Run(gctx) })

	logger.Info().Str("worker_id", id).Int("prefetch", topology.Prefetch).Msg("worker: started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
