package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"genforge/internal/admission"
	"genforge/internal/bootstrap"
	"genforge/internal/http/handlers"
	httpapi "genforge/internal/http/httpapi"
	"genforge/internal/infra"
	"genforge/internal/infra/geoip"
	"genforge/internal/queue"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	g, gctx := errgroup.WithContext(ctx)

	trigger, err := openTrigger(gctx, g, rt, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: queue unavailable")
	}

	countries, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	defer countries.Close()

	gateway := admission.NewGateway(rt.Store, rt.Ledger, trigger, admission.ValidateParams, infra.Component(logger, "admission"))
	app := handlers.NewApp(rt.Store, gateway, rt.Ledger, infra.Component(logger, "http"))
	app.Events = rt.Subscriber
	app.MaxWait = cfg.SubmitMaxWait
	app.Checks["store"] = rt.Ping

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:        cfg.JWTSecret,
		CORSOrigins:      cfg.CORSOrigins,
		SubmitsPerMinute: cfg.RateLimitPerMin,
		Country:          countries.Lookup(),
		StaticDir:        rt.StaticDir,
		Logger:           logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	g.Go(func() error {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		return server.Run(gctx, 30*time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api: stopped with error")
	}
	logger.Info().Msg("server stopped")
}

// openTrigger returns the admission trigger. The local backend runs the worker
// and sweeper inside this process; AMQP hands jobs to cmd/worker.
func openTrigger(ctx context.Context, g *errgroup.Group, rt *bootstrap.Runtime, logger zerolog.Logger) (queue.Trigger, error) {
	cfg := rt.Config
	if cfg.QueueBackend == infra.QueueBackendAMQP {
		conn, err := infra.NewAMQPConnection(cfg)
		if err != nil {
			return nil, err
		}
		publisher, err := queue.NewPublisher(conn, bootstrap.AMQPConfig(cfg), infra.Component(logger, "queue"))
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		g.Go(func() error {
			<-ctx.Done()
			_ = publisher.Close()
			return conn.Close()
		})
		return publisher, nil
	}

	local := queue.NewLocal(256, infra.Component(logger, "queue"))
	exec := rt.Executor(bootstrap.WorkerID("api"))
	g.Go(func() error { return local.Run(ctx, cfg.WorkerConcurrency, exec.Run) })
	g.Go(func() error { return rt.Sweeper(local).Run(ctx) })
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("api: embedded worker started")
	return local, nil
}
