package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"contentfactory/internal/bootstrap"
	"contentfactory/internal/infra"
	"contentfactory/internal/orchestrator"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.TaskDispatch != infra.DispatchAMQP {
		logger.Fatal().Str("dispatch", cfg.TaskDispatch).Msg("worker: requires TASK_DISPATCH=amqp")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	services, err := bootstrap.Build(ctx, cfg, infra.NewSQLRunner(pool, logger), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to wire services")
	}
	defer services.Close()

	conn, err := infra.DialAMQP(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: amqp connection failed")
	}
	defer conn.Close()

	consumer := orchestrator.NewConsumer(conn.Channel, cfg.AMQPQueue, services.Orchestrator, cfg.Batch.Concurrency, &logger)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
