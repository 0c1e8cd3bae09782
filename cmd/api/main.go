package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentfactory/internal/bootstrap"
	"contentfactory/internal/http/handlers"
	httpapi "contentfactory/internal/http/httpapi"
	"contentfactory/internal/infra"
	"contentfactory/internal/orchestrator"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// root context for task execution; request contexts never reach the pipeline
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	dbpool, err := infra.NewDBPool(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	services, err := bootstrap.Build(rootCtx, cfg, runner, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}
	defer services.Close()

	var inline *orchestrator.InlineDispatcher
	switch cfg.TaskDispatch {
	case infra.DispatchAMQP:
		conn, err := infra.DialAMQP(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect amqp")
		}
		defer conn.Close()
		services.Orchestrator.SetDispatcher(orchestrator.NewAMQPDispatcher(conn.Channel, cfg.AMQPQueue, &logger))
		logger.Info().Str("queue", cfg.AMQPQueue).Msg("tasks dispatched to amqp workers")
	default:
		inline = orchestrator.NewInlineDispatcher(rootCtx, services.Orchestrator, &logger)
		services.Orchestrator.SetDispatcher(inline)
		logger.Info().Msg("tasks executed inline")
	}

	app := handlers.NewApp(services.Orchestrator, services.Events, dbpool, &logger)
	opts := httpapi.Options{
		Logger:          logger,
		StaticDir:       services.Files.BasePath(),
		RateLimitPerMin: cfg.RateLimitPerMin,
	}
	if cfg.MetricsEnabled {
		opts.Metrics = promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{})
	}
	router := httpapi.NewRouter(app, opts)

	server := infra.NewHTTPServer(cfg, router, logger)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if inline != nil {
		if err := inline.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tasks still running at shutdown")
		}
	}
	logger.Info().Msg("server stopped")
}
