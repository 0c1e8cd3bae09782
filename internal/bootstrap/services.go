// Package bootstrap wires repositories, providers and the task pipeline
// from configuration. Both cmd/api and cmd/worker build through it.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"contentfactory/internal/adapter/repo"
	"contentfactory/internal/batch"
	"contentfactory/internal/infra"
	"contentfactory/internal/infra/credentials"
	"contentfactory/internal/modification"
	"contentfactory/internal/orchestrator"
	"contentfactory/internal/pipeline"
	"contentfactory/internal/providers/image"
	"contentfactory/internal/providers/text"
	"contentfactory/internal/storage"
)

// Services is everything a binary needs after wiring.
type Services struct {
	Orchestrator *orchestrator.Orchestrator
	Hub          *orchestrator.Hub
	// Events feeds SSE clients: the Hub when tasks run in this process,
	// Redis when workers run them elsewhere.
	Events       orchestrator.Subscriber
	Registry     *prometheus.Registry
	Files        *storage.FileStore
	Redis        *redis.Client
}

// Close releases optional connections.
func (s *Services) Close() {
	if s != nil && s.Redis != nil {
		_ = s.Redis.Close()
	}
}

// Build wires the orchestrator over sql. Provider keys missing from the
// environment are read from integration_tokens; without them the synthetic
// image renderer and text templates take over.
func Build(ctx context.Context, cfg *infra.Config, sql infra.SQLExecutor, logger infra.Logger) (*Services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	files, err := storage.NewFileStore(storagePath)
	if err != nil {
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	creds := credentials.NewStore(sql)
	openAIKey, err := creds.Resolve(ctx, credentials.ProviderOpenAI, cfg.OpenAIAPIKey)
	if err != nil {
		logger.Warn().Err(err).Str("provider", credentials.ProviderOpenAI).Msg("bootstrap: failed to load api key from store")
	}
	qwenKey, err := creds.Resolve(ctx, credentials.ProviderQwen, cfg.QwenAPIKey)
	if err != nil {
		logger.Warn().Err(err).Str("provider", credentials.ProviderQwen).Msg("bootstrap: failed to load api key from store")
	}

	textGen := text.NewOpenAIGenerator(text.OpenAIOptions{
		APIKey:       openAIKey,
		Model:        cfg.OpenAIModel,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		HTTPClient:   &http.Client{Timeout: cfg.Text.Timeout + 10*time.Second},
		Logger:       &logger,
		OnFailure: func(reason string, err error) {
			logger.Warn().Err(err).Str("provider", credentials.ProviderOpenAI).Str("reason", reason).Msg("bootstrap: text generation failed")
		},
	})
	if openAIKey == "" {
		logger.Warn().Msg("bootstrap: openai api key missing, articles will use templates")
	}

	synthetic := image.NewSyntheticGenerator(files, cfg.StorageBaseURL, &logger)
	var primary image.Generator = synthetic
	var alternative image.Generator
	if qwenKey != "" {
		primary = image.NewQwenGenerator(image.QwenOptions{
			APIKey:         qwenKey,
			BaseURL:        cfg.QwenBaseURL,
			Model:          cfg.QwenImageModel,
			Logger:         &logger,
			RequestTimeout: cfg.Batch.ItemTimeout,
			Store:          files,
			PublicBaseURL:  cfg.StorageBaseURL,
		})
		alternative = synthetic
	} else {
		logger.Warn().Msg("bootstrap: qwen api key missing, using synthetic image generation")
	}

	batchGen := batch.New(primary, batch.DefaultChain(alternative, cfg.Batch.PlaceholderImageURL), &logger, batch.NewMetrics(registry))
	engine := modification.NewEngine(modification.DefaultCatalog(), nil, &logger)

	pipe, err := pipeline.New(pipeline.Options{
		Sources:       repo.NewSourceRepository(sql),
		Articles:      repo.NewArticleRepository(sql),
		Text:          textGen,
		Batch:         batchGen,
		Modifications: engine,
		BatchConfig: batch.Config{
			ConcurrencyLimit:  cfg.Batch.Concurrency,
			PerItemTimeout:    cfg.Batch.ItemTimeout,
			MaxRetriesPerItem: cfg.Batch.MaxRetries,
			FallbackEnabled:   cfg.Batch.FallbackEnabled,
			InterJobDelay:     cfg.Batch.InterJobDelay,
		},
		TextOptions: text.Options{
			Timeout:    cfg.Text.Timeout,
			MaxRetries: cfg.Text.MaxRetries,
			MaxTokens:  cfg.Text.MaxTokens,
		},
		Logger: &logger,
	})
	if err != nil {
		return nil, err
	}

	hub := orchestrator.NewHub(32)
	observers := []orchestrator.ProgressObserver{hub}
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = infra.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: redis unavailable, progress fan-out stays in-process")
		} else {
			observers = append(observers, orchestrator.NewRedisPublisher(redisClient, 24*time.Hour, &logger))
		}
	}

	var events orchestrator.Subscriber = hub
	if cfg.TaskDispatch == infra.DispatchAMQP {
		if redisClient != nil {
			events = orchestrator.NewRedisEvents(redisClient, 32, &logger)
		} else {
			logger.Warn().Msg("bootstrap: amqp dispatch without redis, event streams poll the task store")
		}
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Store:     repo.NewTaskRepository(sql),
		Runner:    pipe,
		Observers: observers,
		Logger:    &logger,
		Metrics:   orchestrator.NewMetrics(registry),
	})
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil, err
	}

	return &Services{
		Orchestrator: orch,
		Hub:          hub,
		Events:       events,
		Registry:     registry,
		Files:        files,
		Redis:        redisClient,
	}, nil
}
