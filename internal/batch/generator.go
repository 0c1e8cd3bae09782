// Package batch runs image generation jobs through a bounded worker pool
// with per-job timeouts, retries and an ordered fallback chain.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
	"contentfactory/internal/modification"
	"contentfactory/internal/providers/image"
)

const (
	defaultPerItemTimeout = 90 * time.Second
	defaultBackoffBase    = 2 * time.Second
	defaultBackoffCap     = 10 * time.Second
)

// Progress is reported after each job resolves.
type Progress struct {
	Completed int
	Total     int
	Last      JobResult
}

// Config controls one batch run.
type Config struct {
	ConcurrencyLimit  int
	PerItemTimeout    time.Duration
	MaxRetriesPerItem int
	FallbackEnabled   bool
	// InterJobDelay is the minimum spacing between job starts; zero disables it.
	InterJobDelay time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	Size          string
	// RequestID prefixes the per-job request ids sent to providers.
	RequestID string
	Progress  func(Progress)
}

func (c Config) withDefaults() Config {
	if c.ConcurrencyLimit < 1 {
		c.ConcurrencyLimit = 1
	}
	if c.PerItemTimeout <= 0 {
		c.PerItemTimeout = defaultPerItemTimeout
	}
	if c.MaxRetriesPerItem < 0 {
		c.MaxRetriesPerItem = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
	if c.InterJobDelay < 0 {
		c.InterJobDelay = 0
	}
	return c
}

// Generator executes batches against a primary image generator.
type Generator struct {
	images     image.Generator
	strategies []Degradation
	logger     infra.Logger
	metrics    *Metrics
}

// New wires the batch generator. strategies is the ordered fallback chain.
func New(images image.Generator, strategies []Degradation, logger *infra.Logger, metrics *Metrics) *Generator {
	return &Generator{
		images:     images,
		strategies: strategies,
		logger:     infra.LoggerOrDiscard(logger),
		metrics:    metrics,
	}
}

// Run resolves every job and never aborts early: a failing job is recorded
// and the rest continue. Results are stored by job position.
func (g *Generator) Run(ctx context.Context, jobs []Job, cfg Config) Result {
	cfg = cfg.withDefaults()
	start := time.Now()
	results := make([]JobResult, len(jobs))

	var (
		mu        sync.Mutex
		completed int
		group     errgroup.Group
	)
	group.SetLimit(cfg.ConcurrencyLimit)

	// pacing is taken once a pool slot is held, so a slow job never uses up
	// the delay owed to the next one
	var (
		paceMu    sync.Mutex
		lastStart time.Time
	)
	for i := range jobs {
		job := jobs[i]
		group.Go(func() error {
			if cfg.InterJobDelay > 0 {
				paceMu.Lock()
				if !lastStart.IsZero() {
					waitUntil(ctx, lastStart.Add(cfg.InterJobDelay))
				}
				lastStart = time.Now()
				paceMu.Unlock()
			}
			g.metrics.jobStarted()
			res := g.runJob(ctx, job, cfg)
			g.metrics.jobFinished()
			g.metrics.observeJob(res)
			results[i] = res

			mu.Lock()
			completed++
			if cfg.Progress != nil {
				cfg.Progress(Progress{Completed: completed, Total: len(jobs), Last: res})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	out := Result{Results: results, TotalTime: time.Since(start)}
	sets := make([]modification.Set, 0, len(jobs))
	for _, res := range results {
		switch {
		case res.Succeeded():
			out.SuccessCount++
			if res.Degraded {
				out.DegradedCount++
			}
		default:
			out.FailureCount++
		}
		if len(res.Modifications.Tags) > 0 {
			sets = append(sets, res.Modifications)
		}
	}
	out.ModificationUsage = modification.UsageStats(sets)
	if len(jobs) > 0 && out.TotalTime <= 0 {
		out.TotalTime = time.Nanosecond
	}

	g.logger.Info().
		Str("request_id", cfg.RequestID).
		Int("jobs", len(jobs)).
		Int("succeeded", out.SuccessCount).
		Int("degraded", out.DegradedCount).
		Int("failed", out.FailureCount).
		Dur("elapsed", out.TotalTime).
		Msg("batch: run complete")
	return out
}

func (g *Generator) runJob(ctx context.Context, job Job, cfg Config) JobResult {
	started := time.Now()
	res := JobResult{
		Index:         job.Index,
		Prompt:        job.Prompt(),
		Modifications: job.Modifications,
		Outcome:       OutcomeFailed,
	}
	req := image.Request{
		Prompt:       res.Prompt,
		ReferenceURL: job.ReferenceAsset,
		Size:         cfg.Size,
		RequestID:    fmt.Sprintf("%s-%02d", strings.TrimSpace(cfg.RequestID), job.Index),
	}

	err := g.generateWithRetry(ctx, req, cfg, &res)
	if err == nil {
		res.Outcome = OutcomeSuccess
		res.Elapsed = time.Since(started)
		return res
	}
	res.Err = err

	if cfg.FallbackEnabled {
		for _, strategy := range g.strategies {
			asset, ferr := g.applyStrategy(ctx, strategy, job, req, err, cfg.PerItemTimeout)
			if ferr != nil || strings.TrimSpace(asset) == "" {
				if ferr != nil && !errors.Is(ferr, errNoSubstitute) {
					g.logger.Debug().Err(ferr).Int("job_index", job.Index).Str("strategy", strategy.Name()).Msg("batch: fallback declined")
				}
				continue
			}
			res.Outcome = OutcomeSuccess
			res.Asset = asset
			res.Degraded = true
			res.DegradedBy = strategy.Name()
			g.logger.Warn().
				Err(err).
				Int("job_index", job.Index).
				Int("attempts", res.Attempts).
				Str("strategy", strategy.Name()).
				Msg("batch: job degraded")
			break
		}
	}
	if !res.Succeeded() {
		g.logger.Error().
			Err(err).
			Int("job_index", job.Index).
			Int("attempts", res.Attempts).
			Msg("batch: job failed")
	}
	res.Elapsed = time.Since(started)
	return res
}

func (g *Generator) generateWithRetry(ctx context.Context, req image.Request, cfg Config, res *JobResult) error {
	if g.images == nil {
		return fmt.Errorf("%w: no image generator configured", domain.ErrUpstreamError)
	}
	operation := func() error {
		res.Attempts++
		if strings.TrimSpace(req.Prompt) == "" {
			return backoff.Permanent(fmt.Errorf("%w: empty prompt", domain.ErrInvalidInput))
		}
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.PerItemTimeout)
		defer cancel()
		asset, err := g.images.Generate(attemptCtx, req)
		if err != nil {
			classified := domain.ClassifyUpstream(err)
			if !domain.IsRetryable(classified) {
				return backoff.Permanent(classified)
			}
			return classified
		}
		if strings.TrimSpace(asset) == "" {
			return fmt.Errorf("%w: empty asset url", domain.ErrInvalidResponseFormat)
		}
		res.Asset = strings.TrimSpace(asset)
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newLinearBackOff(cfg.BackoffBase, cfg.BackoffCap), uint64(cfg.MaxRetriesPerItem)),
		ctx,
	)
	return backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		g.metrics.retried()
		g.logger.Warn().
			Err(err).
			Int("job_index", res.Index).
			Int("attempt", res.Attempts).
			Dur("wait", wait).
			Msg("batch: retrying job")
	})
}

func (g *Generator) applyStrategy(ctx context.Context, strategy Degradation, job Job, req image.Request, cause error, timeout time.Duration) (string, error) {
	fallbackCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return strategy.Apply(fallbackCtx, job, req, cause)
}

func waitUntil(ctx context.Context, deadline time.Time) {
	wait := time.Until(deadline)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
