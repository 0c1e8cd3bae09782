// Package pipeline runs the stages that turn a task's inputs into a
// persisted, illustrated article.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contentfactory/internal/assembler"
	"contentfactory/internal/batch"
	"contentfactory/internal/domain"
	"contentfactory/internal/domain/jsoncfg"
	"contentfactory/internal/infra"
	"contentfactory/internal/modification"
	"contentfactory/internal/providers/image"
	"contentfactory/internal/providers/text"
)

// Progress bands. Each stage reports its start and its resolution.
const (
	progressLoadStart     = 5
	progressLoadDone      = 10
	progressTextStart     = 12
	progressTextDone      = 50
	progressPromptsDone   = 60
	progressBatchDone     = 85
	progressAssemblyDone  = 95
	progressPersistStart  = 96
	progressBatchBandSize = progressBatchDone - progressPromptsDone
)

// ProgressFunc receives stage progress in 0..100.
type ProgressFunc func(progress int, message string)

// BatchRunner is satisfied by *batch.Generator.
type BatchRunner interface {
	Run(ctx context.Context, jobs []batch.Job, cfg batch.Config) batch.Result
}

// Pipeline wires the collaborators used by every run.
type Pipeline struct {
	sources  domain.SourceRepository
	articles domain.ArticleRepository
	text     text.Generator
	batch    BatchRunner
	engine   *modification.Engine
	batchCfg batch.Config
	textOpts text.Options
	k        int
	logger   infra.Logger
}

// Options configures New.
type Options struct {
	Sources       domain.SourceRepository
	Articles      domain.ArticleRepository
	Text          text.Generator
	Batch         BatchRunner
	Modifications *modification.Engine
	// BatchConfig is the base config for the image stage; Size, RequestID
	// and Progress are filled per task.
	BatchConfig   batch.Config
	TextOptions   text.Options
	ModificationK int
	Logger        *infra.Logger
}

// New builds a pipeline. Sources, Articles and Batch are required.
func New(opts Options) (*Pipeline, error) {
	if opts.Sources == nil || opts.Articles == nil || opts.Batch == nil {
		return nil, errors.New("pipeline: sources, articles and batch are required")
	}
	k := opts.ModificationK
	if k <= 0 {
		k = modification.DefaultK
	}
	return &Pipeline{
		sources:  opts.Sources,
		articles: opts.Articles,
		text:     opts.Text,
		batch:    opts.Batch,
		engine:   opts.Modifications,
		batchCfg: opts.BatchConfig,
		textOpts: opts.TextOptions,
		k:        k,
		logger:   infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

type stageTimer struct {
	timings map[string]int64
}

func (t *stageTimer) track(stage string, started time.Time) {
	t.timings[stage] = time.Since(started).Milliseconds()
}

// Run executes all stages for task. Only errors wrapping
// domain.ErrFatalPipeline are returned; every other failure degrades.
func (p *Pipeline) Run(ctx context.Context, task *domain.Task, report ProgressFunc) (domain.TaskResult, error) {
	if task == nil {
		return domain.TaskResult{}, fmt.Errorf("%w: nil task", domain.ErrFatalPipeline)
	}
	if report == nil {
		report = func(int, string) {}
	}
	inputs := task.Inputs
	inputs.Normalize()
	logger := p.logger.With().Str("task_id", task.ID).Logger()
	timer := &stageTimer{timings: make(map[string]int64)}

	// load inputs
	started := time.Now()
	report(progressLoadStart, "loading source material")
	material, err := p.loadMaterial(ctx, inputs)
	if err != nil {
		logger.Error().Err(err).Str("stage", "load").Msg("pipeline: loading inputs failed")
		return domain.TaskResult{}, err
	}
	timer.track("load", started)
	report(progressLoadDone, fmt.Sprintf("loaded %d source items", len(material.Points)))

	// article text
	started = time.Now()
	report(progressTextStart, "writing article")
	article, textFallback := p.writeArticle(ctx, logger, inputs, material)
	timer.track("text", started)
	report(progressTextDone, "article text ready")

	// image count and prompts
	started = time.Now()
	count := ImageCount(inputs.Length, inputs.ImageStrategy)
	prompts, padded := p.imagePrompts(ctx, logger, article, count)
	timer.track("prompts", started)
	report(progressPromptsDone, fmt.Sprintf("planned %d images", count))

	// batch images
	started = time.Now()
	result := p.generateImages(ctx, logger, task.ID, inputs, prompts, report)
	timer.track("images", started)
	report(progressBatchDone, fmt.Sprintf("generated %d of %d images", result.SuccessCount, len(prompts)))

	// assembly
	started = time.Now()
	images := make([]assembler.Image, 0, result.SuccessCount)
	for _, res := range result.Assets() {
		images = append(images, assembler.Image{
			URL: res.Asset,
			Alt: fmt.Sprintf("%s illustration %d", article.Title, res.Index+1),
		})
	}
	body := assembler.Insert(article.Body, images)
	placed := make([]string, 0, len(images))
	for _, img := range images {
		if strings.Contains(body, assembler.Marker(img)) {
			placed = append(placed, img.URL)
		}
	}
	wordCount := assembler.CountWords(body)
	timer.track("assembly", started)
	report(progressAssemblyDone, "article assembled")

	// persistence
	started = time.Now()
	report(progressPersistStart, "saving article")
	record := &domain.Article{
		TaskID:    task.ID,
		Title:     article.Title,
		Summary:   article.Summary,
		Body:      body,
		WordCount: wordCount,
		ImageURLs: placed,
		Platform:  inputs.Platform,
		Style:     inputs.Style,
		Tags:      article.Tags,
		Metadata: map[string]any{
			"text_fallback":      textFallback,
			"prompt_fallbacks":   padded,
			"degraded_images":    result.DegradedCount,
			"failed_images":      result.FailureCount,
			"modification_usage": result.ModificationUsage,
			"timings_ms":         timer.timings,
		},
	}
	articleID, err := p.articles.SaveArticle(ctx, record)
	if err != nil {
		logger.Error().Err(err).Str("stage", "persist").Msg("pipeline: saving article failed")
		return domain.TaskResult{}, fmt.Errorf("%w: save article: %w", domain.ErrFatalPipeline, err)
	}
	timer.track("persist", started)

	logger.Info().
		Str("article_id", articleID).
		Int("word_count", wordCount).
		Int("images", len(placed)).
		Bool("text_fallback", textFallback).
		Interface("timings_ms", timer.timings).
		Msg("pipeline: article saved")

	return domain.TaskResult{
		ArticleID:      articleID,
		WordCount:      wordCount,
		ImageCount:     len(placed),
		DegradedImages: result.DegradedCount,
		FailedImages:   result.FailureCount,
		TextFallback:   textFallback,
	}, nil
}

func (p *Pipeline) loadMaterial(ctx context.Context, inputs domain.TaskInputs) (Material, error) {
	if inputs.Mode == domain.ModeDirect {
		src, err := p.sources.LoadSourceArticle(ctx, inputs.SourceArticleID)
		if err != nil {
			return Material{}, fmt.Errorf("%w: load source article %s: %w", domain.ErrFatalPipeline, inputs.SourceArticleID, err)
		}
		m := materialFromSource(src)
		if len(m.Points) == 0 {
			return Material{}, fmt.Errorf("%w: source article %s is empty", domain.ErrFatalPipeline, inputs.SourceArticleID)
		}
		return m, nil
	}

	var (
		insights []domain.Insight
		err      error
	)
	if len(inputs.InsightIDs) > 0 {
		insights, err = p.sources.LoadInsights(ctx, inputs.InsightIDs)
	} else {
		insights, err = p.sources.LoadInsightsByTopic(ctx, inputs.TopicID)
	}
	if err != nil {
		return Material{}, fmt.Errorf("%w: load insights: %w", domain.ErrFatalPipeline, err)
	}
	m := materialFromInsights(insights)
	if len(m.Points) == 0 {
		return Material{}, fmt.Errorf("%w: no insights found", domain.ErrFatalPipeline)
	}
	return m, nil
}

func (p *Pipeline) writeArticle(ctx context.Context, logger infra.Logger, inputs domain.TaskInputs, m Material) (jsoncfg.ArticlePayload, bool) {
	if p.text == nil {
		logger.Warn().Str("stage", "text").Msg("pipeline: no text generator, using template")
		return FallbackArticle(m, inputs), true
	}
	raw, err := p.text.GenerateStructured(ctx, text.StructuredRequest{
		Prompt:       articlePrompt(inputs, m),
		SystemPrompt: articleSystemPrompt,
		Options:      p.textOpts,
	})
	if err == nil {
		var payload jsoncfg.ArticlePayload
		payload, err = text.Decode[jsoncfg.ArticlePayload](raw)
		if err == nil {
			payload.Normalize()
			if verr := payload.Validate(); verr != nil {
				err = fmt.Errorf("%w: %w", domain.ErrInvalidResponseFormat, verr)
			} else {
				return payload, false
			}
		}
	}
	logger.Warn().Err(err).Str("stage", "text").Msg("pipeline: article generation failed, using template")
	return FallbackArticle(m, inputs), true
}

func (p *Pipeline) imagePrompts(ctx context.Context, logger infra.Logger, article jsoncfg.ArticlePayload, count int) ([]string, int) {
	var prompts []string
	if p.text != nil {
		raw, err := p.text.GenerateStructured(ctx, text.StructuredRequest{
			Prompt:       imagePromptsPrompt(article, count),
			SystemPrompt: promptsSystemPrompt,
			Options:      p.textOpts,
		})
		if err == nil {
			var payload jsoncfg.ImagePromptsPayload
			payload, err = text.Decode[jsoncfg.ImagePromptsPayload](raw)
			if err == nil {
				payload.Normalize()
				prompts = payload.Prompts
			}
		}
		if err != nil {
			logger.Warn().Err(err).Str("stage", "prompts").Msg("pipeline: image prompt generation failed")
		}
	}
	out, padded := completePrompts(prompts, count, article.Title)
	if padded > 0 {
		logger.Info().Str("stage", "prompts").Int("padded", padded).Int("count", count).Msg("pipeline: padded image prompts")
	}
	return out, padded
}

func (p *Pipeline) generateImages(ctx context.Context, logger infra.Logger, taskID string, inputs domain.TaskInputs, prompts []string, report ProgressFunc) batch.Result {
	var sets []modification.Set
	if inputs.PromptVariation && p.engine != nil {
		var err error
		sets, err = p.engine.GenerateUniqueSets(len(prompts), min(p.k, p.engine.Catalog().Size()))
		if err != nil {
			logger.Warn().Err(err).Str("stage", "images").Msg("pipeline: skipping prompt variation")
			sets = nil
		}
	}

	jobs := make([]batch.Job, len(prompts))
	for i, prompt := range prompts {
		jobs[i] = batch.Job{
			Index:          i,
			ReferenceAsset: inputs.ReferenceImageURL,
			BasePrompt:     prompt,
		}
		if i < len(sets) {
			jobs[i].Modifications = sets[i]
			jobs[i].Variation = p.engine.Describe(sets[i])
		}
	}

	cfg := p.batchCfg
	cfg.Size = image.AspectRatioSize(image.PlatformAspect(inputs.Platform))
	cfg.RequestID = taskID
	cfg.Progress = func(pr batch.Progress) {
		if pr.Total == 0 {
			return
		}
		report(progressPromptsDone+progressBatchBandSize*pr.Completed/pr.Total,
			fmt.Sprintf("generated image %d of %d", pr.Completed, pr.Total))
	}
	result := p.batch.Run(ctx, jobs, cfg)
	if err := result.Err(); err != nil {
		logger.Warn().Err(err).Str("stage", "images").Msg("pipeline: continuing with partial images")
	}
	return result
}
