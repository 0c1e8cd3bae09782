package text

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultSystemPrompt  = "You are a helpful content writer that only responds with valid JSON."
	defaultCallTimeout   = 60 * time.Second
	defaultRetryInterval = time.Second
	defaultMaxTokens     = 4000
)

// OpenAIOptions configures the OpenAI-compatible generator.
type OpenAIOptions struct {
	APIKey        string
	Model         string
	BaseURL       string
	Organization  string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	RetryInterval time.Duration
	// OnFailure is called once per failed attempt with a short reason code.
	OnFailure func(reason string, err error)
}

// OpenAIGenerator implements Generator on top of go-openai chat completions.
type OpenAIGenerator struct {
	client        *openai.Client
	hasKey        bool
	model         string
	logger        infra.Logger
	retryInterval time.Duration
	onFailure     func(reason string, err error)
}

// NewOpenAIGenerator builds the generator. Without an API key every call
// fails with ErrUpstreamError so callers fall back to templates.
func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	key := strings.TrimSpace(opts.APIKey)
	cfg := openai.DefaultConfig(key)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	if org := strings.TrimSpace(opts.Organization); org != "" {
		cfg.OrgID = org
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return &OpenAIGenerator{
		client:        openai.NewClientWithConfig(cfg),
		hasKey:        key != "",
		model:         model,
		logger:        infra.LoggerOrDiscard(opts.Logger),
		retryInterval: interval,
		onFailure:     opts.OnFailure,
	}
}

// Model returns the configured model identifier.
func (g *OpenAIGenerator) Model() string { return g.model }

// GenerateStructured requests a JSON object, retrying failed attempts with
// exponential backoff up to req.Options.MaxRetries times.
func (g *OpenAIGenerator) GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if !g.hasKey {
		g.emitFailure("missing_api_key", nil)
		return nil, fmt.Errorf("%w: openai api key is not configured", domain.ErrUpstreamError)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput)
	}
	opts := req.Options
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCallTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	system := strings.TrimSpace(req.SystemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   opts.MaxTokens,
		Temperature: 0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}

	var result json.RawMessage
	attempt := 0
	operation := func() error {
		attempt++
		raw, err := g.attempt(ctx, chatReq, opts.Timeout)
		if err != nil {
			return err
		}
		result = raw
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.retryInterval
	policy.MaxInterval = 10 * g.retryInterval
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(opts.MaxRetries)), ctx),
		func(err error, wait time.Duration) {
			g.logger.Warn().
				Err(err).
				Str("provider", "openai").
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("text: retrying structured generation")
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *OpenAIGenerator) attempt(ctx context.Context, chatReq openai.ChatCompletionRequest, timeout time.Duration) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		classified := classifyOpenAIError(err)
		g.emitFailure(failureReason(classified), err)
		if errors.Is(classified, domain.ErrInvalidInput) {
			return nil, backoff.Permanent(classified)
		}
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		g.emitFailure("empty_choices", nil)
		return nil, fmt.Errorf("%w: no choices", domain.ErrInvalidResponseFormat)
	}
	fragment := extractJSONFragment(resp.Choices[0].Message.Content)
	if fragment == "" || !json.Valid([]byte(fragment)) {
		g.emitFailure("parse_payload", nil)
		return nil, fmt.Errorf("%w: model returned non-JSON content", domain.ErrInvalidResponseFormat)
	}
	return json.RawMessage(fragment), nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	return domain.ClassifyUpstream(err)
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrUpstreamRateLimited, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, err)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	default:
		return domain.ClassifyUpstream(err)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrUpstreamRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrInvalidInput):
		return "bad_request"
	default:
		return "upstream_error"
	}
}

func (g *OpenAIGenerator) emitFailure(reason string, err error) {
	if g.onFailure != nil {
		g.onFailure(reason, err)
	}
}

var _ Generator = (*OpenAIGenerator)(nil)
