package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
	"contentfactory/internal/storage"
)

// ErrMissingAPIKey indicates that the generator was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

const (
	defaultQwenBaseURL   = "https://dashscope-intl.aliyuncs.com/api/v1"
	defaultQwenModel     = "qwen-image-plus"
	defaultQwenEditModel = "qwen-image-edit"
	generationPath       = "/services/aigc/multimodal-generation/generation"
)

// QwenOptions configures the DashScope Qwen generator.
type QwenOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	EditModel      string
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
	// Store, when set, receives a copy of each generated image so the
	// returned URL outlives DashScope's temporary links.
	Store         storage.Writer
	PublicBaseURL string
}

// QwenGenerator performs text-to-image and reference-image edits against DashScope.
type QwenGenerator struct {
	apiKey        string
	baseURL       string
	model         string
	editModel     string
	watermark     bool
	httpClient    *http.Client
	logger        infra.Logger
	store         storage.Writer
	publicBaseURL string
}

type qwenRequest struct {
	Model      string         `json:"model"`
	Input      qwenInput      `json:"input"`
	Parameters qwenParameters `json:"parameters"`
}

type qwenInput struct {
	Messages []qwenMessage `json:"messages"`
}

type qwenMessage struct {
	Role    string        `json:"role"`
	Content []qwenContent `json:"content"`
}

type qwenContent struct {
	Image string `json:"image,omitempty"`
	Text  string `json:"text,omitempty"`
}

type qwenParameters struct {
	Size      string `json:"size,omitempty"`
	Watermark bool   `json:"watermark"`
	Seed      *int   `json:"seed,omitempty"`
}

type qwenResponse struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewQwenGenerator constructs a generator with sane defaults.
func NewQwenGenerator(opts QwenOptions) *QwenGenerator {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultQwenBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultQwenModel
	}
	editModel := strings.TrimSpace(opts.EditModel)
	if editModel == "" {
		editModel = defaultQwenEditModel
	}
	return &QwenGenerator{
		apiKey:        strings.TrimSpace(opts.APIKey),
		baseURL:       baseURL,
		model:         model,
		editModel:     editModel,
		watermark:     opts.Watermark,
		httpClient:    httpClient,
		logger:        infra.LoggerOrDiscard(opts.Logger),
		store:         opts.Store,
		publicBaseURL: opts.PublicBaseURL,
	}
}

// HasCredentials reports whether the generator can perform remote calls.
func (g *QwenGenerator) HasCredentials() bool {
	return g != nil && g.apiKey != ""
}

func (g *QwenGenerator) String() string {
	if g == nil {
		return "qwen"
	}
	return g.model
}

// Generate fulfils the Generator interface. A reference URL switches the call
// to the edit model.
func (g *QwenGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if !g.HasCredentials() {
		return "", fmt.Errorf("%w: %w", domain.ErrUpstreamError, ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: qwen: prompt is required", domain.ErrInvalidInput)
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = DefaultSize
	}
	seed := deterministicSeed(req.RequestID, prompt)
	payload := qwenRequest{
		Model:      g.model,
		Parameters: qwenParameters{Size: size, Watermark: g.watermark, Seed: &seed},
	}
	content := []qwenContent{{Text: prompt}}
	if ref := strings.TrimSpace(req.ReferenceURL); ref != "" {
		payload.Model = g.editModel
		payload.Parameters.Size = ""
		content = []qwenContent{{Image: ref}, {Text: prompt}}
	}
	payload.Input.Messages = []qwenMessage{{Role: "user", Content: content}}

	imageURL, err := g.invoke(ctx, payload)
	if err != nil {
		return "", err
	}
	g.logger.Debug().
		Str("provider", "qwen").
		Str("model", payload.Model).
		Str("request_id", req.RequestID).
		Str("url", imageURL).
		Msg("qwen: generated image")

	if g.store == nil {
		return imageURL, nil
	}
	return g.persist(ctx, req.RequestID, imageURL)
}

func (g *QwenGenerator) invoke(ctx context.Context, payload qwenRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("qwen: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+generationPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.ClassifyUpstream(fmt.Errorf("qwen: http request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.ClassifyUpstream(fmt.Errorf("qwen: read response: %w", err))
	}

	var decoded qwenResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", classifyQwenStatus(resp.StatusCode, decoded, raw)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: qwen: decode response: %w", domain.ErrInvalidResponseFormat, decodeErr)
	}
	if decoded.Code != "" {
		return "", domain.ClassifyUpstream(fmt.Errorf("qwen: %s (%s)", decoded.Message, decoded.Code))
	}
	imageURL := firstImageURL(decoded)
	if imageURL == "" {
		return "", fmt.Errorf("%w: qwen: empty image url", domain.ErrInvalidResponseFormat)
	}
	return imageURL, nil
}

func classifyQwenStatus(status int, decoded qwenResponse, raw []byte) error {
	detail := strings.TrimSpace(decoded.Message)
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: qwen: status %d: %s", domain.ErrUpstreamRateLimited, status, detail)
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: qwen: status %d: %s", domain.ErrUpstreamTimeout, status, detail)
	default:
		return fmt.Errorf("%w: qwen: status %d: %s (%s)", domain.ErrUpstreamError, status, detail, decoded.Code)
	}
}

func (g *QwenGenerator) persist(ctx context.Context, requestID, imageURL string) (string, error) {
	data, ext, err := g.download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("generated/%s/%s.%s", sanitizeSegment(requestID), deterministicHex(imageURL), ext)
	stored, err := g.store.Write(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("qwen: store image: %w", err)
	}
	return storage.PublicURL(g.publicBaseURL, stored), nil
}

func (g *QwenGenerator) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("%w: qwen: invalid image url: %s", domain.ErrInvalidResponseFormat, imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("qwen: build download request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", domain.ClassifyUpstream(fmt.Errorf("qwen: download image: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: qwen: download status %d", domain.ErrUpstreamError, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", domain.ClassifyUpstream(fmt.Errorf("qwen: read image: %w", err))
	}
	ext := "png"
	switch strings.ToLower(resp.Header.Get("Content-Type")) {
	case "image/jpeg", "image/jpg":
		ext = "jpg"
	case "image/webp":
		ext = "webp"
	default:
		if e := strings.TrimPrefix(strings.ToLower(path.Ext(parsed.Path)), "."); e == "jpg" || e == "jpeg" || e == "webp" {
			ext = e
		}
	}
	return data, ext, nil
}

func firstImageURL(resp qwenResponse) string {
	for _, choice := range resp.Output.Choices {
		for _, content := range choice.Message.Content {
			if u := strings.TrimSpace(content.Image); u != "" {
				return u
			}
		}
	}
	return ""
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "adhoc"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, s)
}

var _ Generator = (*QwenGenerator)(nil)
