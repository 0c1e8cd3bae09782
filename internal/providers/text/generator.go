// Package text wraps structured (JSON) generation against chat models.
package text

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"contentfactory/internal/domain"
)

// Options bounds a single structured call.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	MaxTokens  int
}

// StructuredRequest is one JSON-producing generation call.
type StructuredRequest struct {
	Prompt       string
	SystemPrompt string
	Options      Options
}

// Generator is the TextGenerationService contract. Implementations return
// the raw JSON object produced by the model, or an error wrapping one of the
// domain upstream sentinels once retries are exhausted.
type Generator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
}

// Decode unmarshals raw into T, mapping failures to ErrInvalidResponseFormat.
func Decode[T any](raw json.RawMessage) (T, error) {
	var zero T
	cleaned := extractJSONFragment(string(raw))
	if cleaned == "" {
		return zero, fmt.Errorf("%w: empty payload", domain.ErrInvalidResponseFormat)
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, fmt.Errorf("%w: %w", domain.ErrInvalidResponseFormat, err)
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
