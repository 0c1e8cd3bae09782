package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ArticlePayload is the structured shape requested from the text model for
// the article stage.
type ArticlePayload struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Body    string   `json:"body"`
	Tags    []string `json:"tags"`
}

// ImagePromptsPayload is the structured shape requested for image prompts.
type ImagePromptsPayload struct {
	Prompts []string `json:"prompts"`
}

const (
	// MaxArticleTags caps the tags kept from a model response.
	MaxArticleTags = 8
	// MaxPromptLength truncates runaway image prompts.
	MaxPromptLength = 600
)

// Normalize trims fields and removes empty or duplicate tags.
func (p *ArticlePayload) Normalize() {
	if p == nil {
		return
	}
	p.Title = strings.TrimSpace(p.Title)
	p.Summary = strings.TrimSpace(p.Summary)
	p.Body = strings.TrimSpace(p.Body)
	seen := make(map[string]struct{}, len(p.Tags))
	tags := make([]string, 0, len(p.Tags))
	for _, tag := range p.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == MaxArticleTags {
			break
		}
	}
	p.Tags = tags
}

// Validate ensures the payload can be used as an article.
func (p ArticlePayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

// Normalize trims prompts, drops blanks and truncates overly long entries.
func (p *ImagePromptsPayload) Normalize() {
	if p == nil {
		return
	}
	prompts := make([]string, 0, len(p.Prompts))
	for _, prompt := range p.Prompts {
		prompt = strings.Join(strings.Fields(prompt), " ")
		if prompt == "" {
			continue
		}
		prompt = truncateRunes(prompt, MaxPromptLength)
		prompts = append(prompts, prompt)
	}
	p.Prompts = prompts
}

// Validate ensures at least one usable prompt was returned.
func (p ImagePromptsPayload) Validate() error {
	if len(p.Prompts) == 0 {
		return fmt.Errorf("prompts must not be empty")
	}
	return nil
}

// truncateRunes cuts s to at most max bytes without splitting a character.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

// MustMarshal encodes v and panics on failure. Meant for fixtures and
// statically known payloads.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
