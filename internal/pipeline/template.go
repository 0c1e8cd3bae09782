package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"contentfactory/internal/domain"
	"contentfactory/internal/domain/jsoncfg"
)

// ImageCount decides how many images an article gets. Unknown values fall
// back to the auto strategy at medium length.
func ImageCount(length, strategy string) int {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case domain.ImageStrategyMinimal:
		return 1
	case domain.ImageStrategyRich:
		switch normalizeLength(length) {
		case domain.LengthShort:
			return 5
		case domain.LengthLong:
			return 8
		default:
			return 6
		}
	default:
		switch normalizeLength(length) {
		case domain.LengthShort:
			return 4
		case domain.LengthLong:
			return 6
		default:
			return 5
		}
	}
}

func normalizeLength(length string) string {
	switch l := strings.ToLower(strings.TrimSpace(length)); l {
	case domain.LengthShort, domain.LengthMedium, domain.LengthLong:
		return l
	}
	return domain.LengthMedium
}

// Material is the source text an article is written from. Points are the
// insights in topic mode, or the source paragraphs in direct mode.
type Material struct {
	Title  string
	Points []string
	URL    string
}

func materialFromInsights(insights []domain.Insight) Material {
	points := make([]string, 0, len(insights))
	for _, in := range insights {
		if c := strings.TrimSpace(in.Content); c != "" {
			points = append(points, c)
		}
	}
	return Material{Points: points}
}

func materialFromSource(src *domain.SourceArticle) Material {
	return Material{
		Title:  strings.TrimSpace(src.Title),
		Points: paragraphs(src.Content),
		URL:    strings.TrimSpace(src.URL),
	}
}

func paragraphs(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(normalized, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}

// FallbackArticle builds a deterministic article from the material alone.
// The first two points appear verbatim.
func FallbackArticle(m Material, inputs domain.TaskInputs) jsoncfg.ArticlePayload {
	titleCaser := cases.Title(language.English)
	title := strings.TrimSpace(m.Title)
	if title == "" && len(m.Points) > 0 {
		title = titleCaser.String(leadingWords(m.Points[0], 8))
	}
	if title == "" {
		title = "Untitled Article"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	b.WriteString("## Overview\n\n")
	if len(m.Points) > 0 {
		b.WriteString(m.Points[0])
		b.WriteString("\n\n")
	}
	for _, point := range m.Points[min(1, len(m.Points)):] {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", titleCaser.String(leadingWords(point, 6)), point)
	}
	b.WriteString("## Takeaways\n\n")
	fmt.Fprintf(&b, "These notes were compiled in a %s style for %s readers.", inputs.Style, inputs.Platform)
	if m.URL != "" {
		fmt.Fprintf(&b, " Source: %s", m.URL)
	}
	b.WriteString("\n")

	summary := ""
	if len(m.Points) > 0 {
		summary = leadingWords(m.Points[0], 30)
	}
	payload := jsoncfg.ArticlePayload{
		Title:   title,
		Summary: summary,
		Body:    b.String(),
		Tags:    []string{inputs.Style, inputs.Platform},
	}
	payload.Normalize()
	return payload
}

// FallbackPrompt is the image prompt used when the model returns too few.
func FallbackPrompt(title string, i int) string {
	framings := []string{
		"an establishing scene",
		"a detailed close view of the key subject",
		"people engaging with the topic",
		"a symbolic still life",
		"an overhead composition",
		"a candid documentary moment",
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "the article"
	}
	return fmt.Sprintf("Editorial illustration for %q, %s, image %d", title, framings[i%len(framings)], i+1)
}

// completePrompts truncates to count or pads with FallbackPrompt.
func completePrompts(prompts []string, count int, title string) ([]string, int) {
	out := make([]string, 0, count)
	for _, p := range prompts {
		if len(out) == count {
			break
		}
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	padded := 0
	for len(out) < count {
		out = append(out, FallbackPrompt(title, len(out)))
		padded++
	}
	return out, padded
}

func leadingWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.TrimRight(strings.Join(fields, " "), ".,;:!?")
}

const articleSystemPrompt = "You are an editor writing illustrated web articles. " +
	"Reply with one JSON object: {\"title\": string, \"summary\": string, \"body\": markdown string, \"tags\": [string]}. " +
	"The body starts with a single '# ' title heading and uses '## ' section headings."

const promptsSystemPrompt = "You write prompts for an image model. " +
	"Reply with one JSON object: {\"prompts\": [string]}. Prompts are in English and describe one scene each."

func articlePrompt(inputs domain.TaskInputs, m Material) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a %s %s article for %s.\n", inputs.Length, inputs.Style, inputs.Platform)
	if m.Title != "" {
		fmt.Fprintf(&b, "Rewrite the source article titled %q.\n", m.Title)
	}
	b.WriteString("Material:\n")
	for _, p := range m.Points {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

func imagePromptsPrompt(article jsoncfg.ArticlePayload, count int) string {
	return fmt.Sprintf("Write exactly %d image prompts illustrating the article %q.\nSummary: %s\n\n%s",
		count, article.Title, article.Summary, leadingWords(article.Body, 400))
}
