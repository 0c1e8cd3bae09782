package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"contentfactory/internal/batch"
	"contentfactory/internal/domain"
	"contentfactory/internal/domain/jsoncfg"
	"contentfactory/internal/modification"
	"contentfactory/internal/providers/image"
	"contentfactory/internal/providers/text"
)

type stubSources struct {
	insights []domain.Insight
	source   *domain.SourceArticle
	err      error
}

func (s *stubSources) LoadInsights(ctx context.Context, ids []string) ([]domain.Insight, error) {
	return s.insights, s.err
}

func (s *stubSources) LoadInsightsByTopic(ctx context.Context, topicID string) ([]domain.Insight, error) {
	return s.insights, s.err
}

func (s *stubSources) LoadSourceArticle(ctx context.Context, id string) (*domain.SourceArticle, error) {
	if s.source == nil {
		return nil, domain.ErrNotFound
	}
	return s.source, s.err
}

type stubArticles struct {
	saved []*domain.Article
	err   error
}

func (s *stubArticles) SaveArticle(ctx context.Context, article *domain.Article) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, article)
	return fmt.Sprintf("article-%d", len(s.saved)), nil
}

type stubText struct {
	article json.RawMessage
	prompts json.RawMessage
	err     error
}

func (s *stubText) GenerateStructured(ctx context.Context, req text.StructuredRequest) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if req.SystemPrompt == articleSystemPrompt {
		return s.article, nil
	}
	return s.prompts, nil
}

type stubImages struct {
	mu      sync.Mutex
	prompts []string
	fail    func(req image.Request) bool
}

func (s *stubImages) Generate(ctx context.Context, req image.Request) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()
	if s.fail != nil && s.fail(req) {
		return "", errors.New("render failed")
	}
	return "https://img.example.com/" + req.RequestID + ".png", nil
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (l *progressLog) report(progress int, message string) {
	l.mu.Lock()
	l.values = append(l.values, progress)
	l.mu.Unlock()
}

func (l *progressLog) assertNonDecreasing(t *testing.T) {
	t.Helper()
	for i := 1; i < len(l.values); i++ {
		if l.values[i] < l.values[i-1] {
			t.Fatalf("progress went backwards: %v", l.values)
		}
	}
}

func testBatchConfig() batch.Config {
	return batch.Config{
		ConcurrencyLimit:  2,
		PerItemTimeout:    time.Second,
		MaxRetriesPerItem: 0,
		BackoffBase:       time.Millisecond,
		BackoffCap:        time.Millisecond,
	}
}

func sampleInsights() []domain.Insight {
	return []domain.Insight{
		{ID: "i1", TopicID: "t", Content: "Urban beekeeping doubled in Lisbon over five years."},
		{ID: "i2", TopicID: "t", Content: "Rooftop hives need shade and a nearby water source."},
		{ID: "i3", TopicID: "t", Content: "Local honey sells at twice the supermarket price."},
	}
}

func newTestPipeline(t *testing.T, sources *stubSources, articles *stubArticles, gen text.Generator, runner BatchRunner, engine *modification.Engine) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Sources:       sources,
		Articles:      articles,
		Text:          gen,
		Batch:         runner,
		Modifications: engine,
		BatchConfig:   testBatchConfig(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestRunTextFailureFallsBackToTemplate(t *testing.T) {
	sources := &stubSources{insights: sampleInsights()}
	articles := &stubArticles{}
	gen := &stubText{err: fmt.Errorf("%w: gave up", domain.ErrUpstreamTimeout)}
	images := &stubImages{}
	p := newTestPipeline(t, sources, articles, gen, batch.New(images, nil, nil, nil), nil)

	task := &domain.Task{ID: "task-1", Inputs: domain.TaskInputs{Mode: domain.ModeTopic, TopicID: "t", Length: "short", ImageStrategy: "minimal"}}
	progress := &progressLog{}
	res, err := p.Run(context.Background(), task, progress.report)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.TextFallback {
		t.Fatalf("TextFallback = false, want true")
	}
	if len(articles.saved) != 1 {
		t.Fatalf("saved articles = %d, want 1", len(articles.saved))
	}
	body := articles.saved[0].Body
	for _, in := range sampleInsights()[:2] {
		if !strings.Contains(body, in.Content) {
			t.Fatalf("body missing insight %q:\n%s", in.Content, body)
		}
	}
	if res.ImageCount != 1 {
		t.Fatalf("ImageCount = %d, want 1", res.ImageCount)
	}
	if res.ArticleID != "article-1" {
		t.Fatalf("ArticleID = %q, want article-1", res.ArticleID)
	}
	if res.WordCount == 0 {
		t.Fatalf("WordCount = 0")
	}
	progress.assertNonDecreasing(t)
	if last := progress.values[len(progress.values)-1]; last != progressPersistStart {
		t.Fatalf("last progress = %d, want %d", last, progressPersistStart)
	}
}

type recordingRunner struct {
	inner *batch.Generator
	jobs  []batch.Job
}

func (r *recordingRunner) Run(ctx context.Context, jobs []batch.Job, cfg batch.Config) batch.Result {
	r.jobs = jobs
	return r.inner.Run(ctx, jobs, cfg)
}

func TestRunRichArticleUsesDistinctVariations(t *testing.T) {
	body := "# Bees On The Roof\n\n## Intro\n\nhello\n\n## Hives\n\na\n\n## Water\n\nb\n\n## Shade\n\nc\n\n## Honey\n\nd\n\n## Market\n\ne\n"
	gen := &stubText{
		article: jsoncfg.MustMarshal(jsoncfg.ArticlePayload{Title: "Bees On The Roof", Summary: "s", Body: body, Tags: []string{"Bees"}}),
		prompts: jsoncfg.MustMarshal(jsoncfg.ImagePromptsPayload{Prompts: []string{"a rooftop hive", "a jar of honey"}}),
	}
	articles := &stubArticles{}
	images := &stubImages{}
	runner := &recordingRunner{inner: batch.New(images, nil, nil, nil)}
	engine := modification.NewEngine(modification.DefaultCatalog(), rand.New(rand.NewSource(7)), nil)
	p := newTestPipeline(t, &stubSources{insights: sampleInsights()}, articles, gen, runner, engine)

	task := &domain.Task{ID: "task-2", Inputs: domain.TaskInputs{
		Mode: domain.ModeTopic, TopicID: "t", Length: "short", ImageStrategy: "rich", PromptVariation: true,
	}}
	res, err := p.Run(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.TextFallback {
		t.Fatalf("TextFallback = true, want false")
	}
	if len(runner.jobs) != 5 {
		t.Fatalf("jobs = %d, want 5", len(runner.jobs))
	}
	seen := map[string]bool{}
	for _, job := range runner.jobs {
		key := job.Modifications.Canonical()
		if key == "" || seen[key] {
			t.Fatalf("modification set %q empty or repeated", key)
		}
		seen[key] = true
		if !strings.Contains(job.Prompt(), "Visual variation: ") {
			t.Fatalf("prompt %q missing variation", job.Prompt())
		}
	}
	if runner.jobs[0].BasePrompt != "a rooftop hive" || !strings.HasPrefix(runner.jobs[2].BasePrompt, "Editorial illustration") {
		t.Fatalf("unexpected base prompts: %q, %q", runner.jobs[0].BasePrompt, runner.jobs[2].BasePrompt)
	}
	if res.ImageCount != 5 {
		t.Fatalf("ImageCount = %d, want 5", res.ImageCount)
	}
	saved := articles.saved[0]
	if strings.Contains(strings.SplitN(saved.Body, "## Hives", 2)[0], "![") {
		t.Fatalf("intro section illustrated:\n%s", saved.Body)
	}
	if got := saved.Metadata["prompt_fallbacks"]; got != 3 {
		t.Fatalf("prompt_fallbacks = %v, want 3", got)
	}
	if saved.Tags[0] != "bees" {
		t.Fatalf("tags = %v", saved.Tags)
	}
}

func TestRunPartialImageFailureStillCompletes(t *testing.T) {
	images := &stubImages{fail: func(req image.Request) bool { return strings.HasSuffix(req.RequestID, "-01") }}
	articles := &stubArticles{}
	p := newTestPipeline(t, &stubSources{insights: sampleInsights()}, articles, nil, batch.New(images, nil, nil, nil), nil)

	task := &domain.Task{ID: "task-3", Inputs: domain.TaskInputs{Mode: domain.ModeTopic, TopicID: "t", Length: "short", ImageStrategy: "auto"}}
	res, err := p.Run(context.Background(), task, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.FailedImages != 1 {
		t.Fatalf("FailedImages = %d, want 1", res.FailedImages)
	}
	if res.ImageCount > 3 {
		t.Fatalf("ImageCount = %d, want at most 3", res.ImageCount)
	}
}

func TestRunFatalErrors(t *testing.T) {
	cases := []struct {
		name     string
		sources  *stubSources
		articles *stubArticles
		inputs   domain.TaskInputs
	}{
		{
			name:     "missing source article",
			sources:  &stubSources{},
			articles: &stubArticles{},
			inputs:   domain.TaskInputs{Mode: domain.ModeDirect, SourceArticleID: "missing"},
		},
		{
			name:     "no insights",
			sources:  &stubSources{},
			articles: &stubArticles{},
			inputs:   domain.TaskInputs{Mode: domain.ModeTopic, TopicID: "t"},
		},
		{
			name:     "persistence failure",
			sources:  &stubSources{insights: sampleInsights()},
			articles: &stubArticles{err: errors.New("disk full")},
			inputs:   domain.TaskInputs{Mode: domain.ModeTopic, TopicID: "t", ImageStrategy: "minimal"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPipeline(t, tc.sources, tc.articles, nil, batch.New(&stubImages{}, nil, nil, nil), nil)
			_, err := p.Run(context.Background(), &domain.Task{ID: "x", Inputs: tc.inputs}, nil)
			if !errors.Is(err, domain.ErrFatalPipeline) {
				t.Fatalf("Run() error = %v, want ErrFatalPipeline", err)
			}
		})
	}
}

func TestImageCount(t *testing.T) {
	cases := []struct {
		length, strategy string
		want             int
	}{
		{"short", "minimal", 1},
		{"long", "minimal", 1},
		{"short", "rich", 5},
		{"medium", "rich", 6},
		{"long", "rich", 8},
		{"short", "auto", 4},
		{"medium", "auto", 5},
		{"long", "auto", 6},
		{"epic", "auto", 5},
		{"short", "lavish", 4},
		{"", "", 5},
	}
	for _, tc := range cases {
		if got := ImageCount(tc.length, tc.strategy); got != tc.want {
			t.Fatalf("ImageCount(%q, %q) = %d, want %d", tc.length, tc.strategy, got, tc.want)
		}
	}
}

func TestCompletePrompts(t *testing.T) {
	got, padded := completePrompts([]string{"a", " ", "b", "c"}, 2, "T")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" || padded != 0 {
		t.Fatalf("completePrompts truncate = %v, %d", got, padded)
	}
	got, padded = completePrompts([]string{"a"}, 3, "T")
	if len(got) != 3 || padded != 2 || got[1] != FallbackPrompt("T", 1) {
		t.Fatalf("completePrompts pad = %v, %d", got, padded)
	}
}

func TestFallbackArticleDirectMode(t *testing.T) {
	src := &domain.SourceArticle{
		Title:   "Night Markets",
		Content: "First paragraph about stalls.\n\nSecond paragraph about food.\n\nThird paragraph.",
	}
	inputs := domain.TaskInputs{Style: "casual", Platform: "blog"}
	payload := FallbackArticle(materialFromSource(src), inputs)

	if payload.Title != "Night Markets" {
		t.Fatalf("Title = %q, want Night Markets", payload.Title)
	}
	for _, want := range []string{"First paragraph about stalls.", "Second paragraph about food."} {
		if !strings.Contains(payload.Body, want) {
			t.Fatalf("body missing %q", want)
		}
	}
	if err := payload.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestFallbackArticleTitleFromInsight(t *testing.T) {
	payload := FallbackArticle(materialFromInsights(sampleInsights()), domain.TaskInputs{})
	if payload.Title != "Urban Beekeeping Doubled In Lisbon Over Five Years" {
		t.Fatalf("Title = %q", payload.Title)
	}
}
