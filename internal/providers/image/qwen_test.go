package image

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"contentfactory/internal/domain"
)

func qwenSuccess(imageURL string) map[string]any {
	return map[string]any{
		"output": map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": []any{map[string]any{"image": imageURL}},
					},
				},
			},
		},
		"request_id": "req-1",
	}
}

func TestQwenGenerateTextToImage(t *testing.T) {
	var captured qwenRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", got)
		}
		if r.URL.Path != generationPath {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(qwenSuccess("https://example.com/out.png"))
	}))
	defer ts.Close()

	gen := NewQwenGenerator(QwenOptions{APIKey: "test-key", BaseURL: ts.URL})
	got, err := gen.Generate(context.Background(), Request{Prompt: "a latte on a desk", Size: "1664*928", RequestID: "task-1"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "https://example.com/out.png" {
		t.Fatalf("url = %q", got)
	}
	if captured.Model != defaultQwenModel {
		t.Fatalf("model = %q, want %q", captured.Model, defaultQwenModel)
	}
	if captured.Parameters.Size != "1664*928" {
		t.Fatalf("size = %q", captured.Parameters.Size)
	}
	content := captured.Input.Messages[0].Content
	if len(content) != 1 || content[0].Text != "a latte on a desk" {
		t.Fatalf("content = %+v", content)
	}
}

func TestQwenGenerateWithReferenceUsesEditModel(t *testing.T) {
	var captured qwenRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(qwenSuccess("https://example.com/edit.png"))
	}))
	defer ts.Close()

	gen := NewQwenGenerator(QwenOptions{APIKey: "test-key", BaseURL: ts.URL})
	if _, err := gen.Generate(context.Background(), Request{Prompt: "warmer light", ReferenceURL: "https://example.com/in.png"}); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if captured.Model != defaultQwenEditModel {
		t.Fatalf("model = %q, want %q", captured.Model, defaultQwenEditModel)
	}
	content := captured.Input.Messages[0].Content
	if len(content) != 2 || content[0].Image != "https://example.com/in.png" || content[1].Text != "warmer light" {
		t.Fatalf("content = %+v", content)
	}
}

func TestQwenGenerateClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"code":"Throttling","message":"slow down"}`, want: domain.ErrUpstreamRateLimited},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, body: `{}`, want: domain.ErrUpstreamTimeout},
		{name: "server error", status: http.StatusInternalServerError, body: `{"code":"InternalError","message":"boom"}`, want: domain.ErrUpstreamError},
		{name: "empty image", status: http.StatusOK, body: `{"output":{"choices":[]}}`, want: domain.ErrInvalidResponseFormat},
		{name: "malformed", status: http.StatusOK, body: `not json`, want: domain.ErrInvalidResponseFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			gen := NewQwenGenerator(QwenOptions{APIKey: "k", BaseURL: ts.URL})
			_, err := gen.Generate(context.Background(), Request{Prompt: "p"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("Generate error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestQwenGenerateMissingKey(t *testing.T) {
	gen := NewQwenGenerator(QwenOptions{})
	_, err := gen.Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrMissingAPIKey) || !errors.Is(err, domain.ErrUpstreamError) {
		t.Fatalf("Generate error = %v, want ErrMissingAPIKey", err)
	}
}

type memoryStore struct {
	writes map[string][]byte
}

func (m *memoryStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if m.writes == nil {
		m.writes = map[string][]byte{}
	}
	m.writes[key] = data
	return key, nil
}

func TestQwenGeneratePersistsToStore(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8})
			return
		}
		_ = json.NewEncoder(w).Encode(qwenSuccess(ts.URL + "/files/out.jpg"))
	}))
	defer ts.Close()

	store := &memoryStore{}
	gen := NewQwenGenerator(QwenOptions{APIKey: "k", BaseURL: ts.URL, Store: store, PublicBaseURL: "https://cdn.example.com/static"})
	got, err := gen.Generate(context.Background(), Request{Prompt: "p", RequestID: "task-9"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !strings.HasPrefix(got, "https://cdn.example.com/static/generated/task-9/") || !strings.HasSuffix(got, ".jpg") {
		t.Fatalf("url = %q", got)
	}
	if len(store.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(store.writes))
	}
}

func TestSyntheticGenerateWritesPNG(t *testing.T) {
	store := &memoryStore{}
	gen := NewSyntheticGenerator(store, "http://localhost:8080/static", nil)
	got, err := gen.Generate(context.Background(), Request{Prompt: "latte art", Size: "1664*928", RequestID: "task-2"})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if !strings.HasPrefix(got, "http://localhost:8080/static/synthetic/task-2/") {
		t.Fatalf("url = %q", got)
	}
	for _, data := range store.writes {
		if len(data) < 8 || string(data[1:4]) != "PNG" {
			t.Fatalf("stored data is not a PNG")
		}
	}

	again, _ := gen.Generate(context.Background(), Request{Prompt: "latte art", Size: "1664*928", RequestID: "task-2"})
	if again != got {
		t.Fatalf("synthetic output not deterministic: %q vs %q", again, got)
	}
}

func TestParseSizeAndPlatformAspect(t *testing.T) {
	if w, h := ParseSize("1664*928"); w != 1664 || h != 928 {
		t.Fatalf("ParseSize = %dx%d", w, h)
	}
	if w, h := ParseSize("bogus"); w != 1024 || h != 1024 {
		t.Fatalf("ParseSize(bogus) = %dx%d", w, h)
	}
	if got := AspectRatioSize(PlatformAspect("instagram")); got != "1140*1472" {
		t.Fatalf("instagram size = %q", got)
	}
	if got := AspectRatioSize(PlatformAspect("unknown")); got != DefaultSize {
		t.Fatalf("unknown size = %q", got)
	}
}
