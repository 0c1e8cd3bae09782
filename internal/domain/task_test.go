package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusProcessing, true},
		{TaskStatusPending, TaskStatusFailed, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusProcessing, TaskStatusCompleted, true},
		{TaskStatusProcessing, TaskStatusFailed, true},
		{TaskStatusProcessing, TaskStatusPending, false},
		{TaskStatusCompleted, TaskStatusFailed, false},
		{TaskStatusFailed, TaskStatusCompleted, false},
		{TaskStatusFailed, TaskStatusProcessing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskInputsNormalizeDefaults(t *testing.T) {
	in := TaskInputs{InsightIDs: []string{" a ", "", "b"}}
	in.Normalize()

	if in.Length != LengthMedium {
		t.Fatalf("Length = %q, want %q", in.Length, LengthMedium)
	}
	if in.ImageStrategy != ImageStrategyAuto {
		t.Fatalf("ImageStrategy = %q, want %q", in.ImageStrategy, ImageStrategyAuto)
	}
	if in.Mode != ModeTopic {
		t.Fatalf("Mode = %q, want %q", in.Mode, ModeTopic)
	}
	if len(in.InsightIDs) != 2 || in.InsightIDs[0] != "a" || in.InsightIDs[1] != "b" {
		t.Fatalf("InsightIDs = %#v", in.InsightIDs)
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestTaskInputsValidateModes(t *testing.T) {
	tests := []struct {
		name    string
		inputs  TaskInputs
		wantErr bool
	}{
		{name: "topic by id", inputs: TaskInputs{Mode: ModeTopic, TopicID: "t1"}},
		{name: "direct", inputs: TaskInputs{Mode: ModeDirect, SourceArticleID: "s1"}},
		{name: "inferred direct", inputs: TaskInputs{SourceArticleID: "s1"}},
		{name: "topic without source", inputs: TaskInputs{Mode: ModeTopic}, wantErr: true},
		{name: "direct without article", inputs: TaskInputs{Mode: ModeDirect}, wantErr: true},
		{name: "both sources", inputs: TaskInputs{Mode: ModeDirect, SourceArticleID: "s1", TopicID: "t1"}, wantErr: true},
		{name: "bad length", inputs: TaskInputs{Length: "epic", TopicID: "t1"}, wantErr: true},
		{name: "bad strategy", inputs: TaskInputs{ImageStrategy: "all", TopicID: "t1"}, wantErr: true},
		{name: "bad mode", inputs: TaskInputs{Mode: "mixed", TopicID: "t1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.inputs
			in.Normalize()
			err := in.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("Validate() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestClassifyUpstream(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ErrUpstreamTimeout},
		{name: "rate limit", err: errors.New("status 429: slow down"), want: ErrUpstreamRateLimited},
		{name: "generic", err: errors.New("status 500"), want: ErrUpstreamError},
		{name: "already classified", err: fmt.Errorf("decode: %w", ErrInvalidResponseFormat), want: ErrInvalidResponseFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyUpstream(tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("ClassifyUpstream(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if ClassifyUpstream(nil) != nil {
		t.Fatalf("ClassifyUpstream(nil) should be nil")
	}
}

func TestClampProgress(t *testing.T) {
	if got := ClampProgress(-3); got != 0 {
		t.Fatalf("ClampProgress(-3) = %d, want 0", got)
	}
	if got := ClampProgress(140); got != 100 {
		t.Fatalf("ClampProgress(140) = %d, want 100", got)
	}
	if got := ClampProgress(42); got != 42 {
		t.Fatalf("ClampProgress(42) = %d, want 42", got)
	}
}
