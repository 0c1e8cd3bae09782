package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus enumerates the lifecycle states of a creation task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusProcessing || next == TaskStatusFailed
	case TaskStatusProcessing:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

const (
	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"

	ImageStrategyMinimal = "minimal"
	ImageStrategyRich    = "rich"
	ImageStrategyAuto    = "auto"

	ModeTopic  = "topic"
	ModeDirect = "direct"

	DefaultStyle    = "informative"
	DefaultPlatform = "blog"
)

// TaskInputs are the immutable parameters chosen when a task is created.
type TaskInputs struct {
	Length            string   `json:"length"`
	Style             string   `json:"style"`
	Platform          string   `json:"platform"`
	ImageStrategy     string   `json:"image_strategy"`
	Mode              string   `json:"mode"`
	TopicID           string   `json:"topic_id,omitempty"`
	InsightIDs        []string `json:"insight_ids,omitempty"`
	SourceArticleID   string   `json:"source_article_id,omitempty"`
	PromptVariation   bool     `json:"prompt_variation"`
	ReferenceImageURL string   `json:"reference_image_url,omitempty"`
}

// Normalize applies defaults and trims free-form values.
func (in *TaskInputs) Normalize() {
	if in == nil {
		return
	}
	in.Length = strings.ToLower(strings.TrimSpace(in.Length))
	if in.Length == "" {
		in.Length = LengthMedium
	}
	in.ImageStrategy = strings.ToLower(strings.TrimSpace(in.ImageStrategy))
	if in.ImageStrategy == "" {
		in.ImageStrategy = ImageStrategyAuto
	}
	in.Style = strings.TrimSpace(in.Style)
	if in.Style == "" {
		in.Style = DefaultStyle
	}
	in.Platform = strings.TrimSpace(in.Platform)
	if in.Platform == "" {
		in.Platform = DefaultPlatform
	}
	in.TopicID = strings.TrimSpace(in.TopicID)
	in.SourceArticleID = strings.TrimSpace(in.SourceArticleID)
	in.ReferenceImageURL = strings.TrimSpace(in.ReferenceImageURL)
	ids := in.InsightIDs[:0]
	for _, id := range in.InsightIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	in.InsightIDs = ids
	in.Mode = strings.ToLower(strings.TrimSpace(in.Mode))
	if in.Mode == "" {
		if in.SourceArticleID != "" {
			in.Mode = ModeDirect
		} else {
			in.Mode = ModeTopic
		}
	}
}

// Validate enforces the mutually exclusive source modes.
func (in TaskInputs) Validate() error {
	switch in.Length {
	case LengthShort, LengthMedium, LengthLong:
	default:
		return fmt.Errorf("%w: length must be one of short, medium, long", ErrInvalidInput)
	}
	switch in.ImageStrategy {
	case ImageStrategyMinimal, ImageStrategyRich, ImageStrategyAuto:
	default:
		return fmt.Errorf("%w: image_strategy must be one of minimal, rich, auto", ErrInvalidInput)
	}
	hasTopic := in.TopicID != "" || len(in.InsightIDs) > 0
	switch in.Mode {
	case ModeTopic:
		if !hasTopic {
			return fmt.Errorf("%w: topic mode requires topic_id or insight_ids", ErrInvalidInput)
		}
		if in.SourceArticleID != "" {
			return fmt.Errorf("%w: topic mode does not accept source_article_id", ErrInvalidInput)
		}
	case ModeDirect:
		if in.SourceArticleID == "" {
			return fmt.Errorf("%w: direct mode requires source_article_id", ErrInvalidInput)
		}
		if hasTopic {
			return fmt.Errorf("%w: direct mode does not accept topic_id or insight_ids", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: mode must be topic or direct", ErrInvalidInput)
	}
	return nil
}

// TaskResult is populated only once a task completes.
type TaskResult struct {
	ArticleID      string `json:"article_id"`
	WordCount      int    `json:"word_count"`
	ImageCount     int    `json:"image_count"`
	DegradedImages int    `json:"degraded_images"`
	FailedImages   int    `json:"failed_images"`
	TextFallback   bool   `json:"text_fallback"`
}

// Task tracks one creation request through its status machine.
type Task struct {
	ID              string
	Status          TaskStatus
	Progress        int
	ProgressMessage string
	Inputs          TaskInputs
	Result          *TaskResult
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ClampProgress bounds p to 0..100.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
