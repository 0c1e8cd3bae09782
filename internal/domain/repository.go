package domain

import "context"

// TaskRepository persists task lifecycle state.
type TaskRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	// ClaimTask moves a PENDING task to PROCESSING. Any other stored status
	// returns ErrInvalidTransition so only one execution owns a task.
	ClaimTask(ctx context.Context, id string, progress int, message string) error
	// UpdateTaskProgress only applies while the task is PROCESSING and the
	// stored progress does not exceed progress; otherwise it returns
	// ErrInvalidTransition.
	UpdateTaskProgress(ctx context.Context, id string, progress int, message string) error
	// MarkTerminal sets COMPLETED or FAILED exactly once. A second call
	// returns ErrInvalidTransition.
	MarkTerminal(ctx context.Context, id string, status TaskStatus, progress int, result *TaskResult, errMsg string) error
}

// ArticleRepository persists generated articles.
type ArticleRepository interface {
	SaveArticle(ctx context.Context, article *Article) (string, error)
}

// SourceRepository loads the inputs referenced by a task.
type SourceRepository interface {
	LoadInsights(ctx context.Context, ids []string) ([]Insight, error)
	LoadInsightsByTopic(ctx context.Context, topicID string) ([]Insight, error)
	LoadSourceArticle(ctx context.Context, id string) (*SourceArticle, error)
}
