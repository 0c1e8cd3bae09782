package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
	"contentfactory/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskRepository.
type TaskRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewTaskRepository creates a task repository backed by PostgreSQL.
func NewTaskRepository(sql infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{sql: sql}
}

// CreateTask inserts a PENDING task record.
func (r *TaskRepositoryPG) CreateTask(ctx context.Context, task *domain.Task) error {
	inputs, err := json.Marshal(task.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertTask, task.ID, task.ProgressMessage, inputs)
	if err := row.Scan(&task.CreatedAt, &task.UpdatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.Status = domain.TaskStatusPending
	task.Progress = 0
	return nil
}

// GetTask fetches a task snapshot by id.
func (r *TaskRepositoryPG) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	var (
		task       domain.Task
		status     string
		inputsRaw  []byte
		resultJSON []byte
	)
	row := r.sql.QueryRow(ctx, sqlinline.QSelectTask, id)
	if err := row.Scan(
		&task.ID,
		&status,
		&task.Progress,
		&task.ProgressMessage,
		&inputsRaw,
		&resultJSON,
		&task.Error,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	if len(inputsRaw) > 0 {
		if err := json.Unmarshal(inputsRaw, &task.Inputs); err != nil {
			return nil, fmt.Errorf("decode task inputs: %w", err)
		}
	}
	if len(resultJSON) > 0 && task.Status == domain.TaskStatusCompleted {
		var result domain.TaskResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
		task.Result = &result
	}
	return &task, nil
}

// ClaimTask transitions PENDING -> PROCESSING.
func (r *TaskRepositoryPG) ClaimTask(ctx context.Context, id string, progress int, message string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QClaimTask, id, domain.ClampProgress(progress), message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim task %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// UpdateTaskProgress writes progress for a PROCESSING task without ever
// lowering the stored value.
func (r *TaskRepositoryPG) UpdateTaskProgress(ctx context.Context, id string, progress int, message string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateTaskProgress, id, domain.ClampProgress(progress), message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update progress %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkTerminal records COMPLETED or FAILED once.
func (r *TaskRepositoryPG) MarkTerminal(ctx context.Context, id string, status domain.TaskStatus, progress int, result *domain.TaskResult, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("mark terminal with %s: %w", status, domain.ErrInvalidTransition)
	}
	var resultJSON []byte
	if result != nil && status == domain.TaskStatusCompleted {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = raw
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkTaskTerminal, id, string(status), domain.ClampProgress(progress), nullableBytes(resultJSON), errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark %s %s: %w", id, status, domain.ErrInvalidTransition)
	}
	return nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.TaskRepository = (*TaskRepositoryPG)(nil)
