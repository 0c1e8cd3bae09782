// Package orchestrator owns the task lifecycle: creation, single-owner
// execution, progress reporting and the terminal write.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
	"contentfactory/internal/pipeline"
)

const (
	queuedMessage   = "queued"
	claimedMessage  = "processing started"
	completeMessage = "completed"

	defaultProgressRetries = 3
	defaultTerminalRetries = 10
	defaultRetryWait       = 200 * time.Millisecond
)

// Runner executes the generation stages for one task.
type Runner interface {
	Run(ctx context.Context, task *domain.Task, report pipeline.ProgressFunc) (domain.TaskResult, error)
}

// Options configures New.
type Options struct {
	Store     domain.TaskRepository
	Runner    Runner
	Observers []ProgressObserver
	Logger    *infra.Logger
	Metrics   *Metrics
	// ProgressRetries bounds retries of each progress write.
	ProgressRetries int
	// TerminalRetries bounds retries of the final status write. It is always
	// larger than ProgressRetries.
	TerminalRetries int
	RetryWait       time.Duration
}

// Orchestrator creates and executes tasks.
type Orchestrator struct {
	store      domain.TaskRepository
	runner     Runner
	observers  []ProgressObserver
	dispatcher Dispatcher
	logger     infra.Logger
	metrics    *Metrics
	retries    int
	retryWait  time.Duration
	terminal   int
	newID      func() string
}

// New builds an orchestrator. A dispatcher must be attached with
// SetDispatcher before CreateTask is used.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Runner == nil {
		return nil, errors.New("orchestrator: store and runner are required")
	}
	retries := opts.ProgressRetries
	if retries <= 0 {
		retries = defaultProgressRetries
	}
	terminal := opts.TerminalRetries
	if terminal <= retries {
		terminal = max(defaultTerminalRetries, 3*retries)
	}
	wait := opts.RetryWait
	if wait <= 0 {
		wait = defaultRetryWait
	}
	return &Orchestrator{
		store:     opts.Store,
		runner:    opts.Runner,
		observers: opts.Observers,
		logger:    infra.LoggerOrDiscard(opts.Logger),
		metrics:   opts.Metrics,
		retries:   retries,
		retryWait: wait,
		terminal:  terminal,
		newID:     uuid.NewString,
	}, nil
}

// SetDispatcher attaches the dispatcher used by CreateTask.
func (o *Orchestrator) SetDispatcher(d Dispatcher) { o.dispatcher = d }

// CreateTask validates inputs, stores a PENDING task and dispatches it. It
// returns as soon as the task is handed off.
func (o *Orchestrator) CreateTask(ctx context.Context, inputs domain.TaskInputs) (string, error) {
	inputs.Normalize()
	if err := inputs.Validate(); err != nil {
		return "", err
	}
	if o.dispatcher == nil {
		return "", errors.New("orchestrator: no dispatcher configured")
	}

	task := &domain.Task{
		ID:              o.newID(),
		Status:          domain.TaskStatusPending,
		ProgressMessage: queuedMessage,
		Inputs:          inputs,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	o.metrics.statusReached(domain.TaskStatusPending)
	o.publish(ctx, Update{TaskID: task.ID, Status: domain.TaskStatusPending, Message: queuedMessage, At: time.Now().UTC()})

	if err := o.dispatcher.Dispatch(ctx, task.ID); err != nil {
		o.logger.Error().Err(err).Str("task_id", task.ID).Msg("orchestrator: dispatch failed")
		o.finish(context.WithoutCancel(ctx), task.ID, domain.TaskStatusFailed, 0, nil, "dispatch failed: "+err.Error(), time.Now())
		return "", fmt.Errorf("dispatch task %s: %w", task.ID, err)
	}
	o.logger.Info().
		Str("task_id", task.ID).
		Str("mode", inputs.Mode).
		Str("length", inputs.Length).
		Str("image_strategy", inputs.ImageStrategy).
		Msg("orchestrator: task created")
	return task.ID, nil
}

// Get returns the current snapshot of a task.
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Task, error) {
	return o.store.GetTask(ctx, id)
}

// Execute runs a PENDING task to COMPLETED or FAILED. Tasks in any other
// status are left untouched. Failures, panics included, end in FAILED and
// are never returned to the caller.
func (o *Orchestrator) Execute(ctx context.Context, id string) {
	started := time.Now()
	logger := o.logger.With().Str("task_id", id).Logger()

	task, err := o.store.GetTask(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("orchestrator: load task failed")
		return
	}
	if task.Status != domain.TaskStatusPending {
		logger.Info().Str("status", string(task.Status)).Msg("orchestrator: task not pending, skipping")
		return
	}

	inputs := task.Inputs
	inputs.Normalize()
	if err := inputs.Validate(); err != nil {
		logger.Warn().Err(err).Msg("orchestrator: invalid inputs at execution start")
		o.finish(ctx, id, domain.TaskStatusFailed, task.Progress, nil, err.Error(), started)
		return
	}
	task.Inputs = inputs

	if err := o.store.ClaimTask(ctx, id, task.Progress, claimedMessage); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Info().Msg("orchestrator: task claimed elsewhere, skipping")
			return
		}
		logger.Error().Err(err).Msg("orchestrator: claim task failed")
		return
	}
	task.Status = domain.TaskStatusProcessing
	o.metrics.statusReached(domain.TaskStatusProcessing)
	o.publish(ctx, Update{TaskID: id, Status: domain.TaskStatusProcessing, Progress: task.Progress, Message: claimedMessage, At: time.Now().UTC()})
	logger.Info().Msg("orchestrator: task started")

	rep := newReporter(ctx, id, task.Progress, o.store, o.publish, logger, o.retries, o.retryWait)
	result, runErr := o.run(ctx, task, rep.Report)
	last, _ := rep.Close()

	if runErr != nil {
		logger.Error().Err(runErr).Int("progress", last).Msg("orchestrator: task failed")
		o.finish(ctx, id, domain.TaskStatusFailed, last, nil, runErr.Error(), started)
		return
	}
	o.finish(ctx, id, domain.TaskStatusCompleted, 100, &result, "", started)
}

func (o *Orchestrator) run(ctx context.Context, task *domain.Task, report pipeline.ProgressFunc) (result domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("task_id", task.ID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("orchestrator: pipeline panicked")
			err = fmt.Errorf("%w: panic: %v", domain.ErrFatalPipeline, r)
		}
	}()
	return o.runner.Run(ctx, task, report)
}

func (o *Orchestrator) finish(ctx context.Context, id string, status domain.TaskStatus, progress int, result *domain.TaskResult, errMsg string, started time.Time) {
	op := func() error {
		err := o.store.MarkTerminal(ctx, id, status, progress, result, errMsg)
		if errors.Is(err, domain.ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		return err
	}
	// a cancelled caller must not strand the task in PROCESSING
	ctx = context.WithoutCancel(ctx)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.retryWait
	policy.MaxInterval = 5 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.terminal)), ctx))
	if err != nil {
		o.logger.Error().
			Err(err).
			Str("task_id", id).
			Str("status", string(status)).
			Int("attempts", o.terminal+1).
			Msg("orchestrator: terminal write failed, task remains non-terminal in the store")
		return
	}

	o.metrics.statusReached(status)
	o.metrics.observeDuration(status, time.Since(started).Seconds())
	message := completeMessage
	if status == domain.TaskStatusFailed {
		message = errMsg
	}
	o.publish(ctx, Update{
		TaskID:   id,
		Status:   status,
		Progress: progress,
		Message:  message,
		Result:   result,
		Error:    errMsg,
		At:       time.Now().UTC(),
	})
	o.logger.Info().
		Str("task_id", id).
		Str("status", string(status)).
		Int("progress", progress).
		Dur("elapsed", time.Since(started)).
		Msg("orchestrator: task finished")
}

func (o *Orchestrator) publish(ctx context.Context, u Update) {
	for _, obs := range o.observers {
		obs.OnProgress(ctx, u)
	}
}

var _ Executor = (*Orchestrator)(nil)
