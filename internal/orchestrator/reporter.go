package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
)

// reporter serialises progress for one task: callers enqueue, a single
// goroutine persists then notifies observers in order.
type reporter struct {
	ctx       context.Context
	taskID    string
	store     domain.TaskRepository
	notify    func(context.Context, Update)
	logger    infra.Logger
	retries   int
	retryWait time.Duration

	updates chan Update
	done    chan struct{}

	mu      sync.Mutex
	last    int
	message string
	closed  bool
}

func newReporter(ctx context.Context, taskID string, start int, store domain.TaskRepository, notify func(context.Context, Update), logger infra.Logger, retries int, retryWait time.Duration) *reporter {
	r := &reporter{
		ctx:       ctx,
		taskID:    taskID,
		store:     store,
		notify:    notify,
		logger:    logger,
		retries:   retries,
		retryWait: retryWait,
		updates:   make(chan Update, 64),
		done:      make(chan struct{}),
		last:      start,
	}
	go r.loop()
	return r
}

// Report enqueues progress. Values below the last reported one are raised
// to it.
func (r *reporter) Report(progress int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	p := domain.ClampProgress(progress)
	if p < r.last {
		p = r.last
	}
	r.last = p
	r.message = message
	r.updates <- Update{
		TaskID:   r.taskID,
		Status:   domain.TaskStatusProcessing,
		Progress: p,
		Message:  message,
		At:       time.Now().UTC(),
	}
}

// Close stops accepting reports, waits for pending writes and returns the
// last progress value and message.
func (r *reporter) Close() (int, string) {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.updates)
	}
	last, message := r.last, r.message
	r.mu.Unlock()
	<-r.done
	return last, message
}

func (r *reporter) loop() {
	defer close(r.done)
	for u := range r.updates {
		if err := r.persist(u); err != nil {
			r.logger.Warn().
				Err(err).
				Str("task_id", r.taskID).
				Int("progress", u.Progress).
				Msg("orchestrator: progress write failed")
			continue
		}
		if r.notify != nil {
			r.notify(r.ctx, u)
		}
	}
}

func (r *reporter) persist(u Update) error {
	op := func() error {
		err := r.store.UpdateTaskProgress(r.ctx, u.TaskID, u.Progress, u.Message)
		if errors.Is(err, domain.ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryWait
	policy.MaxInterval = 8 * r.retryWait
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.retries)), r.ctx))
}
