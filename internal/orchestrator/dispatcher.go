package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"contentfactory/internal/infra"
)

// ErrDispatcherClosed is returned once a dispatcher stops accepting work.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher hands a created task to whatever will execute it.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string) error
}

// Executor runs one task to a terminal status.
type Executor interface {
	Execute(ctx context.Context, taskID string)
}

// InlineDispatcher executes each task on its own goroutine in this process.
// Executions use the root context, never the caller's request context.
type InlineDispatcher struct {
	root   context.Context
	exec   Executor
	logger infra.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewInlineDispatcher builds a dispatcher bound to root.
func NewInlineDispatcher(root context.Context, exec Executor, logger *infra.Logger) *InlineDispatcher {
	if root == nil {
		root = context.Background()
	}
	return &InlineDispatcher{root: root, exec: exec, logger: infra.LoggerOrDiscard(logger)}
}

// Dispatch implements Dispatcher.
func (d *InlineDispatcher) Dispatch(_ context.Context, taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.exec.Execute(d.root, taskID)
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running ones or ctx.
func (d *InlineDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn().Msg("orchestrator: shutdown timed out with tasks still running")
		return ctx.Err()
	}
}

// TaskMessage is the queue payload.
type TaskMessage struct {
	TaskID string `json:"task_id"`
}

// Publisher is the subset of *amqp.Channel used to enqueue tasks.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDispatcher publishes task ids to a durable queue for cmd/worker.
type AMQPDispatcher struct {
	ch      Publisher
	queue   string
	timeout time.Duration
	logger  infra.Logger
}

// NewAMQPDispatcher publishes to queue through ch.
func NewAMQPDispatcher(ch Publisher, queue string, logger *infra.Logger) *AMQPDispatcher {
	return &AMQPDispatcher{ch: ch, queue: queue, timeout: 5 * time.Second, logger: infra.LoggerOrDiscard(logger)}
}

// Dispatch implements Dispatcher.
func (d *AMQPDispatcher) Dispatch(ctx context.Context, taskID string) error {
	body, err := json.Marshal(TaskMessage{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal task message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	err = d.ch.PublishWithContext(ctx,
		"",      // default exchange
		d.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    taskID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		d.logger.Error().Err(err).Str("task_id", taskID).Str("queue", d.queue).Msg("orchestrator: publish task failed")
		return fmt.Errorf("publish task %s: %w", taskID, err)
	}
	d.logger.Debug().Str("task_id", taskID).Str("queue", d.queue).Msg("orchestrator: task published")
	return nil
}

// ConsumeChannel is the subset of *amqp.Channel used by Consumer.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer executes task ids read from the queue. Deliveries are acked
// before execution starts, so a crashed worker never resumes a task.
type Consumer struct {
	ch          ConsumeChannel
	queue       string
	exec        Executor
	concurrency int
	logger      infra.Logger
}

// NewConsumer builds a consumer running at most concurrency tasks at once.
func NewConsumer(ch ConsumeChannel, queue string, exec Executor, concurrency int, logger *infra.Logger) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{ch: ch, queue: queue, exec: exec, concurrency: concurrency, logger: infra.LoggerOrDiscard(logger)}
}

// Run consumes until ctx is cancelled or the delivery channel closes, then
// waits for in-flight executions.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	tag := fmt.Sprintf("contentfactory-worker-%d", time.Now().UnixNano())
	deliveries, err := c.ch.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info().Str("queue", c.queue).Int("concurrency", c.concurrency).Msg("orchestrator: consumer started")

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("orchestrator: consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Warn().Msg("orchestrator: delivery channel closed")
				return nil
			}
			taskID, ok := c.accept(d)
			if !ok {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.exec.Execute(context.WithoutCancel(ctx), taskID)
			}()
		}
	}
}

func (c *Consumer) accept(d amqp.Delivery) (string, bool) {
	var msg TaskMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || strings.TrimSpace(msg.TaskID) == "" {
		c.logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("orchestrator: dropping malformed task message")
		if nerr := d.Nack(false, false); nerr != nil {
			c.logger.Warn().Err(nerr).Msg("orchestrator: nack failed")
		}
		return "", false
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error().Err(err).Str("task_id", msg.TaskID).Msg("orchestrator: ack failed, skipping task")
		return "", false
	}
	return strings.TrimSpace(msg.TaskID), true
}

var (
	_ Dispatcher = (*InlineDispatcher)(nil)
	_ Dispatcher = (*AMQPDispatcher)(nil)
)
