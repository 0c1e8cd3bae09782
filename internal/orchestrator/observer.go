package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"contentfactory/internal/domain"
	"contentfactory/internal/infra"
)

// Update is one progress or status change published to observers.
type Update struct {
	TaskID   string             `json:"task_id"`
	Status   domain.TaskStatus  `json:"status"`
	Progress int                `json:"progress"`
	Message  string             `json:"message,omitempty"`
	Result   *domain.TaskResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
	At       time.Time          `json:"at"`
}

// Terminal reports whether u carries a final status.
func (u Update) Terminal() bool { return u.Status.IsTerminal() }

// ProgressObserver receives task updates after they are persisted.
// Implementations must not block.
type ProgressObserver interface {
	OnProgress(ctx context.Context, u Update)
}

// Hub fans updates out to in-process subscribers keyed by task id.
// Slow subscribers miss updates rather than stall the publisher.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[chan Update]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer updates.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{topics: make(map[string]map[chan Update]struct{}), buffer: buffer}
}

// Subscribe registers a channel for taskID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(taskID string) (<-chan Update, func()) {
	ch := make(chan Update, h.buffer)
	h.mu.Lock()
	subs, ok := h.topics[taskID]
	if !ok {
		subs = make(map[chan Update]struct{})
		h.topics[taskID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.topics[taskID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.topics, taskID)
				}
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions for taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[taskID])
}

// OnProgress implements ProgressObserver.
func (h *Hub) OnProgress(_ context.Context, u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.topics[u.TaskID] {
		select {
		case ch <- u:
		default:
			// subscriber not reading
		}
	}
}

// RedisPublisher publishes updates on a per-task pub/sub channel and keeps
// the latest update under a key for late readers.
type RedisPublisher struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger infra.Logger
}

// NewRedisPublisher wraps client. ttl bounds how long the last update is kept.
func NewRedisPublisher(client redis.UniversalClient, ttl time.Duration, logger *infra.Logger) *RedisPublisher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPublisher{client: client, ttl: ttl, logger: infra.LoggerOrDiscard(logger)}
}

// RedisChannel is the pub/sub channel for taskID.
func RedisChannel(taskID string) string { return "contentfactory:task:" + taskID }

// RedisLastKey holds the most recent update for taskID.
func RedisLastKey(taskID string) string { return RedisChannel(taskID) + ":last" }

// OnProgress implements ProgressObserver.
func (p *RedisPublisher) OnProgress(ctx context.Context, u Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		p.logger.Error().Err(err).Str("task_id", u.TaskID).Msg("orchestrator: marshal update")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, RedisLastKey(u.TaskID), payload, p.ttl)
	pipe.Publish(ctx, RedisChannel(u.TaskID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn().Err(err).Str("task_id", u.TaskID).Int("progress", u.Progress).Msg("orchestrator: redis publish failed")
	}
}

// LastUpdate reads the most recent update stored for taskID.
func (p *RedisPublisher) LastUpdate(ctx context.Context, taskID string) (Update, error) {
	var u Update
	raw, err := p.client.Get(ctx, RedisLastKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return u, domain.ErrNotFound
		}
		return u, err
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return u, err
	}
	return u, nil
}

var (
	_ ProgressObserver = (*Hub)(nil)
	_ ProgressObserver = (*RedisPublisher)(nil)
)
