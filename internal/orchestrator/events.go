package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"contentfactory/internal/infra"
)

// Subscriber hands out per-task update streams. The returned func stops the
// stream and may be called more than once.
type Subscriber interface {
	Subscribe(taskID string) (<-chan Update, func())
}

// RedisEvents reads the per-task channels written by RedisPublisher, so an
// API process sees progress from tasks executed by workers elsewhere.
type RedisEvents struct {
	buffer int
	logger infra.Logger

	last func(ctx context.Context, taskID string) (Update, error)
	open func(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// NewRedisEvents subscribes through client. buffer sizes each stream.
func NewRedisEvents(client redis.UniversalClient, buffer int, logger *infra.Logger) *RedisEvents {
	if buffer <= 0 {
		buffer = 16
	}
	reader := NewRedisPublisher(client, 0, logger)
	return &RedisEvents{
		buffer: buffer,
		logger: infra.LoggerOrDiscard(logger),
		last:   reader.LastUpdate,
		open: func(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
			return openPubSub(ctx, client, channel)
		},
	}
}

func openPubSub(ctx context.Context, client redis.UniversalClient, channel string) (<-chan []byte, func() error, error) {
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	out := make(chan []byte)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, ps.Close, nil
}

// Subscribe starts with the last stored update, when there is one, followed
// by live updates. If Redis is unreachable the stream stays silent and
// callers fall back to polling.
func (e *RedisEvents) Subscribe(taskID string) (<-chan Update, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	payloads, closeFn, err := e.open(ctx, RedisChannel(taskID))
	if err != nil {
		cancel()
		e.logger.Warn().Err(err).Str("task_id", taskID).Msg("orchestrator: redis subscribe failed")
		return make(chan Update), func() {}
	}

	out := make(chan Update, e.buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		if u, err := e.last(ctx, taskID); err == nil {
			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-payloads:
				if !ok {
					return
				}
				var u Update
				if err := json.Unmarshal(raw, &u); err != nil {
					e.logger.Warn().Err(err).Str("task_id", taskID).Msg("orchestrator: malformed redis update")
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			cancel()
			_ = closeFn()
			<-done
		})
	}
}

var (
	_ Subscriber = (*Hub)(nil)
	_ Subscriber = (*RedisEvents)(nil)
)
