package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"contentfactory/internal/domain"
)

type stubFeed struct {
	payloads chan []byte
	channel  string
	closed   bool
}

func (f *stubFeed) open(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	f.channel = channel
	return f.payloads, func() error {
		f.closed = true
		return nil
	}, nil
}

func encodeUpdate(t *testing.T, u Update) []byte {
	t.Helper()
	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	return raw
}

func nextUpdate(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed early")
		}
		return u
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for update")
	}
	return Update{}
}

func TestRedisEventsReplaysLastThenStreams(t *testing.T) {
	feed := &stubFeed{payloads: make(chan []byte, 4)}
	events := &RedisEvents{
		buffer: 4,
		last: func(ctx context.Context, taskID string) (Update, error) {
			return Update{TaskID: taskID, Status: domain.TaskStatusProcessing, Progress: 40}, nil
		},
		open: feed.open,
	}

	updates, unsubscribe := events.Subscribe("t1")
	if feed.channel != RedisChannel("t1") {
		t.Fatalf("channel = %q, want %q", feed.channel, RedisChannel("t1"))
	}
	if u := nextUpdate(t, updates); u.Progress != 40 {
		t.Fatalf("first progress = %d, want 40", u.Progress)
	}

	feed.payloads <- []byte("not json")
	feed.payloads <- encodeUpdate(t, Update{TaskID: "t1", Status: domain.TaskStatusProcessing, Progress: 70})
	feed.payloads <- encodeUpdate(t, Update{TaskID: "t1", Status: domain.TaskStatusCompleted, Progress: 100})

	if u := nextUpdate(t, updates); u.Progress != 70 {
		t.Fatalf("progress = %d, want 70", u.Progress)
	}
	if u := nextUpdate(t, updates); !u.Terminal() {
		t.Fatalf("status = %q, want terminal", u.Status)
	}

	unsubscribe()
	unsubscribe()
	if !feed.closed {
		t.Fatalf("pubsub not closed on unsubscribe")
	}
	if _, ok := <-updates; ok {
		t.Fatalf("stream still open after unsubscribe")
	}
}

func TestRedisEventsWithoutStoredUpdate(t *testing.T) {
	feed := &stubFeed{payloads: make(chan []byte, 1)}
	events := &RedisEvents{
		buffer: 1,
		last: func(ctx context.Context, taskID string) (Update, error) {
			return Update{}, domain.ErrNotFound
		},
		open: feed.open,
	}
	updates, unsubscribe := events.Subscribe("t2")
	defer unsubscribe()

	feed.payloads <- encodeUpdate(t, Update{TaskID: "t2", Status: domain.TaskStatusProcessing, Progress: 12})
	if u := nextUpdate(t, updates); u.Progress != 12 {
		t.Fatalf("progress = %d, want 12", u.Progress)
	}
}

func TestRedisEventsSubscribeFailureStaysSilent(t *testing.T) {
	events := &RedisEvents{
		buffer: 1,
		last: func(ctx context.Context, taskID string) (Update, error) {
			return Update{}, nil
		},
		open: func(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
			return nil, nil, errors.New("connection refused")
		},
	}
	updates, unsubscribe := events.Subscribe("t3")
	defer unsubscribe()

	select {
	case u, ok := <-updates:
		t.Fatalf("received %+v (open=%v), want silence", u, ok)
	case <-time.After(20 * time.Millisecond):
	}
}
