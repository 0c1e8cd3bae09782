package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"contentfactory/internal/domain"
)

func TestHubFanOutAndUnsubscribe(t *testing.T) {
	hub := NewHub(1)
	first, unsubFirst := hub.Subscribe("t1")
	second, unsubSecond := hub.Subscribe("t1")
	other, unsubOther := hub.Subscribe("t2")
	defer unsubOther()

	hub.OnProgress(context.Background(), Update{TaskID: "t1", Progress: 10})
	// buffer is full, this one is dropped for both subscribers
	hub.OnProgress(context.Background(), Update{TaskID: "t1", Progress: 20})

	for _, ch := range []<-chan Update{first, second} {
		u := <-ch
		if u.Progress != 10 {
			t.Fatalf("Progress = %d, want 10", u.Progress)
		}
	}
	select {
	case u := <-other:
		t.Fatalf("unexpected update for t2: %+v", u)
	default:
	}

	unsubFirst()
	unsubFirst()
	if _, ok := <-first; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	if n := hub.Subscribers("t1"); n != 1 {
		t.Fatalf("Subscribers = %d, want 1", n)
	}
	unsubSecond()
	if n := hub.Subscribers("t1"); n != 0 {
		t.Fatalf("Subscribers = %d, want 0", n)
	}
	hub.OnProgress(context.Background(), Update{TaskID: "t1", Progress: 30})
}

func TestUpdateTerminal(t *testing.T) {
	if (Update{Status: domain.TaskStatusProcessing}).Terminal() {
		t.Fatalf("PROCESSING reported terminal")
	}
	if !(Update{Status: domain.TaskStatusFailed}).Terminal() {
		t.Fatalf("FAILED not reported terminal")
	}
}

func TestRedisKeys(t *testing.T) {
	if got := RedisChannel("abc"); got != "contentfactory:task:abc" {
		t.Fatalf("RedisChannel = %q", got)
	}
	if got := RedisLastKey("abc"); got != "contentfactory:task:abc:last" {
		t.Fatalf("RedisLastKey = %q", got)
	}
}

type stubPublisher struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (p *stubPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return p.err
}

func TestAMQPDispatcherPublishesPersistentMessage(t *testing.T) {
	pub := &stubPublisher{}
	d := NewAMQPDispatcher(pub, "contentfactory.tasks", nil)

	if err := d.Dispatch(context.Background(), "t1"); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	if pub.key != "contentfactory.tasks" || pub.exchange != "" {
		t.Fatalf("published to %q/%q", pub.exchange, pub.key)
	}
	if pub.msg.DeliveryMode != amqp.Persistent || pub.msg.MessageId != "t1" {
		t.Fatalf("msg = %+v", pub.msg)
	}
	var body TaskMessage
	if err := json.Unmarshal(pub.msg.Body, &body); err != nil || body.TaskID != "t1" {
		t.Fatalf("body = %s (%v)", pub.msg.Body, err)
	}

	pub.err = errors.New("channel closed")
	if err := d.Dispatch(context.Background(), "t2"); err == nil {
		t.Fatalf("Dispatch error = nil, want publish error")
	}
}

type stubAcknowledger struct {
	acked  []uint64
	nacked []uint64
}

func (a *stubAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *stubAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *stubAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

type stubConsumeChannel struct {
	deliveries chan amqp.Delivery
}

func (c *stubConsumeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (c *stubConsumeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

type recordingExecutor struct {
	ids chan string
}

func (e *recordingExecutor) Execute(ctx context.Context, taskID string) { e.ids <- taskID }

func TestConsumerAcksBeforeExecuting(t *testing.T) {
	ack := &stubAcknowledger{}
	ch := &stubConsumeChannel{deliveries: make(chan amqp.Delivery, 2)}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"task_id":"t1"}`)}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`not json`)}
	close(ch.deliveries)

	exec := &recordingExecutor{ids: make(chan string, 2)}
	consumer := NewConsumer(ch, "contentfactory.tasks", exec, 2, nil)
	if err := consumer.Run(context.Background()); err != nil {
		t.Fatalf("Run error = %v", err)
	}

	if got := <-exec.ids; got != "t1" {
		t.Fatalf("executed %q, want t1", got)
	}
	if len(ack.acked) != 1 || ack.acked[0] != 1 {
		t.Fatalf("acked = %v, want [1]", ack.acked)
	}
	if len(ack.nacked) != 1 || ack.nacked[0] != 2 {
		t.Fatalf("nacked = %v, want [2]", ack.nacked)
	}
}
