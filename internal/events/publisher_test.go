package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := TransactionEvent{
		Name:          TransactionDeleted,
		TransactionID: "t-1",
		UserID:        "u-1",
		MadeBy:        "a-1",
		Type:          "Deposit",
		Amount:        100,
		Balance:       0,
		ActorID:       "a-2",
		OccurredAt:    at,
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u-1" {
		t.Fatalf("expected key u-1, got %q", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Fatalf("expected time %v, got %v", at, msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != TransactionDeleted {
		t.Fatalf("unexpected headers: %+v", msg.Headers)
	}

	var got TransactionEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if !got.OccurredAt.Equal(at) {
		t.Fatalf("expected occurred_at %v, got %v", at, got.OccurredAt)
	}
	got.OccurredAt = ev.OccurredAt
	if got != ev {
		t.Fatalf("expected %+v, got %+v", ev, got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}}

	err := p.Publish(context.Background(), TransactionEvent{Name: TransactionCreated, UserID: "u-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNewKafkaPublisherFlushesPromptly(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "transaction-events")
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected a *kafka.Writer, got %T", p.writer)
	}
	if w.BatchTimeout <= 0 || w.BatchTimeout > 10*time.Millisecond {
		t.Fatalf("expected a batch timeout of at most 10ms, got %v", w.BatchTimeout)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok || w.Topic != "transaction-events" {
		t.Fatalf("unexpected writer config: balancer %T topic %q", w.Balancer, w.Topic)
	}
}
