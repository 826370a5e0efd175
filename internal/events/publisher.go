// Package events publishes transaction lifecycle events once the database
// change they describe has been committed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TransactionCreated  = "transaction.created"
	TransactionDeleted  = "transaction.deleted"
	TransactionRestored = "transaction.restored"
)

type TransactionEvent struct {
	Name          string    `json:"event"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	MadeBy        string    `json:"made_by"`
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	Balance       int64     `json:"account_balance"`
	ActorID       string    `json:"actor_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev TransactionEvent) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, TransactionEvent) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic, keyed by user id so that the
// events of one account stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// flushInterval bounds how long a single event waits for a batch to fill.
// Events are written one per request, so the writer default of 1s would hold
// every mutation response for that long.
const flushInterval = 5 * time.Millisecond

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           flushInterval,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev TransactionEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encode(ev TransactionEvent) (kafka.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return kafka.Message{
		Key:   []byte(ev.UserID),
		Value: data,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Name)},
		},
	}, nil
}
