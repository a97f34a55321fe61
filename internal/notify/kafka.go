// Package notify announces finished runs on a Kafka topic so downstream
// services can pick up the output archive.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rshade/slidetiler/internal/logging"
)

// EventRunCompleted is the type of the event sent after every run.
const EventRunCompleted = "run.completed"

// Event is the JSON payload published per run.
type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Output     string    `json:"output,omitempty"`
	Location   string    `json:"location,omitempty"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Tiles      int       `json:"tiles"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes run events.
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka returns a notifier writing to topic on brokers.
func NewKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka notifier needs brokers and a topic")
	}
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}, nil
}

// Notify sends the event keyed by run ID, so all events of one run land on
// the same partition.
func (k *Kafka) Notify(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		ev.Type = EventRunCompleted
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.RunID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err = k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	logging.FromContext(ctx).Debug().Ctx(ctx).
		Str("component", "notify").
		Str("topic", k.topic).
		Str("run_id", ev.RunID).
		Msg("run event sent")
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
