package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string      `split_words:"true"`
	WriteTimeout time.Duration `split_words:"true" default:"10s"`
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool {
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes events to per-tenant topics. The topic is chosen per
// message, so one writer serves every tenant.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewPublisher(cfg Config) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers are required")
	}
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
	return newPublisher(w, cfg.WriteTimeout), nil
}

func newPublisher(w messageWriter, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{writer: w, timeout: timeout}
}

// Publish writes one message keyed by the event id so redeliveries land on
// the same partition.
func (p *Publisher) Publish(ctx context.Context, topic, key, eventType string, value []byte) error {
	if strings.TrimSpace(topic) == "" {
		return errors.New("kafka topic is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "idempotency_key", Value: []byte(key)},
		},
		Time: time.Now().UTC(),
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
