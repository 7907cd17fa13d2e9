package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/aws"
)

// SQSPublisher sends one queue message per event with the event type and
// ids copied into message attributes.
type SQSPublisher struct {
	pub *aws.Publisher
}

func NewSQSPublisher(pub *aws.Publisher) *SQSPublisher {
	return &SQSPublisher{pub: pub}
}

func (p *SQSPublisher) Publish(ctx context.Context, evs ...Event) error {
	for _, ev := range evs {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		attrs := map[string]string{
			"event_id":   ev.ID,
			"event_type": string(ev.Type),
		}
		if ev.OrderID != "" {
			attrs["order_id"] = ev.OrderID
		}
		if err := p.pub.SendOrderMessage(ctx, string(body), attrs); err != nil {
			return fmt.Errorf("publish %s: %w", ev.Type, err)
		}
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by order id so one order's events stay
// ordered within a partition.
type KafkaPublisher struct {
	w MessageWriter
}

// NewKafkaWriter builds a writer for the given brokers and topic.
func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evs ...Event) error {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		key := ev.OrderID
		if key == "" {
			key = ev.ProductID
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.Type)},
				{Key: "event_id", Value: []byte(ev.ID)},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// LogPublisher writes events to the structured log only.
type LogPublisher struct {
	log logrus.FieldLogger
}

func NewLogPublisher(log logrus.FieldLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, evs ...Event) error {
	for _, ev := range evs {
		p.log.WithFields(logrus.Fields{
			"event_id":   ev.ID,
			"event_type": ev.Type,
			"order_id":   ev.OrderID,
			"product_id": ev.ProductID,
			"status":     ev.Status,
		}).Info("event")
	}
	return nil
}
