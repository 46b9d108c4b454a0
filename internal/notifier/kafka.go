package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
)

// KafkaOptions configures a KafkaChannel
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	Compression  string
	WriteTimeout time.Duration
	RequiredAcks int
	MaxRetries   int
}

// KafkaChannel publishes triggered events as JSON to a Kafka topic,
// keyed by alert id so updates for one alert stay ordered.
type KafkaChannel struct {
	name   string
	topic  string
	writer *kafka.Writer
}

// eventMessage is the JSON value written to Kafka
type eventMessage struct {
	EventID      string    `json:"event_id"`
	AlertID      string    `json:"alert_id"`
	UserID       string    `json:"user_id"`
	Location     string    `json:"location"`
	Parameter    string    `json:"parameter"`
	Operator     string    `json:"operator"`
	Threshold    float64   `json:"threshold"`
	CurrentValue float64   `json:"current_value"`
	Units        string    `json:"units"`
	Description  string    `json:"description,omitempty"`
	TriggeredAt  time.Time `json:"triggered_at"`
}

// NewKafkaChannel creates a Kafka channel
func NewKafkaChannel(name string, opts KafkaOptions) (*KafkaChannel, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.RequiredAcks == 0 {
		opts.RequiredAcks = int(kafka.RequireOne)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		WriteTimeout: opts.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(opts.RequiredAcks),
		Compression:  getCompression(opts.Compression),
		MaxAttempts:  opts.MaxRetries + 1,
	}
	return &KafkaChannel{name: name, topic: opts.Topic, writer: writer}, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Name returns the channel name
func (c *KafkaChannel) Name() string {
	return c.name
}

// Send writes one message synchronously
func (c *KafkaChannel) Send(ctx context.Context, n Notification) error {
	msg, err := buildMessage(n)
	if err != nil {
		return err
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", c.topic, err)
	}
	return nil
}

// Close flushes and closes the writer
func (c *KafkaChannel) Close() error {
	return c.writer.Close()
}

func buildMessage(n Notification) (kafka.Message, error) {
	evt := n.Event
	value, err := json.Marshal(eventMessage{
		EventID:      evt.ID,
		AlertID:      evt.AlertID,
		UserID:       evt.UserID,
		Location:     evt.Location,
		Parameter:    evt.Parameter,
		Operator:     string(evt.Operator),
		Threshold:    evt.Threshold,
		CurrentValue: evt.CurrentValue,
		Units:        string(n.Alert.Units.OrDefault()),
		Description:  n.Alert.Description,
		TriggeredAt:  evt.TriggeredAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(evt.AlertID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.ID)},
			{Key: "user_id", Value: []byte(evt.UserID)},
			{Key: "parameter", Value: []byte(evt.Parameter)},
		},
		Time: evt.TriggeredAt,
	}, nil
}
