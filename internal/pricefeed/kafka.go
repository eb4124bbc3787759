package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// TickSink receives decoded ticks.
type TickSink interface {
	Apply(tick domain.PriceTick) error
}

// MessageReader is the part of *kafka.Reader the tick reader needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaTickReader consumes JSON encoded domain.PriceTick messages and
// applies them to a sink. Messages keyed by symbol may omit the symbol
// field in the payload.
type KafkaTickReader struct {
	reader MessageReader
	sink   TickSink
	logger *slog.Logger
}

// NewKafkaTickReader creates a consumer-group reader on topic.
func NewKafkaTickReader(brokers []string, topic, group string, sink TickSink, logger *slog.Logger) *KafkaTickReader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        250 * time.Millisecond,
		CommitInterval: time.Second,
	})
	return NewTickReader(r, sink, logger)
}

// NewTickReader wraps an existing reader.
func NewTickReader(r MessageReader, sink TickSink, logger *slog.Logger) *KafkaTickReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaTickReader{reader: r, sink: sink, logger: logger}
}

// Run reads until ctx is done. Undecodable messages are logged and
// skipped.
func (k *KafkaTickReader) Run(ctx context.Context) error {
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		tick, err := decodeTick(msg)
		if err != nil {
			k.logger.Warn("skipping malformed price tick",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := k.sink.Apply(tick); err != nil {
			k.logger.Warn("price tick rejected",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close closes the underlying reader.
func (k *KafkaTickReader) Close() error {
	return k.reader.Close()
}

func decodeTick(msg kafka.Message) (domain.PriceTick, error) {
	var tick domain.PriceTick
	if err := json.Unmarshal(msg.Value, &tick); err != nil {
		return tick, err
	}
	if tick.Symbol == "" {
		tick.Symbol = string(msg.Key)
	}
	if tick.Symbol == "" {
		return tick, errors.New("tick without symbol")
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = msg.Time
	}
	return tick, nil
}
