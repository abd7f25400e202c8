package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/dispatcher"
	"github.com/eddielth/digitanimal-trans/logger"
	"github.com/eddielth/digitanimal-trans/transformer"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes one message per observation, keyed by source so a collar's
// observations stay on one partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a synchronous writer for cfg.Topic
func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    dispatcher.DefaultBatchSize,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	}}
}

func (s *KafkaSink) Send(ctx context.Context, observations []transformer.Observation, integrationID string) ([]dispatcher.Receipt, error) {
	msgs := make([]kafka.Message, 0, len(observations))
	sources := make([]string, 0, len(observations))
	for _, obs := range observations {
		value, err := json.Marshal(obs)
		if err != nil {
			logger.Error("failed to encode observation for %s: %v", obs.Source, err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(obs.Source),
			Value: value,
			Headers: []kafka.Header{
				{Key: "integration_id", Value: []byte(integrationID)},
			},
		})
		sources = append(sources, obs.Source)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	err := s.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return receiptsFor(sources, nil), nil
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		logger.Warn("kafka accepted %d of %d observations: %v", len(msgs)-writeErrs.Count(), len(msgs), err)
		return receiptsFor(sources, writeErrs), nil
	}
	return nil, fmt.Errorf("write kafka messages: %w", err)
}

// receiptsFor returns a receipt for every source whose write error is nil.
func receiptsFor(sources []string, writeErrs kafka.WriteErrors) []dispatcher.Receipt {
	receipts := make([]dispatcher.Receipt, 0, len(sources))
	for i, source := range sources {
		if writeErrs != nil && i < len(writeErrs) && writeErrs[i] != nil {
			continue
		}
		receipts = append(receipts, dispatcher.Receipt{ID: uuid.NewString(), Source: source})
	}
	return receipts
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func pingKafka(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var lastErr error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}
