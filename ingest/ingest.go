package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/dispatcher"
	"github.com/eddielth/digitanimal-trans/logger"
	"github.com/eddielth/digitanimal-trans/mqtt"
)

// Sink is a dispatcher.Sender holding a connection
type Sink interface {
	dispatcher.Sender
	Close() error
}

// New connects the sink selected by cfg.Type
func New(ctx context.Context, cfg config.IngestionConfig) (Sink, error) {
	switch cfg.Type {
	case "mqtt":
		client, err := mqtt.NewClient(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		if err := Connect(ctx, "mqtt "+cfg.MQTT.Broker, cfg.ConnectRetry, func(context.Context) error {
			return client.Connect()
		}); err != nil {
			return nil, err
		}
		return &mqttSink{Sink: mqtt.NewSink(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS), client: client}, nil
	case "kafka":
		if err := Connect(ctx, "kafka", cfg.ConnectRetry, func(ctx context.Context) error {
			return pingKafka(ctx, cfg.Kafka.Brokers)
		}); err != nil {
			return nil, err
		}
		return NewKafkaSink(cfg.Kafka), nil
	case "http":
		return NewHTTPSink(cfg.HTTP)
	default:
		return nil, fmt.Errorf("unsupported ingestion type: %s", cfg.Type)
	}
}

type mqttSink struct {
	*mqtt.Sink
	client *mqtt.Client
}

func (s *mqttSink) Close() error {
	s.client.Disconnect()
	return nil
}

// Connect calls connect until it succeeds, backing off exponentially between
// attempts. It gives up after maxElapsed or when ctx is done.
func Connect(ctx context.Context, name string, maxElapsed time.Duration, connect func(context.Context) error) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 200 * time.Millisecond
	backoffCfg.MaxInterval = 10 * time.Second

	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := connect(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("connected to %s after %d attempts", name, attempt)
			}
			return nil
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop || time.Since(start)+sleep > maxElapsed {
			return fmt.Errorf("connect %s: giving up after %d attempts: %w", name, attempt, err)
		}
		logger.Warn("connect %s failed (attempt %d), retrying in %s: %v", name, attempt, sleep, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
