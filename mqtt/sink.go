package mqtt

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/eddielth/digitanimal-trans/dispatcher"
	"github.com/eddielth/digitanimal-trans/logger"
	"github.com/eddielth/digitanimal-trans/transformer"
)

// Publisher is the part of Client used by Sink
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Sink publishes each observation to {prefix}/{integration}/{source}
type Sink struct {
	publisher Publisher
	prefix    string
	qos       byte
}

// NewSink creates a Sink over an already connected publisher
func NewSink(publisher Publisher, topicPrefix string, qos byte) *Sink {
	return &Sink{
		publisher: publisher,
		prefix:    strings.TrimSuffix(topicPrefix, "/"),
		qos:       qos,
	}
}

// Topic returns the topic an observation is published to
func (s *Sink) Topic(integrationID, source string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, integrationID, topicSegment(source))
}

// topicSegment keeps wildcard and level characters out of a single topic level.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// Send publishes the batch in order. A failed publish is logged and skipped, so
// the receipts only cover acknowledged observations. Send fails only when ctx is done.
func (s *Sink) Send(ctx context.Context, observations []transformer.Observation, integrationID string) ([]dispatcher.Receipt, error) {
	receipts := make([]dispatcher.Receipt, 0, len(observations))
	for _, obs := range observations {
		if err := ctx.Err(); err != nil {
			return receipts, err
		}

		payload, err := json.Marshal(obs)
		if err != nil {
			logger.Error("failed to encode observation for %s: %v", obs.Source, err)
			continue
		}

		topic := s.Topic(integrationID, obs.Source)
		if err := s.publisher.Publish(topic, s.qos, payload); err != nil {
			logger.Error("failed to publish observation to %s: %v", topic, err)
			continue
		}
		receipts = append(receipts, dispatcher.Receipt{ID: uuid.NewString(), Source: obs.Source})
	}
	return receipts, nil
}
