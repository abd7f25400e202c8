package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/transformer"
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	messages []published
	failFor  string
}

func (p *fakePublisher) Publish(topic string, qos byte, payload []byte) error {
	if p.failFor != "" && topic == p.failFor {
		return errors.New("broker said no")
	}
	p.messages = append(p.messages, published{topic: topic, qos: qos, payload: payload})
	return nil
}

func obs(source string) transformer.Observation {
	return transformer.Observation{
		Source:     source,
		SourceName: source,
		Type:       transformer.ObservationType,
		RecordedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Location:   transformer.Location{Lat: 1, Lon: 2},
	}
}

func TestSinkPublishesPerObservation(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewSink(pub, "observations/", 1)

	receipts, err := sink.Send(context.Background(), []transformer.Observation{obs("c1"), obs("c2")}, "int-1")
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.NotEmpty(t, receipts[0].ID)
	require.Equal(t, "c1", receipts[0].Source)

	require.Len(t, pub.messages, 2)
	require.Equal(t, "observations/int-1/c1", pub.messages[0].topic)
	require.Equal(t, byte(1), pub.messages[0].qos)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.messages[1].payload, &decoded))
	require.Equal(t, "c2", decoded["source"])
	require.Equal(t, "tracking-device", decoded["type"])
}

func TestSinkSkipsFailedPublish(t *testing.T) {
	pub := &fakePublisher{failFor: "obs/int-1/c2"}
	sink := NewSink(pub, "obs", 0)

	receipts, err := sink.Send(context.Background(), []transformer.Observation{obs("c1"), obs("c2"), obs("c3")}, "int-1")
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	require.Equal(t, "c3", receipts[1].Source)
}

func TestSinkStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSink(&fakePublisher{}, "obs", 0).Send(ctx, []transformer.Observation{obs("c1")}, "int-1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestTopicEscapesWildcards(t *testing.T) {
	sink := NewSink(&fakePublisher{}, "obs", 0)
	require.Equal(t, "obs/int-1/a_b_c_d", sink.Topic("int-1", "a/b+c#d"))
}

func TestNewClientRequiresBroker(t *testing.T) {
	_, err := NewClient(config.MQTTConfig{})
	require.Error(t, err)

	c, err := NewClient(config.MQTTConfig{Broker: "tcp://localhost:1883"})
	require.NoError(t, err)
	require.Contains(t, c.config.ClientID, "digitanimal-trans-")
}
