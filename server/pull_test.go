package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eddielth/digitanimal-trans/actions"
	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/digitanimal"
	"github.com/eddielth/digitanimal-trans/dispatcher"
	"github.com/eddielth/digitanimal-trans/mqtt"
	"github.com/eddielth/digitanimal-trans/runner"
	"github.com/eddielth/digitanimal-trans/storage"
	"github.com/eddielth/digitanimal-trans/transformer"
)

type snapshotFetcher struct {
	devices []digitanimal.DeviceReading
}

func (f *snapshotFetcher) Fetch(context.Context, string, string, digitanimal.Credentials, *digitanimal.DateRange) (*digitanimal.PullResponse, error) {
	return &digitanimal.PullResponse{
		Success: true,
		Data:    digitanimal.Payload{Devices: f.devices, History: []digitanimal.DeviceReading{}},
	}, nil
}

// hangupPublisher cancels the HTTP caller on its first publish.
type hangupPublisher struct {
	mu     sync.Mutex
	hangup context.CancelFunc
	topics []string
}

func (p *hangupPublisher) Publish(topic string, _ byte, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.topics) == 0 {
		p.hangup()
	}
	p.topics = append(p.topics, topic)
	return nil
}

func TestPullCompletesWhenCallerDisconnects(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	fetcher := &snapshotFetcher{devices: []digitanimal.DeviceReading{
		{Collar: "c1", Lat: 40.1, Lng: -3.7, DeviceTime: at},
		{Collar: "c2", Lat: 40.2, Lng: -3.8, DeviceTime: at},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	publisher := &hangupPublisher{hangup: cancel}

	tr, err := transformer.New(config.TransformerConfig{})
	require.NoError(t, err)
	state := storage.NewMemoryStore()
	d := dispatcher.New(mqtt.NewSink(publisher, "observations", 1))

	cfg := &config.Config{}
	cfg.Integration.ID = "int-1"
	cfg.Auth.Username = "farmer"
	r := runner.New(actions.NewHandler(fetcher, state, tr, d), cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/actions/pull_observations", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	New(":0", r).Router().ServeHTTP(rec, req)

	require.Error(t, ctx.Err())
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"observations_extracted":2}`, rec.Body.String())
	require.Len(t, publisher.topics, 2)
	require.Equal(t, 2, state.Len())
}
