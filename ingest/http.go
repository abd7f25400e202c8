package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/dispatcher"
	"github.com/eddielth/digitanimal-trans/transformer"
)

// HTTPStatusError is returned when the ingestion endpoint answers with a non-2xx status
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("ingestion endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPSink posts each batch as a JSON array
type HTTPSink struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPSink creates an HTTPSink
func NewHTTPSink(cfg config.HTTPSinkConfig) (*HTTPSink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("ingestion.http.url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// ingestReceipt is one element of the endpoint's response array
type ingestReceipt struct {
	ObjectID string `json:"object_id"`
	ID       string `json:"id"`
	Source   string `json:"source"`
}

func (s *HTTPSink) Send(ctx context.Context, observations []transformer.Observation, integrationID string) ([]dispatcher.Receipt, error) {
	body, err := json.Marshal(observations)
	if err != nil {
		return nil, fmt.Errorf("encode observations: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ingestion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Integration-ID", integrationID)
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post observations: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ingestion response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		receipts := make([]dispatcher.Receipt, len(observations))
		for i, obs := range observations {
			receipts[i] = dispatcher.Receipt{Source: obs.Source}
		}
		return receipts, nil
	}

	var accepted []ingestReceipt
	if err := json.Unmarshal(raw, &accepted); err != nil {
		return nil, fmt.Errorf("decode ingestion response: %w", err)
	}
	receipts := make([]dispatcher.Receipt, len(accepted))
	for i, r := range accepted {
		id := r.ObjectID
		if id == "" {
			id = r.ID
		}
		receipts[i] = dispatcher.Receipt{ID: id, Source: r.Source}
	}
	return receipts, nil
}

func (s *HTTPSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
