package dispatcher

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/eddielth/digitanimal-trans/logger"
	"github.com/eddielth/digitanimal-trans/metrics"
	"github.com/eddielth/digitanimal-trans/transformer"
)

// DefaultBatchSize is the largest batch handed to a Sender.
const DefaultBatchSize = 200

// Receipt acknowledges one ingested observation
type Receipt struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source,omitempty"`
}

// Sender delivers a batch of observations downstream and returns one receipt per
// accepted observation.
type Sender interface {
	Send(ctx context.Context, observations []transformer.Observation, integrationID string) ([]Receipt, error)
}

// Dispatcher sends observations in order, one batch at a time
type Dispatcher struct {
	sender    Sender
	batchSize int
	limiter   *rate.Limiter
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithBatchSize overrides DefaultBatchSize. Non-positive values are ignored.
func WithBatchSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

// WithRateLimit paces batches to perSecond. Zero or less disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			d.limiter = nil
		}
	}
}

// New creates a new Dispatcher
func New(sender Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{sender: sender, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// BatchSize returns the configured batch size
func (d *Dispatcher) BatchSize() int {
	return d.batchSize
}

// Dispatch sends observations and returns the total number of receipts. It stops at
// the first failing batch; the count accepted so far, including receipts of the
// failing batch, is returned with the error.
func (d *Dispatcher) Dispatch(ctx context.Context, integrationID string, observations []transformer.Observation) (int, error) {
	log := logger.WithFields(logger.Fields{"integration_id": integrationID})

	accepted := 0
	for i, batch := range Batches(observations, d.batchSize) {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return accepted, fmt.Errorf("wait for batch #%d: %w", i, err)
			}
		}

		log.Info("Sending observations batch #%d: %d observations", i, len(batch))
		receipts, err := d.sender.Send(ctx, batch, integrationID)
		if err != nil {
			return accepted + len(receipts), fmt.Errorf("send batch #%d: %w", i, err)
		}
		if len(receipts) < len(batch) {
			log.Warn("batch #%d: sink accepted %d of %d observations", i, len(receipts), len(batch))
		}

		accepted += len(receipts)
		metrics.BatchesDispatched.WithLabelValues(integrationID).Inc()
		metrics.ObservationsAccepted.WithLabelValues(integrationID).Add(float64(len(receipts)))
	}
	return accepted, nil
}

// Batches splits items into consecutive chunks of at most size elements.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}
