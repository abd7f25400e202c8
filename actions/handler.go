package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eddielth/digitanimal-trans/digitanimal"
	"github.com/eddielth/digitanimal-trans/logger"
	"github.com/eddielth/digitanimal-trans/metrics"
	"github.com/eddielth/digitanimal-trans/storage"
	"github.com/eddielth/digitanimal-trans/transformer"
)

// Action identifiers, also used as the state store action id.
const (
	ActionAuth                       = "auth"
	ActionPullObservations           = "pull_observations"
	ActionPullHistoricalObservations = "pull_historical_observations"
)

// Fetcher retrieves the vendor response
type Fetcher interface {
	Fetch(ctx context.Context, integrationID, baseURL string, creds digitanimal.Credentials, dateRange *digitanimal.DateRange) (*digitanimal.PullResponse, error)
}

// ObservationTransformer maps readings to observations
type ObservationTransformer interface {
	Transform(reading digitanimal.DeviceReading) (transformer.Observation, error)
}

// Dispatcher delivers observations and reports how many were accepted
type Dispatcher interface {
	Dispatch(ctx context.Context, integrationID string, observations []transformer.Observation) (int, error)
}

// Integration is one configured vendor account
type Integration struct {
	ID          string
	BaseURL     string
	Credentials digitanimal.Credentials
}

// PullObservationsConfig configures PullObservations
type PullObservationsConfig struct {
	// GMTOffset in hours is bound to the zone-less vendor timestamps.
	GMTOffset float64
}

// PullHistoricalConfig configures PullHistoricalObservations
type PullHistoricalConfig struct {
	Start time.Time
	End   time.Time
}

// Handler runs the connector actions
type Handler struct {
	fetcher     Fetcher
	state       storage.StateStore
	transformer ObservationTransformer
	dispatcher  Dispatcher
}

// NewHandler creates a Handler
func NewHandler(fetcher Fetcher, state storage.StateStore, tr ObservationTransformer, dispatcher Dispatcher) *Handler {
	return &Handler{
		fetcher:     fetcher,
		state:       state,
		transformer: tr,
		dispatcher:  dispatcher,
	}
}

// run wraps an action with a run id, start/finish logs and metrics, and turns
// failures into *ActionError.
func run[T any](ctx context.Context, action string, integration Integration, fn func(ctx context.Context, log *logger.Entry) (T, string, error)) (T, error) {
	runID := uuid.NewString()
	log := logger.WithFields(logger.Fields{
		"action":         action,
		"integration_id": integration.ID,
		"run_id":         runID,
		"username":       integration.Credentials.Username,
	})

	log.Info("Executing '%s' action", action)
	start := time.Now()

	result, outcome, err := fn(ctx, log)

	elapsed := time.Since(start)
	metrics.ActionDuration.WithLabelValues(integration.ID, action).Observe(elapsed.Seconds())
	if err != nil {
		metrics.ActionRuns.WithLabelValues(integration.ID, action, "error").Inc()
		actionErr := &ActionError{
			Action:        action,
			IntegrationID: integration.ID,
			RunID:         runID,
			Credentials:   integration.Credentials,
			Err:           err,
		}
		log.Error("%v", actionErr)
		return result, actionErr
	}

	metrics.ActionRuns.WithLabelValues(integration.ID, action, outcome).Inc()
	log.Info("'%s' action finished in %s (%s)", action, elapsed.Round(time.Millisecond), outcome)
	return result, nil
}

// Auth checks the credentials with a current snapshot fetch. HTTP status
// errors become an error result; other failures are returned.
func (h *Handler) Auth(ctx context.Context, integration Integration) (AuthResult, error) {
	return run(ctx, ActionAuth, integration, func(ctx context.Context, log *logger.Entry) (AuthResult, string, error) {
		resp, err := h.fetcher.Fetch(ctx, integration.ID, integration.BaseURL, integration.Credentials, nil)
		if err != nil {
			var se *digitanimal.HTTPStatusError
			if errors.As(err, &se) {
				if se.Unauthorized() {
					log.Warn("vendor rejected credentials with status %d", se.StatusCode)
				} else {
					log.Warn("vendor returned status %d", se.StatusCode)
				}
				return AuthResult{Error: true, StatusCode: se.StatusCode}, "http_error", nil
			}
			return AuthResult{}, "", err
		}

		switch resp.Current().(type) {
		case digitanimal.Authenticated:
			return AuthResult{ValidCredentials: true}, "valid", nil
		default:
			log.Error("Failed to authenticate with integration %s using %s", integration.ID, integration.Credentials)
			return AuthResult{ValidCredentials: false, Message: "Bad credentials"}, "invalid", nil
		}
	})
}

// PullObservations forwards current readings that are newer than the stored
// per-collar watermark, then advances the watermarks.
func (h *Handler) PullObservations(ctx context.Context, integration Integration, cfg PullObservationsConfig) (PullResult, error) {
	return run(ctx, ActionPullObservations, integration, func(ctx context.Context, log *logger.Entry) (PullResult, string, error) {
		resp, err := h.fetcher.Fetch(ctx, integration.ID, integration.BaseURL, integration.Credentials, nil)
		if err != nil {
			return PullResult{}, "", err
		}

		snapshot, ok := resp.Current().(digitanimal.Authenticated)
		if !ok {
			log.Warn("No devices found for integration %s Account: %s", integration.ID, integration.Credentials.Username)
			return PullResult{NoDevices: true}, "no_devices", nil
		}

		devices := snapshot.Devices
		log.Info("Found %d devices for integration %s Account: %s", len(devices), integration.ID, integration.Credentials.Username)
		metrics.ReadingsFetched.WithLabelValues(integration.ID, ActionPullObservations).Add(float64(len(devices)))

		observations := make([]transformer.Observation, 0, len(devices))
		for _, device := range devices {
			device.DeviceTime = bindOffset(device.DeviceTime, cfg.GMTOffset)

			fresh, err := h.isNewer(ctx, integration.ID, device)
			if err != nil {
				return PullResult{}, "", err
			}
			if !fresh {
				log.Info("Filtering observation %s for device %s", device.DeviceTime.Format(time.RFC3339), device.Collar)
				metrics.ReadingsFiltered.WithLabelValues(integration.ID, ActionPullObservations).Inc()
				continue
			}

			obs, err := h.transformer.Transform(device)
			if err != nil {
				return PullResult{}, "", fmt.Errorf("transform reading of %s: %w", device.Collar, err)
			}
			observations = append(observations, obs)
		}

		if len(observations) == 0 {
			return PullResult{}, "success", nil
		}

		log.Info("Sending %d observations", len(observations))
		accepted, err := h.dispatcher.Dispatch(ctx, integration.ID, observations)
		if err != nil {
			return PullResult{ObservationsExtracted: accepted}, "", err
		}
		if accepted < len(observations) {
			// Watermarks still advance past rejected observations.
			log.Warn("sink accepted %d of %d observations; watermarks advance for all of them", accepted, len(observations))
		}

		if err := h.advanceWatermarks(ctx, integration.ID, observations); err != nil {
			return PullResult{ObservationsExtracted: accepted}, "", err
		}
		return PullResult{ObservationsExtracted: accepted}, "success", nil
	})
}

// isNewer reports whether the reading is strictly after the stored watermark.
// A collar without a watermark is always new.
func (h *Handler) isNewer(ctx context.Context, integrationID string, device digitanimal.DeviceReading) (bool, error) {
	key := storage.Key{IntegrationID: integrationID, ActionID: ActionPullObservations, SourceID: device.Collar}
	state, err := h.state.GetState(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get state %s: %w", key, err)
	}
	latest, ok, err := parseWatermark(state)
	if err != nil {
		return false, fmt.Errorf("state %s: %w", key, err)
	}
	if !ok {
		return true, nil
	}
	return device.DeviceTime.After(latest), nil
}

// advanceWatermarks stores the latest recorded time of every forwarded source.
func (h *Handler) advanceWatermarks(ctx context.Context, integrationID string, observations []transformer.Observation) error {
	latest := make(map[string]time.Time, len(observations))
	order := make([]string, 0, len(observations))
	for _, obs := range observations {
		prev, seen := latest[obs.Source]
		if !seen {
			order = append(order, obs.Source)
		}
		if !seen || obs.RecordedAt.After(prev) {
			latest[obs.Source] = obs.RecordedAt
		}
	}

	for _, source := range order {
		key := storage.Key{IntegrationID: integrationID, ActionID: ActionPullObservations, SourceID: source}
		if err := h.state.SetState(ctx, key, watermarkState(latest[source])); err != nil {
			return fmt.Errorf("set state %s: %w", key, err)
		}
	}
	return nil
}

// PullHistoricalObservations forwards every history reading in the date range.
// No watermark is read or written and timestamps are used as returned.
func (h *Handler) PullHistoricalObservations(ctx context.Context, integration Integration, cfg PullHistoricalConfig) (PullResult, error) {
	return run(ctx, ActionPullHistoricalObservations, integration, func(ctx context.Context, log *logger.Entry) (PullResult, string, error) {
		dateRange := &digitanimal.DateRange{Start: cfg.Start, End: cfg.End}
		resp, err := h.fetcher.Fetch(ctx, integration.ID, integration.BaseURL, integration.Credentials, dateRange)
		if err != nil {
			return PullResult{}, "", err
		}

		history := resp.Data.History
		if len(history) == 0 {
			log.Warn("No devices found for integration %s Account: %s", integration.ID, integration.Credentials.Username)
			return PullResult{NoDevices: true}, "no_devices", nil
		}

		log.Info("Found %d history readings for integration %s Account: %s", len(history), integration.ID, integration.Credentials.Username)
		metrics.ReadingsFetched.WithLabelValues(integration.ID, ActionPullHistoricalObservations).Add(float64(len(history)))

		observations := make([]transformer.Observation, 0, len(history))
		for _, reading := range history {
			obs, err := h.transformer.Transform(reading)
			if err != nil {
				return PullResult{}, "", fmt.Errorf("transform reading of %s: %w", reading.Collar, err)
			}
			observations = append(observations, obs)
		}

		log.Info("Sending %d observations", len(observations))
		accepted, err := h.dispatcher.Dispatch(ctx, integration.ID, observations)
		if err != nil {
			return PullResult{ObservationsExtracted: accepted}, "", err
		}
		return PullResult{ObservationsExtracted: accepted}, "success", nil
	})
}
