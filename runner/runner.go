package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eddielth/digitanimal-trans/actions"
	"github.com/eddielth/digitanimal-trans/config"
	"github.com/eddielth/digitanimal-trans/digitanimal"
)

// ErrUnknownAction is returned for an action name the connector does not implement
var ErrUnknownAction = errors.New("unknown action")

// Params overrides the configured historical date range
type Params struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// ActionHandler is implemented by *actions.Handler
type ActionHandler interface {
	Auth(ctx context.Context, integration actions.Integration) (actions.AuthResult, error)
	PullObservations(ctx context.Context, integration actions.Integration, cfg actions.PullObservationsConfig) (actions.PullResult, error)
	PullHistoricalObservations(ctx context.Context, integration actions.Integration, cfg actions.PullHistoricalConfig) (actions.PullResult, error)
}

// Runner resolves action settings from the live configuration and runs at most
// one invocation per (integration, action) at a time.
type Runner struct {
	handler ActionHandler

	cfgMu sync.RWMutex
	cfg   *config.Config

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Runner
func New(handler ActionHandler, cfg *config.Config) *Runner {
	return &Runner{
		handler: handler,
		cfg:     cfg,
		locks:   make(map[string]*sync.Mutex),
	}
}

// UpdateConfig replaces the configuration used by later runs
func (r *Runner) UpdateConfig(cfg *config.Config) {
	r.cfgMu.Lock()
	r.cfg = cfg
	r.cfgMu.Unlock()
}

// Config returns the current configuration
func (r *Runner) Config() *config.Config {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg
}

func (r *Runner) lock(key string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// Run executes action and returns its JSON-encodable result.
func (r *Runner) Run(ctx context.Context, action string, params Params) (interface{}, error) {
	cfg := r.Config()
	integration := actions.Integration{
		ID:          cfg.Integration.ID,
		BaseURL:     cfg.Integration.BaseURL,
		Credentials: digitanimal.NewCredentials(cfg.Auth.Username, cfg.Auth.Password),
	}

	switch action {
	case actions.ActionAuth, actions.ActionPullObservations, actions.ActionPullHistoricalObservations:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	m := r.lock(integration.ID + "/" + action)
	m.Lock()
	defer m.Unlock()

	switch action {
	case actions.ActionAuth:
		return r.handler.Auth(ctx, integration)
	case actions.ActionPullObservations:
		return r.handler.PullObservations(ctx, integration, actions.PullObservationsConfig{
			GMTOffset: cfg.Actions.PullObservations.GMTOffset,
		})
	default:
		historical := cfg.Actions.PullHistoricalObservations
		if params.StartDate != "" {
			historical.StartDate = params.StartDate
		}
		if params.EndDate != "" {
			historical.EndDate = params.EndDate
		}
		start, end, err := historical.DateRange()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", action, err)
		}
		return r.handler.PullHistoricalObservations(ctx, integration, actions.PullHistoricalConfig{Start: start, End: end})
	}
}
