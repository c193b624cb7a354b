package syncclient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	BaseURL           string
	Transport         string
	Heartbeat         time.Duration
	PollInterval      time.Duration
	PushRetryInterval time.Duration
	MaxFailures       int
	// PushDisabled forces polling, for networks that break long-lived connections.
	PushDisabled bool
	Scope        Scope
	Logger       *zap.Logger
}

// Client bundles the strategy and adapter for one viewer.
type Client struct {
	API      *API
	Adapter  *Adapter
	strategy *Strategy
}

// New wires a viewer. An unsupported transport name falls back to polling
// rather than failing.
func New(options Options) (*Client, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	api := NewAPI(options.BaseURL, 0)
	adapter := NewAdapter(options.Scope, AdapterOptions{})

	var transport Transport
	if !options.PushDisabled {
		var err error
		transport, err = NewTransport(options.Transport, options.BaseURL, TransportOptions{Heartbeat: options.Heartbeat})
		if err != nil {
			if !errors.Is(err, ErrUnsupportedTransport) {
				return nil, err
			}
			logger.Warn("push transport unavailable, polling only", zap.Error(err))
			transport = nil
		}
	}

	strategy := NewStrategy(StrategyOptions{
		Transport:         transport,
		Puller:            api,
		PollInterval:      options.PollInterval,
		PushRetryInterval: options.PushRetryInterval,
		MaxFailures:       options.MaxFailures,
		OnSnapshot:        adapter.Apply,
		OnStatus:          adapter.SetStatus,
		Logger:            logger,
	})
	return &Client{API: api, Adapter: adapter, strategy: strategy}, nil
}

func (c *Client) Start(ctx context.Context) { c.strategy.Start(ctx) }

func (c *Client) Stop() { c.strategy.Stop() }

func (c *Client) State() State { return c.strategy.State() }
