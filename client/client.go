package client

import (
	"time"

	"github.com/issac1998/go-metaq/internal/compression"
	"github.com/issac1998/go-metaq/internal/config"
	"github.com/issac1998/go-metaq/internal/coordinator"
	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/logging"
	"github.com/issac1998/go-metaq/internal/pool"
	"github.com/issac1998/go-metaq/internal/transport"
)

// StoreFactory opens a coordination session. Each producer and consumer
// opens its own, since ephemeral registrations belong to a session.
type StoreFactory func() (coordinator.Store, error)

// Client holds configuration and collaborators shared by the producers and
// consumers it creates.
type Client struct {
	config     *config.ClientConfig
	logger     *logging.Logger
	ownsLogger bool
	metrics    *Metrics
	transports transport.Factory
	stores     StoreFactory
	sleep      func(time.Duration)
}

// Option customizes a Client
type Option func(*Client)

// WithLogger uses logger instead of one built from the logging config
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records into an existing metric set
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTransportFactory replaces the TCP socket factory
func WithTransportFactory(f transport.Factory) Option {
	return func(c *Client) {
		c.transports = f
	}
}

// WithStoreFactory replaces the configured coordination backend
func WithStoreFactory(f StoreFactory) Option {
	return func(c *Client) {
		c.stores = f
	}
}

// WithSleep replaces time.Sleep for the delays the client takes itself
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient validates cfg and builds a client. A nil cfg means defaults.
func NewClient(cfg *config.ClientConfig, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultClientConfig()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, typederrors.Wrapf(typederrors.ConfigError, err, "failed to create logger")
		}
		c.logger = logger
		c.ownsLogger = true
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	if c.transports == nil {
		c.transports = transport.TCPFactory(transport.Config{
			ConnectTimeout: cfg.Socket.ConnectTimeout,
			IOTimeout:      cfg.Socket.IOTimeout,
		})
	}
	if c.stores == nil {
		c.stores = func() (coordinator.Store, error) {
			return coordinator.NewStore(cfg.Coordinator, c.logger)
		}
	}
	return c, nil
}

// Config returns the effective configuration
func (c *Client) Config() *config.ClientConfig {
	return c.config
}

// Logger returns the client logger
func (c *Client) Logger() *logging.Logger {
	return c.logger
}

// Metrics returns the client metric set
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

func (c *Client) newCoordinator() (*coordinator.Coordinator, error) {
	store, err := c.stores()
	if err != nil {
		return nil, err
	}
	return coordinator.New(store, c.config.Coordinator.Namespace, c.logger), nil
}

func (c *Client) newPool() *pool.SocketPool {
	return pool.NewSocketPool(c.transports, pool.Config{IdleTimeout: c.config.Socket.IdleTimeout})
}

func (c *Client) newCodec() (*compression.Codec, error) {
	codec, err := compression.NewCodec(c.config.Compression.Type, c.config.Compression.Threshold)
	if err != nil {
		return nil, typederrors.Wrapf(typederrors.ConfigError, err, "invalid compression")
	}
	return codec, nil
}

// Close releases the logger if the client created it. Producers and
// consumers are closed by their owners.
func (c *Client) Close() error {
	if c.ownsLogger {
		return c.logger.Close()
	}
	return nil
}
