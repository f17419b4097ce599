package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/issac1998/go-metaq/internal/compression"
	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/logging"
	"github.com/issac1998/go-metaq/internal/metadata"
)

// Backend selects the coordination service implementation
type Backend int

const (
	BackendZooKeeper Backend = iota
	BackendEtcd
	BackendMemory
)

func (b Backend) String() string {
	switch b {
	case BackendZooKeeper:
		return "zookeeper"
	case BackendEtcd:
		return "etcd"
	case BackendMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// ParseBackend maps a backend name to its value
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zookeeper", "zk":
		return BackendZooKeeper, nil
	case "etcd":
		return BackendEtcd, nil
	case "memory":
		return BackendMemory, nil
	default:
		return BackendZooKeeper, fmt.Errorf("unknown coordinator backend %q", name)
	}
}

func (b *Backend) UnmarshalText(text []byte) error {
	v, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// CoordinatorConfig locates the coordination service
type CoordinatorConfig struct {
	Backend        Backend
	Endpoints      []string
	Namespace      string
	SessionTimeout time.Duration
}

// ProducerConfig tunes publishing
type ProducerConfig struct {
	Retries      int
	RetryBackoff time.Duration
}

// ConsumerConfig tunes group membership and polling
type ConsumerConfig struct {
	Group               string
	SettleDelay         time.Duration
	RebalanceRetryDelay time.Duration
	RebalanceMaxRetries int
	// BalanceCheckInterval rate-limits the session and membership checks
	// done before a poll. Zero checks before every poll.
	BalanceCheckInterval time.Duration

	BackoffBaseline       time.Duration
	BackoffEmptyFactor    int
	BackoffRedirectFactor int
	IdleCeiling           time.Duration

	// BrokerOffsetSync also reports committed offsets to the serving broker.
	BrokerOffsetSync bool
}

// SocketConfig bounds broker connections
type SocketConfig struct {
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	IdleTimeout    time.Duration
}

// CompressionConfig controls outgoing payload compression
type CompressionConfig struct {
	Type      compression.CompressionType
	Threshold int
}

// ClientConfig is everything a producer or consumer needs. It is built once
// and passed into constructors.
type ClientConfig struct {
	Coordinator CoordinatorConfig
	// Brokers is a static topology used instead of the coordination service
	// for publishing when set.
	Brokers     []metadata.StaticBroker
	Producer    ProducerConfig
	Consumer    ConsumerConfig
	Socket      SocketConfig
	Compression CompressionConfig
	Logging     logging.Config
}

// DefaultClientConfig returns a configuration with every default applied
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Coordinator: CoordinatorConfig{
			Backend:        BackendZooKeeper,
			Endpoints:      []string{"127.0.0.1:2181"},
			Namespace:      "meta",
			SessionTimeout: 10 * time.Second,
		},
		Producer: ProducerConfig{
			Retries:      3,
			RetryBackoff: 500 * time.Microsecond,
		},
		Consumer: ConsumerConfig{
			SettleDelay:           2 * time.Second,
			RebalanceRetryDelay:   time.Second,
			RebalanceMaxRetries:   30,
			BalanceCheckInterval:  time.Second,
			BackoffBaseline:       time.Millisecond,
			BackoffEmptyFactor:    3,
			BackoffRedirectFactor: 21,
			IdleCeiling:           2 * time.Second,
		},
		Socket: SocketConfig{
			ConnectTimeout: 3 * time.Second,
			IOTimeout:      3 * time.Second,
		},
		Compression: CompressionConfig{
			Type:      compression.None,
			Threshold: 1024,
		},
		Logging: logging.Config{
			Level:         logging.LevelInfo,
			Format:        logging.FormatText,
			EnableConsole: true,
		},
	}
}

// SetDefaults fills unset fields. BalanceCheckInterval is left alone since
// zero is meaningful there.
func (c *ClientConfig) SetDefaults() {
	d := DefaultClientConfig()

	if len(c.Coordinator.Endpoints) == 0 && c.Coordinator.Backend != BackendMemory {
		c.Coordinator.Endpoints = d.Coordinator.Endpoints
	}
	if c.Coordinator.Namespace == "" {
		c.Coordinator.Namespace = d.Coordinator.Namespace
	}
	if c.Coordinator.SessionTimeout <= 0 {
		c.Coordinator.SessionTimeout = d.Coordinator.SessionTimeout
	}

	if c.Producer.Retries <= 0 {
		c.Producer.Retries = d.Producer.Retries
	}
	if c.Producer.RetryBackoff <= 0 {
		c.Producer.RetryBackoff = d.Producer.RetryBackoff
	}

	if c.Consumer.SettleDelay < 0 {
		c.Consumer.SettleDelay = d.Consumer.SettleDelay
	}
	if c.Consumer.RebalanceRetryDelay < 0 {
		c.Consumer.RebalanceRetryDelay = d.Consumer.RebalanceRetryDelay
	}
	if c.Consumer.RebalanceMaxRetries <= 0 {
		c.Consumer.RebalanceMaxRetries = d.Consumer.RebalanceMaxRetries
	}
	if c.Consumer.BackoffBaseline <= 0 {
		c.Consumer.BackoffBaseline = d.Consumer.BackoffBaseline
	}
	if c.Consumer.BackoffEmptyFactor <= 1 {
		c.Consumer.BackoffEmptyFactor = d.Consumer.BackoffEmptyFactor
	}
	if c.Consumer.BackoffRedirectFactor <= 1 {
		c.Consumer.BackoffRedirectFactor = d.Consumer.BackoffRedirectFactor
	}
	if c.Consumer.IdleCeiling <= 0 {
		c.Consumer.IdleCeiling = d.Consumer.IdleCeiling
	}

	if c.Socket.ConnectTimeout <= 0 {
		c.Socket.ConnectTimeout = d.Socket.ConnectTimeout
	}
	if c.Socket.IOTimeout <= 0 {
		c.Socket.IOTimeout = d.Socket.IOTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// ValidName reports whether name fits in one header field and one
// coordination path segment. Emptiness is left to the caller.
func ValidName(name string) bool {
	return !strings.ContainsAny(name, "/ \t\r\n")
}

// Validate reports the first configuration problem found
func (c *ClientConfig) Validate() error {
	switch c.Coordinator.Backend {
	case BackendZooKeeper, BackendEtcd:
		if len(c.Coordinator.Endpoints) == 0 {
			return typederrors.Newf(typederrors.ConfigError, "%s backend needs at least one endpoint", c.Coordinator.Backend)
		}
	case BackendMemory:
	default:
		return typederrors.Newf(typederrors.ConfigError, "unknown coordinator backend %d", c.Coordinator.Backend)
	}

	if !ValidName(c.Coordinator.Namespace) {
		return typederrors.Newf(typederrors.ConfigError, "namespace %q must be a single path segment", c.Coordinator.Namespace)
	}
	if !ValidName(c.Consumer.Group) {
		return typederrors.Newf(typederrors.ConfigError, "consumer group %q must be a single path segment", c.Consumer.Group)
	}

	for _, b := range c.Brokers {
		if b.Host == "" || b.Port <= 0 {
			return typederrors.Newf(typederrors.ConfigError, "static broker in group %d needs host and port", b.GroupID)
		}
		if b.Role != metadata.RoleMaster && b.Role != metadata.RoleSlave {
			return typederrors.Newf(typederrors.ConfigError, "static broker %s:%d has unknown role %q", b.Host, b.Port, b.Role)
		}
	}

	if c.Compression.Threshold < 0 {
		return typederrors.Newf(typederrors.ConfigError, "compression threshold must not be negative")
	}
	return nil
}

// coordinatorConfigJSON is a temporary struct for JSON parsing
type coordinatorConfigJSON struct {
	Backend        Backend  `json:"backend"`
	Endpoints      []string `json:"endpoints"`
	Namespace      string   `json:"namespace"`
	SessionTimeout string   `json:"session_timeout"`
}

type producerConfigJSON struct {
	Retries      int    `json:"retries"`
	RetryBackoff string `json:"retry_backoff"`
}

type consumerConfigJSON struct {
	Group                 string `json:"group"`
	SettleDelay           string `json:"settle_delay"`
	RebalanceRetryDelay   string `json:"rebalance_retry_delay"`
	RebalanceMaxRetries   int    `json:"rebalance_max_retries"`
	BalanceCheckInterval  string `json:"balance_check_interval"`
	BackoffBaseline       string `json:"backoff_baseline"`
	BackoffEmptyFactor    int    `json:"backoff_empty_factor"`
	BackoffRedirectFactor int    `json:"backoff_redirect_factor"`
	IdleCeiling           string `json:"idle_ceiling"`
	BrokerOffsetSync      bool   `json:"broker_offset_sync"`
}

type socketConfigJSON struct {
	ConnectTimeout string `json:"connect_timeout"`
	IOTimeout      string `json:"io_timeout"`
	IdleTimeout    string `json:"idle_timeout"`
}

type compressionConfigJSON struct {
	Type      compression.CompressionType `json:"type"`
	Threshold *int                        `json:"threshold"`
}

// clientConfigJSON is a temporary struct for JSON parsing
type clientConfigJSON struct {
	Coordinator coordinatorConfigJSON   `json:"coordinator"`
	Brokers     []metadata.StaticBroker `json:"brokers"`
	Producer    producerConfigJSON      `json:"producer"`
	Consumer    consumerConfigJSON      `json:"consumer"`
	Socket      socketConfigJSON        `json:"socket"`
	Compression compressionConfigJSON   `json:"compression"`
	Logging     *logging.Config         `json:"logging"`
}

// ParseClientConfig decodes a JSON document on top of the defaults
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	var configJSON clientConfigJSON
	if err := json.Unmarshal(data, &configJSON); err != nil {
		return nil, typederrors.Wrapf(typederrors.ConfigError, err, "failed to parse config")
	}

	config := DefaultClientConfig()
	config.Coordinator.Backend = configJSON.Coordinator.Backend
	if len(configJSON.Coordinator.Endpoints) > 0 {
		config.Coordinator.Endpoints = configJSON.Coordinator.Endpoints
	} else if configJSON.Coordinator.Backend == BackendMemory {
		config.Coordinator.Endpoints = nil
	}
	if configJSON.Coordinator.Namespace != "" {
		config.Coordinator.Namespace = configJSON.Coordinator.Namespace
	}
	config.Brokers = configJSON.Brokers
	config.Producer.Retries = configJSON.Producer.Retries
	config.Consumer.Group = configJSON.Consumer.Group
	config.Consumer.RebalanceMaxRetries = configJSON.Consumer.RebalanceMaxRetries
	config.Consumer.BackoffEmptyFactor = configJSON.Consumer.BackoffEmptyFactor
	config.Consumer.BackoffRedirectFactor = configJSON.Consumer.BackoffRedirectFactor
	config.Consumer.BrokerOffsetSync = configJSON.Consumer.BrokerOffsetSync
	config.Compression.Type = configJSON.Compression.Type
	if configJSON.Compression.Threshold != nil {
		config.Compression.Threshold = *configJSON.Compression.Threshold
	}
	if configJSON.Logging != nil {
		config.Logging = *configJSON.Logging
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"coordinator.session_timeout", configJSON.Coordinator.SessionTimeout, &config.Coordinator.SessionTimeout},
		{"producer.retry_backoff", configJSON.Producer.RetryBackoff, &config.Producer.RetryBackoff},
		{"consumer.settle_delay", configJSON.Consumer.SettleDelay, &config.Consumer.SettleDelay},
		{"consumer.rebalance_retry_delay", configJSON.Consumer.RebalanceRetryDelay, &config.Consumer.RebalanceRetryDelay},
		{"consumer.balance_check_interval", configJSON.Consumer.BalanceCheckInterval, &config.Consumer.BalanceCheckInterval},
		{"consumer.backoff_baseline", configJSON.Consumer.BackoffBaseline, &config.Consumer.BackoffBaseline},
		{"consumer.idle_ceiling", configJSON.Consumer.IdleCeiling, &config.Consumer.IdleCeiling},
		{"socket.connect_timeout", configJSON.Socket.ConnectTimeout, &config.Socket.ConnectTimeout},
		{"socket.io_timeout", configJSON.Socket.IOTimeout, &config.Socket.IOTimeout},
		{"socket.idle_timeout", configJSON.Socket.IdleTimeout, &config.Socket.IdleTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, typederrors.Wrapf(typederrors.ConfigError, err, "invalid %s", d.name)
		}
		*d.dst = v
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadClientConfig loads client configuration from a JSON file
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, typederrors.Wrapf(typederrors.ConfigError, err, "failed to read config file")
	}
	return ParseClientConfig(data)
}
