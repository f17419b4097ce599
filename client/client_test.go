package client

import (
	"regexp"
	"testing"
	"time"

	"github.com/issac1998/go-metaq/internal/config"
	"github.com/issac1998/go-metaq/internal/coordinator"
	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/logging"
	"github.com/issac1998/go-metaq/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient builds a client bound to tc's in-memory namespace that
// never sleeps. Later options override the defaults.
func newTestClient(t *testing.T, tc *testutil.TestCluster, cfg *config.ClientConfig, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.Nop()),
		WithStoreFactory(tc.StoreFactory()),
		WithSleep(func(time.Duration) {}),
	}, opts...)
	c, err := NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// newTestCluster starts one master per group id and publishes topic with
// partitions partitions on each.
func newTestCluster(t *testing.T, topic string, partitions int, gids ...int) *testutil.TestCluster {
	t.Helper()
	tc := testutil.NewTestCluster()
	t.Cleanup(tc.Stop)
	for _, gid := range gids {
		_, err := tc.AddMaster(gid)
		require.NoError(t, err)
	}
	tc.CreateTopic(topic, partitions)
	return tc
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(nil, WithLogger(logging.Nop()))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, config.BackendZooKeeper, c.Config().Coordinator.Backend)
	assert.Equal(t, "meta", c.Config().Coordinator.Namespace)
	assert.Equal(t, 30, c.Config().Consumer.RebalanceMaxRetries)
	assert.NotNil(t, c.Metrics())
	assert.NotNil(t, c.Logger())
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Consumer.Group = "a/b"

	_, err := NewClient(cfg, WithLogger(logging.Nop()))
	require.Error(t, err)
	assert.True(t, typederrors.IsType(err, typederrors.ConfigError))
}

func TestNewClientStoreFactoryErrorSurfaces(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Coordinator.Backend = config.BackendEtcd
	cfg.Coordinator.Endpoints = []string{"127.0.0.1:1"}
	cfg.Coordinator.SessionTimeout = time.Second

	failing := typederrors.Newf(typederrors.CoordinationUnavailableError, "down")
	c, err := NewClient(cfg,
		WithLogger(logging.Nop()),
		WithStoreFactory(func() (coordinator.Store, error) { return nil, failing }),
	)
	require.NoError(t, err)

	_, err = c.NewConsumer()
	require.Error(t, err)
	assert.True(t, typederrors.IsType(err, typederrors.CoordinationUnavailableError))
}

func TestNewInstanceID(t *testing.T) {
	id := NewInstanceID("orders")
	assert.Regexp(t, regexp.MustCompile(`^orders_.+-\d+-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewInstanceID("orders"))
}
