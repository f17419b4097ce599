package testutil

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/issac1998/go-metaq/internal/config"
	"github.com/issac1998/go-metaq/internal/coordinator"
	"github.com/issac1998/go-metaq/internal/logging"
	"github.com/issac1998/go-metaq/internal/metadata"
)

// TestCluster is an in-memory coordination namespace with mock brokers
// registered in it the way real brokers register themselves.
type TestCluster struct {
	Store     *coordinator.MemoryStore
	Namespace string
	Masters   map[int]*MockBroker
	Slaves    map[int][]*MockBroker
}

// NewTestCluster creates an empty cluster
func NewTestCluster() *TestCluster {
	return &TestCluster{
		Store:     coordinator.NewMemoryStore(),
		Namespace: coordinator.DefaultNamespace,
		Masters:   make(map[int]*MockBroker),
		Slaves:    make(map[int][]*MockBroker),
	}
}

func (tc *TestCluster) path(parts ...string) string {
	return path.Join(append([]string{"/", tc.Namespace}, parts...)...)
}

// AddMaster starts a broker and registers it as the master of group gid
func (tc *TestCluster) AddMaster(gid int) (*MockBroker, error) {
	if _, ok := tc.Masters[gid]; ok {
		return nil, fmt.Errorf("group %d already has a master", gid)
	}
	b, err := NewMockBroker()
	if err != nil {
		return nil, err
	}
	tc.Masters[gid] = b
	tc.Store.Put(tc.path("brokers", "ids", strconv.Itoa(gid), "master"), []byte(b.URI()))
	return b, nil
}

// AddSlave starts a broker and registers it as the next slave of group gid
func (tc *TestCluster) AddSlave(gid int) (*MockBroker, error) {
	b, err := NewMockBroker()
	if err != nil {
		return nil, err
	}
	tc.Slaves[gid] = append(tc.Slaves[gid], b)
	role := "slave" + strconv.Itoa(len(tc.Slaves[gid]))
	tc.Store.Put(tc.path("brokers", "ids", strconv.Itoa(gid), role), []byte(b.URI()))
	return b, nil
}

// CreateTopic publishes topic with partitions partitions on every master
// group and on each of its slaves.
func (tc *TestCluster) CreateTopic(topic string, partitions int) {
	count := []byte(strconv.Itoa(partitions))
	for gid := range tc.Masters {
		tc.Store.Put(tc.path("brokers", "topics", topic, strconv.Itoa(gid)+"-m"), count)
		for i := range tc.Slaves[gid] {
			tc.Store.Put(tc.path("brokers", "topics", topic, strconv.Itoa(gid)+"-s"+strconv.Itoa(i+1)), count)
		}
	}
}

// StoreFactory hands out a fresh session on the shared store per call
func (tc *TestCluster) StoreFactory() func() (coordinator.Store, error) {
	return func() (coordinator.Store, error) {
		return tc.Store.Session(), nil
	}
}

// StaticBrokers describes the registered brokers for static configuration
func (tc *TestCluster) StaticBrokers(topics map[string]int) []metadata.StaticBroker {
	gids := make([]int, 0, len(tc.Masters))
	for gid := range tc.Masters {
		gids = append(gids, gid)
	}
	sort.Ints(gids)

	var out []metadata.StaticBroker
	for _, gid := range gids {
		m := tc.Masters[gid]
		out = append(out, metadata.StaticBroker{
			GroupID: gid, Role: metadata.RoleMaster, Host: m.Host(), Port: m.Port(), Topics: topics,
		})
		for _, s := range tc.Slaves[gid] {
			out = append(out, metadata.StaticBroker{
				GroupID: gid, Role: metadata.RoleSlave, Host: s.Host(), Port: s.Port(), Topics: topics,
			})
		}
	}
	return out
}

// Config returns a client configuration tuned for fast tests against this
// cluster: memory backend, no settle delay and a check before every poll.
func (tc *TestCluster) Config(group string) *config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.Coordinator.Backend = config.BackendMemory
	cfg.Coordinator.Endpoints = nil
	cfg.Coordinator.Namespace = tc.Namespace
	cfg.Consumer.Group = group
	cfg.Consumer.SettleDelay = 0
	cfg.Consumer.RebalanceRetryDelay = time.Millisecond
	cfg.Consumer.RebalanceMaxRetries = 3
	cfg.Consumer.BalanceCheckInterval = 0
	cfg.Socket.ConnectTimeout = time.Second
	cfg.Socket.IOTimeout = time.Second
	cfg.Logging = logging.Config{Level: logging.LevelError, Format: logging.FormatText}
	return cfg
}

// Stop closes every broker
func (tc *TestCluster) Stop() {
	for _, b := range tc.Masters {
		b.Close()
	}
	for _, slaves := range tc.Slaves {
		for _, b := range slaves {
			b.Close()
		}
	}
}
