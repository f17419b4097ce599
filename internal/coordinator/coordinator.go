package coordinator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/logging"
	"github.com/issac1998/go-metaq/internal/metadata"
)

// Coordinator implements broker discovery, group membership, partition
// ownership and offset storage on top of a Store.
type Coordinator struct {
	store  Store
	paths  paths
	logger *logging.Logger

	mu       sync.Mutex
	topology metadata.Topology
	// registry watches by path; a closed channel marks the cache stale
	watches map[string]<-chan struct{}
}

// New creates a coordinator rooted at /<namespace>
func New(store Store, namespace string, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		store:   store,
		paths:   newPaths(namespace),
		logger:  logger.WithComponent("coordinator"),
		watches: make(map[string]<-chan struct{}),
	}
}

// Store returns the underlying store
func (c *Coordinator) Store() Store {
	return c.store
}

// endpoint is a broker address keyed by "<gid>-<roleSuffix>"
type endpoint struct {
	host string
	port int
}

// roleSuffix maps a registry role name to the suffix used in topic
// children: "master" -> "m", "slave2" -> "s2".
func roleSuffix(role string) (string, bool) {
	switch {
	case strings.HasPrefix(role, "master"):
		return "m" + strings.TrimPrefix(role, "master"), true
	case strings.HasPrefix(role, "slave"):
		return "s" + strings.TrimPrefix(role, "slave"), true
	default:
		return "", false
	}
}

func (c *Coordinator) brokerEndpoints() (map[string]endpoint, error) {
	groups, err := c.store.Children(c.paths.brokerIDs())
	if errors.Is(err, ErrNoNode) {
		return map[string]endpoint{}, nil
	}
	if err != nil {
		return nil, err
	}

	endpoints := make(map[string]endpoint)
	for _, gid := range groups {
		roles, err := c.store.Children(c.paths.brokerGroup(gid))
		if errors.Is(err, ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, role := range roles {
			if role == masterConfigChecksum {
				continue
			}
			suffix, ok := roleSuffix(role)
			if !ok {
				continue
			}
			data, err := c.store.Get(c.paths.brokerGroup(gid) + "/" + role)
			if errors.Is(err, ErrNoNode) {
				continue
			}
			if err != nil {
				return nil, err
			}
			host, port, err := metadata.ParseBrokerURI(string(data))
			if err != nil {
				c.logger.Warn("skipping broker with bad registration", "group", gid, "role", role, "error", err)
				continue
			}
			endpoints[gid+"-"+suffix] = endpoint{host: host, port: port}
		}
	}
	return endpoints, nil
}

func (c *Coordinator) readTopology() (metadata.Topology, error) {
	endpoints, err := c.brokerEndpoints()
	if err != nil {
		return nil, err
	}

	topics, err := c.store.Children(c.paths.brokerTopics())
	if errors.Is(err, ErrNoNode) {
		return metadata.Topology{}, nil
	}
	if err != nil {
		return nil, err
	}

	topology := make(metadata.Topology)
	for _, topic := range topics {
		children, err := c.store.Children(c.paths.topic(topic))
		if errors.Is(err, ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			gidPart, suffix, found := strings.Cut(child, "-")
			if !found {
				suffix = "m"
			}
			gid, err := strconv.Atoi(gidPart)
			if err != nil {
				c.logger.Warn("skipping topic entry with bad broker group", "topic", topic, "entry", child)
				continue
			}

			ep, ok := endpoints[gidPart+"-"+suffix]
			if !ok {
				continue
			}
			master, ok := endpoints[gidPart+"-m"]
			if !ok {
				c.logger.Warn("skipping replica without a master", "topic", topic, "entry", child)
				continue
			}

			data, err := c.store.Get(c.paths.topic(topic) + "/" + child)
			if errors.Is(err, ErrNoNode) {
				continue
			}
			if err != nil {
				return nil, err
			}
			count, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil || count < 0 {
				c.logger.Warn("skipping topic entry with bad partition count", "topic", topic, "entry", child)
				continue
			}

			role := metadata.RoleSlave
			if strings.HasPrefix(suffix, "m") {
				role = metadata.RoleMaster
			}
			for i := 0; i < count; i++ {
				topology[topic] = append(topology[topic], metadata.Partition{
					Topic:       topic,
					BrokerGroup: gid,
					Index:       i,
					Role:        role,
					Host:        ep.host,
					Port:        ep.port,
					MasterHost:  master.host,
					MasterPort:  master.port,
				})
			}
		}
		metadata.SortPartitions(topology[topic])
	}
	return topology, nil
}

func fired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (c *Coordinator) cacheValid() bool {
	if c.topology == nil {
		return false
	}
	for _, ch := range c.watches {
		if fired(ch) {
			return false
		}
	}
	return true
}

// armWatches makes sure one live watch exists on each registry path. Watches
// that have not fired are kept, so rereading the registry never stacks up
// new ones. It reports whether every path is watched.
func (c *Coordinator) armWatches() bool {
	armed := true
	for _, p := range []string{c.paths.brokerIDs(), c.paths.brokerTopics()} {
		if ch, ok := c.watches[p]; ok && !fired(ch) {
			continue
		}
		ch, err := c.store.WatchChildren(p)
		if err != nil {
			delete(c.watches, p)
			armed = false
			continue
		}
		c.watches[p] = ch
	}
	return armed
}

// TopicMetadata returns every replica of every partition of every topic.
// The result is cached until the broker registry changes.
func (c *Coordinator) TopicMetadata() (metadata.Topology, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cacheValid() {
		return c.topology, nil
	}

	armed := c.armWatches()
	topology, err := c.readTopology()
	if err != nil {
		c.topology = nil
		return nil, unavailable(err, "read", "topic metadata")
	}

	if armed {
		c.topology = topology
	} else {
		c.topology = nil
	}
	c.logger.Debug("topic metadata refreshed", "topics", len(topology))
	return topology, nil
}

// InvalidateTopology forces the next TopicMetadata to reread the registry.
// Outstanding watches stay armed.
func (c *Coordinator) InvalidateTopology() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topology = nil
}

// RegisterConsumer announces id as a live member of group. Registering an
// id that is already present is not an error.
func (c *Coordinator) RegisterConsumer(group, id string) error {
	err := c.store.CreateEphemeral(c.paths.consumerID(group, id), []byte(id))
	if err == nil || errors.Is(err, ErrNodeExists) {
		return nil
	}
	return unavailable(err, "register", c.paths.consumerID(group, id))
}

// UnregisterConsumer removes id from group
func (c *Coordinator) UnregisterConsumer(group, id string) error {
	err := c.store.Delete(c.paths.consumerID(group, id))
	if err == nil || errors.Is(err, ErrNoNode) {
		return nil
	}
	return unavailable(err, "unregister", c.paths.consumerID(group, id))
}

// GroupMembers lists the live member ids of group
func (c *Coordinator) GroupMembers(group string) ([]string, error) {
	members, err := c.store.Children(c.paths.consumerIDs(group))
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err, "members", c.paths.consumerIDs(group))
	}
	return members, nil
}

// MembershipVersion returns a token that changes whenever the member set of
// group changes. An empty group has an empty token.
func (c *Coordinator) MembershipVersion(group string) (string, error) {
	v, err := c.store.ChildrenVersion(c.paths.consumerIDs(group))
	if errors.Is(err, ErrNoNode) {
		return "", nil
	}
	if err != nil {
		return "", unavailable(err, "version", c.paths.consumerIDs(group))
	}
	return v, nil
}

// ClaimPartition takes ownership of a partition for id. It never overwrites
// another member's claim; claiming a partition id already owns succeeds.
func (c *Coordinator) ClaimPartition(group, topic, partitionID, id string) (bool, error) {
	p := c.paths.owner(group, topic, partitionID)
	err := c.store.CreateEphemeral(p, []byte(id))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNodeExists) {
		return false, unavailable(err, "claim", p)
	}

	owner, err := c.store.Get(p)
	if errors.Is(err, ErrNoNode) {
		// released between create and get; the next attempt will decide
		return false, nil
	}
	if err != nil {
		return false, unavailable(err, "claim", p)
	}
	return string(owner) == id, nil
}

// ReleasePartition gives up id's claim. Releasing a partition id does not
// own is a no-op.
func (c *Coordinator) ReleasePartition(group, topic, partitionID, id string) error {
	p := c.paths.owner(group, topic, partitionID)
	owner, err := c.store.Get(p)
	if errors.Is(err, ErrNoNode) {
		return nil
	}
	if err != nil {
		return unavailable(err, "release", p)
	}
	if string(owner) != id {
		return nil
	}
	if err := c.store.Delete(p); err != nil && !errors.Is(err, ErrNoNode) {
		return unavailable(err, "release", p)
	}
	return nil
}

// PartitionOwner returns the member owning a partition, or "" if none
func (c *Coordinator) PartitionOwner(group, topic, partitionID string) (string, error) {
	owner, err := c.store.Get(c.paths.owner(group, topic, partitionID))
	if errors.Is(err, ErrNoNode) {
		return "", nil
	}
	if err != nil {
		return "", unavailable(err, "owner", c.paths.owner(group, topic, partitionID))
	}
	return string(owner), nil
}

// ReadOffset returns the group's progress on a partition without writing
// anything. found is false when the group never recorded progress there.
func (c *Coordinator) ReadOffset(group, topic, partitionID string) (info metadata.OffsetInfo, found bool, err error) {
	p := c.paths.offset(group, topic, partitionID)
	data, err := c.store.Get(p)
	if errors.Is(err, ErrNoNode) {
		return metadata.OffsetInfo{}, false, nil
	}
	if err != nil {
		return metadata.OffsetInfo{}, false, unavailable(err, "offset", p)
	}

	info, err = metadata.ParseOffsetInfo(string(data))
	if err != nil {
		return metadata.OffsetInfo{}, false, typederrors.Wrapf(typederrors.ProtocolDecodeError, err, "offset node %s", p)
	}
	return info, true, nil
}

// CommittedOffset returns the group's progress on a partition, recording
// zero progress the first time the partition is seen.
func (c *Coordinator) CommittedOffset(group, topic, partitionID string) (metadata.OffsetInfo, error) {
	info, found, err := c.ReadOffset(group, topic, partitionID)
	if err != nil || found {
		return info, err
	}

	p := c.paths.offset(group, topic, partitionID)
	if err := c.store.Create(p, []byte(info.String())); err != nil && !errors.Is(err, ErrNodeExists) {
		return info, unavailable(err, "offset", p)
	}
	return info, nil
}

// CommitOffset records the group's progress on a partition
func (c *Coordinator) CommitOffset(group, topic, partitionID string, info metadata.OffsetInfo) error {
	p := c.paths.offset(group, topic, partitionID)
	data := []byte(info.String())

	err := c.store.Set(p, data)
	if errors.Is(err, ErrNoNode) {
		err = c.store.Create(p, data)
		if errors.Is(err, ErrNodeExists) {
			err = c.store.Set(p, data)
		}
	}
	if err != nil {
		return unavailable(err, "commit", p)
	}
	return nil
}

// SessionEpoch increases whenever the coordination session was replaced
func (c *Coordinator) SessionEpoch() uint64 {
	return c.store.SessionEpoch()
}

// Close closes the store, ending the session
func (c *Coordinator) Close() error {
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close coordinator: %w", err)
	}
	return nil
}
