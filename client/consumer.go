package client

import (
	"sync"
	"time"

	"github.com/issac1998/go-metaq/internal/backoff"
	"github.com/issac1998/go-metaq/internal/compression"
	"github.com/issac1998/go-metaq/internal/config"
	"github.com/issac1998/go-metaq/internal/coordinator"
	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/logging"
	"github.com/issac1998/go-metaq/internal/metadata"
	"github.com/issac1998/go-metaq/internal/pool"
	"github.com/issac1998/go-metaq/internal/protocol"
	"github.com/issac1998/go-metaq/internal/transport"
)

// State of a consumer's group membership
type State int

const (
	StateUnsubscribed State = iota
	StateJoining
	StateBalanced
	StatePolling
	StateRebalancing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateJoining:
		return "joining"
	case StateBalanced:
		return "balanced"
	case StatePolling:
		return "polling"
	case StateRebalancing:
		return "rebalancing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one consumed message. Offset is where the next message of the
// same partition starts.
type Message struct {
	Topic       string
	PartitionID string
	ID          int64
	Flag        int32
	Payload     []byte
	Offset      int64
}

// Consumer is one member of a consumer group reading one topic. The
// group's master partitions are split between live members by range;
// each member also reads the slaves of the masters it owns. It is safe for
// use from one goroutine at a time.
type Consumer struct {
	client  *Client
	logger  *logging.Logger
	metrics *Metrics

	mu    sync.Mutex
	coord *coordinator.Coordinator
	pool  *pool.SocketPool
	codec *compression.Codec

	id    string
	topic string
	group string
	state State

	owned    []metadata.Partition
	replicas map[string]metadata.Partition
	offsets  map[string]int64
	table    *backoff.Table

	epoch     uint64
	version   string
	lastCheck time.Time
	now       func() time.Time
}

// NewConsumer creates an unsubscribed consumer with its own coordination
// session.
func (c *Client) NewConsumer() (*Consumer, error) {
	codec, err := c.newCodec()
	if err != nil {
		return nil, err
	}
	coord, err := c.newCoordinator()
	if err != nil {
		return nil, err
	}

	cfg := c.config.Consumer
	return &Consumer{
		client:   c,
		logger:   c.logger.WithComponent("consumer"),
		metrics:  c.metrics,
		coord:    coord,
		pool:     c.newPool(),
		codec:    codec,
		state:    StateUnsubscribed,
		replicas: make(map[string]metadata.Partition),
		offsets:  make(map[string]int64),
		table: backoff.NewTable(backoff.Policy{
			Baseline:       cfg.BackoffBaseline,
			EmptyFactor:    cfg.BackoffEmptyFactor,
			RedirectFactor: cfg.BackoffRedirectFactor,
			IdleCeiling:    cfg.IdleCeiling,
		}),
		now: time.Now,
	}, nil
}

// ID returns the consumer's instance id, empty until subscribed
func (c *Consumer) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the membership state
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Partitions returns the ids of the master partitions currently owned
func (c *Consumer) Partitions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.owned))
	for _, p := range c.owned {
		ids = append(ids, p.ID())
	}
	return ids
}

// Subscribe joins group for topic and claims this member's share of its
// partitions.
func (c *Consumer) Subscribe(topic, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.coord == nil {
		return typederrors.Newf(typederrors.GeneralError, "consumer is closed")
	}
	if c.state != StateUnsubscribed {
		return typederrors.Newf(typederrors.ConfigError, "consumer already subscribed to %s as %s", c.topic, c.group)
	}
	if topic == "" || group == "" {
		return typederrors.Newf(typederrors.ConfigError, "topic and group are required")
	}
	if !config.ValidName(topic) || !config.ValidName(group) {
		return typederrors.Newf(typederrors.ConfigError, "topic %q and group %q must be single path segments", topic, group)
	}

	c.topic = topic
	c.group = group
	c.id = NewInstanceID(group)
	c.logger = c.client.logger.WithComponent("consumer").WithConsumer(group, c.id)
	c.state = StateJoining

	c.epoch = c.coord.SessionEpoch()
	if err := c.coord.RegisterConsumer(group, c.id); err != nil {
		c.state = StateFailed
		return err
	}
	c.logger.StartupInfo("consumer", map[string]any{"topic": topic})
	return c.rebalance()
}

// Rebalance releases every owned partition and claims a fresh share
func (c *Consumer) Rebalance() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUnsubscribed {
		return typederrors.Newf(typederrors.ConfigError, "consumer is not subscribed")
	}
	return c.rebalance()
}

func (c *Consumer) rebalance() error {
	cfg := c.client.config.Consumer
	if c.state != StateJoining {
		c.state = StateRebalancing
	}

	var lastErr error
	attempt := 1
	for ; attempt <= cfg.RebalanceMaxRetries; attempt++ {
		if attempt > 1 {
			c.client.sleep(cfg.RebalanceRetryDelay)
		}

		err := c.rebalanceOnce(attempt)
		if err == nil {
			c.state = StateBalanced
			c.lastCheck = c.now()
			c.metrics.rebalanced(c.group)
			return nil
		}
		lastErr = err
		c.logger.Warn("rebalance attempt failed", "attempt", attempt, "error", err)
		if !typederrors.IsRetriable(err) {
			break
		}
	}

	c.state = StateFailed
	c.metrics.rebalanceFailed(c.group)
	return typederrors.Wrapf(typederrors.RebalanceExhaustedError, lastErr,
		"rebalance of %s/%s gave up after %d attempts", c.group, c.topic, min(attempt, cfg.RebalanceMaxRetries))
}

func (c *Consumer) releaseAll() {
	for _, p := range c.owned {
		if err := c.coord.ReleasePartition(c.group, c.topic, p.ID(), c.id); err != nil {
			c.logger.ErrorContext("failed to release partition", err, "partition", p.ID())
			continue
		}
		c.logger.PartitionOperation("release", c.topic, p.ID(), nil)
	}
	c.owned = nil
	c.replicas = make(map[string]metadata.Partition)
	c.offsets = make(map[string]int64)
	c.table.Clear()
}

func (c *Consumer) rebalanceOnce(attempt int) error {
	c.releaseAll()
	c.client.sleep(c.client.config.Consumer.SettleDelay)

	// read the token before the member list so a change in between is
	// caught by the next check
	version, err := c.coord.MembershipVersion(c.group)
	if err != nil {
		return err
	}
	c.coord.InvalidateTopology()
	topo, err := c.coord.TopicMetadata()
	if err != nil {
		return err
	}
	members, err := c.coord.GroupMembers(c.group)
	if err != nil {
		return err
	}
	c.version = version

	assigned := metadata.AssignRange(topo.Masters(c.topic), members, c.id)
	for _, p := range assigned {
		ok, err := c.coord.ClaimPartition(c.group, c.topic, p.ID(), c.id)
		if err != nil {
			return err
		}
		if !ok {
			return typederrors.Newf(typederrors.OwnershipConflictError,
				"partition %s of %s is still owned by another member", p.ID(), c.topic)
		}
		c.owned = append(c.owned, p)
	}

	for _, p := range c.owned {
		committed, err := c.coord.CommittedOffset(c.group, c.topic, p.ID())
		if err != nil {
			return err
		}
		c.offsets[p.ID()] = committed.Offset
		c.logger.PartitionOperation("claim", c.topic, p.ID(), map[string]any{"offset": committed.String()})

		for _, replica := range append([]metadata.Partition{p}, topo.Slaves(p)...) {
			key := replica.ReplicaKey()
			c.replicas[key] = replica
			c.table.Add(key)
		}
	}

	owned := make([]string, 0, len(c.owned))
	for _, p := range c.owned {
		owned = append(owned, p.ID())
	}
	c.logger.Rebalance(c.group, c.topic, attempt, owned, map[string]any{
		"members":  len(members),
		"replicas": c.table.Len(),
	})
	return nil
}

// checkBalance rejoins after a lost session and rebalances after a
// membership change. It runs at most once per BalanceCheckInterval.
func (c *Consumer) checkBalance() error {
	interval := c.client.config.Consumer.BalanceCheckInterval
	now := c.now()
	if interval > 0 && now.Sub(c.lastCheck) < interval {
		return nil
	}
	c.lastCheck = now

	if epoch := c.coord.SessionEpoch(); epoch != c.epoch {
		c.logger.Warn("coordination session replaced, rejoining", "epoch", epoch)
		c.epoch = epoch
		if err := c.coord.RegisterConsumer(c.group, c.id); err != nil {
			return err
		}
		return c.rebalance()
	}

	version, err := c.coord.MembershipVersion(c.group)
	if err != nil {
		return err
	}
	if version != c.version {
		c.logger.Info("group membership changed", "group", c.group)
		return c.rebalance()
	}
	return nil
}

// Poll fetches the next batch from the least backed-off partition replica.
// An empty result with a nil error means that replica had nothing new.
func (c *Consumer) Poll() ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUnsubscribed:
		return nil, typederrors.Newf(typederrors.ConfigError, "consumer is not subscribed")
	case StateFailed:
		return nil, typederrors.Newf(typederrors.RebalanceExhaustedError, "consumer failed to rebalance")
	}

	if err := c.checkBalance(); err != nil {
		return nil, err
	}

	entry, ok := c.table.Next()
	if !ok {
		c.client.sleep(c.table.Policy().IdleCeiling)
		return nil, nil
	}
	c.state = StatePolling

	replica := c.replicas[entry.Key]
	msgs, err := c.fetch(replica, entry.Key)
	if err != nil {
		c.metrics.pollFailed(c.topic)
		return nil, err
	}
	c.metrics.polled(c.topic, len(msgs))
	return msgs, nil
}

func (c *Consumer) fetch(replica metadata.Partition, key string) ([]Message, error) {
	addr := replica.Addr()
	pid := replica.ID()
	offset := c.offsets[pid]

	sock, err := c.pool.Get(addr)
	if err != nil {
		c.table.GrowEmpty(key)
		return nil, err
	}
	if err := sock.Write(protocol.EncodeGet(c.topic, c.group, replica.Index, offset)); err != nil {
		return nil, c.dropSocket(addr, key, err)
	}
	c.logger.BrokerRequest(protocol.GetCommand, addr, map[string]any{"partition": pid, "offset": offset})
	frame, err := sock.ReadFrame(protocol.MaxMessageLength)
	if err != nil {
		return nil, c.dropSocket(addr, key, err)
	}
	res, err := protocol.DecodeGetResult(frame)
	if err != nil {
		return nil, c.dropSocket(addr, key, err)
	}

	switch {
	case res.Redirected:
		c.logger.WithPartition(c.topic, pid).Info("offset redirected",
			"broker", addr, "from", offset, "to", res.RedirectOffset)
		c.offsets[pid] = res.RedirectOffset
		c.table.GrowRedirect(key)
		c.metrics.redirected(c.topic)
		return nil, c.commit(replica, sock, metadata.OffsetInfo{Offset: res.RedirectOffset})

	case len(res.Messages) > 0:
		msgs := make([]Message, 0, len(res.Messages))
		next := offset
		for _, m := range res.Messages {
			payload, err := c.codec.Decode(m.Payload, m.Flag)
			if err != nil {
				// the flag belongs to the application; hand over the bytes as stored
				c.logger.WithPartition(c.topic, pid).Debug("payload is not compressed with its flag's codec",
					"id", m.ID, "flag", m.Flag, "error", err)
				payload = m.Payload
			}
			next += int64(protocol.RecordHeaderSize + len(m.Payload))
			msgs = append(msgs, Message{
				Topic:       c.topic,
				PartitionID: pid,
				ID:          m.ID,
				Flag:        m.Flag,
				Payload:     payload,
				Offset:      next,
			})
		}
		c.offsets[pid] = offset + res.BytesConsumed
		c.table.Reset(key)
		last := res.Messages[len(res.Messages)-1]
		if err := c.commit(replica, sock, metadata.OffsetInfo{LastMessageID: last.ID, Offset: c.offsets[pid]}); err != nil {
			return msgs, err
		}
		return msgs, nil

	default:
		c.table.GrowEmpty(key)
		if c.table.Idle() {
			ceiling := c.table.Policy().IdleCeiling
			c.client.sleep(ceiling)
			c.table.Elapse(ceiling)
		}
		return nil, nil
	}
}

// dropSocket discards a socket after a failed exchange and backs the
// replica off so other partitions are polled first.
func (c *Consumer) dropSocket(addr, key string, err error) error {
	c.pool.Discard(addr)
	c.table.GrowEmpty(key)
	c.logger.WithBroker(addr).WithError(err).Warn("poll failed", "replica", key)
	if typederrors.IsType(err, typederrors.ProtocolDecodeError) {
		return err
	}
	return typederrors.Wrapf(typederrors.ConnectionError, err, "poll %s", addr)
}

func (c *Consumer) commit(replica metadata.Partition, sock transport.Transport, info metadata.OffsetInfo) error {
	if err := c.coord.CommitOffset(c.group, c.topic, replica.ID(), info); err != nil {
		return err
	}
	c.logger.PartitionOperation("commit", c.topic, replica.ID(), map[string]any{"offset": info.String()})
	if c.client.config.Consumer.BrokerOffsetSync {
		c.syncBrokerOffset(replica, sock, info.Offset)
	}
	return nil
}

// syncBrokerOffset reports the committed offset to the serving broker. The
// coordination service stays authoritative, so failures are only logged.
func (c *Consumer) syncBrokerOffset(replica metadata.Partition, sock transport.Transport, offset int64) {
	logger := c.logger.WithBroker(replica.Addr())
	logger.BrokerRequest(protocol.OffsetCommand, replica.Addr(), map[string]any{"partition": replica.ID(), "offset": offset})
	if err := sock.Write(protocol.EncodeCommitOffset(c.topic, c.group, replica.Index, offset)); err != nil {
		c.pool.Discard(replica.Addr())
		logger.Warn("broker offset sync failed", "error", err)
		return
	}
	frame, err := sock.ReadFrame(protocol.MaxMessageLength)
	if err != nil {
		c.pool.Discard(replica.Addr())
		logger.Warn("broker offset sync failed", "error", err)
		return
	}
	res, err := protocol.DecodeResult(frame)
	if err != nil || res.Status != protocol.StatusSuccess {
		logger.Warn("broker rejected offset sync", "status", res.Status, "error", err)
	}
}

// Close releases owned partitions, leaves the group and closes the
// coordination session and broker sockets.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.coord == nil {
		return nil
	}
	if c.state != StateUnsubscribed {
		c.releaseAll()
		if err := c.coord.UnregisterConsumer(c.group, c.id); err != nil {
			c.logger.ErrorContext("failed to leave group", err)
		}
	}
	c.state = StateUnsubscribed
	c.pool.Close()
	c.codec.Close()
	err := c.coord.Close()
	c.coord = nil
	c.logger.ShutdownInfo("consumer", map[string]any{"topic": c.topic})
	return err
}
