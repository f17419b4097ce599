package client

import (
	"math/rand"
	"sync"
	"time"

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

// PutResult is the broker's acknowledgment of a message. An asynchronous
// put returns ID -1 and Offset -1 since nothing was read back.
type PutResult struct {
	ID          int64
	Code        int
	Offset      int64
	Topic       string
	PartitionID string
	Broker      string
}

// Producer publishes messages to a random writable master partition and
// fails over to another one when a broker cannot be reached.
type Producer struct {
	client  *Client
	logger  *logging.Logger
	metrics *Metrics

	coord  *coordinator.Coordinator
	static metadata.Topology

	mu       sync.Mutex
	pool     *pool.SocketPool
	codec    *compression.Codec
	writable map[string][]metadata.Partition
	pending  map[transport.Transport]int
	rand     *rand.Rand
	closed   bool
}

// NewProducer creates a producer. With static brokers configured it never
// talks to the coordination service.
func (c *Client) NewProducer() (*Producer, error) {
	codec, err := c.newCodec()
	if err != nil {
		return nil, err
	}

	p := &Producer{
		client:   c,
		logger:   c.logger.WithComponent("producer"),
		metrics:  c.metrics,
		pool:     c.newPool(),
		codec:    codec,
		writable: make(map[string][]metadata.Partition),
		pending:  make(map[transport.Transport]int),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if len(c.config.Brokers) > 0 {
		p.static, err = metadata.StaticTopology(c.config.Brokers)
		if err != nil {
			return nil, typederrors.Wrapf(typederrors.ConfigError, err, "invalid static brokers")
		}
	} else {
		p.coord, err = c.newCoordinator()
		if err != nil {
			return nil, err
		}
	}

	p.logger.StartupInfo("producer", map[string]any{
		"static_brokers": len(c.config.Brokers),
		"compression":    c.config.Compression.Type.String(),
	})
	return p, nil
}

func (p *Producer) topology() (metadata.Topology, error) {
	if p.static != nil {
		return p.static, nil
	}
	return p.coord.TopicMetadata()
}

// partitions returns the writable masters of topic, loading them on first
// use or after every endpoint was dropped.
func (p *Producer) partitions(topic string) ([]metadata.Partition, error) {
	if parts, ok := p.writable[topic]; ok && len(parts) > 0 {
		return parts, nil
	}
	topo, err := p.topology()
	if err != nil {
		return nil, err
	}
	parts := topo.Masters(topic)
	p.writable[topic] = parts
	return parts, nil
}

// dropEndpoint removes every partition served by addr from topic's
// writable list.
func (p *Producer) dropEndpoint(topic, addr string) {
	parts := p.writable[topic]
	kept := parts[:0]
	for _, part := range parts {
		if part.Addr() != addr {
			kept = append(kept, part)
		}
	}
	p.writable[topic] = kept
}

// Put publishes payload to topic. With async set it returns once the
// request is written; otherwise it waits for the broker's acknowledgment.
// A broker-reported failure returns the decoded result alongside the error.
func (p *Producer) Put(topic string, payload []byte, async bool) (*PutResult, error) {
	if topic == "" || !config.ValidName(topic) {
		return nil, typederrors.Newf(typederrors.InvalidMessageError, "invalid topic %q", topic)
	}
	if len(payload) > protocol.MaxMessageLength {
		return nil, typederrors.Newf(typederrors.InvalidMessageError,
			"message length %d exceeds limit %d", len(payload), protocol.MaxMessageLength)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, typederrors.Newf(typederrors.GeneralError, "producer is closed")
	}

	body, flag, err := p.codec.Encode(payload)
	if err != nil {
		return nil, typederrors.Wrapf(typederrors.InvalidMessageError, err, "compress message")
	}

	start := time.Now()
	result, err := p.put(topic, body, flag, async)
	if err != nil {
		p.metrics.putFailed(topic)
		return result, err
	}
	elapsed := time.Since(start)
	p.metrics.putSucceeded(topic, elapsed)
	p.logger.Performance("put", elapsed, map[string]any{
		"topic":             topic,
		"bytes":             len(body),
		"compression_ratio": compression.CalculateCompressionRatio(len(payload), len(body)),
	})
	return result, nil
}

func (p *Producer) put(topic string, body []byte, flag int32, async bool) (*PutResult, error) {
	parts, err := p.partitions(topic)
	if err != nil {
		return nil, err
	}

	for len(parts) > 0 {
		part := parts[p.rand.Intn(len(parts))]
		addr := part.Addr()
		req := protocol.EncodePut(topic, part.Index, body, flag)

		sock, err := p.send(addr, req)
		if err != nil {
			p.dropEndpoint(topic, addr)
			p.metrics.failover(topic)
			p.logger.WithBroker(addr).Warn("broker unavailable, failing over",
				"topic", topic, "partition", part.ID(), "error", err)
			parts = p.writable[topic]
			continue
		}

		result := &PutResult{Topic: topic, PartitionID: part.ID(), Broker: addr}
		if async {
			p.pending[sock]++
			result.ID = protocol.Pending.ID
			result.Code = protocol.Pending.Code
			result.Offset = protocol.Pending.Offset
			return result, nil
		}
		return p.awaitResult(result, sock, req)
	}

	delete(p.writable, topic)
	return nil, typederrors.Newf(typederrors.AllBrokersUnavailableError,
		"no writable partition left for topic %s", topic)
}

// send writes req on the pooled socket for addr once the acknowledgments of
// earlier asynchronous puts are consumed. A failed socket is discarded.
func (p *Producer) send(addr string, req []byte) (transport.Transport, error) {
	sock, err := p.pool.Get(addr)
	if err != nil {
		return nil, err
	}
	err = p.drainPending(sock)
	if err == nil {
		err = sock.Write(req)
	}
	if err != nil {
		delete(p.pending, sock)
		p.pool.Discard(addr)
		return nil, err
	}
	p.logger.BrokerRequest(protocol.PutCommand, addr, map[string]any{"bytes": len(req)})
	return sock, nil
}

// awaitResult reads the acknowledgment of req. An unreadable or malformed
// acknowledgment leaves the exchange in an unknown state, so the socket is
// replaced and req is sent again, up to Retries attempts in total.
func (p *Producer) awaitResult(result *PutResult, sock transport.Transport, req []byte) (*PutResult, error) {
	cfg := p.client.config.Producer
	addr := result.Broker

	var lastErr error
	for attempt := 1; attempt <= cfg.Retries; attempt++ {
		if attempt > 1 {
			p.client.sleep(cfg.RetryBackoff)
			var err error
			if sock, err = p.send(addr, req); err != nil {
				lastErr = err
				p.logger.WithBroker(addr).Debug("put resend failed", "attempt", attempt, "error", err)
				continue
			}
		}

		res, err := readPutResult(sock)
		if err != nil {
			lastErr = err
			delete(p.pending, sock)
			p.pool.Discard(addr)
			p.logger.WithBroker(addr).Debug("put result read failed", "attempt", attempt, "error", err)
			continue
		}

		result.ID, result.Code, result.Offset = res.ID, res.Code, res.Offset
		if err := res.Err(); err != nil {
			return result, err
		}
		return result, nil
	}

	return nil, typederrors.Wrapf(typederrors.PublishFailedError, lastErr,
		"no acknowledgment from %s after %d attempts", addr, cfg.Retries)
}

// drainPending consumes the acknowledgments of asynchronous puts still
// queued on sock so the next synchronous put reads its own.
func (p *Producer) drainPending(sock transport.Transport) error {
	for p.pending[sock] > 0 {
		res, err := readPutResult(sock)
		if err != nil {
			return err
		}
		p.pending[sock]--
		if err := res.Err(); err != nil {
			p.logger.WithBroker(sock.Addr()).Warn("asynchronous put rejected", "error", err)
		}
	}
	delete(p.pending, sock)
	return nil
}

func readPutResult(sock transport.Transport) (protocol.PutResult, error) {
	frame, err := sock.ReadFrame(protocol.MaxMessageLength)
	if err != nil {
		return protocol.PutResult{}, err
	}
	return protocol.DecodePutResult(frame)
}

// Close closes every broker socket and the coordination session
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.pool.Close()
	p.codec.Close()
	p.logger.ShutdownInfo("producer", nil)
	if p.coord != nil {
		return p.coord.Close()
	}
	return nil
}
