package pool

import (
	"sort"
	"time"

	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/transport"
)

// SocketPool caches one transport per broker endpoint. It is owned by a
// single producer or consumer and is not safe for concurrent use.
type SocketPool struct {
	factory     transport.Factory
	idleTimeout time.Duration

	sockets map[string]*pooledSocket

	totalConnects int64
	totalDiscards int64
}

type pooledSocket struct {
	transport.Transport
	createdAt  time.Time
	lastUsedAt time.Time
}

// Config pool configuration
type Config struct {
	// IdleTimeout recreates a socket unused for longer than this before
	// handing it out again. Zero disables the check.
	IdleTimeout time.Duration
}

// NewSocketPool creates a pool that builds transports with factory
func NewSocketPool(factory transport.Factory, config Config) *SocketPool {
	return &SocketPool{
		factory:     factory,
		idleTimeout: config.IdleTimeout,
		sockets:     make(map[string]*pooledSocket),
	}
}

// Get returns the cached transport for addr, connecting a new one if there
// is none or the cached one went inactive. A transport that fails to connect
// is closed and not cached.
func (p *SocketPool) Get(addr string) (transport.Transport, error) {
	now := time.Now()
	if ps, ok := p.sockets[addr]; ok {
		if p.isValid(ps, now) {
			ps.lastUsedAt = now
			return ps.Transport, nil
		}
		p.Discard(addr)
	}

	t := p.factory(addr)
	p.totalConnects++
	if err := t.Connect(); err != nil {
		t.Close()
		return nil, err
	}
	if !t.Active() {
		t.Close()
		return nil, typederrors.Newf(typederrors.ConnectionError, "socket to %s did not become active", addr)
	}

	p.sockets[addr] = &pooledSocket{Transport: t, createdAt: now, lastUsedAt: now}
	return t, nil
}

func (p *SocketPool) isValid(ps *pooledSocket, now time.Time) bool {
	if !ps.Active() {
		return false
	}
	if p.idleTimeout > 0 && now.Sub(ps.lastUsedAt) > p.idleTimeout {
		return false
	}
	return true
}

// Discard closes and forgets the transport for addr
func (p *SocketPool) Discard(addr string) {
	ps, ok := p.sockets[addr]
	if !ok {
		return
	}
	ps.Close()
	delete(p.sockets, addr)
	p.totalDiscards++
}

// Close closes every cached transport
func (p *SocketPool) Close() {
	for addr, ps := range p.sockets {
		ps.Close()
		delete(p.sockets, addr)
	}
}

// Stats pool statistics
type Stats struct {
	TotalConnects int64    `json:"total_connects"`
	TotalDiscards int64    `json:"total_discards"`
	Endpoints     []string `json:"endpoints"`
}

// GetStats returns counters and the sorted list of cached endpoints
func (p *SocketPool) GetStats() Stats {
	endpoints := make([]string, 0, len(p.sockets))
	for addr := range p.sockets {
		endpoints = append(endpoints, addr)
	}
	sort.Strings(endpoints)
	return Stats{
		TotalConnects: p.totalConnects,
		TotalDiscards: p.totalDiscards,
		Endpoints:     endpoints,
	}
}
