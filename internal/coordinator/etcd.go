package coordinator

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/issac1998/go-metaq/internal/logging"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const etcdRequestTimeout = 5 * time.Second

// EtcdStore is a Store backed by etcd. Ephemeral nodes are keys attached to
// a session lease; parents are implied by key prefixes.
type EtcdStore struct {
	client *clientv3.Client
	logger *logging.Logger
	ttl    int

	mu      sync.Mutex
	session *concurrency.Session
	epoch   atomic.Uint64
	closed  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEtcdStore connects to etcd and opens a lease-backed session whose TTL
// follows sessionTimeout.
func NewEtcdStore(endpoints []string, sessionTimeout time.Duration, logger *logging.Logger) (*EtcdStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("etcd")

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: sessionTimeout,
	})
	if err != nil {
		return nil, unavailable(err, "connect", fmt.Sprint(endpoints))
	}

	ttl := int(sessionTimeout / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &EtcdStore{
		client: client,
		logger: logger,
		ttl:    ttl,
		ctx:    ctx,
		cancel: cancel,
	}

	session, err := s.newSession()
	if err != nil {
		cancel()
		client.Close()
		return nil, err
	}
	s.session = session
	go s.keepSession(session)
	return s, nil
}

func (s *EtcdStore) newSession() (*concurrency.Session, error) {
	session, err := concurrency.NewSession(s.client, concurrency.WithTTL(s.ttl), concurrency.WithContext(s.ctx))
	if err != nil {
		return nil, unavailable(err, "lease", "session")
	}
	return session, nil
}

// keepSession replaces the session when its lease is lost and bumps the
// epoch so owners know their ephemeral keys are gone.
func (s *EtcdStore) keepSession(session *concurrency.Session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-session.Done():
		}
		if s.closed.Load() {
			return
		}

		epoch := s.epoch.Add(1)
		s.logger.Warn("etcd session lost", "epoch", epoch)

		for {
			next, err := s.newSession()
			if err == nil {
				s.mu.Lock()
				s.session = next
				s.mu.Unlock()
				session = next
				break
			}
			s.logger.Error("failed to recreate etcd session", "error", err)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *EtcdStore) lease() clientv3.LeaseID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Lease()
}

func (s *EtcdStore) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, etcdRequestTimeout)
}

func (s *EtcdStore) create(p string, data []byte, opts ...clientv3.OpOption) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(p), "=", 0)).
		Then(clientv3.OpPut(p, string(data), opts...)).
		Commit()
	if err != nil {
		return unavailable(err, "create", p)
	}
	if !resp.Succeeded {
		return ErrNodeExists
	}
	return nil
}

func (s *EtcdStore) Create(p string, data []byte) error {
	return s.create(p, data)
}

func (s *EtcdStore) CreateEphemeral(p string, data []byte) error {
	return s.create(p, data, clientv3.WithLease(s.lease()))
}

func (s *EtcdStore) Get(p string) ([]byte, error) {
	ctx, cancel := s.requestContext()
	defer cancel()

	resp, err := s.client.Get(ctx, p)
	if err != nil {
		return nil, unavailable(err, "get", p)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNoNode
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) Set(p string, data []byte) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(p), ">", 0)).
		Then(clientv3.OpPut(p, string(data), clientv3.WithIgnoreLease())).
		Commit()
	if err != nil {
		return unavailable(err, "set", p)
	}
	if !resp.Succeeded {
		return ErrNoNode
	}
	return nil
}

func (s *EtcdStore) Delete(p string) error {
	ctx, cancel := s.requestContext()
	defer cancel()

	children, err := s.client.Get(ctx, p+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return unavailable(err, "delete", p)
	}
	if children.Count > 0 {
		return ErrNotEmpty
	}

	resp, err := s.client.Delete(ctx, p)
	if err != nil {
		return unavailable(err, "delete", p)
	}
	if resp.Deleted == 0 {
		return ErrNoNode
	}
	return nil
}

// children maps each direct child name to the create revision of its own
// key, or zero when the child only exists as a prefix of deeper keys.
func (s *EtcdStore) children(p string) (map[string]int64, error) {
	ctx, cancel := s.requestContext()
	defer cancel()

	prefix := p + "/"
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, unavailable(err, "children", p)
	}

	out := make(map[string]int64)
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		name, ok := childName(prefix, key)
		if !ok {
			continue
		}
		if key == prefix+name {
			out[name] = kv.CreateRevision
		} else if _, seen := out[name]; !seen {
			out[name] = 0
		}
	}

	if len(out) == 0 {
		self, err := s.client.Get(ctx, p, clientv3.WithCountOnly())
		if err != nil {
			return nil, unavailable(err, "children", p)
		}
		if self.Count == 0 {
			return nil, ErrNoNode
		}
	}
	return out, nil
}

func (s *EtcdStore) Children(p string) ([]string, error) {
	children, err := s.children(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ChildrenVersion hashes the sorted child names with their create
// revisions, so a child that leaves and rejoins changes the token.
func (s *EtcdStore) ChildrenVersion(p string) (string, error) {
	children, err := s.children(p)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New64a()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(children[name], 10)))
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// WatchChildren fires on the first key created or deleted under p
func (s *EtcdStore) WatchChildren(p string) (<-chan struct{}, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	events := s.client.Watch(ctx, p+"/", clientv3.WithPrefix())

	out := make(chan struct{})
	go func() {
		defer cancel()
		defer close(out)
		for resp := range events {
			if resp.Err() != nil {
				return
			}
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypeDelete || ev.IsCreate() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *EtcdStore) SessionEpoch() uint64 {
	return s.epoch.Load()
}

// Close revokes the session lease, removing ephemeral keys, and closes the
// client.
func (s *EtcdStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	var err error
	if session != nil {
		err = session.Close()
	}
	s.cancel()
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}
