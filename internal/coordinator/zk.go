package coordinator

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/issac1998/go-metaq/internal/logging"
	"github.com/samuel/go-zookeeper/zk"
)

// ZkStore is a Store backed by a ZooKeeper ensemble
type ZkStore struct {
	conn   *zk.Conn
	logger *logging.Logger
	epoch  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

type zkLogger struct {
	logger *logging.Logger
}

func (l zkLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewZkStore connects to the given servers. The session is established in
// the background; operations block until it is or the session times out.
func NewZkStore(servers []string, sessionTimeout time.Duration, logger *logging.Logger) (*ZkStore, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("zookeeper")

	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{logger: logger}))
	if err != nil {
		return nil, unavailable(err, "connect", fmt.Sprint(servers))
	}

	s := &ZkStore{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.watchSession(events)
	return s, nil
}

// watchSession bumps the epoch whenever the server expires the session. The
// client then reconnects with a fresh session and no ephemeral nodes.
func (s *ZkStore) watchSession(events <-chan zk.Event) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			switch ev.State {
			case zk.StateExpired:
				epoch := s.epoch.Add(1)
				s.logger.Warn("zookeeper session expired", "epoch", epoch)
			case zk.StateHasSession:
				s.logger.Debug("zookeeper session established", "session_id", s.conn.SessionID())
			case zk.StateDisconnected:
				s.logger.Debug("zookeeper disconnected", "server", ev.Server)
			}
		}
	}
}

func zkError(err error, op, p string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNodeExists):
		return ErrNodeExists
	case errors.Is(err, zk.ErrNoNode):
		return ErrNoNode
	case errors.Is(err, zk.ErrNotEmpty):
		return ErrNotEmpty
	case errors.Is(err, zk.ErrClosing), errors.Is(err, zk.ErrConnectionClosed):
		return unavailable(fmt.Errorf("%w: %v", ErrSessionLost, err), op, p)
	default:
		return unavailable(err, op, p)
	}
}

func (s *ZkStore) mkdirRecursive(p string) error {
	for _, dir := range parents(p) {
		_, err := s.conn.Create(dir, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return zkError(err, "create", dir)
		}
	}
	return nil
}

func (s *ZkStore) create(p string, data []byte, flags int32) error {
	if err := s.mkdirRecursive(p); err != nil {
		return err
	}
	_, err := s.conn.Create(p, data, flags, zk.WorldACL(zk.PermAll))
	return zkError(err, "create", p)
}

func (s *ZkStore) Create(p string, data []byte) error {
	return s.create(p, data, 0)
}

func (s *ZkStore) CreateEphemeral(p string, data []byte) error {
	return s.create(p, data, zk.FlagEphemeral)
}

func (s *ZkStore) Get(p string) ([]byte, error) {
	data, _, err := s.conn.Get(p)
	if err != nil {
		return nil, zkError(err, "get", p)
	}
	return data, nil
}

func (s *ZkStore) Set(p string, data []byte) error {
	_, err := s.conn.Set(p, data, -1)
	return zkError(err, "set", p)
}

func (s *ZkStore) Delete(p string) error {
	return zkError(s.conn.Delete(p, -1), "delete", p)
}

func (s *ZkStore) Children(p string) ([]string, error) {
	children, _, err := s.conn.Children(p)
	if err != nil {
		return nil, zkError(err, "children", p)
	}
	return children, nil
}

// ChildrenVersion is the node's cversion
func (s *ZkStore) ChildrenVersion(p string) (string, error) {
	ok, stat, err := s.conn.Exists(p)
	if err != nil {
		return "", zkError(err, "exists", p)
	}
	if !ok {
		return "", ErrNoNode
	}
	return strconv.FormatInt(int64(stat.Cversion), 10), nil
}

func (s *ZkStore) WatchChildren(p string) (<-chan struct{}, error) {
	_, _, events, err := s.conn.ChildrenW(p)
	if err != nil {
		return nil, zkError(err, "watch", p)
	}
	out := make(chan struct{})
	go func() {
		select {
		case <-events:
		case <-s.done:
		}
		close(out)
	}()
	return out, nil
}

func (s *ZkStore) SessionEpoch() uint64 {
	return s.epoch.Load()
}

// Close ends the session, which removes its ephemeral nodes
func (s *ZkStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
	return nil
}
