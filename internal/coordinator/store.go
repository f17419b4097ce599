package coordinator

import (
	"errors"
	"path"
	"strings"

	"github.com/issac1998/go-metaq/internal/config"
	typederrors "github.com/issac1998/go-metaq/internal/errors"
	"github.com/issac1998/go-metaq/internal/logging"
)

var (
	// ErrNodeExists is returned when creating a node that is already there
	ErrNodeExists = errors.New("node already exists")
	// ErrNoNode is returned when the node does not exist
	ErrNoNode = errors.New("node does not exist")
	// ErrNotEmpty is returned when deleting a node that still has children
	ErrNotEmpty = errors.New("node has children")
	// ErrSessionLost is returned by a store whose session is gone for good
	ErrSessionLost = errors.New("coordination session lost")
)

// Store is a hierarchical namespace with ephemeral nodes and one-shot child
// watches. Paths are absolute and slash separated. Creating a node creates
// any missing parents as persistent nodes.
type Store interface {
	// Create adds a persistent node, failing with ErrNodeExists
	Create(path string, data []byte) error
	// CreateEphemeral adds a node that disappears with the session
	CreateEphemeral(path string, data []byte) error
	Get(path string) ([]byte, error)
	// Set overwrites an existing node, failing with ErrNoNode
	Set(path string, data []byte) error
	Delete(path string) error
	Children(path string) ([]string, error)
	// ChildrenVersion returns a token that changes whenever the set of
	// direct children changes
	ChildrenVersion(path string) (string, error)
	// WatchChildren returns a channel closed on the next change to the set
	// of children under path
	WatchChildren(path string) (<-chan struct{}, error)
	// SessionEpoch increases every time the session is replaced and its
	// ephemeral nodes are lost
	SessionEpoch() uint64
	Close() error
}

// NewStore connects the backend selected in config
func NewStore(cfg config.CoordinatorConfig, logger *logging.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendZooKeeper:
		s, err := NewZkStore(cfg.Endpoints, cfg.SessionTimeout, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendEtcd:
		s, err := NewEtcdStore(cfg.Endpoints, cfg.SessionTimeout, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		return NewMemoryStore().Session(), nil
	default:
		return nil, typederrors.Newf(typederrors.ConfigError, "unknown coordinator backend %d", cfg.Backend)
	}
}

// unavailable wraps a backend failure that is not one of the sentinels
func unavailable(err error, op, p string) error {
	if err == nil || isSentinel(err) {
		return err
	}
	return typederrors.Wrapf(typederrors.CoordinationUnavailableError, err, "%s %s", op, p)
}

func isSentinel(err error) bool {
	return errors.Is(err, ErrNodeExists) || errors.Is(err, ErrNoNode) ||
		errors.Is(err, ErrNotEmpty) || errors.Is(err, ErrSessionLost)
}

// parents returns every ancestor of p from the top down, excluding "/"
func parents(p string) []string {
	var out []string
	dir := path.Dir(p)
	for dir != "/" && dir != "." {
		out = append(out, dir)
		dir = path.Dir(dir)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// childName returns the first path segment of key below prefix, if any
func childName(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	if rest == "" {
		return "", false
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest, rest != ""
}
