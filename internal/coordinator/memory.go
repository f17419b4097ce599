package coordinator

import (
	"path"
	"sort"
	"strconv"
	"sync"
)

// MemoryStore is an in-process namespace shared by any number of sessions.
// It is mainly for testing and single-process deployments.
type MemoryStore struct {
	mu          sync.Mutex
	nodes       map[string]*memNode
	watches     map[string][]chan struct{}
	nextSession int64
}

type memNode struct {
	data     []byte
	owner    int64 // session id for ephemeral nodes, 0 otherwise
	children map[string]struct{}
	cversion int64
}

// NewMemoryStore creates an empty namespace
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:   map[string]*memNode{"/": {children: make(map[string]struct{})}},
		watches: make(map[string][]chan struct{}),
	}
}

// Session opens a new session on the namespace
func (m *MemoryStore) Session() *MemorySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSession++
	return &MemorySession{store: m, id: m.nextSession}
}

// Put writes a persistent node, creating or overwriting it. Used to seed
// broker registrations.
func (m *MemoryStore) Put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[p]; ok {
		n.data = append([]byte(nil), data...)
		return
	}
	m.create(p, data, 0)
}

// Remove deletes a node and everything below it
func (m *MemoryStore) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeTree(p)
}

func (m *MemoryStore) removeTree(p string) {
	n, ok := m.nodes[p]
	if !ok {
		return
	}
	for child := range n.children {
		m.removeTree(path.Join(p, child))
	}
	m.remove(p)
}

func (m *MemoryStore) create(p string, data []byte, owner int64) {
	for _, dir := range parents(p) {
		if _, ok := m.nodes[dir]; !ok {
			m.link(dir, &memNode{children: make(map[string]struct{})})
		}
	}
	m.link(p, &memNode{
		data:     append([]byte(nil), data...),
		owner:    owner,
		children: make(map[string]struct{}),
	})
}

func (m *MemoryStore) link(p string, n *memNode) {
	m.nodes[p] = n
	parent := path.Dir(p)
	m.nodes[parent].children[path.Base(p)] = struct{}{}
	m.childrenChanged(parent)
}

func (m *MemoryStore) remove(p string) {
	delete(m.nodes, p)
	parent := path.Dir(p)
	if pn, ok := m.nodes[parent]; ok {
		delete(pn.children, path.Base(p))
		m.childrenChanged(parent)
	}
}

func (m *MemoryStore) childrenChanged(p string) {
	m.nodes[p].cversion++
	for _, ch := range m.watches[p] {
		close(ch)
	}
	delete(m.watches, p)
}

func (m *MemoryStore) expire(owner int64) {
	var ephemeral []string
	for p, n := range m.nodes {
		if n.owner == owner {
			ephemeral = append(ephemeral, p)
		}
	}
	for _, p := range ephemeral {
		m.remove(p)
	}
}

// MemorySession is one client's view of a MemoryStore
type MemorySession struct {
	store  *MemoryStore
	mu     sync.Mutex
	id     int64
	epoch  uint64
	closed bool
}

// Expire drops every ephemeral node of the session and starts a new one,
// the way a coordination server expires an unresponsive client.
func (s *MemorySession) Expire() {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.expire(s.id)
	s.store.nextSession++
	s.id = s.store.nextSession
	s.epoch++
}

func (s *MemorySession) session() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionLost
	}
	return s.id, nil
}

func (s *MemorySession) Create(p string, data []byte) error {
	return s.createNode(p, data, false)
}

func (s *MemorySession) CreateEphemeral(p string, data []byte) error {
	return s.createNode(p, data, true)
}

func (s *MemorySession) createNode(p string, data []byte, ephemeral bool) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	id, err := s.session()
	if err != nil {
		return err
	}
	if _, ok := s.store.nodes[p]; ok {
		return ErrNodeExists
	}
	var owner int64
	if ephemeral {
		owner = id
	}
	s.store.create(p, data, owner)
	return nil
}

func (s *MemorySession) Get(p string) ([]byte, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, err := s.session(); err != nil {
		return nil, err
	}
	n, ok := s.store.nodes[p]
	if !ok {
		return nil, ErrNoNode
	}
	return append([]byte(nil), n.data...), nil
}

func (s *MemorySession) Set(p string, data []byte) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, err := s.session(); err != nil {
		return err
	}
	n, ok := s.store.nodes[p]
	if !ok {
		return ErrNoNode
	}
	n.data = append([]byte(nil), data...)
	return nil
}

func (s *MemorySession) Delete(p string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, err := s.session(); err != nil {
		return err
	}
	n, ok := s.store.nodes[p]
	if !ok {
		return ErrNoNode
	}
	if len(n.children) > 0 {
		return ErrNotEmpty
	}
	s.store.remove(p)
	return nil
}

func (s *MemorySession) Children(p string) ([]string, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, err := s.session(); err != nil {
		return nil, err
	}
	n, ok := s.store.nodes[p]
	if !ok {
		return nil, ErrNoNode
	}
	children := make([]string, 0, len(n.children))
	for c := range n.children {
		children = append(children, c)
	}
	sort.Strings(children)
	return children, nil
}

func (s *MemorySession) ChildrenVersion(p string) (string, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, err := s.session(); err != nil {
		return "", err
	}
	n, ok := s.store.nodes[p]
	if !ok {
		return "", ErrNoNode
	}
	return strconv.FormatInt(n.cversion, 10), nil
}

func (s *MemorySession) WatchChildren(p string) (<-chan struct{}, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if _, err := s.session(); err != nil {
		return nil, err
	}
	if _, ok := s.store.nodes[p]; !ok {
		return nil, ErrNoNode
	}
	ch := make(chan struct{})
	s.store.watches[p] = append(s.store.watches[p], ch)
	return ch, nil
}

func (s *MemorySession) SessionEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Close ends the session and removes its ephemeral nodes
func (s *MemorySession) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.store.expire(s.id)
	return nil
}
