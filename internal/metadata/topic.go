package metadata

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Role of a broker within its broker group
type Role string

const (
	RoleMaster Role = "master"
	RoleSlave  Role = "slave"
)

// Broker is one registered broker endpoint
type Broker struct {
	GroupID int
	Role    Role
	Host    string
	Port    int
}

// Addr returns host:port
func (b Broker) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// ParseBrokerURI parses a registry value such as "meta://10.0.0.1:8123"
func ParseBrokerURI(uri string) (host string, port int, err error) {
	uri = strings.TrimSpace(uri)
	hostport := uri
	if strings.Contains(uri, "://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", 0, fmt.Errorf("invalid broker uri %q: %v", uri, err)
		}
		hostport = u.Host
	}

	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, fmt.Errorf("invalid broker uri %q: %v", uri, err)
	}
	port, err = strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid broker port in %q", uri)
	}
	return h, port, nil
}

// Partition is one physical replica of a logical partition: the broker
// endpoint serving it plus the endpoint of its master. A master partition
// refers to itself.
type Partition struct {
	Topic       string
	BrokerGroup int
	Index       int
	Role        Role
	Host        string
	Port        int
	MasterHost  string
	MasterPort  int
}

// ID is "<brokerGroup>-<index>". Master and slaves of the same logical
// partition share it, so ownership and offsets are keyed by it.
func (p Partition) ID() string {
	return fmt.Sprintf("%d-%d", p.BrokerGroup, p.Index)
}

// Addr returns the endpoint serving this replica
func (p Partition) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// MasterAddr returns the endpoint of the master replica
func (p Partition) MasterAddr() string {
	return net.JoinHostPort(p.MasterHost, strconv.Itoa(p.MasterPort))
}

// IsMaster reports whether this replica accepts writes
func (p Partition) IsMaster() bool {
	return p.Role == RoleMaster
}

// ReplicaKey identifies this physical replica: endpoint plus partition id
func (p Partition) ReplicaKey() string {
	return p.Addr() + "/" + p.ID()
}

func (p Partition) String() string {
	return fmt.Sprintf("%s:%s@%s(%s)", p.Topic, p.ID(), p.Addr(), p.Role)
}

// Topology maps topic name to every replica of every partition
type Topology map[string][]Partition

// Topics returns the sorted topic names
func (t Topology) Topics() []string {
	topics := make([]string, 0, len(t))
	for topic := range t {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Masters returns the master partitions of topic in a deterministic order
func (t Topology) Masters(topic string) []Partition {
	var masters []Partition
	for _, p := range t[topic] {
		if p.IsMaster() {
			masters = append(masters, p)
		}
	}
	SortPartitions(masters)
	return masters
}

// Slaves returns the slave replicas of master's logical partition
func (t Topology) Slaves(master Partition) []Partition {
	var slaves []Partition
	for _, p := range t[master.Topic] {
		if !p.IsMaster() && p.ID() == master.ID() {
			slaves = append(slaves, p)
		}
	}
	SortPartitions(slaves)
	return slaves
}

// SortPartitions orders by broker group, then index, then endpoint
func SortPartitions(parts []Partition) {
	sort.Slice(parts, func(i, j int) bool {
		a, b := parts[i], parts[j]
		if a.BrokerGroup != b.BrokerGroup {
			return a.BrokerGroup < b.BrokerGroup
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Addr() < b.Addr()
	})
}
