package client

import (
	"github.com/issac1998/go-metaq/internal/coordinator"
	"github.com/issac1998/go-metaq/internal/metadata"
)

// Admin is a read-only view of the coordination namespace
type Admin struct {
	coord *coordinator.Coordinator
}

// PartitionStatus is one logical partition as seen by a consumer group
type PartitionStatus struct {
	Partition metadata.Partition
	Owner     string
	Committed metadata.OffsetInfo
}

// NewAdmin opens a coordination session for inspection
func (c *Client) NewAdmin() (*Admin, error) {
	coord, err := c.newCoordinator()
	if err != nil {
		return nil, err
	}
	return &Admin{coord: coord}, nil
}

// Topology returns every known topic with its replicas
func (a *Admin) Topology() (metadata.Topology, error) {
	return a.coord.TopicMetadata()
}

// GroupMembers lists the live members of group
func (a *Admin) GroupMembers(group string) ([]string, error) {
	return a.coord.GroupMembers(group)
}

// GroupStatus reports owner and committed offset of every master partition
// of topic for group. Partitions the group never touched report zero.
func (a *Admin) GroupStatus(group, topic string) ([]PartitionStatus, error) {
	topo, err := a.coord.TopicMetadata()
	if err != nil {
		return nil, err
	}

	var out []PartitionStatus
	for _, p := range topo.Masters(topic) {
		owner, err := a.coord.PartitionOwner(group, topic, p.ID())
		if err != nil {
			return nil, err
		}
		committed, _, err := a.coord.ReadOffset(group, topic, p.ID())
		if err != nil {
			return nil, err
		}
		out = append(out, PartitionStatus{Partition: p, Owner: owner, Committed: committed})
	}
	return out, nil
}

// Close ends the admin session
func (a *Admin) Close() error {
	return a.coord.Close()
}
