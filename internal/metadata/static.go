package metadata

import (
	"fmt"
)

// StaticBroker describes a broker in configuration, for deployments where
// producers do not talk to the coordination service.
type StaticBroker struct {
	GroupID int            `json:"group_id"`
	Role    Role           `json:"role"`
	Host    string         `json:"host"`
	Port    int            `json:"port"`
	Topics  map[string]int `json:"topics"` // topic -> partition count
}

// StaticTopology builds a topology from configured brokers. Slaves point at
// the master of their broker group.
func StaticTopology(brokers []StaticBroker) (Topology, error) {
	masters := make(map[int]StaticBroker)
	for _, b := range brokers {
		if b.Role != RoleMaster {
			continue
		}
		if _, dup := masters[b.GroupID]; dup {
			return nil, fmt.Errorf("broker group %d has more than one master", b.GroupID)
		}
		masters[b.GroupID] = b
	}

	topology := make(Topology)
	for _, b := range brokers {
		if b.Role != RoleMaster && b.Role != RoleSlave {
			return nil, fmt.Errorf("broker %s:%d has unknown role %q", b.Host, b.Port, b.Role)
		}
		master, ok := masters[b.GroupID]
		if !ok {
			return nil, fmt.Errorf("broker group %d has no master", b.GroupID)
		}
		for topic, count := range b.Topics {
			for i := 0; i < count; i++ {
				topology[topic] = append(topology[topic], Partition{
					Topic:       topic,
					BrokerGroup: b.GroupID,
					Index:       i,
					Role:        b.Role,
					Host:        b.Host,
					Port:        b.Port,
					MasterHost:  master.Host,
					MasterPort:  master.Port,
				})
			}
		}
	}

	for topic := range topology {
		SortPartitions(topology[topic])
	}
	return topology, nil
}
