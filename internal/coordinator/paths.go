package coordinator

import (
	"path"
)

// DefaultNamespace is the root node every path lives under
const DefaultNamespace = "meta"

// masterConfigChecksum is a bookkeeping child of a broker group, not a broker
const masterConfigChecksum = "master_config_checksum"

type paths struct {
	root string
}

func newPaths(namespace string) paths {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return paths{root: "/" + namespace}
}

func (p paths) brokerIDs() string {
	return path.Join(p.root, "brokers", "ids")
}

func (p paths) brokerGroup(gid string) string {
	return path.Join(p.brokerIDs(), gid)
}

func (p paths) brokerTopics() string {
	return path.Join(p.root, "brokers", "topics")
}

func (p paths) topic(topic string) string {
	return path.Join(p.brokerTopics(), topic)
}

func (p paths) consumerIDs(group string) string {
	return path.Join(p.root, "consumers", group, "ids")
}

func (p paths) consumerID(group, id string) string {
	return path.Join(p.consumerIDs(group), id)
}

func (p paths) owners(group, topic string) string {
	return path.Join(p.root, "consumers", group, "owners", topic)
}

func (p paths) owner(group, topic, partitionID string) string {
	return path.Join(p.owners(group, topic), partitionID)
}

func (p paths) offsets(group, topic string) string {
	return path.Join(p.root, "consumers", group, "offsets", topic)
}

func (p paths) offset(group, topic, partitionID string) string {
	return path.Join(p.offsets(group, topic), partitionID)
}
