package metadata

import (
	"sort"
)

// AssignRange returns the contiguous slice of masters owned by self.
//
// Masters and members are sorted first so every member computes the same
// split without talking to the others. With n masters and m members, the
// member at position p owns n/m partitions, plus one more if p < n%m,
// starting at (n/m)*p + min(p, n%m). A member missing from the list gets
// nothing.
func AssignRange(masters []Partition, members []string, self string) []Partition {
	sortedMasters := append([]Partition(nil), masters...)
	SortPartitions(sortedMasters)
	sortedMembers := append([]string(nil), members...)
	sort.Strings(sortedMembers)

	position := -1
	for i, id := range sortedMembers {
		if id == self {
			position = i
			break
		}
	}
	if position < 0 {
		return nil
	}

	perMember := len(sortedMasters) / len(sortedMembers)
	extra := len(sortedMasters) % len(sortedMembers)

	start := perMember*position + min(position, extra)
	count := perMember
	if position < extra {
		count++
	}
	if count <= 0 {
		return nil
	}
	return sortedMasters[start : start+count]
}

// AssignAll computes AssignRange for every member, keyed by member id
func AssignAll(masters []Partition, members []string) map[string][]Partition {
	out := make(map[string][]Partition, len(members))
	for _, id := range members {
		out[id] = AssignRange(masters, members, id)
	}
	return out
}
