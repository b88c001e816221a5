// Package domain holds the shared value types consumed by the convergence
// loop, the load balancer, and the prepare routine: container specs, node
// allocation records, and cluster membership.
package domain

import (
	"fmt"
	"strconv"
	"time"
)

// NodeState is the lifecycle state of a container or an allocated node.
type NodeState string

const (
	StateActive      NodeState = "active"
	StateInactive    NodeState = "inactive"
	StateReserved    NodeState = "reserved"
	StateProvisioned NodeState = "provisioned"
	StateFailed      NodeState = "failed"
	StateParked      NodeState = "parked"
	StateDirty       NodeState = "dirty"
	StateReady       NodeState = "ready"
)

// ContainerSpec is the opaque-ish value the node repository hands back for
// "what should run on this host". The convergence loop only reads Hostname
// and NodeState; Owner and RuntimeVersion are pass-through fields that the
// loop never reads (the containerd adapter uses RuntimeVersion as an image
// reference).
type ContainerSpec struct {
	Hostname       string
	NodeState      NodeState
	Owner          string
	RuntimeVersion string
}

// ClusterSpec identifies a cluster an application node belongs to, and
// optionally pins it to a single group.
type ClusterSpec struct {
	ID   string
	Type string
	// Group is nil when the caller lets Prepare generate groups.
	Group *Group
}

// Group is a shard index within a cluster, string-encoded so it round-trips
// through whatever the node repository stores it as. Generated groups are
// contiguous non-negative integers starting at 0.
type Group string

// GroupIndex parses the group as a non-negative integer.
func (g Group) GroupIndex() (int, error) {
	n, err := strconv.Atoi(string(g))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("domain: invalid group %q", string(g))
	}
	return n, nil
}

// GeneratedGroup renders a generated group index as a Group.
func GeneratedGroup(index int) Group {
	return Group(strconv.Itoa(index))
}

// ClusterMembership places a node at an ordinal position within a cluster
// group.
type ClusterMembership struct {
	Cluster ClusterSpec
	Index   int
}

// Allocation records that a node is handed out to an application's cluster.
type Allocation struct {
	ApplicationID string
	Membership    ClusterMembership
	Removable     bool
	RetiredAt     *time.Time
}

// Node is a host allocated (or available for allocation) to run application
// workloads. Flavor is a plain capacity-class label; richer resource-fit
// modeling is out of scope for this module.
type Node struct {
	Hostname   string
	Flavor     string
	State      NodeState
	Allocation *Allocation
}

// Equal reports whether two nodes have the same hostname, used by the
// prepare routine's replace-on-equality set semantics.
func (n Node) Equal(other Node) bool {
	return n.Hostname == other.Hostname
}

// GroupIndex returns the group index of the node's allocation, with false
// for unallocated nodes, nodes without a group, or parse failures.
func (n Node) GroupIndex() (int, bool) {
	if n.Allocation == nil || n.Allocation.Membership.Cluster.Group == nil {
		return 0, false
	}
	idx, err := n.Allocation.Membership.Cluster.Group.GroupIndex()
	if err != nil {
		return 0, false
	}
	return idx, true
}

// NodeMetrics is the load balancer's adaptive state for one candidate index:
// a weight floored at 1.0, plus counters used for debug snapshots.
type NodeMetrics struct {
	Weight       float64
	Sent         uint64
	Busy         uint64
	LastReportAt time.Time
}

// NewNodeMetrics returns metrics for a freshly observed index.
func NewNodeMetrics() *NodeMetrics {
	return &NodeMetrics{Weight: 1.0}
}
