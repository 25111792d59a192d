package storage

import (
	"context"
	"errors"
	"sort"

	"multiraft/pkg/raft"
)

// ErrNotFound is returned when deleting a group or node that does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store holds the cluster metadata replicated by the controller: where each
// group lives and how to reach each node.
type Store interface {
	// Group placement
	PutGroup(ctx context.Context, g GroupSpec) error
	DeleteGroup(ctx context.Context, id raft.GroupID) error
	Group(ctx context.Context, id raft.GroupID) (GroupSpec, bool, error)
	Groups(ctx context.Context) ([]GroupSpec, error)

	// Address book
	PutNode(ctx context.Context, n NodeInfo) error
	DeleteNode(ctx context.Context, id raft.NodeID) error
	Nodes(ctx context.Context) ([]NodeInfo, error)

	// Snapshots
	Snapshot(ctx context.Context) (State, error)
	Restore(ctx context.Context, s State) error

	// Lifecycle
	Close() error
}

// GroupSpec is the placement of one group. Revision increases on every
// change and doubles as the leader's term. ConfigRevision is the revision at
// which the replica set was last changed and scopes the members' VNodes.
type GroupSpec struct {
	ID             raft.GroupID  `json:"id"`
	Replicas       []raft.NodeID `json:"replicas"`
	Leader         raft.NodeID   `json:"leader"`
	Revision       int64         `json:"revision"`
	ConfigRevision int64         `json:"config_revision"`
}

// HasReplica reports whether n hosts a replica of the group.
func (g GroupSpec) HasReplica(n raft.NodeID) bool {
	for _, r := range g.Replicas {
		if r == n {
			return true
		}
	}
	return false
}

// VNode returns n as a member of the group's current configuration.
func (g GroupSpec) VNode(n raft.NodeID) raft.VNode {
	return raft.VNode{ID: n, Revision: g.ConfigRevision}
}

// Voters returns the replicas as members of the group's current configuration.
func (g GroupSpec) Voters() []raft.VNode {
	out := make([]raft.VNode, 0, len(g.Replicas))
	for _, r := range g.Replicas {
		out = append(out, g.VNode(r))
	}
	return out
}

// NodeInfo is a cluster member and its addresses.
type NodeInfo struct {
	ID       raft.NodeID `json:"id"`
	RaftAddr string      `json:"raft_addr"`
	RPCAddr  string      `json:"rpc_addr"`
}

// State is a full copy of a Store.
type State struct {
	Groups []GroupSpec `json:"groups"`
	Nodes  []NodeInfo  `json:"nodes"`
}

func sortGroups(gs []GroupSpec) {
	sort.Slice(gs, func(i, j int) bool { return gs[i].ID < gs[j].ID })
}

func sortNodes(ns []NodeInfo) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
}
