package cluster

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"multiraft/pkg/raft"
	"multiraft/storage"
)

var (
	// ErrNotLeader is returned for writes submitted to a follower controller.
	ErrNotLeader = errors.New("cluster: not the controller leader")
	// ErrGroupExists is returned when creating a group id already in use.
	ErrGroupExists = errors.New("cluster: group already exists")
	// ErrGroupNotFound is returned for operations on an unknown group.
	ErrGroupNotFound = errors.New("cluster: group not found")
	// ErrInvalidPlacement is returned for placements the cluster cannot host.
	ErrInvalidPlacement = errors.New("cluster: invalid placement")
)

// Role indicates the node's controller role.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// Node represents a controller member.
type Node struct {
	ID       raft.NodeID
	RaftAddr string
	RPCAddr  string
	Role     Role
}

// Config controls the controller.
type Config struct {
	// NodeID is this process's ID.
	NodeID raft.NodeID
	// BindAddr is the controller raft address.
	BindAddr string
	// RPCAddr is the advertised address of this node's gRPC server.
	RPCAddr string
	// DataDir holds the raft log and snapshots.
	DataDir string
	// Bootstrap starts a new single member controller.
	Bootstrap bool
	// ReplicationFactor is used when a group is created without replicas.
	ReplicationFactor int
	// ApplyTimeout bounds a replicated write. Defaults to 5s.
	ApplyTimeout time.Duration

	Logger *zap.Logger
}

// GroupListener is told the full set of groups after every change to it.
type GroupListener interface {
	SyncGroups(groups []storage.GroupSpec)
}

// GroupListenerFunc adapts a function to GroupListener.
type GroupListenerFunc func(groups []storage.GroupSpec)

func (f GroupListenerFunc) SyncGroups(groups []storage.GroupSpec) { f(groups) }
