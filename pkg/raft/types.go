package raft

import (
	"fmt"
	"strconv"
)

// GroupID identifies a consensus group hosted on this node.
type GroupID int64

func (g GroupID) String() string { return strconv.FormatInt(int64(g), 10) }

// NodeID identifies a cluster member.
type NodeID int32

func (n NodeID) String() string { return strconv.FormatInt(int64(n), 10) }

// VNode is a member identity scoped to one membership epoch of a group.
// Different groups may assign different revisions to the same NodeID.
type VNode struct {
	ID       NodeID
	Revision int64
}

func (v VNode) String() string { return fmt.Sprintf("{id: %d, revision: %d}", v.ID, v.Revision) }

// ProtocolMetadata is a snapshot of a group's log position.
// PrevLogIndex doubles as the group's dirty offset.
type ProtocolMetadata struct {
	Group            GroupID
	CommitIndex      int64
	Term             int64
	PrevLogIndex     int64
	PrevLogTerm      int64
	LastVisibleIndex int64
}

// HeartbeatMetadata is the per-(group, follower) heartbeat payload.
type HeartbeatMetadata struct {
	Meta         ProtocolMetadata
	NodeID       VNode // leader
	TargetNodeID VNode
}

// HeartbeatRequest carries the beats for every group with a pending beat to one node.
type HeartbeatRequest struct {
	Heartbeats []HeartbeatMetadata
}

// ReplyStatus is the protocol level outcome of an append entries reply.
type ReplyStatus uint8

const (
	ReplySuccess ReplyStatus = iota
	ReplyFailure
	ReplyGroupUnavailable
	ReplyTimeout
)

func (s ReplyStatus) String() string {
	switch s {
	case ReplySuccess:
		return "success"
	case ReplyFailure:
		return "failure"
	case ReplyGroupUnavailable:
		return "group_unavailable"
	case ReplyTimeout:
		return "timeout"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// AppendEntriesReply is a follower's answer for one group.
type AppendEntriesReply struct {
	TargetNodeID        VNode
	NodeID              VNode
	Group               GroupID
	Term                int64
	LastFlushedLogIndex int64
	LastDirtyLogIndex   int64
	LastTermBaseOffset  int64
	Result              ReplyStatus
}

// HeartbeatReply holds one AppendEntriesReply per group of the request.
type HeartbeatReply struct {
	Meta []AppendEntriesReply
}

// FollowerReqSeq orders requests sent to one follower of one group.
type FollowerReqSeq uint64

// FollowerRequestMeta correlates a reply with the beat that produced it.
type FollowerRequestMeta struct {
	Seq           FollowerReqSeq
	DirtyOffset   int64
	FollowerVNode VNode
}

// NodeHeartbeat is the unit of network dispatch: one request per destination node.
type NodeHeartbeat struct {
	Target  NodeID
	Request HeartbeatRequest
	MetaMap map[GroupID]FollowerRequestMeta
}

// HeartbeatsSuppressed marks a follower with an outstanding heartbeat.
type HeartbeatsSuppressed bool

const (
	HeartbeatsSuppressedNo  HeartbeatsSuppressed = false
	HeartbeatsSuppressedYes HeartbeatsSuppressed = true
)

// GroupConfiguration is the membership of a group.
type GroupConfiguration struct {
	Voters []VNode
}

// ForEachVoter calls fn for every voting member in configuration order.
func (c GroupConfiguration) ForEachVoter(fn func(VNode)) {
	for _, v := range c.Voters {
		fn(v)
	}
}

// Contains reports whether n is a voter.
func (c GroupConfiguration) Contains(n VNode) bool {
	for _, v := range c.Voters {
		if v == n {
			return true
		}
	}
	return false
}
