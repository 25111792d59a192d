package raft

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrShuttingDown is reported by collaborators that are stopping. Heartbeat
	// attempts failing with it are dropped without touching group state.
	ErrShuttingDown = errors.New("raft: shutting down")
	// ErrAlreadyStarted is returned by Start on a running manager.
	ErrAlreadyStarted = errors.New("raft: heartbeat manager already started")
	// ErrNotStarted is returned by Stop on a manager that was never started.
	ErrNotStarted = errors.New("raft: heartbeat manager not started")
)

// Consensus is the slice of a group's state machine the heartbeat manager needs.
//
// Implementations are shared with the replication subsystem and must be safe for
// concurrent use. The manager never owns a group's lifetime.
type Consensus interface {
	Group() GroupID
	IsLeader() bool
	Self() VNode
	Config() GroupConfiguration
	Meta() ProtocolMetadata

	AreHeartbeatsSuppressed(follower VNode) bool
	LastAppendTimestamp(follower VNode) time.Time
	NextFollowerSequence(follower VNode) FollowerReqSeq
	ShouldReconnectFollower(follower VNode) bool

	// UpdateSuppressHeartbeats sets or clears suppression. Implementations must
	// ignore a call whose seq is older than the last one applied.
	UpdateSuppressHeartbeats(follower VNode, seq FollowerReqSeq, suppressed HeartbeatsSuppressed)
	UpdateHeartbeatStatus(follower VNode, success bool)
	// ProcessAppendEntriesReply applies a reply, or err when the request failed.
	// seq and dirtyOffset are the values captured when the request was built.
	ProcessAppendEntriesReply(node NodeID, reply AppendEntriesReply, err error, seq FollowerReqSeq, dirtyOffset int64)

	Probe() *Probe
}

// CompressionType selects the payload compression of an RPC.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionGzip
)

// ClientOpts are per-call transport options.
type ClientOpts struct {
	// Deadline is wall clock time, whatever clock drives the manager.
	Deadline    time.Time
	Compression CompressionType
	// MinCompressionBytes is the encoded size from which Compression applies.
	MinCompressionBytes int
}

// ClientProtocol is the transport used to reach other nodes.
type ClientProtocol interface {
	Heartbeat(ctx context.Context, target NodeID, req HeartbeatRequest, opts ClientOpts) (HeartbeatReply, error)
	// EnsureDisconnect tears down the connection to node, reporting whether a
	// live connection was actually closed.
	EnsureDisconnect(ctx context.Context, node NodeID) (bool, error)
}
