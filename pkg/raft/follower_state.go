package raft

import "time"

// followerIndex is the leader's bookkeeping for one follower.
type followerIndex struct {
	node VNode

	lastSentSeq     FollowerReqSeq
	lastReceivedSeq FollowerReqSeq

	suppressSeq FollowerReqSeq
	suppressed  bool

	lastAppend        time.Time
	lastReceivedReply time.Time
	heartbeatsFailed  int

	lastFlushedIndex int64
	lastDirtyIndex   int64
	matchIndex       int64
	needsRecovery    bool
}

func newFollowerIndex(n VNode) *followerIndex {
	return &followerIndex{
		node:             n,
		lastFlushedIndex: -1,
		lastDirtyIndex:   -1,
		matchIndex:       -1,
	}
}

// FollowerStatus is a point in time copy of a follower's bookkeeping.
type FollowerStatus struct {
	Node              VNode
	LastSentSeq       FollowerReqSeq
	LastReceivedSeq   FollowerReqSeq
	Suppressed        bool
	LastAppend        time.Time
	LastReceivedReply time.Time
	HeartbeatsFailed  int
	LastFlushedIndex  int64
	LastDirtyIndex    int64
	MatchIndex        int64
	NeedsRecovery     bool
}

func (f *followerIndex) status() FollowerStatus {
	return FollowerStatus{
		Node:              f.node,
		LastSentSeq:       f.lastSentSeq,
		LastReceivedSeq:   f.lastReceivedSeq,
		Suppressed:        f.suppressed,
		LastAppend:        f.lastAppend,
		LastReceivedReply: f.lastReceivedReply,
		HeartbeatsFailed:  f.heartbeatsFailed,
		LastFlushedIndex:  f.lastFlushedIndex,
		LastDirtyIndex:    f.lastDirtyIndex,
		MatchIndex:        f.matchIndex,
		NeedsRecovery:     f.needsRecovery,
	}
}

// updateSuppression applies a set or clear unless seq is older than the last
// applied one. A stale clear must not release a newer outstanding beat.
func (f *followerIndex) updateSuppression(seq FollowerReqSeq, s HeartbeatsSuppressed) {
	if seq < f.suppressSeq {
		return
	}
	f.suppressSeq = seq
	f.suppressed = bool(s)
}
