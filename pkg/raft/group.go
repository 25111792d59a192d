package raft

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultReconnectThreshold is the number of consecutive failed heartbeats
// after which the transport to a follower is torn down.
const DefaultReconnectThreshold = 3

// GroupConfig configures a Group.
type GroupConfig struct {
	ID     GroupID
	Self   VNode
	Voters []VNode
	// ReconnectThreshold disables reconnects when not positive.
	ReconnectThreshold int

	Clock   clock.Clock
	Metrics *Metrics
	Logger  *zap.Logger
}

// Group is the leader and follower side heartbeat state of one replicated
// partition. It implements Consensus.
type Group struct {
	id                 GroupID
	self               VNode
	reconnectThreshold int
	clock              clock.Clock
	probe              *Probe
	log                *zap.Logger

	mu          sync.Mutex
	leader      bool
	leaderID    VNode
	term        int64
	commitIndex int64
	dirtyOffset int64
	dirtyTerm   int64
	voters      []VNode
	followers   map[VNode]*followerIndex
}

var _ Consensus = (*Group)(nil)

// NewGroup returns a follower group with an empty log.
func NewGroup(cfg GroupConfig) *Group {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	g := &Group{
		id:                 cfg.ID,
		self:               cfg.Self,
		reconnectThreshold: cfg.ReconnectThreshold,
		clock:              cfg.Clock,
		probe:              NewProbe(cfg.Metrics, cfg.ID),
		log:                cfg.Logger.With(zap.Stringer("group", cfg.ID)),
		commitIndex:        -1,
		dirtyOffset:        -1,
		followers:          make(map[VNode]*followerIndex),
	}
	g.setVotersLocked(cfg.Voters)
	return g
}

func (g *Group) Group() GroupID { return g.id }
func (g *Group) Self() VNode    { return g.self }
func (g *Group) Probe() *Probe  { return g.probe }

func (g *Group) IsLeader() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leader
}

// Leader returns the last known leader and whether one is known.
func (g *Group) Leader() (VNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leaderID, g.leaderID != VNode{}
}

func (g *Group) Term() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.term
}

func (g *Group) CommitIndex() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitIndex
}

func (g *Group) Config() GroupConfiguration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GroupConfiguration{Voters: append([]VNode(nil), g.voters...)}
}

func (g *Group) Meta() ProtocolMetadata {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ProtocolMetadata{
		Group:            g.id,
		CommitIndex:      g.commitIndex,
		Term:             g.term,
		PrevLogIndex:     g.dirtyOffset,
		PrevLogTerm:      g.dirtyTerm,
		LastVisibleIndex: g.commitIndex,
	}
}

// BecomeLeader makes this node the leader for term. Follower liveness and
// log indexes from earlier terms are reset. Request sequences and suppression
// carry over: a beat sent before the change may still be in flight.
func (g *Group) BecomeLeader(term int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.leader = true
	g.leaderID = g.self
	if term > g.term {
		g.term = term
	}
	for v, old := range g.followers {
		f := newFollowerIndex(v)
		f.lastSentSeq = old.lastSentSeq
		f.lastReceivedSeq = old.lastReceivedSeq
		f.suppressSeq = old.suppressSeq
		f.suppressed = old.suppressed
		g.followers[v] = f
	}
}

// StepDown makes this node a follower, adopting term if it is newer.
func (g *Group) StepDown(term int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stepDownLocked(term)
}

func (g *Group) stepDownLocked(term int64) {
	if term > g.term {
		g.term = term
	}
	if g.leader {
		g.log.Info("Stepping down", zap.Int64("term", g.term))
	}
	g.leader = false
	if g.leaderID == g.self {
		g.leaderID = VNode{}
	}
}

// UpdateConfiguration replaces the voter set, keeping the bookkeeping of
// followers that remain.
func (g *Group) UpdateConfiguration(voters []VNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setVotersLocked(voters)
}

func (g *Group) setVotersLocked(voters []VNode) {
	g.voters = append([]VNode(nil), voters...)
	keep := make(map[VNode]struct{}, len(voters))
	for _, v := range voters {
		if v == g.self {
			continue
		}
		keep[v] = struct{}{}
		if _, ok := g.followers[v]; !ok {
			g.followers[v] = newFollowerIndex(v)
		}
	}
	for v := range g.followers {
		if _, ok := keep[v]; !ok {
			delete(g.followers, v)
		}
	}
}

// Advance records that the local log now ends at dirtyOffset in term.
func (g *Group) Advance(dirtyOffset, term int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dirtyOffset = dirtyOffset
	g.dirtyTerm = term
}

// MarkAppended records that entries were just sent to follower by the
// replication path.
func (g *Group) MarkAppended(follower VNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.followers[follower]; ok {
		f.lastAppend = g.clock.Now()
	}
}

// FollowerStatus returns the bookkeeping for follower.
func (g *Group) FollowerStatus(follower VNode) (FollowerStatus, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.followers[follower]
	if !ok {
		return FollowerStatus{}, false
	}
	return f.status(), true
}

func (g *Group) AreHeartbeatsSuppressed(follower VNode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.followers[follower]
	return ok && f.suppressed
}

func (g *Group) LastAppendTimestamp(follower VNode) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.followers[follower]; ok {
		return f.lastAppend
	}
	return time.Time{}
}

func (g *Group) NextFollowerSequence(follower VNode) FollowerReqSeq {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.followers[follower]
	if !ok {
		return 0
	}
	f.lastSentSeq++
	return f.lastSentSeq
}

func (g *Group) ShouldReconnectFollower(follower VNode) bool {
	if g.reconnectThreshold <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.followers[follower]
	return ok && f.heartbeatsFailed > g.reconnectThreshold
}

func (g *Group) UpdateSuppressHeartbeats(follower VNode, seq FollowerReqSeq, s HeartbeatsSuppressed) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.followers[follower]; ok {
		f.updateSuppression(seq, s)
	}
}

func (g *Group) UpdateHeartbeatStatus(follower VNode, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.followers[follower]
	if !ok {
		return
	}
	if success {
		f.heartbeatsFailed = 0
		return
	}
	f.heartbeatsFailed++
}

// ProcessAppendEntriesReply applies a follower reply. Replies older than the
// newest one already applied for that follower are dropped.
func (g *Group) ProcessAppendEntriesReply(node NodeID, reply AppendEntriesReply, err error, seq FollowerReqSeq, dirtyOffset int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if node == g.self.ID {
		if err == nil && g.leader {
			g.maybeCommitLocked()
		}
		return
	}

	f := g.followerByNodeLocked(node)
	if f == nil {
		return
	}
	if err != nil {
		g.log.Debug("Append entries request failed",
			zap.Stringer("follower", f.node),
			zap.Uint64("seq", uint64(seq)),
			zap.Error(err))
		return
	}

	if seq < f.lastReceivedSeq {
		g.probe.StaleReply()
		g.log.Debug("Ignoring reordered reply",
			zap.Stringer("follower", f.node),
			zap.Uint64("seq", uint64(seq)),
			zap.Uint64("last_received_seq", uint64(f.lastReceivedSeq)))
		return
	}
	f.lastReceivedSeq = seq
	f.lastReceivedReply = g.clock.Now()

	if reply.Term > g.term {
		g.stepDownLocked(reply.Term)
		return
	}
	if reply.Result != ReplySuccess {
		f.needsRecovery = true
		return
	}

	f.lastFlushedIndex = reply.LastFlushedLogIndex
	f.lastDirtyIndex = reply.LastDirtyLogIndex
	f.matchIndex = reply.LastFlushedLogIndex
	// behind the log as it was when the request was built
	f.needsRecovery = reply.LastDirtyLogIndex < dirtyOffset

	if g.leader {
		g.maybeCommitLocked()
	}
}

func (g *Group) followerByNodeLocked(n NodeID) *followerIndex {
	for v, f := range g.followers {
		if v.ID == n {
			return f
		}
	}
	return nil
}

// maybeCommitLocked advances the commit index to the highest offset stored on
// a majority of voters, for entries of the current term only.
func (g *Group) maybeCommitLocked() {
	if len(g.voters) == 0 {
		return
	}
	matches := make([]int64, 0, len(g.voters))
	for _, v := range g.voters {
		if v == g.self {
			matches = append(matches, g.dirtyOffset)
			continue
		}
		if f, ok := g.followers[v]; ok {
			matches = append(matches, f.matchIndex)
		} else {
			matches = append(matches, -1)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })
	majority := matches[len(matches)/2]
	if majority > g.commitIndex && g.dirtyTerm == g.term {
		g.commitIndex = majority
	}
}

// HandleHeartbeat is the follower side of a heartbeat.
func (g *Group) HandleHeartbeat(hb HeartbeatMetadata) AppendEntriesReply {
	g.mu.Lock()
	defer g.mu.Unlock()

	reply := AppendEntriesReply{
		TargetNodeID: hb.NodeID,
		NodeID:       g.self,
		Group:        g.id,
		Result:       ReplyFailure,
	}

	switch {
	case hb.Meta.Term < g.term:
		// stale leader, answer with our term so it steps down
	case hb.TargetNodeID != g.self:
		g.log.Debug("Heartbeat for a different member revision",
			zap.Stringer("target", hb.TargetNodeID),
			zap.Stringer("self", g.self))
	default:
		g.stepDownLocked(hb.Meta.Term)
		g.leaderID = hb.NodeID
		if hb.Meta.PrevLogIndex <= g.dirtyOffset {
			if c := min(hb.Meta.CommitIndex, g.dirtyOffset); c > g.commitIndex {
				g.commitIndex = c
			}
			reply.Result = ReplySuccess
		}
	}

	reply.Term = g.term
	reply.LastFlushedLogIndex = g.dirtyOffset
	reply.LastDirtyLogIndex = g.dirtyOffset
	reply.LastTermBaseOffset = g.dirtyOffset
	return reply
}
