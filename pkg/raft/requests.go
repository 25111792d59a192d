package raft

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// heartbeatRequests is the output of one batching pass.
type heartbeatRequests struct {
	// requests to dispatch, ordered by target. May include a request to self.
	requests []NodeHeartbeat
	// reconnectNodes need their transport torn down before the next beat.
	reconnectNodes []NodeID
}

type pendingBeat struct {
	hb  HeartbeatMetadata
	seq FollowerReqSeq
}

// requestsForRange scans groups once and builds one request per destination.
//
// Deciding to send a beat and marking the follower suppressed happen together
// here, so a follower can never have two beats outstanding.
func requestsForRange(groups []Consensus, now time.Time, interval time.Duration, log *zap.Logger) heartbeatRequests {
	if len(groups) == 0 {
		return heartbeatRequests{}
	}

	pending := make(map[NodeID][]pendingBeat)
	reconnect := make(map[NodeID]struct{})
	lastHeartbeat := now.Add(-interval)

	for _, c := range groups {
		if !c.IsLeader() {
			continue
		}

		self := c.Self()
		meta := c.Meta()
		c.Config().ForEachVoter(func(rni VNode) {
			// self beat keeps a single node group making progress
			if rni == self {
				pending[rni.ID] = append(pending[rni.ID], pendingBeat{
					hb: HeartbeatMetadata{Meta: meta, NodeID: self, TargetNodeID: rni},
				})
				return
			}

			if c.ShouldReconnectFollower(rni) {
				reconnect[rni.ID] = struct{}{}
			}

			if c.AreHeartbeatsSuppressed(rni) {
				return
			}

			if last := c.LastAppendTimestamp(rni); last.After(lastHeartbeat) {
				log.Debug("Skipping beat, follower appended recently",
					zap.Stringer("follower", rni),
					zap.Stringer("group", meta.Group),
					zap.Time("last_heartbeat", lastHeartbeat),
					zap.Time("last_append", last))
				return
			}

			seq := c.NextFollowerSequence(rni)
			c.UpdateSuppressHeartbeats(rni, seq, HeartbeatsSuppressedYes)
			pending[rni.ID] = append(pending[rni.ID], pendingBeat{
				hb:  HeartbeatMetadata{Meta: meta, NodeID: self, TargetNodeID: rni},
				seq: seq,
			})
		})
	}

	targets := make([]NodeID, 0, len(pending))
	for n := range pending {
		targets = append(targets, n)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	reqs := make([]NodeHeartbeat, 0, len(targets))
	for _, target := range targets {
		beats := pending[target]
		hbs := make([]HeartbeatMetadata, 0, len(beats))
		metaMap := make(map[GroupID]FollowerRequestMeta, len(beats))
		for _, b := range beats {
			metaMap[b.hb.Meta.Group] = FollowerRequestMeta{
				Seq:           b.seq,
				DirtyOffset:   b.hb.Meta.PrevLogIndex,
				FollowerVNode: b.hb.TargetNodeID,
			}
			hbs = append(hbs, b.hb)
		}
		reqs = append(reqs, NodeHeartbeat{
			Target:  target,
			Request: HeartbeatRequest{Heartbeats: hbs},
			MetaMap: metaMap,
		})
	}

	reconnectNodes := make([]NodeID, 0, len(reconnect))
	for n := range reconnect {
		reconnectNodes = append(reconnectNodes, n)
	}
	sort.Slice(reconnectNodes, func(i, j int) bool { return reconnectNodes[i] < reconnectNodes[j] })

	return heartbeatRequests{requests: reqs, reconnectNodes: reconnectNodes}
}
