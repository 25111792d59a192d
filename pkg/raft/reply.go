package raft

import (
	"go.uber.org/zap"
)

// processReply routes the outcome of a request to node back to the groups it
// covered. A non-nil err means the whole request failed.
//
// The sequence and dirty offset captured when the request was built are passed
// through unchanged; each group decides on its own whether the reply is stale.
func (m *HeartbeatManager) processReply(n NodeID, groups map[GroupID]FollowerRequestMeta, r HeartbeatReply, err error) {
	if err != nil {
		m.log.Debug("Could not send heartbeats",
			zap.Stringer("node", n),
			zap.Int("groups", len(groups)),
			zap.Error(err))

		for g, meta := range groups {
			c, ok := m.lookup(g)
			if !ok {
				m.log.Error("Cannot find consensus group", zap.Stringer("group", g))
				continue
			}

			c.UpdateHeartbeatStatus(meta.FollowerVNode, false)
			c.UpdateSuppressHeartbeats(meta.FollowerVNode, meta.Seq, HeartbeatsSuppressedNo)
			c.ProcessAppendEntriesReply(n, AppendEntriesReply{}, err, meta.Seq, meta.DirtyOffset)
			c.Probe().HeartbeatRequestError()
		}
		return
	}

	answered := make(map[GroupID]struct{}, len(r.Meta))
	for _, reply := range r.Meta {
		meta, ok := groups[reply.Group]
		if !ok {
			m.log.Warn("Reply for a group that was not part of the request",
				zap.Stringer("node", n),
				zap.Stringer("group", reply.Group))
			continue
		}
		answered[reply.Group] = struct{}{}

		c, ok := m.lookup(reply.Group)
		if !ok {
			m.log.Error("Could not find consensus for group", zap.Stringer("group", reply.Group))
			continue
		}

		c.UpdateHeartbeatStatus(meta.FollowerVNode, true)
		c.UpdateSuppressHeartbeats(meta.FollowerVNode, meta.Seq, HeartbeatsSuppressedNo)
		c.ProcessAppendEntriesReply(n, reply, nil, meta.Seq, meta.DirtyOffset)
	}

	if len(answered) == len(groups) {
		return
	}
	for g := range groups {
		if _, ok := answered[g]; !ok {
			m.log.Warn("Group missing from heartbeat reply",
				zap.Stringer("node", n),
				zap.Stringer("group", g))
		}
	}
}
