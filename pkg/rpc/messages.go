package rpc

import "multiraft/pkg/raft"

// Wire forms of the heartbeat types. Field numbers:
//
//	VNode               id=1 revision=2
//	ProtocolMetadata    group=1 commit_index=2 term=3 prev_log_index=4
//	                    prev_log_term=5 last_visible_index=6
//	HeartbeatMetadata   meta=1 node_id=2 target_node_id=3
//	HeartbeatRequest    heartbeats=1 (repeated)
//	AppendEntriesReply  target_node_id=1 node_id=2 group=3 term=4
//	                    last_flushed_log_index=5 last_dirty_log_index=6
//	                    last_term_base_offset=7 result=8
//	HeartbeatReply      meta=1 (repeated)
//
// All integers are sint64.
type (
	wireVNode              raft.VNode
	wireProtocolMetadata   raft.ProtocolMetadata
	wireHeartbeatMetadata  raft.HeartbeatMetadata
	wireHeartbeatRequest   raft.HeartbeatRequest
	wireAppendEntriesReply raft.AppendEntriesReply
	wireHeartbeatReply     raft.HeartbeatReply
)

func (m *wireVNode) appendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(m.ID))
	return appendSint(b, 2, m.Revision)
}

func (m *wireVNode) decodeWire(b []byte) error {
	*m = wireVNode{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.ID = raft.NodeID(d.sint(num, typ))
		case 2:
			m.Revision = d.sint(num, typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *wireProtocolMetadata) appendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(m.Group))
	b = appendSint(b, 2, m.CommitIndex)
	b = appendSint(b, 3, m.Term)
	b = appendSint(b, 4, m.PrevLogIndex)
	b = appendSint(b, 5, m.PrevLogTerm)
	return appendSint(b, 6, m.LastVisibleIndex)
}

func (m *wireProtocolMetadata) decodeWire(b []byte) error {
	*m = wireProtocolMetadata{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.Group = raft.GroupID(d.sint(num, typ))
		case 2:
			m.CommitIndex = d.sint(num, typ)
		case 3:
			m.Term = d.sint(num, typ)
		case 4:
			m.PrevLogIndex = d.sint(num, typ)
		case 5:
			m.PrevLogTerm = d.sint(num, typ)
		case 6:
			m.LastVisibleIndex = d.sint(num, typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *wireHeartbeatMetadata) appendWire(b []byte) []byte {
	b = appendMessage(b, 1, (*wireProtocolMetadata)(&m.Meta))
	b = appendMessage(b, 2, (*wireVNode)(&m.NodeID))
	return appendMessage(b, 3, (*wireVNode)(&m.TargetNodeID))
}

func (m *wireHeartbeatMetadata) decodeWire(b []byte) error {
	*m = wireHeartbeatMetadata{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			d.message(num, typ, (*wireProtocolMetadata)(&m.Meta))
		case 2:
			d.message(num, typ, (*wireVNode)(&m.NodeID))
		case 3:
			d.message(num, typ, (*wireVNode)(&m.TargetNodeID))
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *wireHeartbeatRequest) appendWire(b []byte) []byte {
	for i := range m.Heartbeats {
		b = appendMessage(b, 1, (*wireHeartbeatMetadata)(&m.Heartbeats[i]))
	}
	return b
}

func (m *wireHeartbeatRequest) decodeWire(b []byte) error {
	*m = wireHeartbeatRequest{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			var hb raft.HeartbeatMetadata
			d.message(num, typ, (*wireHeartbeatMetadata)(&hb))
			m.Heartbeats = append(m.Heartbeats, hb)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *wireAppendEntriesReply) appendWire(b []byte) []byte {
	b = appendMessage(b, 1, (*wireVNode)(&m.TargetNodeID))
	b = appendMessage(b, 2, (*wireVNode)(&m.NodeID))
	b = appendSint(b, 3, int64(m.Group))
	b = appendSint(b, 4, m.Term)
	b = appendSint(b, 5, m.LastFlushedLogIndex)
	b = appendSint(b, 6, m.LastDirtyLogIndex)
	b = appendSint(b, 7, m.LastTermBaseOffset)
	return appendSint(b, 8, int64(m.Result))
}

func (m *wireAppendEntriesReply) decodeWire(b []byte) error {
	*m = wireAppendEntriesReply{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			d.message(num, typ, (*wireVNode)(&m.TargetNodeID))
		case 2:
			d.message(num, typ, (*wireVNode)(&m.NodeID))
		case 3:
			m.Group = raft.GroupID(d.sint(num, typ))
		case 4:
			m.Term = d.sint(num, typ)
		case 5:
			m.LastFlushedLogIndex = d.sint(num, typ)
		case 6:
			m.LastDirtyLogIndex = d.sint(num, typ)
		case 7:
			m.LastTermBaseOffset = d.sint(num, typ)
		case 8:
			m.Result = raft.ReplyStatus(d.sint(num, typ))
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

func (m *wireHeartbeatReply) appendWire(b []byte) []byte {
	for i := range m.Meta {
		b = appendMessage(b, 1, (*wireAppendEntriesReply)(&m.Meta[i]))
	}
	return b
}

func (m *wireHeartbeatReply) decodeWire(b []byte) error {
	*m = wireHeartbeatReply{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			var r raft.AppendEntriesReply
			d.message(num, typ, (*wireAppendEntriesReply)(&r))
			m.Meta = append(m.Meta, r)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}
