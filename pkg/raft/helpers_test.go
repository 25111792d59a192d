package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const selfID NodeID = 1

func vn(id NodeID) VNode { return VNode{ID: id, Revision: 1} }

func voters(ids ...NodeID) []VNode {
	out := make([]VNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, vn(id))
	}
	return out
}

// newLeader returns a group led by selfID in term 1 whose voters are selfID
// followed by followers.
func newLeader(id GroupID, clk clock.Clock, followers ...NodeID) *Group {
	g := NewGroup(GroupConfig{
		ID:                 id,
		Self:               vn(selfID),
		Voters:             voters(append([]NodeID{selfID}, followers...)...),
		ReconnectThreshold: 2,
		Clock:              clk,
	})
	g.BecomeLeader(1)
	return g
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func followerStatus(t *testing.T, g *Group, n NodeID) FollowerStatus {
	t.Helper()
	st, ok := g.FollowerStatus(vn(n))
	require.True(t, ok, "follower %d not found in group %d", n, g.Group())
	return st
}

// fakeCluster is an in-memory ClientProtocol. Requests are answered by the
// follower side groups registered for the target node.
type fakeCluster struct {
	mu          sync.Mutex
	nodes       map[NodeID]map[GroupID]*Group
	hang        map[NodeID]chan struct{}
	fail        map[NodeID]error
	requests    map[NodeID]int
	closeResult map[NodeID]bool
	disconnects []NodeID
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		nodes:       make(map[NodeID]map[GroupID]*Group),
		hang:        make(map[NodeID]chan struct{}),
		fail:        make(map[NodeID]error),
		requests:    make(map[NodeID]int),
		closeResult: make(map[NodeID]bool),
	}
}

// addReplica creates the follower side of group id on node n.
func (c *fakeCluster) addReplica(id GroupID, n NodeID, members []VNode) *Group {
	g := NewGroup(GroupConfig{ID: id, Self: vn(n), Voters: members})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[n] == nil {
		c.nodes[n] = make(map[GroupID]*Group)
	}
	c.nodes[n][id] = g
	return g
}

// hangNode makes requests to n block, ignoring their context, until the
// test ends.
func (c *fakeCluster) hangNode(t *testing.T, n NodeID) {
	ch := make(chan struct{})
	t.Cleanup(func() { close(ch) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.hang[n] = ch
}

func (c *fakeCluster) failNode(n NodeID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[n] = err
}

func (c *fakeCluster) requestCount(n NodeID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[n]
}

func (c *fakeCluster) disconnected() []NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]NodeID(nil), c.disconnects...)
}

func (c *fakeCluster) Heartbeat(_ context.Context, target NodeID, req HeartbeatRequest, _ ClientOpts) (HeartbeatReply, error) {
	c.mu.Lock()
	c.requests[target]++
	hang := c.hang[target]
	err := c.fail[target]
	groups := c.nodes[target]
	c.mu.Unlock()

	if hang != nil {
		<-hang
		return HeartbeatReply{}, context.Canceled
	}
	if err != nil {
		return HeartbeatReply{}, err
	}

	var reply HeartbeatReply
	for _, hb := range req.Heartbeats {
		g, ok := groups[hb.Meta.Group]
		if !ok {
			reply.Meta = append(reply.Meta, AppendEntriesReply{
				TargetNodeID: hb.NodeID,
				NodeID:       hb.TargetNodeID,
				Group:        hb.Meta.Group,
				Result:       ReplyGroupUnavailable,
			})
			continue
		}
		reply.Meta = append(reply.Meta, g.HandleHeartbeat(hb))
	}
	return reply, nil
}

func (c *fakeCluster) EnsureDisconnect(_ context.Context, n NodeID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects = append(c.disconnects, n)
	return c.closeResult[n], nil
}

func newTestManager(t *testing.T, client ClientProtocol, cfg HeartbeatConfig, opts ...Option) *HeartbeatManager {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.Self == 0 {
		cfg.Self = selfID
	}
	m, err := NewHeartbeatManager(cfg, client, opts...)
	require.NoError(t, err)
	return m
}
