package cluster

import (
	"context"
	"fmt"

	hraft "github.com/hashicorp/raft"
	"go.uber.org/zap"

	"multiraft/pkg/raft"
	"multiraft/storage"
)

// Join adds a node to the controller as a voting member and records its
// addresses. Joining a node that is already a member only refreshes its
// addresses.
func (c *Controller) Join(ctx context.Context, n storage.NodeInfo) error {
	if !c.IsLeader() {
		return ErrNotLeader
	}
	if n.RaftAddr == "" {
		return fmt.Errorf("%w: node %s has no raft address", ErrInvalidPlacement, n.ID)
	}

	cfgFuture := c.raft.GetConfiguration()
	if err := cfgFuture.Error(); err != nil {
		return err
	}
	member := false
	for _, s := range cfgFuture.Configuration().Servers {
		if s.ID == serverID(n.ID) {
			member = s.Address == hraft.ServerAddress(n.RaftAddr)
			break
		}
	}
	if !member {
		if err := c.raft.AddVoter(serverID(n.ID), hraft.ServerAddress(n.RaftAddr), 0, c.cfg.ApplyTimeout).Error(); err != nil {
			return fmt.Errorf("add voter %s: %w", n.ID, err)
		}
		c.log.Info("Node joined", zap.Stringer("node", n.ID), zap.String("raft_addr", n.RaftAddr))
	}

	_, err := c.submit(ctx, CmdNodeRegister, nodeRegisterPayload{Node: n})
	return err
}

// Leave removes a node from the controller and from the address book.
func (c *Controller) Leave(ctx context.Context, id raft.NodeID) error {
	if !c.IsLeader() {
		return ErrNotLeader
	}
	if err := c.raft.RemoveServer(serverID(id), 0, c.cfg.ApplyTimeout).Error(); err != nil {
		return fmt.Errorf("remove server %s: %w", id, err)
	}
	c.log.Info("Node left", zap.Stringer("node", id))

	_, err := c.submit(ctx, CmdNodeRemove, nodeRemovePayload{ID: id})
	return err
}

// Nodes returns the controller members with their addresses and roles.
// Members that have not registered an rpc address yet are still listed.
func (c *Controller) Nodes(ctx context.Context) ([]Node, error) {
	future := c.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	known, err := c.store.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	rpcAddrs := make(map[hraft.ServerID]string, len(known))
	for _, n := range known {
		rpcAddrs[serverID(n.ID)] = n.RPCAddr
	}

	_, leaderID := c.raft.LeaderWithID()
	servers := future.Configuration().Servers
	nodes := make([]Node, 0, len(servers))
	for _, s := range servers {
		id, err := parseServerID(s.ID)
		if err != nil {
			c.log.Warn("Skipping member with foreign id", zap.String("id", string(s.ID)))
			continue
		}
		n := Node{
			ID:       id,
			RaftAddr: string(s.Address),
			RPCAddr:  rpcAddrs[s.ID],
			Role:     RoleFollower,
		}
		if s.ID == leaderID {
			n.Role = RoleLeader
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Leader returns the controller leader, if known.
func (c *Controller) Leader(ctx context.Context) (Node, bool) {
	nodes, err := c.Nodes(ctx)
	if err != nil {
		return Node{}, false
	}
	for _, n := range nodes {
		if n.Role == RoleLeader {
			return n, true
		}
	}
	return Node{}, false
}
