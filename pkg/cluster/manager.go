package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"multiraft/pkg/raft"
	"multiraft/storage"
)

// CreateGroup places a new group and returns its revision. With no replicas
// the group is placed on ReplicationFactor registered nodes. With no leader
// the first replica leads.
func (c *Controller) CreateGroup(ctx context.Context, g storage.GroupSpec) (int64, error) {
	if g.ID < 0 {
		return 0, fmt.Errorf("%w: negative group id %s", ErrInvalidPlacement, g.ID)
	}
	if len(g.Replicas) == 0 {
		nodes, err := c.store.Nodes(ctx)
		if err != nil {
			return 0, err
		}
		ids := make([]raft.NodeID, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
		if g.Replicas, err = PlaceReplicas(g.ID, ids, c.cfg.ReplicationFactor); err != nil {
			return 0, err
		}
	}
	if err := validateReplicas(g.Replicas); err != nil {
		return 0, err
	}
	if g.Leader == 0 && !g.HasReplica(0) {
		g.Leader = g.Replicas[0]
	}
	if !g.HasReplica(g.Leader) {
		return 0, fmt.Errorf("%w: leader %s is not a replica", ErrInvalidPlacement, g.Leader)
	}
	g.Revision, g.ConfigRevision = 0, 0

	res, err := c.submit(ctx, CmdGroupCreate, groupCreatePayload{Group: g})
	if err != nil {
		return 0, err
	}
	rev, _ := res.(int64)
	c.log.Info("Group created",
		zap.Stringer("group", g.ID),
		zap.Stringer("leader", g.Leader),
		zap.Int64("revision", rev))
	return rev, nil
}

// DeleteGroup removes a group from every node hosting it.
func (c *Controller) DeleteGroup(ctx context.Context, id raft.GroupID) error {
	if _, err := c.submit(ctx, CmdGroupDelete, groupDeletePayload{ID: id}); err != nil {
		return err
	}
	c.log.Info("Group deleted", zap.Stringer("group", id))
	return nil
}

// MoveLeader hands group leadership to another replica and returns the new
// revision, which is also the new leader's term.
func (c *Controller) MoveLeader(ctx context.Context, id raft.GroupID, leader raft.NodeID) (int64, error) {
	res, err := c.submit(ctx, CmdGroupMoveLeader, groupMoveLeaderPayload{ID: id, Leader: leader})
	if err != nil {
		return 0, err
	}
	rev, _ := res.(int64)
	c.log.Info("Group leader moved",
		zap.Stringer("group", id),
		zap.Stringer("leader", leader),
		zap.Int64("revision", rev))
	return rev, nil
}

// Groups returns the locally applied placements.
func (c *Controller) Groups(ctx context.Context) ([]storage.GroupSpec, error) {
	return c.store.Groups(ctx)
}

func validateReplicas(replicas []raft.NodeID) error {
	seen := make(map[raft.NodeID]struct{}, len(replicas))
	for _, r := range replicas {
		if _, dup := seen[r]; dup {
			return fmt.Errorf("%w: duplicate replica %s", ErrInvalidPlacement, r)
		}
		seen[r] = struct{}{}
	}
	return nil
}
