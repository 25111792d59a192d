package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"multiraft/pkg/cluster"
	"multiraft/pkg/raft"
	"multiraft/pkg/rpc"
	"multiraft/storage"
)

type fakeController struct {
	leader bool
	err    error
	groups []storage.GroupSpec
	nodes  []cluster.Node
	joined []storage.NodeInfo
	moved  map[raft.GroupID]raft.NodeID
}

func (c *fakeController) CreateGroup(_ context.Context, g storage.GroupSpec) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	g.Revision = int64(len(c.groups) + 10)
	c.groups = append(c.groups, g)
	return g.Revision, nil
}

func (c *fakeController) DeleteGroup(context.Context, raft.GroupID) error { return c.err }

func (c *fakeController) MoveLeader(_ context.Context, id raft.GroupID, leader raft.NodeID) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.moved == nil {
		c.moved = make(map[raft.GroupID]raft.NodeID)
	}
	c.moved[id] = leader
	return 20, nil
}

func (c *fakeController) Groups(context.Context) ([]storage.GroupSpec, error) { return c.groups, c.err }

func (c *fakeController) Join(_ context.Context, n storage.NodeInfo) error {
	if c.err != nil {
		return c.err
	}
	c.joined = append(c.joined, n)
	return nil
}

func (c *fakeController) Nodes(context.Context) ([]cluster.Node, error) { return c.nodes, nil }

func (c *fakeController) Leader(context.Context) (cluster.Node, bool) {
	for _, n := range c.nodes {
		if n.Role == cluster.RoleLeader {
			return n, true
		}
	}
	return cluster.Node{}, false
}

func (c *fakeController) IsLeader() bool { return c.leader }

func TestAdminServiceGroups(t *testing.T) {
	ctx := context.Background()
	ctrl := &fakeController{leader: true}
	s := NewAdminService(1, ctrl, nil, nil)

	created, err := s.CreateGroup(ctx, &rpc.CreateGroupRequest{ID: 3, Replicas: []raft.NodeID{1, 2}, Leader: 2})
	require.NoError(t, err)
	require.Equal(t, int64(10), created.Revision)
	require.Equal(t, []storage.GroupSpec{{ID: 3, Replicas: []raft.NodeID{1, 2}, Leader: 2, Revision: 10}}, ctrl.groups)

	list, err := s.ListGroups(ctx, &rpc.ListGroupsRequest{})
	require.NoError(t, err)
	require.Equal(t, []rpc.GroupInfo{{ID: 3, Replicas: []raft.NodeID{1, 2}, Leader: 2, Revision: 10}}, list.Groups)

	_, err = s.MoveLeader(ctx, &rpc.MoveLeaderRequest{ID: 3, Leader: 1})
	require.NoError(t, err)
	require.Equal(t, raft.NodeID(1), ctrl.moved[3])

	_, err = s.DeleteGroup(ctx, &rpc.DeleteGroupRequest{ID: 3})
	require.NoError(t, err)
}

func TestAdminServiceErrorCodes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("%w: 3", cluster.ErrGroupExists), codes.AlreadyExists},
		{fmt.Errorf("%w: 3", cluster.ErrGroupNotFound), codes.NotFound},
		{fmt.Errorf("%w: dup", cluster.ErrInvalidPlacement), codes.InvalidArgument},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{errors.New("disk on fire"), codes.Internal},
		{cluster.ErrNotLeader, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			s := NewAdminService(1, &fakeController{err: tt.err}, nil, nil)

			_, err := s.CreateGroup(ctx, &rpc.CreateGroupRequest{ID: 1})
			require.Equal(t, tt.code, status.Code(err))
			_, err = s.DeleteGroup(ctx, &rpc.DeleteGroupRequest{ID: 1})
			require.Equal(t, tt.code, status.Code(err))
			_, err = s.MoveLeader(ctx, &rpc.MoveLeaderRequest{ID: 1, Leader: 2})
			require.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestAdminServiceNotLeaderHint(t *testing.T) {
	ctrl := &fakeController{
		err: cluster.ErrNotLeader,
		nodes: []cluster.Node{
			{ID: 1, RaftAddr: "a:7000", RPCAddr: "a:9000", Role: cluster.RoleFollower},
			{ID: 2, RaftAddr: "b:7000", RPCAddr: "b:9000", Role: cluster.RoleLeader},
		},
	}
	s := NewAdminService(1, ctrl, nil, nil)

	_, err := s.DeleteGroup(context.Background(), &rpc.DeleteGroupRequest{ID: 1})
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.FailedPrecondition, st.Code())
	require.Equal(t, "not leader; leader=2@b:9000", st.Message())
}

func TestAdminServiceJoin(t *testing.T) {
	ctx := context.Background()
	ctrl := &fakeController{leader: true}
	s := NewAdminService(1, ctrl, nil, nil)

	_, err := s.Join(ctx, &rpc.JoinRequest{Node: rpc.NodeInfo{ID: 2}})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Join(ctx, &rpc.JoinRequest{Node: rpc.NodeInfo{ID: 2, RaftAddr: "b:7000", RPCAddr: "b:9000"}})
	require.NoError(t, err)
	require.Equal(t, []storage.NodeInfo{{ID: 2, RaftAddr: "b:7000", RPCAddr: "b:9000"}}, ctrl.joined)
}

func TestAdminServiceStatus(t *testing.T) {
	ctrl := &fakeController{
		leader: true,
		nodes: []cluster.Node{
			{ID: 1, RaftAddr: "a:7000", RPCAddr: "a:9000", Role: cluster.RoleLeader},
			{ID: 2, RaftAddr: "b:7000", RPCAddr: "b:9000", Role: cluster.RoleFollower},
		},
	}
	host := NewGroupHost(GroupHostConfig{Self: 1, Logger: zaptest.NewLogger(t)}, &fakeRegistry{})
	host.SyncGroups([]storage.GroupSpec{spec(4, 1, 2, 2, 1, 2)})
	dispatched := time.UnixMilli(1_700_000_000_000)

	s := NewAdminService(1, ctrl, host, func() time.Time { return dispatched })
	resp, err := s.Status(context.Background(), &rpc.StatusRequest{})
	require.NoError(t, err)

	require.Equal(t, raft.NodeID(1), resp.NodeID)
	require.True(t, resp.IsController)
	require.Equal(t, "1@a:7000", resp.ControllerLeader)
	require.Len(t, resp.Nodes, 2)
	require.Equal(t, []rpc.GroupStatus{{ID: 4, Leader: true, Term: 2, CommitIndex: -1}}, resp.Groups)
	require.Equal(t, dispatched.UnixMilli(), resp.LastDispatch)
}
