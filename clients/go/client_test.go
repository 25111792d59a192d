package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"multiraft/pkg/raft"
	"multiraft/pkg/rpc"
)

// admin answers writes when leading, otherwise points at leaderAddr.
type admin struct {
	leaderAddr string
	created    []raft.GroupID
}

func (a *admin) redirect() error {
	return status.Errorf(codes.FailedPrecondition, "not leader; leader=2@%s", a.leaderAddr)
}

func (a *admin) CreateGroup(_ context.Context, req *rpc.CreateGroupRequest) (*rpc.CreateGroupResponse, error) {
	if a.leaderAddr != "" {
		return nil, a.redirect()
	}
	a.created = append(a.created, req.ID)
	return &rpc.CreateGroupResponse{Revision: 42}, nil
}

func (a *admin) DeleteGroup(context.Context, *rpc.DeleteGroupRequest) (*rpc.Empty, error) {
	if a.leaderAddr != "" {
		return nil, a.redirect()
	}
	return &rpc.Empty{}, nil
}

func (a *admin) MoveLeader(context.Context, *rpc.MoveLeaderRequest) (*rpc.Empty, error) {
	return nil, status.Error(codes.NotFound, "cluster: group not found: 1")
}

func (a *admin) ListGroups(context.Context, *rpc.ListGroupsRequest) (*rpc.ListGroupsResponse, error) {
	return &rpc.ListGroupsResponse{Groups: []rpc.GroupInfo{{ID: 1, Replicas: []raft.NodeID{1}, Leader: 1, Revision: 3}}}, nil
}

func (a *admin) Join(context.Context, *rpc.JoinRequest) (*rpc.Empty, error) { return &rpc.Empty{}, nil }

func (a *admin) Status(context.Context, *rpc.StatusRequest) (*rpc.StatusResponse, error) {
	return &rpc.StatusResponse{NodeID: 1}, nil
}

func serve(t *testing.T, a *admin) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer(rpc.ServerOptions()...)
	rpc.RegisterAdminService(srv, a)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestLeaderHint(t *testing.T) {
	addr, ok := LeaderHint(status.Error(codes.FailedPrecondition, "not leader; leader=3@10.0.0.3:9000"))
	require.True(t, ok)
	require.Equal(t, "10.0.0.3:9000", addr)

	_, ok = LeaderHint(status.Error(codes.FailedPrecondition, "not leader"))
	require.False(t, ok)
	_, ok = LeaderHint(status.Error(codes.NotFound, "leader=3@x:1"))
	require.False(t, ok)
	_, ok = LeaderHint(context.Canceled)
	require.False(t, ok)
}

func TestClientFollowsLeader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	leader := &admin{}
	follower := &admin{leaderAddr: serve(t, leader)}
	followerAddr := serve(t, follower)

	c, err := New(ctx, followerAddr, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	rev, err := c.CreateGroup(ctx, 5, nil, 0)
	require.NoError(t, err)
	require.Equal(t, int64(42), rev)
	require.Equal(t, []raft.GroupID{5}, leader.created)
	require.Empty(t, follower.created)

	require.NoError(t, c.DeleteGroup(ctx, 5))
	require.Equal(t, codes.NotFound, status.Code(c.MoveLeader(ctx, 1, 2)))

	groups, err := c.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, raft.NodeID(1), st.NodeID)
}

func TestClientWithoutFollowLeader(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	follower := &admin{leaderAddr: "127.0.0.1:1"}
	c, err := New(ctx, serve(t, follower), &Options{Insecure: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.CreateGroup(ctx, 5, nil, 0)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}
