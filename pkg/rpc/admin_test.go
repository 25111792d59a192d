package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"multiraft/pkg/raft"
)

type fakeAdmin struct {
	groups map[raft.GroupID]GroupInfo
	joined []NodeInfo
}

func (a *fakeAdmin) CreateGroup(_ context.Context, req *CreateGroupRequest) (*CreateGroupResponse, error) {
	if _, ok := a.groups[req.ID]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "group %d exists", req.ID)
	}
	rev := int64(len(a.groups) + 1)
	a.groups[req.ID] = GroupInfo{ID: req.ID, Replicas: req.Replicas, Leader: req.Leader, Revision: rev}
	return &CreateGroupResponse{Revision: rev}, nil
}

func (a *fakeAdmin) DeleteGroup(_ context.Context, req *DeleteGroupRequest) (*Empty, error) {
	delete(a.groups, req.ID)
	return &Empty{}, nil
}

func (a *fakeAdmin) MoveLeader(_ context.Context, req *MoveLeaderRequest) (*Empty, error) {
	g := a.groups[req.ID]
	g.Leader = req.Leader
	a.groups[req.ID] = g
	return &Empty{}, nil
}

func (a *fakeAdmin) ListGroups(context.Context, *ListGroupsRequest) (*ListGroupsResponse, error) {
	var out ListGroupsResponse
	for _, g := range a.groups {
		out.Groups = append(out.Groups, g)
	}
	return &out, nil
}

func (a *fakeAdmin) Join(_ context.Context, req *JoinRequest) (*Empty, error) {
	a.joined = append(a.joined, req.Node)
	return &Empty{}, nil
}

func (a *fakeAdmin) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{
		NodeID:           1,
		ControllerLeader: "127.0.0.1:7000",
		IsController:     true,
		Nodes:            a.joined,
		Groups:           []GroupStatus{{ID: 4, Leader: true, Term: 2, CommitIndex: -1}},
		LastDispatch:     1234,
	}, nil
}

func TestAdminService(t *testing.T) {
	admin := &fakeAdmin{groups: make(map[raft.GroupID]GroupInfo)}
	lis := startServer(t, func(s *grpc.Server) { RegisterAdminService(s, admin) })

	cc, err := grpc.Dial("bufnet", bufDialer(lis), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	c := NewAdminClient(cc)
	ctx := context.Background()

	created, err := c.CreateGroup(ctx, &CreateGroupRequest{ID: 4, Replicas: []raft.NodeID{1, 2, 0}, Leader: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), created.Revision)

	_, err = c.CreateGroup(ctx, &CreateGroupRequest{ID: 4})
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = c.MoveLeader(ctx, &MoveLeaderRequest{ID: 4, Leader: 2})
	require.NoError(t, err)

	list, err := c.ListGroups(ctx, &ListGroupsRequest{})
	require.NoError(t, err)
	require.Equal(t, []GroupInfo{{ID: 4, Replicas: []raft.NodeID{1, 2, 0}, Leader: 2, Revision: 1}}, list.Groups)

	_, err = c.Join(ctx, &JoinRequest{Node: NodeInfo{ID: 2, RaftAddr: "127.0.0.1:7001", RPCAddr: "127.0.0.1:9001"}})
	require.NoError(t, err)

	st, err := c.Status(ctx, &StatusRequest{})
	require.NoError(t, err)
	require.True(t, st.IsController)
	require.Equal(t, []NodeInfo{{ID: 2, RaftAddr: "127.0.0.1:7001", RPCAddr: "127.0.0.1:9001"}}, st.Nodes)
	require.Equal(t, []GroupStatus{{ID: 4, Leader: true, Term: 2, CommitIndex: -1}}, st.Groups)
	require.Equal(t, int64(1234), st.LastDispatch)

	_, err = c.DeleteGroup(ctx, &DeleteGroupRequest{ID: 4})
	require.NoError(t, err)
	list, err = c.ListGroups(ctx, &ListGroupsRequest{})
	require.NoError(t, err)
	require.Empty(t, list.Groups)
}
