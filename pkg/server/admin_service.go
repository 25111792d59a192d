package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"multiraft/pkg/cluster"
	"multiraft/pkg/raft"
	"multiraft/pkg/rpc"
	"multiraft/storage"
)

// controller is the slice of *cluster.Controller the admin service uses.
type controller interface {
	CreateGroup(ctx context.Context, g storage.GroupSpec) (int64, error)
	DeleteGroup(ctx context.Context, id raft.GroupID) error
	MoveLeader(ctx context.Context, id raft.GroupID, leader raft.NodeID) (int64, error)
	Groups(ctx context.Context) ([]storage.GroupSpec, error)
	Join(ctx context.Context, n storage.NodeInfo) error
	Nodes(ctx context.Context) ([]cluster.Node, error)
	Leader(ctx context.Context) (cluster.Node, bool)
	IsLeader() bool
}

// AdminService implements the admin gRPC service
type AdminService struct {
	self         raft.NodeID
	ctrl         controller
	host         *GroupHost
	lastDispatch func() time.Time
}

var _ rpc.AdminServer = (*AdminService)(nil)

// NewAdminService creates a new admin service
func NewAdminService(self raft.NodeID, ctrl controller, host *GroupHost, lastDispatch func() time.Time) *AdminService {
	return &AdminService{self: self, ctrl: ctrl, host: host, lastDispatch: lastDispatch}
}

// notLeader mirrors the redirect hint given to writes sent to a follower.
func (s *AdminService) notLeader(ctx context.Context) error {
	msg := "not leader"
	if ln, ok := s.ctrl.Leader(ctx); ok {
		msg = fmt.Sprintf("not leader; leader=%s@%s", ln.ID, ln.RPCAddr)
	}
	return status.Error(codes.FailedPrecondition, msg)
}

func (s *AdminService) toStatus(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cluster.ErrNotLeader):
		return s.notLeader(ctx)
	case errors.Is(err, cluster.ErrGroupExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, cluster.ErrGroupNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, cluster.ErrInvalidPlacement):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// CreateGroup places a new group
func (s *AdminService) CreateGroup(ctx context.Context, req *rpc.CreateGroupRequest) (*rpc.CreateGroupResponse, error) {
	rev, err := s.ctrl.CreateGroup(ctx, storage.GroupSpec{
		ID:       req.ID,
		Replicas: req.Replicas,
		Leader:   req.Leader,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.CreateGroupResponse{Revision: rev}, nil
}

// DeleteGroup removes a group
func (s *AdminService) DeleteGroup(ctx context.Context, req *rpc.DeleteGroupRequest) (*rpc.Empty, error) {
	if err := s.ctrl.DeleteGroup(ctx, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.Empty{}, nil
}

// MoveLeader hands a group's leadership to another replica
func (s *AdminService) MoveLeader(ctx context.Context, req *rpc.MoveLeaderRequest) (*rpc.Empty, error) {
	if _, err := s.ctrl.MoveLeader(ctx, req.ID, req.Leader); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.Empty{}, nil
}

// ListGroups returns the placement known to this node
func (s *AdminService) ListGroups(ctx context.Context, _ *rpc.ListGroupsRequest) (*rpc.ListGroupsResponse, error) {
	groups, err := s.ctrl.Groups(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := &rpc.ListGroupsResponse{Groups: make([]rpc.GroupInfo, 0, len(groups))}
	for _, g := range groups {
		out.Groups = append(out.Groups, rpc.GroupInfo{
			ID:       g.ID,
			Replicas: g.Replicas,
			Leader:   g.Leader,
			Revision: g.Revision,
		})
	}
	return out, nil
}

// Join adds a node to the cluster
func (s *AdminService) Join(ctx context.Context, req *rpc.JoinRequest) (*rpc.Empty, error) {
	if req.Node.RaftAddr == "" {
		return nil, status.Error(codes.InvalidArgument, "raft address is required")
	}
	err := s.ctrl.Join(ctx, storage.NodeInfo{
		ID:       req.Node.ID,
		RaftAddr: req.Node.RaftAddr,
		RPCAddr:  req.Node.RPCAddr,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.Empty{}, nil
}

// Status reports this node's view of the cluster and its hosted groups
func (s *AdminService) Status(ctx context.Context, _ *rpc.StatusRequest) (*rpc.StatusResponse, error) {
	nodes, err := s.ctrl.Nodes(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &rpc.StatusResponse{
		NodeID:       s.self,
		IsController: s.ctrl.IsLeader(),
		Nodes:        make([]rpc.NodeInfo, 0, len(nodes)),
	}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, rpc.NodeInfo{ID: n.ID, RaftAddr: n.RaftAddr, RPCAddr: n.RPCAddr})
		if n.Role == cluster.RoleLeader {
			resp.ControllerLeader = fmt.Sprintf("%s@%s", n.ID, n.RaftAddr)
		}
	}
	if s.host != nil {
		for _, g := range s.host.Groups() {
			resp.Groups = append(resp.Groups, rpc.GroupStatus{
				ID:          g.ID,
				Leader:      g.Leader,
				Term:        g.Term,
				CommitIndex: g.CommitIndex,
			})
		}
	}
	if s.lastDispatch != nil {
		if t := s.lastDispatch(); !t.IsZero() {
			resp.LastDispatch = t.UnixMilli()
		}
	}
	return resp, nil
}
