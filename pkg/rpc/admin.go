package rpc

import (
	"context"

	"google.golang.org/grpc"

	"multiraft/pkg/raft"
)

const adminServiceName = "multiraft.rpc.AdminService"

// AdminServer manages group placement and cluster membership.
type AdminServer interface {
	CreateGroup(ctx context.Context, req *CreateGroupRequest) (*CreateGroupResponse, error)
	DeleteGroup(ctx context.Context, req *DeleteGroupRequest) (*Empty, error)
	MoveLeader(ctx context.Context, req *MoveLeaderRequest) (*Empty, error)
	ListGroups(ctx context.Context, req *ListGroupsRequest) (*ListGroupsResponse, error)
	Join(ctx context.Context, req *JoinRequest) (*Empty, error)
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
}

// RegisterAdminService registers srv on s. The server must be created with
// ServerOptions.
func RegisterAdminService(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		adminMethod("CreateGroup", func(s AdminServer, ctx context.Context, r *CreateGroupRequest) (wireMessage, error) {
			return s.CreateGroup(ctx, r)
		}),
		adminMethod("DeleteGroup", func(s AdminServer, ctx context.Context, r *DeleteGroupRequest) (wireMessage, error) {
			return s.DeleteGroup(ctx, r)
		}),
		adminMethod("MoveLeader", func(s AdminServer, ctx context.Context, r *MoveLeaderRequest) (wireMessage, error) {
			return s.MoveLeader(ctx, r)
		}),
		adminMethod("ListGroups", func(s AdminServer, ctx context.Context, r *ListGroupsRequest) (wireMessage, error) {
			return s.ListGroups(ctx, r)
		}),
		adminMethod("Join", func(s AdminServer, ctx context.Context, r *JoinRequest) (wireMessage, error) {
			return s.Join(ctx, r)
		}),
		adminMethod("Status", func(s AdminServer, ctx context.Context, r *StatusRequest) (wireMessage, error) {
			return s.Status(ctx, r)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin.proto",
}

func adminMethodPath(name string) string { return "/" + adminServiceName + "/" + name }

func adminMethod[Req any, R interface {
	*Req
	wireMessage
}](name string, call func(AdminServer, context.Context, R) (wireMessage, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := R(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(R))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: adminMethodPath(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AdminClient calls the admin service.
type AdminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient returns a client using cc.
func NewAdminClient(cc grpc.ClientConnInterface) *AdminClient {
	return &AdminClient{cc: cc}
}

func (c *AdminClient) invoke(ctx context.Context, name string, in, out wireMessage) error {
	return c.cc.Invoke(ctx, adminMethodPath(name), in, out, grpc.ForceCodec(codec{}))
}

func (c *AdminClient) CreateGroup(ctx context.Context, req *CreateGroupRequest) (*CreateGroupResponse, error) {
	out := new(CreateGroupResponse)
	if err := c.invoke(ctx, "CreateGroup", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) DeleteGroup(ctx context.Context, req *DeleteGroupRequest) (*Empty, error) {
	out := new(Empty)
	if err := c.invoke(ctx, "DeleteGroup", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) MoveLeader(ctx context.Context, req *MoveLeaderRequest) (*Empty, error) {
	out := new(Empty)
	if err := c.invoke(ctx, "MoveLeader", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) ListGroups(ctx context.Context, req *ListGroupsRequest) (*ListGroupsResponse, error) {
	out := new(ListGroupsResponse)
	if err := c.invoke(ctx, "ListGroups", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) Join(ctx context.Context, req *JoinRequest) (*Empty, error) {
	out := new(Empty)
	if err := c.invoke(ctx, "Join", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.invoke(ctx, "Status", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Empty is returned by calls without a result.
type Empty struct{}

func (*Empty) appendWire(b []byte) []byte { return b }

func (*Empty) decodeWire(b []byte) error {
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		d.skip(num, typ)
	}
	return d.err
}

// GroupInfo is the placement of one group.
type GroupInfo struct {
	ID       raft.GroupID
	Replicas []raft.NodeID
	Leader   raft.NodeID
	Revision int64
}

func (m *GroupInfo) appendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(m.ID))
	for _, r := range m.Replicas {
		b = appendRepeatedSint(b, 2, int64(r))
	}
	b = appendSint(b, 3, int64(m.Leader))
	return appendSint(b, 4, m.Revision)
}

func (m *GroupInfo) decodeWire(b []byte) error {
	*m = GroupInfo{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.ID = raft.GroupID(d.sint(num, typ))
		case 2:
			m.Replicas = append(m.Replicas, raft.NodeID(d.sint(num, typ)))
		case 3:
			m.Leader = raft.NodeID(d.sint(num, typ))
		case 4:
			m.Revision = d.sint(num, typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

// CreateGroupRequest places a new group on Replicas. Leader defaults to the
// first replica.
type CreateGroupRequest struct {
	ID       raft.GroupID
	Replicas []raft.NodeID
	Leader   raft.NodeID
}

func (m *CreateGroupRequest) appendWire(b []byte) []byte {
	g := GroupInfo{ID: m.ID, Replicas: m.Replicas, Leader: m.Leader}
	return g.appendWire(b)
}

func (m *CreateGroupRequest) decodeWire(b []byte) error {
	var g GroupInfo
	if err := g.decodeWire(b); err != nil {
		return err
	}
	*m = CreateGroupRequest{ID: g.ID, Replicas: g.Replicas, Leader: g.Leader}
	return nil
}

type CreateGroupResponse struct {
	Revision int64
}

func (m *CreateGroupResponse) appendWire(b []byte) []byte { return appendSint(b, 1, m.Revision) }

func (m *CreateGroupResponse) decodeWire(b []byte) error {
	*m = CreateGroupResponse{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.Revision = d.sint(num, typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

type DeleteGroupRequest struct {
	ID raft.GroupID
}

func (m *DeleteGroupRequest) appendWire(b []byte) []byte { return appendSint(b, 1, int64(m.ID)) }

func (m *DeleteGroupRequest) decodeWire(b []byte) error {
	*m = DeleteGroupRequest{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.ID = raft.GroupID(d.sint(num, typ))
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

type MoveLeaderRequest struct {
	ID     raft.GroupID
	Leader raft.NodeID
}

func (m *MoveLeaderRequest) appendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(m.ID))
	return appendSint(b, 2, int64(m.Leader))
}

func (m *MoveLeaderRequest) decodeWire(b []byte) error {
	*m = MoveLeaderRequest{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.ID = raft.GroupID(d.sint(num, typ))
		case 2:
			m.Leader = raft.NodeID(d.sint(num, typ))
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

type ListGroupsRequest struct{}

func (*ListGroupsRequest) appendWire(b []byte) []byte { return b }
func (*ListGroupsRequest) decodeWire(b []byte) error  { return (&Empty{}).decodeWire(b) }

type ListGroupsResponse struct {
	Groups []GroupInfo
}

func (m *ListGroupsResponse) appendWire(b []byte) []byte {
	for i := range m.Groups {
		b = appendMessage(b, 1, &m.Groups[i])
	}
	return b
}

func (m *ListGroupsResponse) decodeWire(b []byte) error {
	*m = ListGroupsResponse{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			var g GroupInfo
			d.message(num, typ, &g)
			m.Groups = append(m.Groups, g)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

// NodeInfo is a cluster member and its addresses.
type NodeInfo struct {
	ID       raft.NodeID
	RaftAddr string
	RPCAddr  string
}

func (m *NodeInfo) appendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(m.ID))
	b = appendString(b, 2, m.RaftAddr)
	return appendString(b, 3, m.RPCAddr)
}

func (m *NodeInfo) decodeWire(b []byte) error {
	*m = NodeInfo{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.ID = raft.NodeID(d.sint(num, typ))
		case 2:
			m.RaftAddr = d.str(num, typ)
		case 3:
			m.RPCAddr = d.str(num, typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

// JoinRequest adds a node to the controller.
type JoinRequest struct {
	Node NodeInfo
}

func (m *JoinRequest) appendWire(b []byte) []byte { return m.Node.appendWire(b) }
func (m *JoinRequest) decodeWire(b []byte) error  { return m.Node.decodeWire(b) }

type StatusRequest struct{}

func (*StatusRequest) appendWire(b []byte) []byte { return b }
func (*StatusRequest) decodeWire(b []byte) error  { return (&Empty{}).decodeWire(b) }

// GroupStatus is the local view of one hosted group.
type GroupStatus struct {
	ID          raft.GroupID
	Leader      bool
	Term        int64
	CommitIndex int64
}

func (m *GroupStatus) appendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(m.ID))
	b = appendBool(b, 2, m.Leader)
	b = appendSint(b, 3, m.Term)
	return appendSint(b, 4, m.CommitIndex)
}

func (m *GroupStatus) decodeWire(b []byte) error {
	*m = GroupStatus{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.ID = raft.GroupID(d.sint(num, typ))
		case 2:
			m.Leader = d.flag(num, typ)
		case 3:
			m.Term = d.sint(num, typ)
		case 4:
			m.CommitIndex = d.sint(num, typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}

// StatusResponse describes the answering node.
type StatusResponse struct {
	NodeID           raft.NodeID
	ControllerLeader string
	IsController     bool
	Nodes            []NodeInfo
	Groups           []GroupStatus
	// LastDispatch is the start of the latest heartbeat round in unix nanoseconds.
	LastDispatch int64
}

func (m *StatusResponse) appendWire(b []byte) []byte {
	b = appendSint(b, 1, int64(m.NodeID))
	b = appendString(b, 2, m.ControllerLeader)
	b = appendBool(b, 3, m.IsController)
	for i := range m.Nodes {
		b = appendMessage(b, 4, &m.Nodes[i])
	}
	for i := range m.Groups {
		b = appendMessage(b, 5, &m.Groups[i])
	}
	return appendSint(b, 6, m.LastDispatch)
}

func (m *StatusResponse) decodeWire(b []byte) error {
	*m = StatusResponse{}
	d := decoder{b: b}
	for d.more() {
		num, typ := d.tag()
		switch num {
		case 1:
			m.NodeID = raft.NodeID(d.sint(num, typ))
		case 2:
			m.ControllerLeader = d.str(num, typ)
		case 3:
			m.IsController = d.flag(num, typ)
		case 4:
			var n NodeInfo
			d.message(num, typ, &n)
			m.Nodes = append(m.Nodes, n)
		case 5:
			var g GroupStatus
			d.message(num, typ, &g)
			m.Groups = append(m.Groups, g)
		case 6:
			m.LastDispatch = d.sint(num, typ)
		default:
			d.skip(num, typ)
		}
	}
	return d.err
}
