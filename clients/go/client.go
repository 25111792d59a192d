package client

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"multiraft/pkg/raft"
	"multiraft/pkg/rpc"
)

// Client is a typed SDK for the raftd admin service.
type Client struct {
	conn  *grpc.ClientConn
	opts  *Options
	Admin *rpc.AdminClient
}

// Options control Client behavior.
type Options struct {
	// DialTimeout is the timeout for establishing a connection.
	DialTimeout time.Duration
	// Insecure skips TLS (default true for local dev).
	Insecure bool
	// FollowLeader retries writes rejected by a follower against the
	// controller leader it names.
	FollowLeader bool
}

// New dials the raftd server at address (host:port) and returns a Client.
func New(ctx context.Context, address string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{Insecure: true, DialTimeout: 5 * time.Second, FollowLeader: true}
	}
	conn, err := dial(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, opts: opts, Admin: rpc.NewAdminClient(conn)}, nil
}

func dial(ctx context.Context, address string, opts *Options) (*grpc.ClientConn, error) {
	var dialOpts []grpc.DialOption
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	return grpc.DialContext(ctx, address, dialOpts...)
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// LeaderHint extracts the leader's rpc address from a not-leader error.
func LeaderHint(err error) (string, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.FailedPrecondition {
		return "", false
	}
	_, hint, ok := strings.Cut(st.Message(), "leader=")
	if !ok {
		return "", false
	}
	_, addr, ok := strings.Cut(hint, "@")
	return addr, ok && addr != ""
}

// write runs call against this server, then once against the leader it
// names if the server is not the controller leader.
func (c *Client) write(ctx context.Context, call func(*rpc.AdminClient) error) error {
	err := call(c.Admin)
	if err == nil || !c.opts.FollowLeader {
		return err
	}
	addr, ok := LeaderHint(err)
	if !ok {
		return err
	}
	conn, dialErr := dial(ctx, addr, c.opts)
	if dialErr != nil {
		return err
	}
	defer conn.Close()
	return call(rpc.NewAdminClient(conn))
}

// CreateGroup places a group and returns its revision. Leave replicas empty
// to let the controller pick them.
func (c *Client) CreateGroup(ctx context.Context, id raft.GroupID, replicas []raft.NodeID, leader raft.NodeID) (int64, error) {
	var rev int64
	err := c.write(ctx, func(a *rpc.AdminClient) error {
		resp, err := a.CreateGroup(ctx, &rpc.CreateGroupRequest{ID: id, Replicas: replicas, Leader: leader})
		if err != nil {
			return err
		}
		rev = resp.Revision
		return nil
	})
	return rev, err
}

// DeleteGroup removes a group.
func (c *Client) DeleteGroup(ctx context.Context, id raft.GroupID) error {
	return c.write(ctx, func(a *rpc.AdminClient) error {
		_, err := a.DeleteGroup(ctx, &rpc.DeleteGroupRequest{ID: id})
		return err
	})
}

// MoveLeader hands a group's leadership to another replica.
func (c *Client) MoveLeader(ctx context.Context, id raft.GroupID, leader raft.NodeID) error {
	return c.write(ctx, func(a *rpc.AdminClient) error {
		_, err := a.MoveLeader(ctx, &rpc.MoveLeaderRequest{ID: id, Leader: leader})
		return err
	})
}

// Join adds a node to the cluster.
func (c *Client) Join(ctx context.Context, n rpc.NodeInfo) error {
	return c.write(ctx, func(a *rpc.AdminClient) error {
		_, err := a.Join(ctx, &rpc.JoinRequest{Node: n})
		return err
	})
}

// ListGroups returns the placement known to the connected server.
func (c *Client) ListGroups(ctx context.Context) ([]rpc.GroupInfo, error) {
	resp, err := c.Admin.ListGroups(ctx, &rpc.ListGroupsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

// Status returns the connected server's view of the cluster.
func (c *Client) Status(ctx context.Context) (*rpc.StatusResponse, error) {
	return c.Admin.Status(ctx, &rpc.StatusRequest{})
}
