package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/status"

	"multiraft/pkg/raft"
)

// ErrUnknownNode is returned for a destination missing from the address book.
var ErrUnknownNode = errors.New("rpc: unknown node")

// AddressBook resolves a node to the address of its RPC server.
type AddressBook interface {
	RPCAddress(n raft.NodeID) (string, bool)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialOptions appends grpc dial options used for every connection.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// Client sends heartbeats to peers over gRPC. It keeps one connection per
// destination node and implements raft.ClientProtocol.
type Client struct {
	book     AddressBook
	dialOpts []grpc.DialOption
	log      *zap.Logger

	mu     sync.Mutex
	conns  map[raft.NodeID]*grpc.ClientConn
	closed bool
}

var _ raft.ClientProtocol = (*Client)(nil)

// NewClient returns a client resolving destinations through book.
func NewClient(book AddressBook, opts ...ClientOption) *Client {
	c := &Client{
		book:  book,
		log:   zap.NewNop(),
		conns: make(map[raft.NodeID]*grpc.ClientConn),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("rpc")
	return c
}

func (c *Client) conn(n raft.NodeID) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("rpc: client closed: %w", raft.ErrShuttingDown)
	}
	if cc, ok := c.conns[n]; ok {
		return cc, nil
	}

	addr, ok := c.book.RPCAddress(n)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, n)
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(codec{})),
	}
	cc, err := grpc.Dial(addr, append(opts, c.dialOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial node %s at %s: %w", n, addr, err)
	}
	c.log.Debug("Connected", zap.Stringer("node", n), zap.String("addr", addr))
	c.conns[n] = cc
	return cc, nil
}

// Heartbeat sends req to target. Requests at least opts.MinCompressionBytes
// long are compressed when opts.Compression asks for it.
func (c *Client) Heartbeat(ctx context.Context, target raft.NodeID, req raft.HeartbeatRequest, opts raft.ClientOpts) (raft.HeartbeatReply, error) {
	cc, err := c.conn(target)
	if err != nil {
		return raft.HeartbeatReply{}, err
	}

	if !opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, opts.Deadline)
		defer cancel()
	}

	w := wireHeartbeatRequest(req)
	payload := rawMessage(w.appendWire(nil))

	var callOpts []grpc.CallOption
	if opts.Compression == raft.CompressionGzip && len(payload) >= opts.MinCompressionBytes {
		callOpts = append(callOpts, grpc.UseCompressor(gzip.Name))
	}

	var reply wireHeartbeatReply
	if err := cc.Invoke(ctx, heartbeatMethod, payload, &reply, callOpts...); err != nil {
		return raft.HeartbeatReply{}, c.translate(target, err)
	}
	return raft.HeartbeatReply(reply), nil
}

// translate maps grpc status errors onto the errors the heartbeat manager
// classifies.
func (c *Client) translate(n raft.NodeID, err error) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("rpc: heartbeat to node %s: %w", n, raft.ErrShuttingDown)
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("rpc: heartbeat to node %s: %w", n, context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("rpc: heartbeat to node %s: %w", n, context.Canceled)
	default:
		return fmt.Errorf("rpc: heartbeat to node %s: %w", n, err)
	}
}

// EnsureDisconnect closes the cached connection to n. It reports whether a
// connection was open.
func (c *Client) EnsureDisconnect(_ context.Context, n raft.NodeID) (bool, error) {
	c.mu.Lock()
	cc, ok := c.conns[n]
	delete(c.conns, n)
	c.mu.Unlock()

	if !ok {
		return false, nil
	}
	return true, cc.Close()
}

// Close closes every connection. Later calls fail with raft.ErrShuttingDown.
func (c *Client) Close() error {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[raft.NodeID]*grpc.ClientConn)
	c.closed = true
	c.mu.Unlock()

	var err error
	for _, cc := range conns {
		err = multierr.Append(err, cc.Close())
	}
	return err
}
