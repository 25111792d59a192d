package rpc

import (
	"context"

	"google.golang.org/grpc"

	"multiraft/pkg/raft"
)

const (
	raftServiceName = "multiraft.rpc.RaftService"
	heartbeatMethod = "/" + raftServiceName + "/Heartbeat"
)

// HeartbeatHandler serves the follower side of batched heartbeats.
type HeartbeatHandler interface {
	Heartbeat(ctx context.Context, req raft.HeartbeatRequest) (raft.HeartbeatReply, error)
}

// ServerOptions returns the options every server carrying the raft or admin
// service must be created with.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ForceServerCodec(codec{})}
}

// RegisterRaftService registers h on s. The server must be created with
// ServerOptions.
func RegisterRaftService(s grpc.ServiceRegistrar, h HeartbeatHandler) {
	s.RegisterService(&raftServiceDesc, h)
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: raftServiceName,
	HandlerType: (*HeartbeatHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raft.proto",
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wireHeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	call := func(ctx context.Context, req any) (any, error) {
		reply, err := srv.(HeartbeatHandler).Heartbeat(ctx, raft.HeartbeatRequest(*req.(*wireHeartbeatRequest)))
		if err != nil {
			return nil, err
		}
		out := wireHeartbeatReply(reply)
		return &out, nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: heartbeatMethod}
	return interceptor(ctx, in, info, call)
}
