package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"multiraft/config"
	"multiraft/pkg/cluster"
	"multiraft/pkg/raft"
	"multiraft/pkg/rpc"
	"multiraft/storage"
)

// Server hosts the consensus groups placed on this node: it runs the
// heartbeat manager, serves peer heartbeats and the admin API over gRPC, and
// follows the controller's placement.
type Server struct {
	config *config.Config
	store  storage.Store
	log    *zap.Logger

	grpc     *grpc.Server
	registry *prometheus.Registry
	metrics  *http.Server

	client     *rpc.Client
	heartbeats *raft.HeartbeatManager
	host       *GroupHost
	controller *cluster.Controller
}

// HeartbeatConfig maps the raft section onto the heartbeat manager's config.
func HeartbeatConfig(cfg *config.Config) raft.HeartbeatConfig {
	hb := raft.HeartbeatConfig{
		Interval:                  cfg.Raft.HeartbeatInterval,
		Timeout:                   cfg.Raft.HeartbeatTimeout,
		Self:                      raft.NodeID(cfg.Cluster.NodeID),
		MinCompressionBytes:       cfg.Raft.MinCompressionBytes,
		ClearSuppressionOnTimeout: cfg.Raft.ClearSuppressionOnTimeout,
	}
	if cfg.Raft.Compression == "gzip" {
		hb.Compression = raft.CompressionGzip
	}
	return hb
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, store storage.Store, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	self := raft.NodeID(cfg.Cluster.NodeID)

	s := &Server{
		config:   cfg,
		store:    store,
		log:      log.With(zap.Stringer("node", self)),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := raft.NewMetrics(s.registry)

	s.client = rpc.NewClient(storeAddressBook{st: store, log: s.log},
		rpc.WithClientLogger(s.log),
		rpc.WithDialOptions(grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.Server.MaxMessageSize))),
	)

	mgr, err := raft.NewHeartbeatManager(HeartbeatConfig(cfg), s.client,
		raft.WithLogger(s.log),
		raft.WithMetrics(metrics),
	)
	if err != nil {
		_ = s.client.Close()
		return nil, err
	}
	s.heartbeats = mgr

	s.host = NewGroupHost(GroupHostConfig{
		Self:               self,
		ReconnectThreshold: cfg.Raft.ReconnectThreshold,
		Metrics:            metrics,
		Logger:             s.log,
	}, mgr)

	opts := append(rpc.ServerOptions(),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              5 * time.Second,
			Timeout:           1 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageSize),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageSize),
	)
	s.grpc = grpc.NewServer(opts...)
	rpc.RegisterRaftService(s.grpc, s.host)

	return s, nil
}

// Start starts the controller, the heartbeat manager and the gRPC server,
// then blocks until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	address := s.config.Server.Address()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	if err := s.Serve(ctx, listener); err != nil {
		return multierr.Append(err, s.Stop())
	}

	<-ctx.Done()
	return s.Stop()
}

// Serve starts every component on lis and returns once they are running.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctrl, err := cluster.Start(cluster.Config{
		NodeID:            raft.NodeID(s.config.Cluster.NodeID),
		BindAddr:          s.config.Cluster.BindAddr,
		RPCAddr:           s.config.Cluster.AdvertiseAddr,
		DataDir:           s.config.Cluster.DataDir,
		Bootstrap:         s.config.Cluster.Bootstrap,
		ReplicationFactor: s.config.Cluster.Replicas,
		ApplyTimeout:      s.config.Cluster.ApplyTimeout,
		Logger:            s.log,
	}, s.store, s.host)
	if err != nil {
		_ = lis.Close()
		return fmt.Errorf("controller start: %w", err)
	}
	s.controller = ctrl
	rpc.RegisterAdminService(s.grpc, NewAdminService(
		raft.NodeID(s.config.Cluster.NodeID), ctrl, s.host, s.heartbeats.LastDispatch))

	s.log.Info("Starting raftd server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.grpc.Serve(lis); err != nil {
			s.log.Error("gRPC server error", zap.Error(err))
		}
	}()

	if err := s.heartbeats.Start(); err != nil {
		return err
	}

	if s.config.Metrics.Enabled {
		s.serveMetrics()
	}

	if len(s.config.Cluster.JoinAddresses) > 0 {
		if err := s.join(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.metrics = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server error", zap.Error(err))
		}
	}()
}

// join asks each configured peer in turn to add this node to the controller.
func (s *Server) join(ctx context.Context) error {
	req := &rpc.JoinRequest{Node: rpc.NodeInfo{
		ID:       raft.NodeID(s.config.Cluster.NodeID),
		RaftAddr: s.config.Cluster.BindAddr,
		RPCAddr:  s.config.Cluster.AdvertiseAddr,
	}}

	var errs error
	for _, addr := range s.config.Cluster.JoinAddresses {
		err := s.joinVia(ctx, addr, req)
		if err == nil {
			s.log.Info("Joined cluster", zap.String("via", addr))
			return nil
		}
		s.log.Warn("Join attempt failed", zap.String("via", addr), zap.Error(err))
		errs = multierr.Append(errs, err)
	}
	return fmt.Errorf("join cluster: %w", errs)
}

func (s *Server) joinVia(ctx context.Context, addr string, req *rpc.JoinRequest) error {
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, s.config.Cluster.ApplyTimeout)
	defer cancel()
	_, err = rpc.NewAdminClient(conn).Join(ctx, req)
	return err
}

// Stop stops the server gracefully
func (s *Server) Stop() error {
	s.log.Info("Stopping raftd server")

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.log.Warn("Force stopping gRPC server")
		s.grpc.Stop()
	}

	var err error
	if stopErr := s.heartbeats.Stop(); !errors.Is(stopErr, raft.ErrNotStarted) {
		err = multierr.Append(err, stopErr)
	}
	if s.controller != nil {
		err = multierr.Append(err, s.controller.Close())
	}
	s.host.Close()
	err = multierr.Append(err, s.client.Close())
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = multierr.Append(err, s.metrics.Shutdown(ctx))
		cancel()
	}
	return err
}

// Health reports whether a controller leader is known
func (s *Server) Health() bool {
	return s.controller != nil && s.controller.LeaderAddr() != ""
}
