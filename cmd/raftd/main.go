package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"multiraft/config"
	"multiraft/pkg/logger"
	"multiraft/pkg/server"
	"multiraft/storage"
)

type flags struct {
	configPath string
	dataDir    string
	port       int
	host       string
	nodeID     int32
	bootstrap  bool
	join       []string
}

func main() {
	var f flags

	cmd := &cobra.Command{
		Use:   "raftd",
		Short: "raftd - multi-group raft node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "Data directory, holds the store and the controller log")
	cmd.Flags().IntVar(&f.port, "port", 0, "Server port")
	cmd.Flags().StringVar(&f.host, "host", "", "Server host")
	cmd.Flags().Int32Var(&f.nodeID, "node-id", 0, "Node ID")
	cmd.Flags().BoolVar(&f.bootstrap, "bootstrap", false, "Bootstrap a new cluster")
	cmd.Flags().StringSliceVar(&f.join, "join", nil, "Addresses of existing nodes to join through")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, f flags) error {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return err
	}

	// addresses derived from the server address follow a flag override
	derivedBind := cfg.Cluster.BindAddr == fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1000)
	derivedAdvertise := cfg.Cluster.AdvertiseAddr == cfg.Server.Address()

	// Override config with command line flags
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.DataDir = filepath.Join(f.dataDir, "store")
		cfg.Cluster.DataDir = filepath.Join(f.dataDir, "cluster")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = f.port
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = f.host
	}
	if cmd.Flags().Changed("node-id") {
		cfg.Cluster.NodeID = f.nodeID
	}
	if f.bootstrap {
		cfg.Cluster.Bootstrap = true
	}
	if len(f.join) > 0 {
		cfg.Cluster.JoinAddresses = f.join
	}
	if derivedBind {
		cfg.Cluster.BindAddr = ""
	}
	if derivedAdvertise {
		cfg.Cluster.AdvertiseAddr = ""
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.NewServer(cfg, store, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting raftd",
		zap.Int32("node_id", cfg.Cluster.NodeID),
		zap.String("address", cfg.Server.Address()),
		zap.String("raft_addr", cfg.Cluster.BindAddr))
	if err := srv.Start(ctx); err != nil {
		log.Error("Server error", zap.Error(err))
		return err
	}

	log.Info("raftd stopped")
	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Backend == "memory" {
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewBadgerStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}
