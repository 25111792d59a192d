package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"multiraft/pkg/raft"
	"multiraft/storage"
)

// Controller owns the local member of the controller raft group. The
// controller replicates group placement and the node address book into a
// storage.Store on every member.
type Controller struct {
	cfg   Config
	log   *zap.Logger
	raft  *hraft.Raft
	store storage.Store

	closers []func() error
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Start opens the bolt stores under cfg.DataDir and starts a raft node with a
// store-backed FSM.
func Start(cfg Config, st storage.Store, l GroupListener) (*Controller, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("raft data dir: %w", err)
	}

	logPath := filepath.Join(cfg.DataDir, "raft-log.bolt")
	stablePath := filepath.Join(cfg.DataDir, "raft-stable.bolt")

	logs, err := raftboltdb.NewBoltStore(logPath)
	if err != nil {
		return nil, fmt.Errorf("bolt log store: %w", err)
	}
	stable, err := raftboltdb.NewBoltStore(stablePath)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("bolt stable store: %w", err)
	}
	snaps, err := hraft.NewFileSnapshotStoreWithLogger(cfg.DataDir, 2, hclogAdapter(cfg.logger(), "snapshot"))
	if err != nil {
		_ = multierr.Combine(logs.Close(), stable.Close())
		return nil, fmt.Errorf("snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		_ = multierr.Combine(logs.Close(), stable.Close())
		return nil, err
	}
	trans, err := hraft.NewTCPTransportWithLogger(cfg.BindAddr, addr, 3, 10*time.Second, hclogAdapter(cfg.logger(), "transport"))
	if err != nil {
		_ = multierr.Combine(logs.Close(), stable.Close())
		return nil, err
	}

	c, err := newController(cfg, st, l, logs, stable, snaps, trans)
	if err != nil {
		_ = multierr.Combine(trans.Close(), logs.Close(), stable.Close())
		return nil, err
	}
	c.closers = append(c.closers, trans.Close, logs.Close, stable.Close)
	return c, nil
}

func (cfg Config) logger() *zap.Logger {
	if cfg.Logger == nil {
		return zap.NewNop()
	}
	return cfg.Logger
}

// hclogAdapter routes hashicorp raft's logging into zap.
func hclogAdapter(log *zap.Logger, name string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  hclog.Warn,
		Output: zap.NewStdLog(log.Named(name)).Writer(),
	})
}

func newController(cfg Config, st storage.Store, l GroupListener, logs hraft.LogStore, stable hraft.StableStore, snaps hraft.SnapshotStore, trans hraft.Transport) (*Controller, error) {
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	log := cfg.logger().Named("cluster")

	rcfg := hraft.DefaultConfig()
	rcfg.LocalID = serverID(cfg.NodeID)
	rcfg.HeartbeatTimeout = 200 * time.Millisecond
	rcfg.ElectionTimeout = 200 * time.Millisecond
	rcfg.LeaderLeaseTimeout = 200 * time.Millisecond
	rcfg.CommitTimeout = 50 * time.Millisecond
	rcfg.Logger = hclogAdapter(log, "raft")
	notify := make(chan bool, 1)
	rcfg.NotifyCh = notify

	f := newFSM(st, l, log)
	// a durable store already holds the placement as of the last run
	f.notify()
	ra, err := hraft.NewRaft(rcfg, f, logs, stable, snaps, trans)
	if err != nil {
		return nil, fmt.Errorf("raft: %w", err)
	}

	c := &Controller{
		cfg:   cfg,
		log:   log,
		raft:  ra,
		store: st,
		stop:  make(chan struct{}),
	}

	if cfg.Bootstrap {
		conf := hraft.Configuration{Servers: []hraft.Server{{
			ID:      rcfg.LocalID,
			Address: trans.LocalAddr(),
		}}}
		err := ra.BootstrapCluster(conf).Error()
		if err != nil && !errors.Is(err, hraft.ErrCantBootstrap) {
			_ = ra.Shutdown().Error()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	c.wg.Add(1)
	go c.watchLeadership(notify)
	return c, nil
}

func serverID(n raft.NodeID) hraft.ServerID { return hraft.ServerID(n.String()) }

func parseServerID(id hraft.ServerID) (raft.NodeID, error) {
	n, err := strconv.ParseInt(string(id), 10, 32)
	if err != nil {
		return 0, err
	}
	return raft.NodeID(n), nil
}

// watchLeadership registers this node's addresses whenever it becomes the
// controller leader, so a bootstrapped node appears in its own address book.
func (c *Controller) watchLeadership(notify <-chan bool) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case leader := <-notify:
			if !leader {
				c.log.Info("Lost controller leadership")
				continue
			}
			c.log.Info("Became controller leader")
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ApplyTimeout)
			err := c.registerSelf(ctx)
			cancel()
			if err != nil {
				c.log.Warn("Cannot register self", zap.Error(err))
			}
		}
	}
}

func (c *Controller) registerSelf(ctx context.Context) error {
	addr := string(c.raft.Leader())
	if addr == "" {
		addr = c.cfg.BindAddr
	}
	_, err := c.submit(ctx, CmdNodeRegister, nodeRegisterPayload{Node: storage.NodeInfo{
		ID:       c.cfg.NodeID,
		RaftAddr: addr,
		RPCAddr:  c.cfg.RPCAddr,
	}})
	return err
}

// Raft returns the underlying raft instance
func (c *Controller) Raft() *hraft.Raft { return c.raft }

// Store returns the replicated store. Reads may lag the leader.
func (c *Controller) Store() storage.Store { return c.store }

// IsLeader reports whether this node is the controller leader
func (c *Controller) IsLeader() bool { return c.raft.State() == hraft.Leader }

// LeaderAddr returns the raft address of the controller leader, if known
func (c *Controller) LeaderAddr() string { return string(c.raft.Leader()) }

// WaitForLeader blocks until a controller leader is known or ctx is done.
func (c *Controller) WaitForLeader(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if c.LeaderAddr() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close shuts down raft and closes stores
func (c *Controller) Close() error {
	err := c.raft.Shutdown().Error()
	close(c.stop)
	c.wg.Wait()
	for _, closeFn := range c.closers {
		err = multierr.Append(err, closeFn())
	}
	return err
}
