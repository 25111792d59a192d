package raft

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// HeartbeatConfig is fixed for the lifetime of a HeartbeatManager.
type HeartbeatConfig struct {
	// Interval between dispatch rounds.
	Interval time.Duration
	// Timeout bounds every heartbeat RPC. It is measured on the wall clock.
	Timeout time.Duration
	// Self is this node's identity.
	Self NodeID

	Compression         CompressionType
	MinCompressionBytes int

	// ClearSuppressionOnTimeout clears a follower's suppression when its beat
	// times out. When false a timed out follower stays suppressed until a later
	// reply for the same or a newer sequence clears it.
	ClearSuppressionOnTimeout bool
}

// Validate reports configuration errors.
func (c HeartbeatConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive, got %s", c.Timeout)
	}
	if c.MinCompressionBytes < 0 {
		return fmt.Errorf("min compression bytes must not be negative, got %d", c.MinCompressionBytes)
	}
	return nil
}

// Option configures a HeartbeatManager.
type Option func(*managerOptions)

type managerOptions struct {
	logger  *zap.Logger
	clock   clock.Clock
	metrics *Metrics
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithClock sets the clock used for batching and timers.
func WithClock(c clock.Clock) Option {
	return func(o *managerOptions) { o.clock = c }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *managerOptions) { o.metrics = m }
}

// HeartbeatManager drives heartbeats for every registered leader group from a
// single periodic timer.
//
// Each round batches all pending beats into one request per destination node,
// sends them concurrently, and waits for every attempt to settle before
// rearming the timer, so rounds never overlap.
type HeartbeatManager struct {
	cfg     HeartbeatConfig
	client  ClientProtocol
	log     *zap.Logger
	clock   clock.Clock
	metrics *Metrics

	mu     sync.Mutex
	groups map[GroupID]Consensus

	gate         gate
	lifecycle    sync.Mutex
	started      bool
	stopping     atomic.Bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastDispatch atomic.Int64
}

// NewHeartbeatManager creates a stopped manager.
func NewHeartbeatManager(cfg HeartbeatConfig, client ClientProtocol, opts ...Option) (*HeartbeatManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("heartbeat manager requires a client protocol")
	}

	o := &managerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	return &HeartbeatManager{
		cfg:     cfg,
		client:  client,
		log:     o.logger.Named("r/heartbeat"),
		clock:   o.clock,
		metrics: o.metrics,
		groups:  make(map[GroupID]Consensus),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start dispatches the first round immediately and keeps dispatching every
// interval until Stop.
func (m *HeartbeatManager) Start() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	go m.run()
	return nil
}

// Stop disarms the timer and waits for an in-flight round to settle.
func (m *HeartbeatManager) Stop() error {
	m.lifecycle.Lock()
	if !m.started {
		m.lifecycle.Unlock()
		return ErrNotStarted
	}
	if m.stopping.Swap(true) {
		m.lifecycle.Unlock()
		<-m.doneCh
		return nil
	}
	close(m.stopCh)
	m.lifecycle.Unlock()

	m.gate.close()
	<-m.doneCh
	return nil
}

// LastDispatch returns the start time of the most recent round.
func (m *HeartbeatManager) LastDispatch() time.Time {
	ns := m.lastDispatch.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// RegisterGroup adds c to the managed set. Registering a group twice is a bug
// in the caller and panics.
func (m *HeartbeatManager) RegisterGroup(c Consensus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[c.Group()]; ok {
		panic(fmt.Sprintf("double registration of group: %d", c.Group()))
	}
	m.groups[c.Group()] = c
	m.metrics.setGroups(len(m.groups))
}

// DeregisterGroup removes g from the managed set. Removing an unknown group is
// a bug in the caller and panics.
func (m *HeartbeatManager) DeregisterGroup(g GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g]; !ok {
		panic(fmt.Sprintf("group not found: %d", g))
	}
	delete(m.groups, g)
	m.metrics.setGroups(len(m.groups))
}

// snapshot returns the registered groups ordered by id.
func (m *HeartbeatManager) snapshot() []Consensus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Consensus, 0, len(m.groups))
	for _, c := range m.groups {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group() < out[j].Group() })
	return out
}

func (m *HeartbeatManager) lookup(g GroupID) (Consensus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.groups[g]
	return c, ok
}

func (m *HeartbeatManager) run() {
	defer close(m.doneCh)

	for {
		if !m.gate.enter() {
			return
		}
		m.dispatchHeartbeats()
		m.gate.leave()

		timer := m.clock.Timer(m.cfg.Interval)
		select {
		case <-timer.C:
		case <-m.stopCh:
			timer.Stop()
			return
		}
	}
}

// dispatchHeartbeats runs one round: batch, reconnect, send, join.
func (m *HeartbeatManager) dispatchHeartbeats() {
	start := m.clock.Now()
	m.lastDispatch.Store(start.UnixNano())

	reqs := requestsForRange(m.snapshot(), start, m.cfg.Interval, m.log)

	for _, n := range reqs.reconnectNodes {
		if n == m.cfg.Self {
			continue
		}
		m.reconnect(n)
	}

	m.sendHeartbeats(reqs.requests)
	m.metrics.observeRound(m.clock.Since(start))
}

func (m *HeartbeatManager) reconnect(n NodeID) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	closed, err := m.client.EnsureDisconnect(ctx, n)
	if err != nil {
		m.log.Debug("Unable to close connection", zap.Stringer("node", n), zap.Error(err))
		return
	}
	if closed {
		m.log.Info("Closed unresponsive connection", zap.Stringer("node", n))
		m.metrics.reconnected(n)
	}
}

// attemptOutcome classifies how a heartbeat attempt settled.
type attemptOutcome uint8

const (
	// attemptCompleted carries a reply or a transport error to process.
	attemptCompleted attemptOutcome = iota
	// attemptTimedOut carries no information about the follower.
	attemptTimedOut
	// attemptShutdownRace settled while a collaborator was stopping.
	attemptShutdownRace
)

type attemptResult struct {
	target  NodeID
	metaMap map[GroupID]FollowerRequestMeta
	reply   HeartbeatReply
	err     error
	outcome attemptOutcome
}

// sendHeartbeats starts one attempt per destination and processes outcomes as
// they arrive. It returns once every attempt has settled.
func (m *HeartbeatManager) sendHeartbeats(reqs []NodeHeartbeat) {
	results := make(chan attemptResult, len(reqs))
	inflight := 0
	for _, r := range reqs {
		if r.Target == m.cfg.Self {
			m.doSelfHeartbeat(r)
			continue
		}
		inflight++
		go func(r NodeHeartbeat) { results <- m.doHeartbeat(r) }(r)
	}

	for ; inflight > 0; inflight-- {
		m.handleAttempt(<-results)
	}
}

func (m *HeartbeatManager) doSelfHeartbeat(r NodeHeartbeat) {
	reply := HeartbeatReply{Meta: make([]AppendEntriesReply, 0, len(r.Request.Heartbeats))}
	for _, hb := range r.Request.Heartbeats {
		reply.Meta = append(reply.Meta, AppendEntriesReply{
			TargetNodeID: hb.TargetNodeID,
			NodeID:       hb.TargetNodeID,
			Group:        hb.Meta.Group,
			Result:       ReplySuccess,
		})
	}
	m.processReply(r.Target, r.MetaMap, reply, nil)
}

// doHeartbeat sends one request. Its deadline is wall clock time; the
// injected clock drives rounds and freshness only.
func (m *HeartbeatManager) doHeartbeat(r NodeHeartbeat) attemptResult {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	opts := ClientOpts{
		Deadline:            deadline,
		Compression:         m.cfg.Compression,
		MinCompressionBytes: m.cfg.MinCompressionBytes,
	}

	type callResult struct {
		reply HeartbeatReply
		err   error
	}
	done := make(chan callResult, 1)
	m.metrics.requestSent(r.Target)
	go func() {
		reply, err := m.client.Heartbeat(ctx, r.Target, r.Request, opts)
		done <- callResult{reply: reply, err: err}
	}()

	res := attemptResult{target: r.Target, metaMap: r.MetaMap}
	// the transport may ignore ctx, the deadline is enforced here regardless
	select {
	case c := <-done:
		res.reply, res.err = c.reply, c.err
		res.outcome = m.classify(c.err)
	case <-ctx.Done():
		res.err = ctx.Err()
		res.outcome = attemptTimedOut
	}
	return res
}

func (m *HeartbeatManager) classify(err error) attemptOutcome {
	switch {
	case err == nil:
		return attemptCompleted
	case errors.Is(err, ErrShuttingDown):
		return attemptShutdownRace
	case errors.Is(err, context.Canceled) && m.stopping.Load():
		return attemptShutdownRace
	case errors.Is(err, context.DeadlineExceeded):
		return attemptTimedOut
	default:
		return attemptCompleted
	}
}

func (m *HeartbeatManager) handleAttempt(res attemptResult) {
	switch res.outcome {
	case attemptShutdownRace:
	case attemptTimedOut:
		m.metrics.requestTimedOut(res.target)
		m.log.Debug("Heartbeat timed out",
			zap.Stringer("node", res.target),
			zap.Int("groups", len(res.metaMap)),
			zap.Duration("timeout", m.cfg.Timeout))
		if m.cfg.ClearSuppressionOnTimeout {
			m.clearSuppression(res.metaMap)
		}
	default:
		m.processReply(res.target, res.metaMap, res.reply, res.err)
	}
}

func (m *HeartbeatManager) clearSuppression(groups map[GroupID]FollowerRequestMeta) {
	for g, meta := range groups {
		c, ok := m.lookup(g)
		if !ok {
			continue
		}
		c.UpdateSuppressHeartbeats(meta.FollowerVNode, meta.Seq, HeartbeatsSuppressedNo)
	}
}
