package server

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"multiraft/pkg/cluster"
	"multiraft/pkg/raft"
	"multiraft/storage"
)

// groupRegistry is the part of the heartbeat manager the host drives.
type groupRegistry interface {
	RegisterGroup(c raft.Consensus)
	DeregisterGroup(g raft.GroupID)
}

// GroupHost keeps the local replicas in line with the controller's placement.
// It registers every hosted group with the heartbeat manager and answers
// heartbeats from remote leaders.
type GroupHost struct {
	self               raft.NodeID
	registry           groupRegistry
	reconnectThreshold int
	clock              clock.Clock
	metrics            *raft.Metrics
	log                *zap.Logger

	mu     sync.RWMutex
	groups map[raft.GroupID]*hostedGroup
}

type hostedGroup struct {
	group *raft.Group
	spec  storage.GroupSpec
}

var _ cluster.GroupListener = (*GroupHost)(nil)

// GroupHostConfig configures a GroupHost.
type GroupHostConfig struct {
	Self               raft.NodeID
	ReconnectThreshold int
	Clock              clock.Clock
	Metrics            *raft.Metrics
	Logger             *zap.Logger
}

// NewGroupHost returns a host with no groups.
func NewGroupHost(cfg GroupHostConfig, registry groupRegistry) *GroupHost {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &GroupHost{
		self:               cfg.Self,
		registry:           registry,
		reconnectThreshold: cfg.ReconnectThreshold,
		clock:              cfg.Clock,
		metrics:            cfg.Metrics,
		log:                cfg.Logger.Named("groups"),
		groups:             make(map[raft.GroupID]*hostedGroup),
	}
}

// SyncGroups reconciles the hosted groups with the full placement. Groups
// no longer placed here are deregistered, new ones are created and
// registered, and leadership follows the placement's leader at its revision.
func (h *GroupHost) SyncGroups(specs []storage.GroupSpec) {
	h.mu.Lock()
	defer h.mu.Unlock()

	want := make(map[raft.GroupID]storage.GroupSpec, len(specs))
	for _, s := range specs {
		if s.HasReplica(h.self) {
			want[s.ID] = s
		}
	}

	for id, hg := range h.groups {
		s, ok := want[id]
		if ok && s.ConfigRevision == hg.spec.ConfigRevision {
			continue
		}
		h.registry.DeregisterGroup(id)
		delete(h.groups, id)
		h.log.Info("Removed group", zap.Stringer("group", id))
	}

	for id, s := range want {
		hg, ok := h.groups[id]
		if !ok {
			hg = &hostedGroup{group: raft.NewGroup(raft.GroupConfig{
				ID:                 id,
				Self:               s.VNode(h.self),
				Voters:             s.Voters(),
				ReconnectThreshold: h.reconnectThreshold,
				Clock:              h.clock,
				Metrics:            h.metrics,
				Logger:             h.log,
			})}
			h.groups[id] = hg
			h.registry.RegisterGroup(hg.group)
			h.log.Info("Hosting group",
				zap.Stringer("group", id),
				zap.Int("replicas", len(s.Replicas)))
		} else if hg.spec.Revision == s.Revision {
			continue
		}

		if s.Leader == h.self {
			hg.group.BecomeLeader(s.Revision)
		} else {
			hg.group.StepDown(s.Revision)
		}
		hg.spec = s
	}
}

func (h *GroupHost) lookup(id raft.GroupID) (*raft.Group, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hg, ok := h.groups[id]
	if !ok {
		return nil, false
	}
	return hg.group, true
}

// Heartbeat answers a batched heartbeat. Groups not hosted here reply
// GroupUnavailable so the leader can start recovery.
func (h *GroupHost) Heartbeat(_ context.Context, req raft.HeartbeatRequest) (raft.HeartbeatReply, error) {
	reply := raft.HeartbeatReply{Meta: make([]raft.AppendEntriesReply, 0, len(req.Heartbeats))}
	for _, hb := range req.Heartbeats {
		g, ok := h.lookup(hb.Meta.Group)
		if !ok {
			reply.Meta = append(reply.Meta, raft.AppendEntriesReply{
				TargetNodeID: hb.NodeID,
				NodeID:       hb.TargetNodeID,
				Group:        hb.Meta.Group,
				Result:       raft.ReplyGroupUnavailable,
			})
			continue
		}
		reply.Meta = append(reply.Meta, g.HandleHeartbeat(hb))
	}
	return reply, nil
}

// GroupState is a hosted group as seen by this node.
type GroupState struct {
	ID          raft.GroupID
	Leader      bool
	Term        int64
	CommitIndex int64
}

// Groups returns the hosted groups ordered by id.
func (h *GroupHost) Groups() []GroupState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]GroupState, 0, len(h.groups))
	for id, hg := range h.groups {
		out = append(out, GroupState{
			ID:          id,
			Leader:      hg.group.IsLeader(),
			Term:        hg.group.Term(),
			CommitIndex: hg.group.CommitIndex(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close deregisters every hosted group.
func (h *GroupHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.groups {
		h.registry.DeregisterGroup(id)
		delete(h.groups, id)
	}
}
