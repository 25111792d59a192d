package storage

import (
	"context"
	"sync"

	"multiraft/pkg/raft"
)

// MemoryStore is a Store kept in maps. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[raft.GroupID]GroupSpec
	nodes  map[raft.NodeID]NodeInfo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups: make(map[raft.GroupID]GroupSpec),
		nodes:  make(map[raft.NodeID]NodeInfo),
	}
}

func (m *MemoryStore) Close() error { return nil }

func cloneGroup(g GroupSpec) GroupSpec {
	g.Replicas = append([]raft.NodeID(nil), g.Replicas...)
	return g
}

// Group placement

func (m *MemoryStore) PutGroup(_ context.Context, g GroupSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = cloneGroup(g)
	return nil
}

func (m *MemoryStore) DeleteGroup(_ context.Context, id raft.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *MemoryStore) Group(_ context.Context, id raft.GroupID) (GroupSpec, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return GroupSpec{}, false, nil
	}
	return cloneGroup(g), true, nil
}

func (m *MemoryStore) Groups(_ context.Context) ([]GroupSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GroupSpec, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, cloneGroup(g))
	}
	sortGroups(out)
	return out, nil
}

// Address book

func (m *MemoryStore) PutNode(_ context.Context, n NodeInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
	return nil
}

func (m *MemoryStore) DeleteNode(_ context.Context, id raft.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[id]; !ok {
		return ErrNotFound
	}
	delete(m.nodes, id)
	return nil
}

func (m *MemoryStore) Nodes(_ context.Context) ([]NodeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]NodeInfo, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out, nil
}

// Snapshots

func (m *MemoryStore) Snapshot(ctx context.Context) (State, error) {
	groups, _ := m.Groups(ctx)
	nodes, _ := m.Nodes(ctx)
	return State{Groups: groups, Nodes: nodes}, nil
}

func (m *MemoryStore) Restore(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = make(map[raft.GroupID]GroupSpec, len(s.Groups))
	for _, g := range s.Groups {
		m.groups[g.ID] = cloneGroup(g)
	}
	m.nodes = make(map[raft.NodeID]NodeInfo, len(s.Nodes))
	for _, n := range s.Nodes {
		m.nodes[n.ID] = n
	}
	return nil
}
