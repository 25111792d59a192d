package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"multiraft/pkg/raft"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := NewInMemoryBadgerStore()
	require.NoError(t, err)
	disk, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)

	stores := map[string]Store{
		"memory":          NewMemoryStore(),
		"badger":          disk,
		"badger-inmemory": mem,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func TestStoreGroups(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Group(ctx, 1)
			require.NoError(t, err)
			require.False(t, found)

			g3 := GroupSpec{ID: 3, Replicas: []raft.NodeID{1, 2, 3}, Leader: 2, Revision: 1}
			g1 := GroupSpec{ID: 1, Replicas: []raft.NodeID{1}, Leader: 1, Revision: 4}
			require.NoError(t, s.PutGroup(ctx, g3))
			require.NoError(t, s.PutGroup(ctx, g1))

			got, found, err := s.Group(ctx, 3)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, g3, got)

			all, err := s.Groups(ctx)
			require.NoError(t, err)
			require.Equal(t, []GroupSpec{g1, g3}, all)

			g3.Leader = 3
			g3.Revision = 2
			require.NoError(t, s.PutGroup(ctx, g3))
			got, _, err = s.Group(ctx, 3)
			require.NoError(t, err)
			require.Equal(t, raft.NodeID(3), got.Leader)

			require.NoError(t, s.DeleteGroup(ctx, 1))
			require.ErrorIs(t, s.DeleteGroup(ctx, 1), ErrNotFound)

			all, err = s.Groups(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
		})
	}
}

func TestStoreNodes(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			n2 := NodeInfo{ID: 2, RaftAddr: "10.0.0.2:7000", RPCAddr: "10.0.0.2:9000"}
			n1 := NodeInfo{ID: 1, RaftAddr: "10.0.0.1:7000", RPCAddr: "10.0.0.1:9000"}
			require.NoError(t, s.PutNode(ctx, n2))
			require.NoError(t, s.PutNode(ctx, n1))

			nodes, err := s.Nodes(ctx)
			require.NoError(t, err)
			require.Equal(t, []NodeInfo{n1, n2}, nodes)

			require.NoError(t, s.DeleteNode(ctx, 2))
			require.ErrorIs(t, s.DeleteNode(ctx, 2), ErrNotFound)
		})
	}
}

func TestStoreSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.PutGroup(ctx, GroupSpec{ID: 9, Replicas: []raft.NodeID{1}, Leader: 1, Revision: 1}))
			require.NoError(t, s.PutNode(ctx, NodeInfo{ID: 5, RPCAddr: "old:1"}))

			want := State{
				Groups: []GroupSpec{
					{ID: 1, Replicas: []raft.NodeID{1, 2}, Leader: 1, Revision: 2},
					{ID: 2, Replicas: []raft.NodeID{2}, Leader: 2, Revision: 1},
				},
				Nodes: []NodeInfo{{ID: 1, RaftAddr: "a:1", RPCAddr: "a:2"}},
			}
			require.NoError(t, s.Restore(ctx, want))

			got, err := s.Snapshot(ctx)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestGroupSpec(t *testing.T) {
	g := GroupSpec{ID: 1, Replicas: []raft.NodeID{1, 3}, Revision: 9, ConfigRevision: 7}

	require.True(t, g.HasReplica(3))
	require.False(t, g.HasReplica(2))
	require.Equal(t, []raft.VNode{{ID: 1, Revision: 7}, {ID: 3, Revision: 7}}, g.Voters())
}
