package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	hraft "github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"multiraft/pkg/raft"
	"multiraft/storage"
)

type bufSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *bufSink) ID() string    { return "test" }
func (s *bufSink) Cancel() error { s.cancelled = true; return nil }
func (s *bufSink) Close() error  { return nil }

func applyCmd(t *testing.T, f *fsm, index uint64, ct CommandType, payload any) interface{} {
	t.Helper()
	cmd, err := NewCommand(ct, payload)
	require.NoError(t, err)
	data, err := cmd.Marshal()
	require.NoError(t, err)
	return f.Apply(&hraft.Log{Index: index, Data: data})
}

func TestFSMApply(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	rec := &syncRecorder{}
	f := newFSM(st, rec, zaptest.NewLogger(t))

	res := applyCmd(t, f, 3, CmdGroupCreate, groupCreatePayload{Group: storage.GroupSpec{
		ID: 1, Replicas: []raft.NodeID{1, 2}, Leader: 1, Revision: 99,
	}})
	require.Equal(t, int64(3), res)

	res = applyCmd(t, f, 4, CmdGroupMoveLeader, groupMoveLeaderPayload{ID: 1, Leader: 2})
	require.Equal(t, int64(4), res)
	g, _, err := st.Group(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, storage.GroupSpec{ID: 1, Replicas: []raft.NodeID{1, 2}, Leader: 2, Revision: 4, ConfigRevision: 3}, g)

	// replays onto a store that already holds the result
	res = applyCmd(t, f, 3, CmdGroupCreate, groupCreatePayload{Group: storage.GroupSpec{ID: 1, Replicas: []raft.NodeID{1, 2}, Leader: 1}})
	require.Equal(t, int64(3), res)
	res = applyCmd(t, f, 4, CmdGroupMoveLeader, groupMoveLeaderPayload{ID: 1, Leader: 2})
	require.Equal(t, int64(4), res)
	res = applyCmd(t, f, 10, CmdGroupCreate, groupCreatePayload{Group: storage.GroupSpec{ID: 1, Replicas: []raft.NodeID{1}}})
	require.ErrorIs(t, res.(error), ErrGroupExists)
	calls, _ := rec.snapshot()
	require.Equal(t, 4, calls)
	rec = &syncRecorder{}
	f.listener = rec

	res = applyCmd(t, f, 5, CmdNodeRegister, nodeRegisterPayload{Node: storage.NodeInfo{ID: 2, RPCAddr: "b:1"}})
	require.Nil(t, res)
	calls, _ = rec.snapshot()
	require.Zero(t, calls)

	res = applyCmd(t, f, 6, CommandType("BOGUS"), struct{}{})
	require.Error(t, res.(error))

	res = f.Apply(&hraft.Log{Index: 7, Data: []byte("{")})
	require.Error(t, res.(error))

	res = applyCmd(t, f, 8, CmdNodeRemove, nodeRemovePayload{ID: 2})
	require.Nil(t, res)
	res = applyCmd(t, f, 9, CmdNodeRemove, nodeRemovePayload{ID: 2})
	require.ErrorIs(t, res.(error), storage.ErrNotFound)
}

func TestFSMSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := newFSM(storage.NewMemoryStore(), nil, zaptest.NewLogger(t))
	applyCmd(t, src, 1, CmdNodeRegister, nodeRegisterPayload{Node: storage.NodeInfo{ID: 1, RaftAddr: "a:7000", RPCAddr: "a:9000"}})
	applyCmd(t, src, 2, CmdGroupCreate, groupCreatePayload{Group: storage.GroupSpec{ID: 4, Replicas: []raft.NodeID{1}, Leader: 1}})

	snap, err := src.Snapshot()
	require.NoError(t, err)
	sink := &bufSink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	require.False(t, sink.cancelled)

	var st storage.State
	require.NoError(t, json.Unmarshal(sink.Bytes(), &st))
	require.Len(t, st.Groups, 1)
	require.Len(t, st.Nodes, 1)

	dstStore := storage.NewMemoryStore()
	require.NoError(t, dstStore.PutGroup(ctx, storage.GroupSpec{ID: 9}))
	rec := &syncRecorder{}
	dst := newFSM(dstStore, rec, zaptest.NewLogger(t))
	require.NoError(t, dst.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	groups, err := dstStore.Groups(ctx)
	require.NoError(t, err)
	require.Equal(t, []storage.GroupSpec{{ID: 4, Replicas: []raft.NodeID{1}, Leader: 1, Revision: 2, ConfigRevision: 2}}, groups)
	calls, last := rec.snapshot()
	require.Equal(t, 1, calls)
	require.Equal(t, groups, last)

	require.Error(t, dst.Restore(io.NopCloser(bytes.NewReader([]byte("nope")))))
}

func TestPlaceReplicas(t *testing.T) {
	nodes := []raft.NodeID{1, 2, 3}

	got, err := PlaceReplicas(5, nodes, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotEqual(t, got[0], got[1])
	again, err := PlaceReplicas(5, []raft.NodeID{3, 1, 2}, 2)
	require.NoError(t, err)
	require.Equal(t, got, again)

	_, err = PlaceReplicas(5, nodes, 4)
	require.ErrorIs(t, err, ErrInvalidPlacement)

	one, err := PlaceReplicas(5, nodes, 0)
	require.NoError(t, err)
	require.Len(t, one, 1)

	// adding a node only moves groups onto that node
	for g := raft.GroupID(0); g < 200; g++ {
		before, err := PlaceReplicas(g, nodes, 1)
		require.NoError(t, err)
		after, err := PlaceReplicas(g, append(nodes[:3:3], 4), 1)
		require.NoError(t, err)
		if after[0] != 4 {
			require.Equal(t, before, after, "group %d", g)
		}
	}
}
