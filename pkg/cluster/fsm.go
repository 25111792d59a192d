package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	hraft "github.com/hashicorp/raft"
	"go.uber.org/zap"

	"multiraft/storage"
)

// fsm implements hashicorp/raft.FSM and applies replicated commands to the
// store. Group revisions are the raft index of the command that produced them.
type fsm struct {
	st       storage.Store
	listener GroupListener
	log      *zap.Logger
}

func newFSM(st storage.Store, l GroupListener, log *zap.Logger) *fsm {
	return &fsm{st: st, listener: l, log: log}
}

// Apply returns the new revision for group commands, nil for the others, or
// an error.
func (f *fsm) Apply(l *hraft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("fsm decode: %w", err)
	}

	res, groupsChanged, err := f.apply(context.Background(), cmd, int64(l.Index))
	if err != nil {
		f.log.Debug("Command rejected",
			zap.String("id", cmd.ID),
			zap.String("type", string(cmd.Type)),
			zap.Error(err))
		return err
	}
	if groupsChanged {
		f.notify()
	}
	return res
}

func (f *fsm) apply(ctx context.Context, cmd Command, index int64) (any, bool, error) {
	switch cmd.Type {
	case CmdGroupCreate:
		var req groupCreatePayload
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, false, err
		}
		if g, found, err := f.st.Group(ctx, req.Group.ID); err != nil {
			return nil, false, err
		} else if found && g.ConfigRevision == index {
			// replayed onto a durable store
			return index, true, nil
		} else if found {
			return nil, false, fmt.Errorf("%w: %s", ErrGroupExists, req.Group.ID)
		}
		req.Group.Revision = index
		req.Group.ConfigRevision = index
		return index, true, f.st.PutGroup(ctx, req.Group)

	case CmdGroupDelete:
		var req groupDeletePayload
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, false, err
		}
		if err := f.st.DeleteGroup(ctx, req.ID); errors.Is(err, storage.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: %s", ErrGroupNotFound, req.ID)
		} else if err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case CmdGroupMoveLeader:
		var req groupMoveLeaderPayload
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, false, err
		}
		g, found, err := f.st.Group(ctx, req.ID)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, fmt.Errorf("%w: %s", ErrGroupNotFound, req.ID)
		}
		if g.Revision == index {
			return index, true, nil
		}
		if !g.HasReplica(req.Leader) {
			return nil, false, fmt.Errorf("%w: node %s has no replica of group %s", ErrInvalidPlacement, req.Leader, req.ID)
		}
		g.Leader = req.Leader
		g.Revision = index
		return index, true, f.st.PutGroup(ctx, g)

	case CmdNodeRegister:
		var req nodeRegisterPayload
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, false, err
		}
		return nil, false, f.st.PutNode(ctx, req.Node)

	case CmdNodeRemove:
		var req nodeRemovePayload
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, false, err
		}
		return nil, false, f.st.DeleteNode(ctx, req.ID)

	default:
		return nil, false, fmt.Errorf("fsm: unknown command type %q", cmd.Type)
	}
}

func (f *fsm) notify() {
	if f.listener == nil {
		return
	}
	groups, err := f.st.Groups(context.Background())
	if err != nil {
		f.log.Error("Cannot list groups", zap.Error(err))
		return
	}
	f.listener.SyncGroups(groups)
}

func (f *fsm) Snapshot() (hraft.FSMSnapshot, error) {
	st, err := f.st.Snapshot(context.Background())
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{state: st}, nil
}

func (f *fsm) Restore(r io.ReadCloser) error {
	defer r.Close()

	var st storage.State
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return fmt.Errorf("fsm restore decode: %w", err)
	}
	if err := f.st.Restore(context.Background(), st); err != nil {
		return err
	}
	f.notify()
	return nil
}

type fsmSnapshot struct{ state storage.State }

func (s *fsmSnapshot) Persist(sink hraft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.state); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
