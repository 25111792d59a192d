package cluster

import (
	"encoding/json"

	"github.com/google/uuid"

	"multiraft/pkg/raft"
	"multiraft/storage"
)

// CommandType describes the replicated operation type.
type CommandType string

const (
	CmdGroupCreate     CommandType = "GROUP_CREATE"
	CmdGroupDelete     CommandType = "GROUP_DELETE"
	CmdGroupMoveLeader CommandType = "GROUP_MOVE_LEADER"
	CmdNodeRegister    CommandType = "NODE_REGISTER"
	CmdNodeRemove      CommandType = "NODE_REMOVE"
)

const commandVersion = 1

// Command is the envelope replicated via Raft.
type Command struct {
	Version int             `json:"v"`
	ID      string          `json:"id"`
	Type    CommandType     `json:"t"`
	Payload json.RawMessage `json:"p"`
}

// Marshal encodes the command to bytes.
func (c Command) Marshal() ([]byte, error) { return json.Marshal(c) }

// NewCommand wraps payload in an envelope with a fresh id.
func NewCommand(t CommandType, payload any) (Command, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Version: commandVersion,
		ID:      uuid.NewString(),
		Type:    t,
		Payload: p,
	}, nil
}

type groupCreatePayload struct {
	Group storage.GroupSpec `json:"g"`
}

type groupDeletePayload struct {
	ID raft.GroupID `json:"id"`
}

type groupMoveLeaderPayload struct {
	ID     raft.GroupID `json:"id"`
	Leader raft.NodeID  `json:"leader"`
}

type nodeRegisterPayload struct {
	Node storage.NodeInfo `json:"n"`
}

type nodeRemovePayload struct {
	ID raft.NodeID `json:"id"`
}
