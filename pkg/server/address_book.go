package server

import (
	"context"

	"go.uber.org/zap"

	"multiraft/pkg/raft"
	"multiraft/storage"
)

// storeAddressBook resolves peers through the controller's replicated
// address book.
type storeAddressBook struct {
	st  storage.Store
	log *zap.Logger
}

func (b storeAddressBook) RPCAddress(n raft.NodeID) (string, bool) {
	nodes, err := b.st.Nodes(context.Background())
	if err != nil {
		b.log.Warn("Cannot read address book", zap.Error(err))
		return "", false
	}
	for _, info := range nodes {
		if info.ID == n && info.RPCAddr != "" {
			return info.RPCAddr, true
		}
	}
	return "", false
}
