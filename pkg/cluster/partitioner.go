package cluster

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"multiraft/pkg/raft"
)

// PlaceReplicas picks rf of the given nodes to host group id. Each node is
// scored by hashing (group, node) and the highest scores win, so adding or
// removing a node only moves the groups that node wins or loses.
// The result is ordered by score; the first entry is the preferred leader.
func PlaceReplicas(id raft.GroupID, nodes []raft.NodeID, rf int) ([]raft.NodeID, error) {
	if rf <= 0 {
		rf = 1
	}
	if len(nodes) < rf {
		return nil, fmt.Errorf("%w: replication factor %d exceeds %d known nodes", ErrInvalidPlacement, rf, len(nodes))
	}

	type scored struct {
		node  raft.NodeID
		score uint64
	}
	all := make([]scored, 0, len(nodes))
	for _, n := range nodes {
		all = append(all, scored{node: n, score: placementScore(id, n)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].node < all[j].node
	})

	out := make([]raft.NodeID, 0, rf)
	for _, s := range all[:rf] {
		out = append(out, s.node)
	}
	return out, nil
}

func placementScore(id raft.GroupID, n raft.NodeID) uint64 {
	buf := [12]byte{}
	binary.LittleEndian.PutUint64(buf[:8], uint64(id))
	binary.LittleEndian.PutUint32(buf[8:], uint32(n))
	return xxhash.Sum64(buf[:])
}
