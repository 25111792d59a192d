package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"multiraft/pkg/raft"
)

const (
	groupPrefix = "group/"
	nodePrefix  = "node/"
)

// BadgerStore implements Store using BadgerDB. Values are JSON.
type BadgerStore struct {
	db   *badger.DB
	stop chan struct{}
}

// NewBadgerStore opens or creates a store in dataDir.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions(dataDir))
}

// NewInMemoryBadgerStore returns a store that keeps everything in memory.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	opts = opts.
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStore{db: db, stop: make(chan struct{})}
	if !opts.InMemory {
		go s.runGC()
	}
	return s, nil
}

// runGC runs the value log garbage collector periodically
func (s *BadgerStore) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.db.RunValueLogGC(0.7)
		}
	}
}

func groupKey(id raft.GroupID) []byte { return []byte(groupPrefix + strconv.FormatInt(int64(id), 10)) }
func nodeKey(id raft.NodeID) []byte   { return []byte(nodePrefix + strconv.FormatInt(int64(id), 10)) }

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func deleteExisting(txn *badger.Txn, key []byte) error {
	if _, err := txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return txn.Delete(key)
}

// scan decodes every value under prefix.
func scan[T any](txn *badger.Txn, prefix string) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []T
	for it.Rewind(); it.Valid(); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// PutGroup creates or replaces a group's placement
func (s *BadgerStore) PutGroup(ctx context.Context, g GroupSpec) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, groupKey(g.ID), g)
	})
}

// DeleteGroup removes a group's placement
func (s *BadgerStore) DeleteGroup(ctx context.Context, id raft.GroupID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return deleteExisting(txn, groupKey(id))
	})
}

// Group retrieves one group's placement
func (s *BadgerStore) Group(ctx context.Context, id raft.GroupID) (GroupSpec, bool, error) {
	var g GroupSpec
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groupKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &g)
		})
	})

	return g, found, err
}

// Groups returns every placement ordered by group id
func (s *BadgerStore) Groups(ctx context.Context) ([]GroupSpec, error) {
	var out []GroupSpec
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scan[GroupSpec](txn, groupPrefix)
		return err
	})
	sortGroups(out)
	return out, err
}

// PutNode records a node's addresses
func (s *BadgerStore) PutNode(ctx context.Context, n NodeInfo) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJSON(txn, nodeKey(n.ID), n)
	})
}

// DeleteNode forgets a node
func (s *BadgerStore) DeleteNode(ctx context.Context, id raft.NodeID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return deleteExisting(txn, nodeKey(id))
	})
}

// Nodes returns every known node ordered by id
func (s *BadgerStore) Nodes(ctx context.Context) ([]NodeInfo, error) {
	var out []NodeInfo
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scan[NodeInfo](txn, nodePrefix)
		return err
	})
	sortNodes(out)
	return out, err
}

// Snapshot copies the whole store in one read transaction
func (s *BadgerStore) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if st.Groups, err = scan[GroupSpec](txn, groupPrefix); err != nil {
			return err
		}
		st.Nodes, err = scan[NodeInfo](txn, nodePrefix)
		return err
	})
	sortGroups(st.Groups)
	sortNodes(st.Nodes)
	return st, err
}

// Restore replaces the store's content with st
func (s *BadgerStore) Restore(ctx context.Context, st State) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("drop: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, g := range st.Groups {
		data, err := json.Marshal(g)
		if err != nil {
			return err
		}
		if err := wb.Set(groupKey(g.ID), data); err != nil {
			return err
		}
	}
	for _, n := range st.Nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := wb.Set(nodeKey(n.ID), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Close stops background work and closes the database
func (s *BadgerStore) Close() error {
	close(s.stop)
	return s.db.Close()
}
