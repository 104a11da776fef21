// Package store 已最终化区块的归档，按 (节点, 高度) 存放 CBOR 记录
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/fxamacker/cbor/v2"

	"chainsim/types"
)

var ErrNotFound = errors.New("store: not found")

const prefixFinalized = "fin:"

// Record 一条归档记录
type Record struct {
	Node        types.NodeID  `cbor:"node"`
	Block       *types.Block  `cbor:"block"`
	FinalizedAt time.Duration `cbor:"finalized_at"`
}

type Archive struct {
	mu  sync.Mutex
	db  *badger.DB
	enc cbor.EncMode
}

// Open path 为空时使用内存模式
func Open(path string) (*Archive, error) {
	opts := badger.DefaultOptions(path).
		WithInMemory(path == "").
		WithSyncWrites(false).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Archive{db: db, enc: enc}, nil
}

func nodePrefix(node types.NodeID) []byte {
	k := make([]byte, len(prefixFinalized)+4)
	copy(k, prefixFinalized)
	binary.BigEndian.PutUint32(k[len(prefixFinalized):], uint32(node))
	return k
}

func recordKey(node types.NodeID, height uint64) []byte {
	k := nodePrefix(node)
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return append(k, h[:]...)
}

// Put 批量写入一个节点新最终化的区块
func (a *Archive) Put(node types.NodeID, at time.Duration, blocks ...*types.Block) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Update(func(txn *badger.Txn) error {
		for _, b := range blocks {
			val, err := a.enc.Marshal(&Record{Node: node, Block: b, FinalizedAt: at})
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(node, b.Height), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get 读取某节点在某高度的最终化区块
func (a *Archive) Get(node types.NodeID, height uint64) (*Record, error) {
	var rec Record
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(node, height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FinalizedChain 按高度升序返回某节点的最终化区块
func (a *Archive) FinalizedChain(node types.NodeID) ([]*types.Block, error) {
	var out []*types.Block
	prefix := nodePrefix(node)
	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			rec.Block.FinalityState = types.Finalized
			out = append(out, rec.Block)
		}
		return nil
	})
	return out, err
}

func (a *Archive) Close() error {
	return a.db.Close()
}
