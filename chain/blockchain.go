// Package chain 按高度索引的区块存储：分叉兄弟块、孤块、祖先与检查点查询。
// 区块放在以 (height, proposer) 为键的 arena 中，索引只保存键。
package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"chainsim/types"
)

var (
	ErrInvalidBlock   = errors.New("chain: invalid block")
	ErrDuplicateBlock = errors.New("chain: duplicate block")
	ErrUnknownBlock   = errors.New("chain: unknown block")
)

// ============================================
// 区块链
// ============================================

type Blockchain struct {
	epochSize uint64
	genesis   *types.Block

	byHeight [][]types.BlockKey // 只追加；空行表示高度空洞
	arena    map[types.BlockKey]*types.Block
	byHash   map[chainhash.Hash]types.BlockKey

	orphans     map[types.BlockKey]*types.Block
	orphanOrder []types.BlockKey

	staleBlocks uint64
	totalBlocks uint64
}

// New 创建只含创世区块的链；epochSize 为 0 表示没有检查点
func New(epochSize uint64) *Blockchain {
	g := types.NewGenesis()
	bc := &Blockchain{
		epochSize: epochSize,
		genesis:   g,
		byHeight:  [][]types.BlockKey{{g.Key()}},
		arena:     map[types.BlockKey]*types.Block{g.Key(): g},
		byHash:    map[chainhash.Hash]types.BlockKey{g.Hash(): g.Key()},
		orphans:   make(map[types.BlockKey]*types.Block),
	}
	return bc
}

func (bc *Blockchain) Genesis() *types.Block { return bc.genesis }
func (bc *Blockchain) EpochSize() uint64     { return bc.epochSize }

// GetBlockchainHeight 当前最高高度（含空洞占位）
func (bc *Blockchain) GetBlockchainHeight() uint64 {
	return uint64(len(bc.byHeight) - 1)
}

// HasBlock 高度超出当前最高时直接返回 false，不扫描
func (bc *Blockchain) HasBlock(height uint64, proposer types.NodeID) bool {
	if height > bc.GetBlockchainHeight() {
		return false
	}
	for _, k := range bc.byHeight[height] {
		if k.Proposer == proposer {
			return true
		}
	}
	return false
}

func (bc *Blockchain) GetBlock(key types.BlockKey) (*types.Block, bool) {
	b, ok := bc.arena[key]
	return b, ok
}

func (bc *Blockchain) GetBlockByHash(h chainhash.Hash) (*types.Block, bool) {
	k, ok := bc.byHash[h]
	if !ok {
		return nil, false
	}
	return bc.arena[k], true
}

// GetBlocksAtHeight 按插入顺序返回该高度的兄弟块
func (bc *Blockchain) GetBlocksAtHeight(height uint64) []*types.Block {
	if height > bc.GetBlockchainHeight() {
		return nil
	}
	keys := bc.byHeight[height]
	out := make([]*types.Block, 0, len(keys))
	for _, k := range keys {
		out = append(out, bc.arena[k])
	}
	return out
}

// HasParent 父块已在链中（非孤块）
func (bc *Blockchain) HasParent(b *types.Block) bool {
	if b.Height == 0 {
		return false
	}
	_, ok := bc.arena[b.ParentKey()]
	return ok
}

// AddBlock 追加到 b.Height。该高度已有兄弟块时 stale 计数加一；
// 跳高插入时补齐空行。父块是否存在由调用方保证（否则应走孤块）。
func (bc *Blockchain) AddBlock(b *types.Block) error {
	if b == nil || b.Height == 0 {
		return ErrInvalidBlock
	}
	key := b.Key()
	if _, ok := bc.arena[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, key)
	}

	for bc.GetBlockchainHeight() < b.Height {
		bc.byHeight = append(bc.byHeight, nil)
	}
	if len(bc.byHeight[b.Height]) > 0 {
		bc.staleBlocks++
	}
	if types.IsCheckpointHeight(b.Height, bc.epochSize) && b.FinalityState == types.Standard {
		b.FinalityState = types.CheckpointState
	}

	bc.byHeight[b.Height] = append(bc.byHeight[b.Height], key)
	bc.arena[key] = b
	bc.byHash[b.Hash()] = key
	bc.totalBlocks++
	return nil
}

// ============================================
// 导航
// ============================================

// GetParent 高度 h-1 上满足父链接关系的唯一块
func (bc *Blockchain) GetParent(b *types.Block) *types.Block {
	if b.Height == 0 {
		return nil
	}
	return bc.arena[b.ParentKey()]
}

func (bc *Blockchain) GetChildren(b *types.Block) []*types.Block {
	if b.Height+1 > bc.GetBlockchainHeight() {
		return nil
	}
	var out []*types.Block
	for _, k := range bc.byHeight[b.Height+1] {
		if c := bc.arena[k]; c.IsChildOf(b) {
			out = append(out, c)
		}
	}
	return out
}

// IsAncestor 从 b 向上走到 candidate 的高度，判断是否到达 candidate。
// 自身也算祖先。
func (bc *Blockchain) IsAncestor(b, candidate *types.Block) bool {
	if b == nil || candidate == nil || candidate.Height > b.Height {
		return false
	}
	cur := b
	for cur != nil && cur.Height > candidate.Height {
		cur = bc.GetParent(cur)
	}
	return cur != nil && cur.Equal(candidate)
}

// GetAncestors 从 b 自身开始沿父链向下直到 lowestHeight（含），高度降序
func (bc *Blockchain) GetAncestors(b *types.Block, lowestHeight uint64) []*types.Block {
	var out []*types.Block
	for cur := b; cur != nil && cur.Height >= lowestHeight; cur = bc.GetParent(cur) {
		out = append(out, cur)
		if cur.Height == 0 {
			break
		}
	}
	return out
}

// GetNotFinalizedCheckpoints lastFinalized 及其后代中所有检查点高度的块，按高度升序
func (bc *Blockchain) GetNotFinalizedCheckpoints(lastFinalized *types.Block) []*types.Block {
	out := []*types.Block{lastFinalized}
	if bc.epochSize == 0 {
		return out
	}
	start := (lastFinalized.Height/bc.epochSize + 1) * bc.epochSize
	for h := start; h <= bc.GetBlockchainHeight(); h += bc.epochSize {
		for _, k := range bc.byHeight[h] {
			if c := bc.arena[k]; bc.IsAncestor(c, lastFinalized) {
				out = append(out, c)
			}
		}
	}
	return out
}

// ============================================
// 分叉统计
// ============================================

func (bc *Blockchain) forkMetrics() (longest, inForks uint64) {
	active := map[types.NodeID]uint64{}
	for h := 1; h < len(bc.byHeight); h++ {
		keys := bc.byHeight[h]
		if len(keys) <= 1 {
			if len(active) > 0 {
				active = map[types.NodeID]uint64{}
			}
			continue
		}
		inForks += uint64(len(keys))
		next := make(map[types.NodeID]uint64, len(keys))
		for _, k := range keys {
			parent := bc.arena[k].ParentProposerID
			length := active[parent] + 1
			if length > next[k.Proposer] {
				next[k.Proposer] = length
			}
			if length > longest {
				longest = length
			}
		}
		active = next
	}
	return longest, inForks
}

// GetLongestForkSize 最长连续分叉段的长度（按提案者血缘计）
func (bc *Blockchain) GetLongestForkSize() uint64 {
	l, _ := bc.forkMetrics()
	return l
}

// GetBlocksInForks 处于分叉高度（兄弟块 > 1）上的区块总数
func (bc *Blockchain) GetBlocksInForks() uint64 {
	_, n := bc.forkMetrics()
	return n
}

func (bc *Blockchain) StaleBlocks() uint64 { return bc.staleBlocks }

// TotalBlocks 不含创世块
func (bc *Blockchain) TotalBlocks() uint64 { return bc.totalBlocks }
