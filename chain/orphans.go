package chain

import "chainsim/types"

// AddOrphan 父块未到的区块先挂起；重复返回 false
func (bc *Blockchain) AddOrphan(b *types.Block) bool {
	k := b.Key()
	if _, ok := bc.orphans[k]; ok {
		return false
	}
	bc.orphans[k] = b
	bc.orphanOrder = append(bc.orphanOrder, k)
	return true
}

func (bc *Blockchain) HasOrphan(key types.BlockKey) bool {
	_, ok := bc.orphans[key]
	return ok
}

// TakeOrphansOf 取出并移除所有以 parent 为父的孤块，保持到达顺序
func (bc *Blockchain) TakeOrphansOf(parent *types.Block) []*types.Block {
	var out []*types.Block
	keep := bc.orphanOrder[:0]
	for _, k := range bc.orphanOrder {
		o := bc.orphans[k]
		if o.IsChildOf(parent) {
			out = append(out, o)
			delete(bc.orphans, k)
			continue
		}
		keep = append(keep, k)
	}
	bc.orphanOrder = keep
	return out
}

func (bc *Blockchain) Orphans() []*types.Block {
	out := make([]*types.Block, 0, len(bc.orphanOrder))
	for _, k := range bc.orphanOrder {
		out = append(out, bc.orphans[k])
	}
	return out
}
