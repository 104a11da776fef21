package chain

import "chainsim/types"

// Promote 只允许向上提升最终性状态，返回是否发生变化
func (bc *Blockchain) Promote(b *types.Block, state types.FinalityState) bool {
	if state <= b.FinalityState {
		return false
	}
	b.FinalityState = state
	return true
}

// MarkFinalized 把 (lastFinalized, to] 区间内 to 的祖先链全部标为 FINALIZED，
// 返回新标记的块（高度升序）
func (bc *Blockchain) MarkFinalized(lastFinalized, to *types.Block) []*types.Block {
	var marked []*types.Block
	for cur := to; cur != nil && cur.Height > lastFinalized.Height; cur = bc.GetParent(cur) {
		if bc.Promote(cur, types.Finalized) {
			marked = append(marked, cur)
		}
	}
	for i, j := 0, len(marked)-1; i < j; i, j = i+1, j-1 {
		marked[i], marked[j] = marked[j], marked[i]
	}
	return marked
}

// CheckpointCounts 高度 > 0 的检查点数量，以及其中曾被 justified 的和已 finalized 的
func (bc *Blockchain) CheckpointCounts() (checkpoints, justified, finalized uint64) {
	if bc.epochSize == 0 {
		return 0, 0, 0
	}
	for h := bc.epochSize; h <= bc.GetBlockchainHeight(); h += bc.epochSize {
		for _, k := range bc.byHeight[h] {
			checkpoints++
			switch bc.arena[k].FinalityState {
			case types.Justified:
				justified++
			case types.Finalized:
				justified++
				finalized++
			}
		}
	}
	return checkpoints, justified, finalized
}
