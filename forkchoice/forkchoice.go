// Package forkchoice 选择链头：最长链（可锚定到最新 justified 检查点）
// 与 Gasper 的 Hybrid LMD-GHOST。
package forkchoice

import (
	"chainsim/chain"
	"chainsim/finality"
	"chainsim/types"
)

// Rule 链头选择规则；slot 为计票所用的投票时隙
type Rule interface {
	Head(slot uint64) *types.Block
}

// ============================================
// 最长链
// ============================================

type LongestChain struct {
	chain  *chain.Blockchain
	gadget *finality.Gadget // 可为 nil
}

func NewLongestChain(bc *chain.Blockchain, gadget *finality.Gadget) *LongestChain {
	return &LongestChain{chain: bc, gadget: gadget}
}

// Head 自顶向下扫描，返回第一个（最先到达的）锚点后代
func (lc *LongestChain) Head(uint64) *types.Block {
	anchor := lc.chain.Genesis()
	if lc.gadget != nil {
		anchor = lc.gadget.LastJustified()
	}
	for h := lc.chain.GetBlockchainHeight(); h > anchor.Height; h-- {
		for _, b := range lc.chain.GetBlocksAtHeight(h) {
			if lc.chain.IsAncestor(b, anchor) {
				return b
			}
		}
	}
	return anchor
}
