package forkchoice

import (
	"chainsim/chain"
	"chainsim/finality"
	"chainsim/types"
)

// ============================================
// Hybrid LMD-GHOST
// ============================================

type HybridLMDGhost struct {
	chain  *chain.Blockchain
	gadget *finality.Gadget

	attestations map[uint64]map[types.NodeID]*types.Attestation
	order        map[uint64][]types.NodeID // 到达顺序
}

func NewHybridLMDGhost(bc *chain.Blockchain, gadget *finality.Gadget) *HybridLMDGhost {
	return &HybridLMDGhost{
		chain:        bc,
		gadget:       gadget,
		attestations: make(map[uint64]map[types.NodeID]*types.Attestation),
		order:        make(map[uint64][]types.NodeID),
	}
}

// AddAttestation 同一 slot 同一投票者只记第一次
func (g *HybridLMDGhost) AddAttestation(a *types.Attestation) bool {
	bySlot, ok := g.attestations[a.Slot]
	if !ok {
		bySlot = make(map[types.NodeID]*types.Attestation)
		g.attestations[a.Slot] = bySlot
	}
	if _, dup := bySlot[a.VoterID]; dup {
		return false
	}
	bySlot[a.VoterID] = a
	g.order[a.Slot] = append(g.order[a.Slot], a.VoterID)
	return true
}

func (g *HybridLMDGhost) HasAttestation(slot uint64, voter types.NodeID) bool {
	_, ok := g.attestations[slot][voter]
	return ok
}

func (g *HybridLMDGhost) Attestations(slot uint64) int {
	return len(g.attestations[slot])
}

// Prune 丢弃 slot 之前的投票
func (g *HybridLMDGhost) Prune(before uint64) {
	for s := range g.attestations {
		if s < before {
			delete(g.attestations, s)
			delete(g.order, s)
		}
	}
}

// Anchor 未最终检查点中最高的 justified/finalized 检查点
func (g *HybridLMDGhost) Anchor() *types.Block {
	anchor := g.gadget.LastFinalized()
	for _, c := range g.chain.GetNotFinalizedCheckpoints(anchor) {
		if c.FinalityState >= types.Justified && c.Height > anchor.Height {
			anchor = c
		}
	}
	return anchor
}

// EvalHeadBlock 从锚点出发，每层走向得票最多的子块直到叶子；平票保留第一个子块
func (g *HybridLMDGhost) EvalHeadBlock(slot uint64) *types.Block {
	var attested []*types.Block
	for _, voter := range g.order[slot] {
		a := g.attestations[slot][voter]
		if b, ok := g.chain.GetBlockByHash(a.AttestedHash); ok {
			attested = append(attested, b)
		}
	}

	cur := g.Anchor()
	for {
		children := g.chain.GetChildren(cur)
		if len(children) == 0 {
			return cur
		}
		best, bestVotes := children[0], -1
		for _, c := range children {
			votes := 0
			for _, b := range attested {
				if b.Height >= c.Height && g.chain.IsAncestor(b, c) {
					votes++
				}
			}
			if votes > bestVotes {
				best, bestVotes = c, votes
			}
		}
		cur = best
	}
}

func (g *HybridLMDGhost) Head(slot uint64) *types.Block {
	return g.EvalHeadBlock(slot)
}

// FindBestLink 由 Casper 组件在 attested 的祖先链上选 source/target
func (g *HybridLMDGhost) FindBestLink(attested *types.Block) (source, target *types.Block, ok bool) {
	return g.gadget.FindBestLink(attested)
}
