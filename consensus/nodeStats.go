package consensus

import "chainsim/types"

// ============================================
// 节点统计
// ============================================

// NodeStats 某一时刻的只读快照，链相关字段直接由区块链状态计算
type NodeStats struct {
	Node     types.NodeID
	Protocol string
	Round    uint64

	Height        uint64
	TotalBlocks   uint64
	StaleBlocks   uint64
	LongestFork   uint64
	BlocksInForks uint64
	Orphans       int

	Checkpoints     uint64
	Justified       uint64
	Finalized       uint64
	FinalizedHeight uint64

	BlocksProposed   uint64
	VotesCast        uint64
	RoundVotes       int // 当前轮收到的委员会票（含自己）
	VotesReceived    uint64
	Relayed          uint64
	InvalidSortition uint64
	Malformed        uint64
	Duplicates       uint64
}

// counters 参与者内部计数，只在自己的执行流中修改
type counters struct {
	blocksProposed   uint64
	votesCast        uint64
	votesReceived    uint64
	relayed          uint64
	invalidSortition uint64
	malformed        uint64
	duplicates       uint64
}

func (p *Participant) Stats() NodeStats {
	longest, inForks := p.chain.GetLongestForkSize(), p.chain.GetBlocksInForks()
	cps, justified, finalized := p.chain.CheckpointCounts()
	s := NodeStats{
		Node:             p.id,
		Protocol:         p.policy.Name,
		Round:            p.round,
		Height:           p.chain.GetBlockchainHeight(),
		TotalBlocks:      p.chain.TotalBlocks(),
		StaleBlocks:      p.chain.StaleBlocks(),
		LongestFork:      longest,
		BlocksInForks:    inForks,
		Orphans:          len(p.chain.Orphans()),
		Checkpoints:      cps,
		Justified:        justified,
		Finalized:        finalized,
		BlocksProposed:   p.counters.blocksProposed,
		VotesCast:        p.counters.votesCast,
		RoundVotes:       p.VotesInRound(p.round),
		VotesReceived:    p.counters.votesReceived,
		Relayed:          p.counters.relayed,
		InvalidSortition: p.counters.invalidSortition,
		Malformed:        p.counters.malformed,
		Duplicates:       p.counters.duplicates,
	}
	if p.gadget != nil {
		s.FinalizedHeight = p.gadget.LastFinalized().Height
	}
	return s
}
