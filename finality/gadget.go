// Package finality Casper FFG：按 epoch 统计 source→target 链接投票，
// 超过 2/3 即 justify；相邻两个检查点都被 justify 时前一个 finalize。
package finality

import (
	"sort"

	"github.com/RoaringBitmap/roaring"

	"chainsim/chain"
	"chainsim/logs"
	"chainsim/types"
)

// Quorum 严格超级多数的下界：count 必须 > floor(2*total/3)
func Quorum(total int) int {
	return 2 * total / 3
}

// Outcome 一个 epoch 的统计结果
type Outcome struct {
	Epoch        uint64
	Total        int    // 通过过滤的投票数
	Participants uint64 // 本 epoch 投过票的节点数（过滤前）
	Link         types.Link
	Count        int

	Justified      *types.Block // 本次新 justify 的检查点
	Finalized      *types.Block // 本次新 finalize 的检查点
	NewlyFinalized []*types.Block
}

type Gadget struct {
	chain     *chain.Blockchain
	epochSize uint64
	log       logs.Logger

	lastFinalized *types.Block
	lastJustified *types.Block
	currentEpoch  uint64

	votesByEpoch  map[uint64]map[types.NodeID]*types.Vote
	participation map[uint64]*roaring.Bitmap
}

func NewGadget(bc *chain.Blockchain, log logs.Logger) *Gadget {
	return &Gadget{
		chain:         bc,
		epochSize:     bc.EpochSize(),
		log:           log,
		lastFinalized: bc.Genesis(),
		lastJustified: bc.Genesis(),
		votesByEpoch:  make(map[uint64]map[types.NodeID]*types.Vote),
		participation: make(map[uint64]*roaring.Bitmap),
	}
}

func (g *Gadget) LastFinalized() *types.Block { return g.lastFinalized }
func (g *Gadget) LastJustified() *types.Block { return g.lastJustified }
func (g *Gadget) CurrentEpoch() uint64        { return g.currentEpoch }

// EpochOf 检查点高度对应的 epoch
func (g *Gadget) EpochOf(height uint64) uint64 {
	if g.epochSize == 0 {
		return 0
	}
	return height / g.epochSize
}

// AddVote 缓存投票。格式不对的投票、已关闭 epoch 的投票与同一 epoch 内
// 同一投票者的重复投票都被忽略。
func (g *Gadget) AddVote(v *types.Vote) bool {
	if v == nil || !v.WellFormed(g.epochSize) || v.Epoch < g.currentEpoch {
		return false
	}
	bm, ok := g.participation[v.Epoch]
	if !ok {
		bm = roaring.New()
		g.participation[v.Epoch] = bm
	}
	if !bm.CheckedAdd(uint32(v.VoterID)) {
		return false
	}
	votes, ok := g.votesByEpoch[v.Epoch]
	if !ok {
		votes = make(map[types.NodeID]*types.Vote)
		g.votesByEpoch[v.Epoch] = votes
	}
	votes[v.VoterID] = v
	return true
}

// HasVote 该投票者在该 epoch 是否已投票
func (g *Gadget) HasVote(epoch uint64, voter types.NodeID) bool {
	bm, ok := g.participation[epoch]
	return ok && bm.Contains(uint32(voter))
}

func (g *Gadget) PendingVotes(epoch uint64) int {
	return len(g.votesByEpoch[epoch])
}

// OnCheckpoint 在检查点高度的块插入之前调用，关闭此前所有未处理的 epoch
func (g *Gadget) OnCheckpoint(height uint64) []Outcome {
	if !types.IsCheckpointHeight(height, g.epochSize) {
		return nil
	}
	newEpoch := g.EpochOf(height)
	var out []Outcome
	for e := g.currentEpoch; e < newEpoch; e++ {
		out = append(out, g.ProcessEpoch(e))
	}
	if newEpoch > g.currentEpoch {
		g.currentEpoch = newEpoch
	}
	return out
}

// ProcessEpoch 统计并清除该 epoch 的投票
func (g *Gadget) ProcessEpoch(epoch uint64) Outcome {
	res := Outcome{Epoch: epoch}
	votes := g.votesByEpoch[epoch]
	if bm, ok := g.participation[epoch]; ok {
		res.Participants = bm.GetCardinality()
	}
	delete(g.votesByEpoch, epoch)
	delete(g.participation, epoch)

	voters := make([]types.NodeID, 0, len(votes))
	for id := range votes {
		voters = append(voters, id)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })

	// 过滤：target 必须是本 epoch 的已知检查点，且是 lastFinalized 的后代
	counts := make(map[types.Link]int)
	var order []types.Link
	targets := make(map[types.Link]*types.Block)
	for _, id := range voters {
		v := votes[id]
		target, ok := g.chain.GetBlockByHash(v.Target.Hash)
		if !ok || !types.IsCheckpointHeight(target.Height, g.epochSize) || g.EpochOf(target.Height) != epoch ||
			!g.chain.IsAncestor(target, g.lastFinalized) {
			continue
		}
		res.Total++
		l := v.Link()
		if _, seen := counts[l]; !seen {
			order = append(order, l)
			targets[l] = target
		}
		counts[l]++
	}

	for _, l := range order {
		if counts[l] > res.Count {
			res.Link, res.Count = l, counts[l]
		}
	}
	if res.Count == 0 || res.Count <= Quorum(res.Total) {
		if res.Total > 0 {
			g.log.Debug("[Finality] epoch %d: no quorum (%d/%d)", epoch, res.Count, res.Total)
		}
		return res
	}

	target := targets[res.Link]
	if g.chain.Promote(target, types.Justified) {
		res.Justified = target
		g.log.Info("[Finality] epoch %d: justified checkpoint %s (%d/%d)", epoch, target, res.Count, res.Total)
	}
	if target.Height > g.lastJustified.Height {
		g.lastJustified = target
	}

	pred := g.predecessor(target)
	if pred != nil && pred.FinalityState == types.Justified {
		res.NewlyFinalized = g.chain.MarkFinalized(g.lastFinalized, pred)
		res.Finalized = pred
		g.lastFinalized = pred
		g.log.Info("[Finality] epoch %d: finalized checkpoint %s (%d blocks)", epoch, pred, len(res.NewlyFinalized))
	}
	return res
}

// predecessor target 祖先链上高度为 target.Height-epochSize 的检查点
func (g *Gadget) predecessor(target *types.Block) *types.Block {
	if g.epochSize == 0 || target.Height < g.epochSize {
		return nil
	}
	want := target.Height - g.epochSize
	anc := g.chain.GetAncestors(target, want)
	if len(anc) == 0 {
		return nil
	}
	last := anc[len(anc)-1]
	if last.Height != want {
		return nil
	}
	return last
}

// FindBestLink target = attested 祖先链上最高的未最终检查点；
// source = target 之下最高的 justified/finalized 检查点
func (g *Gadget) FindBestLink(attested *types.Block) (source, target *types.Block, ok bool) {
	if attested == nil || g.epochSize == 0 {
		return nil, nil, false
	}
	cps := g.chain.GetNotFinalizedCheckpoints(g.lastFinalized)
	for i := len(cps) - 1; i >= 0; i-- {
		c := cps[i]
		if c.FinalityState != types.Finalized && g.chain.IsAncestor(attested, c) {
			target = c
			break
		}
	}
	if target == nil {
		return nil, nil, false
	}
	for i := len(cps) - 1; i >= 0; i-- {
		c := cps[i]
		if c.Height < target.Height && c.FinalityState >= types.Justified && g.chain.IsAncestor(target, c) {
			return c, target, true
		}
	}
	return nil, nil, false
}

// NewVote 按 FindBestLink 的结果构造投票
func (g *Gadget) NewVote(voter types.NodeID, source, target *types.Block) *types.Vote {
	return &types.Vote{
		Source:  types.CheckpointOf(source),
		Target:  types.CheckpointOf(target),
		Epoch:   g.EpochOf(target.Height),
		VoterID: voter,
	}
}
