package finality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsim/chain"
	"chainsim/logs"
	"chainsim/types"
)

const epoch = 2

func quietLogger() logs.Logger {
	l := logs.NewNodeLogger("test", 16)
	l.SetQuiet(true)
	return l
}

// buildLinear 在 genesis 之上由 proposer 连续出块到 height
func buildLinear(t *testing.T, bc *chain.Blockchain, g *Gadget, proposer types.NodeID, height uint64) []*types.Block {
	t.Helper()
	out := []*types.Block{bc.Genesis()}
	parent := bc.Genesis()
	for h := uint64(1); h <= height; h++ {
		b := &types.Block{ID: h, Height: h, ProposerID: proposer, ParentProposerID: parent.ProposerID}
		if g != nil {
			g.OnCheckpoint(h)
		}
		require.NoError(t, bc.AddBlock(b))
		out = append(out, b)
		parent = b
	}
	return out
}

func vote(voter types.NodeID, source, target *types.Block) *types.Vote {
	return &types.Vote{
		Source:  types.CheckpointOf(source),
		Target:  types.CheckpointOf(target),
		Epoch:   target.Height / epoch,
		VoterID: voter,
	}
}

func TestQuorum(t *testing.T) {
	assert.Equal(t, 6, Quorum(10))
	assert.Equal(t, 2, Quorum(3))
	assert.Equal(t, 0, Quorum(1))
	assert.Equal(t, 0, Quorum(0))
}

func TestSupermajorityJustifiesOnlyMajorityLink(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	main := buildLinear(t, bc, g, 1, 2)
	chkA, chkB := main[0], main[2]
	chkC := &types.Block{ID: 99, Height: 2, ProposerID: 2, ParentProposerID: 1}
	require.NoError(t, bc.AddBlock(chkC))

	for i := types.NodeID(0); i < 7; i++ {
		require.True(t, g.AddVote(vote(i, chkA, chkB)))
	}
	for i := types.NodeID(7); i < 10; i++ {
		require.True(t, g.AddVote(vote(i, chkA, chkC)))
	}

	res := g.ProcessEpoch(1)
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, 7, res.Count)
	assert.Equal(t, uint64(10), res.Participants)
	require.NotNil(t, res.Justified)
	assert.True(t, res.Justified.Equal(chkB))
	assert.Equal(t, types.Justified, chkB.FinalityState)
	assert.Equal(t, types.CheckpointState, chkC.FinalityState)
	// 前驱是创世块，已经 finalized
	assert.Nil(t, res.Finalized)
	assert.True(t, g.LastFinalized().Equal(bc.Genesis()))
	assert.True(t, g.LastJustified().Equal(chkB))
	assert.Zero(t, g.PendingVotes(1))
}

func TestNoQuorumChangesNothing(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	main := buildLinear(t, bc, g, 1, 2)
	alt := &types.Block{ID: 98, Height: 2, ProposerID: 2, ParentProposerID: 1}
	require.NoError(t, bc.AddBlock(alt))

	for i := types.NodeID(0); i < 6; i++ {
		g.AddVote(vote(i, main[0], main[2]))
	}
	for i := types.NodeID(6); i < 9; i++ {
		g.AddVote(vote(i, main[0], alt))
	}
	// 6 > floor(18/3)=6 不成立
	res := g.ProcessEpoch(1)
	assert.Nil(t, res.Justified)
	assert.Equal(t, types.CheckpointState, main[2].FinalityState)
}

func TestConsecutiveJustificationFinalizes(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	blocks := buildLinear(t, bc, nil, 1, 4)
	c2, c4 := blocks[2], blocks[4]

	for i := types.NodeID(0); i < 4; i++ {
		g.AddVote(vote(i, blocks[0], c2))
	}
	res := g.ProcessEpoch(1)
	require.NotNil(t, res.Justified)

	for i := types.NodeID(0); i < 4; i++ {
		g.AddVote(vote(i, c2, c4))
	}
	res = g.ProcessEpoch(2)
	require.NotNil(t, res.Justified)
	require.NotNil(t, res.Finalized)
	assert.True(t, res.Finalized.Equal(c2))
	require.Len(t, res.NewlyFinalized, 2)
	assert.True(t, res.NewlyFinalized[0].Equal(blocks[1]))
	assert.Equal(t, types.Finalized, blocks[1].FinalityState)
	assert.Equal(t, types.Finalized, c2.FinalityState)
	assert.Equal(t, types.Justified, c4.FinalityState)
	assert.True(t, g.LastFinalized().Equal(c2))

	// 已 finalized 的检查点不会回退
	g.AddVote(vote(0, blocks[0], c2))
	g.ProcessEpoch(1)
	assert.Equal(t, types.Finalized, c2.FinalityState)
	assert.False(t, bc.Promote(c2, types.Justified))
}

func TestVotesOutsideFinalizedBranchAreDiscarded(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	blocks := buildLinear(t, bc, g, 1, 4)
	fork := buildFork(t, bc)

	g.lastFinalized = blocks[2]
	for i := types.NodeID(0); i < 5; i++ {
		g.AddVote(vote(i, blocks[0], fork))
	}
	g.AddVote(vote(5, blocks[2], blocks[4]))
	res := g.ProcessEpoch(2)
	assert.Equal(t, 1, res.Total)
	require.NotNil(t, res.Justified)
	assert.True(t, res.Justified.Equal(blocks[4]))
	assert.Equal(t, types.CheckpointState, fork.FinalityState)
}

// buildFork 从高度 1 分出的另一条链，终点在高度 4
func buildFork(t *testing.T, bc *chain.Blockchain) *types.Block {
	t.Helper()
	parent := types.NodeID(1)
	var b *types.Block
	for h := uint64(2); h <= 4; h++ {
		b = &types.Block{ID: 100 + h, Height: h, ProposerID: 7, ParentProposerID: parent}
		require.NoError(t, bc.AddBlock(b))
		parent = 7
	}
	return b
}

func TestAddVoteDedupAndStale(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	blocks := buildLinear(t, bc, g, 1, 4)

	v := vote(3, blocks[2], blocks[4])
	assert.True(t, g.AddVote(v))
	assert.False(t, g.AddVote(vote(3, blocks[0], blocks[4])))
	assert.True(t, g.HasVote(2, 3))
	assert.Equal(t, 1, g.PendingVotes(2))

	// epoch 1 在插入高度 4 时已经关闭
	assert.Equal(t, uint64(2), g.CurrentEpoch())
	assert.False(t, g.AddVote(vote(4, blocks[0], blocks[2])))
	assert.False(t, g.AddVote(nil))
}

func TestOnCheckpointProcessesSkippedEpochs(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	assert.Nil(t, g.OnCheckpoint(1))
	out := g.OnCheckpoint(6)
	require.Len(t, out, 3)
	assert.Equal(t, uint64(2), out[2].Epoch)
	assert.Equal(t, uint64(3), g.CurrentEpoch())
	assert.Empty(t, g.OnCheckpoint(6))
}

func TestFindBestLink(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	blocks := buildLinear(t, bc, g, 1, 5)

	src, tgt, ok := g.FindBestLink(blocks[5])
	require.True(t, ok)
	assert.True(t, src.Equal(bc.Genesis()))
	assert.True(t, tgt.Equal(blocks[4]))

	bc.Promote(blocks[2], types.Justified)
	src, tgt, ok = g.FindBestLink(blocks[3])
	require.True(t, ok)
	assert.True(t, src.Equal(bc.Genesis()))
	assert.True(t, tgt.Equal(blocks[2]))

	src, tgt, ok = g.FindBestLink(blocks[5])
	require.True(t, ok)
	assert.True(t, src.Equal(blocks[2]))
	assert.True(t, tgt.Equal(blocks[4]))

	_, _, ok = g.FindBestLink(blocks[1])
	assert.False(t, ok)

	v := g.NewVote(9, src, tgt)
	assert.Equal(t, uint64(2), v.Epoch)
	assert.Equal(t, uint64(4), v.Target.Height)
}

func TestVotesMustLinkCheckpoints(t *testing.T) {
	bc := chain.New(epoch)
	g := NewGadget(bc, quietLogger())
	blocks := buildLinear(t, bc, nil, 1, 4)

	// target 不在检查点高度
	bad := &types.Vote{Source: types.CheckpointOf(blocks[0]), Target: types.CheckpointOf(blocks[3]), Epoch: 1, VoterID: 1}
	assert.False(t, g.AddVote(bad))
	// epoch 与 target 高度不符
	assert.False(t, g.AddVote(&types.Vote{Source: types.CheckpointOf(blocks[0]), Target: types.CheckpointOf(blocks[2]), Epoch: 2, VoterID: 1}))
	// source 不在检查点高度
	assert.False(t, g.AddVote(&types.Vote{Source: types.CheckpointOf(blocks[1]), Target: types.CheckpointOf(blocks[2]), Epoch: 1, VoterID: 1}))
	assert.Zero(t, g.PendingVotes(1))
	assert.True(t, g.AddVote(vote(1, blocks[0], blocks[2])))

	// 绕过 AddVote 直接塞进缓冲的票也不会 justify 普通块
	g.votesByEpoch[1] = map[types.NodeID]*types.Vote{}
	for i := types.NodeID(0); i < 3; i++ {
		v := *bad
		v.VoterID = i
		g.votesByEpoch[1][i] = &v
	}
	res := g.ProcessEpoch(1)
	assert.Nil(t, res.Justified)
	assert.Zero(t, res.Total)
	assert.Equal(t, types.Standard, blocks[3].FinalityState)
	assert.True(t, g.LastJustified().Equal(bc.Genesis()))
}
