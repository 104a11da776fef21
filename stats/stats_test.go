package stats

import (
	"bytes"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainsim/consensus"
	"chainsim/types"
)

func TestMessageCounts(t *testing.T) {
	s := NewStats()
	s.RecordSent(types.MsgProposal, 100)
	s.RecordSent(types.MsgProposal, 50)
	s.RecordDropped(types.MsgProposal)
	s.RecordDelivered(types.MsgProposal, 80*time.Millisecond)
	s.RecordSent(types.MsgVote, 10)

	got := s.GetMessageStats()
	require.Contains(t, got, types.MsgProposal)
	assert.Equal(t, MessageCounts{Sent: 2, Delivered: 1, Dropped: 1, Bytes: 150}, got[types.MsgProposal])
	assert.Equal(t, uint64(1), got[types.MsgVote].Sent)

	lat := s.Latency()
	assert.Equal(t, 80*time.Millisecond, lat[string(types.MsgProposal)].Max)
}

func TestLatencyRecorderPercentiles(t *testing.T) {
	r := NewLatencyRecorder(4)
	for i := 1; i <= 6; i++ {
		r.Record("x", time.Duration(i)*time.Millisecond)
	}
	snap := r.Snapshot(true)
	x := snap["x"]
	assert.Equal(t, uint64(6), x.Count)
	assert.Equal(t, 6*time.Millisecond, x.Max)
	// 只保留最近 4 个样本：3,4,5,6
	assert.Equal(t, 4*time.Millisecond, x.P50)
	assert.Empty(t, r.Snapshot(false))
}

func TestSummarize(t *testing.T) {
	nodes := []consensus.NodeStats{
		{Node: 1, Height: 10, TotalBlocks: 12, StaleBlocks: 2, LongestFork: 1, Checkpoints: 4, Justified: 3, Finalized: 2, FinalizedHeight: 4},
		{Node: 2, Height: 9, TotalBlocks: 8, StaleBlocks: 1, LongestFork: 2, Checkpoints: 2, Justified: 1, Finalized: 1, FinalizedHeight: 2},
	}
	s := Summarize(consensus.ProtocolGasper, nodes)
	assert.Equal(t, uint64(9), s.MinHeight)
	assert.Equal(t, uint64(10), s.MaxHeight)
	assert.Equal(t, uint64(2), s.LongestFork)
	assert.Equal(t, uint64(2), s.MinFinalizedHeight)
	assert.Equal(t, "0.1500", s.StaleRate.StringFixed(4))
	assert.Equal(t, "0.5000", s.FinalityRate.StringFixed(4))
	assert.Equal(t, "0.6667", s.JustifiedRate.StringFixed(4))

	var buf bytes.Buffer
	s.Print(&buf, map[types.MessageType]MessageCounts{types.MsgVote: {Sent: 3}})
	assert.Contains(t, buf.String(), "stale=3 (0.1500)")
	assert.Contains(t, buf.String(), "messages[vote] sent=3")

	empty := Summarize(consensus.ProtocolPoW, nil)
	assert.True(t, empty.StaleRate.IsZero())
}

func TestCollector(t *testing.T) {
	net := NewStats()
	net.RecordSent(types.MsgVote, 1)
	c := NewCollector("gasper", func() []consensus.NodeStats {
		return []consensus.NodeStats{{Node: 1}, {Node: 2}}
	}, net)
	// 2 个节点 × 7 个指标 + 1 类消息 × 2 个指标
	assert.Equal(t, 16, testutil.CollectAndCount(c))
}
