package stats

import (
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"

	"chainsim/consensus"
	"chainsim/types"
)

// Summary 一次模拟的汇总，比率用 decimal 精确计算
type Summary struct {
	Protocol string
	Nodes    int

	MinHeight, MaxHeight uint64
	TotalBlocks          uint64 // 各节点之和
	StaleBlocks          uint64
	LongestFork          uint64
	BlocksInForks        uint64

	Checkpoints uint64
	Justified   uint64
	Finalized   uint64

	MinFinalizedHeight uint64
	InvalidSortition   uint64

	StaleRate     decimal.Decimal // stale / total
	FinalityRate  decimal.Decimal // finalized / checkpoints
	JustifiedRate decimal.Decimal
}

func ratio(num, den uint64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(num)).Div(decimal.NewFromInt(int64(den)))
}

// Summarize 聚合各节点统计
func Summarize(protocol string, nodes []consensus.NodeStats) Summary {
	s := Summary{Protocol: protocol, Nodes: len(nodes)}
	for i, n := range nodes {
		if i == 0 || n.Height < s.MinHeight {
			s.MinHeight = n.Height
		}
		if n.Height > s.MaxHeight {
			s.MaxHeight = n.Height
		}
		if i == 0 || n.FinalizedHeight < s.MinFinalizedHeight {
			s.MinFinalizedHeight = n.FinalizedHeight
		}
		if n.LongestFork > s.LongestFork {
			s.LongestFork = n.LongestFork
		}
		s.TotalBlocks += n.TotalBlocks
		s.StaleBlocks += n.StaleBlocks
		s.BlocksInForks += n.BlocksInForks
		s.Checkpoints += n.Checkpoints
		s.Justified += n.Justified
		s.Finalized += n.Finalized
		s.InvalidSortition += n.InvalidSortition
	}
	s.StaleRate = ratio(s.StaleBlocks, s.TotalBlocks)
	s.FinalityRate = ratio(s.Finalized, s.Checkpoints)
	s.JustifiedRate = ratio(s.Justified, s.Checkpoints)
	return s
}

// Print 打印汇总与每类消息统计
func (s Summary) Print(w io.Writer, msgs map[types.MessageType]MessageCounts) {
	fmt.Fprintf(w, "===== %s: %d nodes =====\n", s.Protocol, s.Nodes)
	fmt.Fprintf(w, "height            min=%d max=%d\n", s.MinHeight, s.MaxHeight)
	fmt.Fprintf(w, "blocks            total=%d stale=%d (%s)\n", s.TotalBlocks, s.StaleBlocks, s.StaleRate.StringFixed(4))
	fmt.Fprintf(w, "forks             longest=%d blocks-in-forks=%d\n", s.LongestFork, s.BlocksInForks)
	if s.Checkpoints > 0 {
		fmt.Fprintf(w, "checkpoints       total=%d justified=%d (%s) finalized=%d (%s)\n",
			s.Checkpoints, s.Justified, s.JustifiedRate.StringFixed(4), s.Finalized, s.FinalityRate.StringFixed(4))
		fmt.Fprintf(w, "finalized height  min=%d\n", s.MinFinalizedHeight)
	}
	if s.InvalidSortition > 0 {
		fmt.Fprintf(w, "invalid sortition %d\n", s.InvalidSortition)
	}
	kinds := make([]types.MessageType, 0, len(msgs))
	for k := range msgs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		c := msgs[k]
		fmt.Fprintf(w, "messages[%s] sent=%d delivered=%d dropped=%d bytes=%d\n", k, c.Sent, c.Delivered, c.Dropped, c.Bytes)
	}
}
