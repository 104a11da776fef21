package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"chainsim/consensus"
)

// Collector 把节点统计导出为 prometheus 指标。source 返回的必须是快照，
// 不能直接读参与者状态（抓取发生在其他 goroutine）。
type Collector struct {
	source  func() []consensus.NodeStats
	network *Stats

	height      *prometheus.Desc
	blocks      *prometheus.Desc
	stale       *prometheus.Desc
	longestFork *prometheus.Desc
	finalized   *prometheus.Desc
	justified   *prometheus.Desc
	finalHeight *prometheus.Desc
	messages    *prometheus.Desc
	dropped     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(protocol string, source func() []consensus.NodeStats, network *Stats) *Collector {
	// 同一进程可同时运行多个协议，协议作为常量标签区分各自的 Collector
	nodeLabels := []string{"node"}
	constLabels := prometheus.Labels{"protocol": protocol}
	return &Collector{
		source:      source,
		network:     network,
		height:      prometheus.NewDesc("chainsim_node_height", "Highest block height known to the node", nodeLabels, constLabels),
		blocks:      prometheus.NewDesc("chainsim_node_blocks_total", "Blocks in the node's chain excluding genesis", nodeLabels, constLabels),
		stale:       prometheus.NewDesc("chainsim_node_stale_blocks_total", "Blocks inserted next to an existing sibling", nodeLabels, constLabels),
		longestFork: prometheus.NewDesc("chainsim_node_longest_fork", "Longest fork observed by the node", nodeLabels, constLabels),
		finalized:   prometheus.NewDesc("chainsim_node_finalized_checkpoints", "Finalized checkpoints", nodeLabels, constLabels),
		justified:   prometheus.NewDesc("chainsim_node_justified_checkpoints", "Justified or finalized checkpoints", nodeLabels, constLabels),
		finalHeight: prometheus.NewDesc("chainsim_node_finalized_height", "Height of the last finalized checkpoint", nodeLabels, constLabels),
		messages:    prometheus.NewDesc("chainsim_messages_sent_total", "Point-to-point messages sent", []string{"kind"}, constLabels),
		dropped:     prometheus.NewDesc("chainsim_messages_dropped_total", "Messages lost by the simulated network", []string{"kind"}, constLabels),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.height, c.blocks, c.stale, c.longestFork, c.finalized, c.justified, c.finalHeight, c.messages, c.dropped} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, n := range c.source() {
		node := n.Node.String()
		ch <- prometheus.MustNewConstMetric(c.height, prometheus.GaugeValue, float64(n.Height), node)
		ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.CounterValue, float64(n.TotalBlocks), node)
		ch <- prometheus.MustNewConstMetric(c.stale, prometheus.CounterValue, float64(n.StaleBlocks), node)
		ch <- prometheus.MustNewConstMetric(c.longestFork, prometheus.GaugeValue, float64(n.LongestFork), node)
		ch <- prometheus.MustNewConstMetric(c.finalized, prometheus.GaugeValue, float64(n.Finalized), node)
		ch <- prometheus.MustNewConstMetric(c.justified, prometheus.GaugeValue, float64(n.Justified), node)
		ch <- prometheus.MustNewConstMetric(c.finalHeight, prometheus.GaugeValue, float64(n.FinalizedHeight), node)
	}
	if c.network == nil {
		return
	}
	for kind, m := range c.network.GetMessageStats() {
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(m.Sent), string(kind))
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(m.Dropped), string(kind))
	}
}
