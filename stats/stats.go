package stats

import (
	"sync"
	"time"

	"chainsim/types"
)

// MessageCounts 某类消息的收发统计
type MessageCounts struct {
	Sent      uint64
	Delivered uint64
	Dropped   uint64
	Bytes     uint64
}

// Stats 传输层统计，模拟网络中所有节点共用一个
type Stats struct {
	statsLock sync.RWMutex
	messages  map[types.MessageType]*MessageCounts
	latency   *LatencyRecorder
}

func NewStats() *Stats {
	return &Stats{
		messages: make(map[types.MessageType]*MessageCounts),
		latency:  NewLatencyRecorder(4096),
	}
}

func (h *Stats) counts(kind types.MessageType) *MessageCounts {
	c, ok := h.messages[kind]
	if !ok {
		c = &MessageCounts{}
		h.messages[kind] = c
	}
	return c
}

// RecordSent 记录一次点对点发送
func (h *Stats) RecordSent(kind types.MessageType, size int) {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()
	c := h.counts(kind)
	c.Sent++
	c.Bytes += uint64(size)
}

func (h *Stats) RecordDropped(kind types.MessageType) {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()
	h.counts(kind).Dropped++
}

// RecordDelivered 记录投递及其模拟延迟
func (h *Stats) RecordDelivered(kind types.MessageType, latency time.Duration) {
	h.statsLock.Lock()
	h.counts(kind).Delivered++
	h.statsLock.Unlock()
	h.latency.Record(string(kind), latency)
}

// GetMessageStats 复制一份当前统计
func (h *Stats) GetMessageStats() map[types.MessageType]MessageCounts {
	h.statsLock.RLock()
	defer h.statsLock.RUnlock()

	out := make(map[types.MessageType]MessageCounts, len(h.messages))
	for kind, c := range h.messages {
		out[kind] = *c
	}
	return out
}

func (h *Stats) Latency() map[string]LatencySummary {
	return h.latency.Snapshot(false)
}
