package sim

import (
	"encoding/binary"
	"math"
	"math/rand"
	"time"

	"github.com/spaolacci/murmur3"

	"chainsim/interfaces"
	"chainsim/stats"
	"chainsim/types"
)

// Receiver 消息到达回调
type Receiver interface {
	OnMessage(kind types.MessageType, payload []byte, from types.NodeID, at time.Duration)
}

// LinkConfig 链路模型：基础延迟 + 均匀抖动，丢包由 murmur3 决定
type LinkConfig struct {
	Latency    time.Duration
	Jitter     time.Duration
	PacketLoss float64 // 0.0 ~ 1.0
	Seed       int64
}

type SimulatedTransport struct {
	sched     *Scheduler
	cfg       LinkConfig
	rng       *rand.Rand
	receivers map[types.NodeID]Receiver
	stats     *stats.Stats
	seq       uint64
}

var _ interfaces.Broadcaster = (*SimulatedTransport)(nil)

func NewSimulatedTransport(sched *Scheduler, cfg LinkConfig, st *stats.Stats) *SimulatedTransport {
	return &SimulatedTransport{
		sched:     sched,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		receivers: make(map[types.NodeID]Receiver),
		stats:     st,
	}
}

func (t *SimulatedTransport) Register(id types.NodeID, r Receiver) {
	t.receivers[id] = r
}

// lost 对 (seed, from, to, seq) 做 murmur3，结果与调度顺序无关
func (t *SimulatedTransport) lost(from, to types.NodeID) bool {
	if t.cfg.PacketLoss <= 0 {
		return false
	}
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(from))
	binary.BigEndian.PutUint32(buf[4:8], uint32(to))
	binary.BigEndian.PutUint64(buf[8:16], t.seq)
	h := murmur3.Sum64WithSeed(buf[:], uint32(t.cfg.Seed))
	return float64(h)/math.MaxUint64 < t.cfg.PacketLoss
}

func (t *SimulatedTransport) delay() time.Duration {
	d := t.cfg.Latency
	if t.cfg.Jitter > 0 {
		d += time.Duration(t.rng.Int63n(int64(t.cfg.Jitter) + 1))
	}
	return d
}

// Broadcast 逐个 peer 投递；发送方不知道是否丢包
func (t *SimulatedTransport) Broadcast(from types.NodeID, peers []types.NodeID, kind types.MessageType, payload []byte) {
	for _, to := range peers {
		if to == from {
			continue
		}
		t.seq++
		if t.stats != nil {
			t.stats.RecordSent(kind, len(payload))
		}
		if t.lost(from, to) {
			if t.stats != nil {
				t.stats.RecordDropped(kind)
			}
			continue
		}
		r, ok := t.receivers[to]
		if !ok {
			continue
		}
		d := t.delay()
		t.sched.ScheduleAfter(d, func() {
			if t.stats != nil {
				t.stats.RecordDelivered(kind, d)
			}
			r.OnMessage(kind, payload, from, t.sched.Now())
		})
	}
}
