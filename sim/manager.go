package sim

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"chainsim/consensus"
	"chainsim/interfaces"
	"chainsim/keys"
	"chainsim/logs"
	"chainsim/sortition"
	"chainsim/stats"
	"chainsim/store"
	"chainsim/types"
)

// NetworkConfig 模拟网络规模与链路
type NetworkConfig struct {
	Nodes  int
	Rounds int
	Seed   int64
	Link   LinkConfig

	VerifierCache int
	LogCapacity   int
	QuietNodes    bool // 节点日志只留在内存
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Nodes:         16,
		Rounds:        40,
		Seed:          1,
		Link:          LinkConfig{Latency: 100 * time.Millisecond, Jitter: 50 * time.Millisecond, Seed: 1},
		VerifierCache: 8192,
		LogCapacity:   2000,
		QuietNodes:    true,
	}
}

// ============================================
// 网络管理器
// ============================================

type NetworkManager struct {
	cfg       NetworkConfig
	consensus *consensus.Config

	sched     *Scheduler
	transport *SimulatedTransport
	codec     *Codec
	registry  *keys.Registry
	verifier  *sortition.Verifier
	archive   *store.Archive
	stats     *stats.Stats

	nodes    []*Node
	detaches []func() // 运行结束后取消归档订阅

	mu       sync.RWMutex
	snapshot []consensus.NodeStats
	archErr  error
}

// NewNetworkManager archive 可为 nil
func NewNetworkManager(cfg NetworkConfig, ccfg *consensus.Config, archive *store.Archive) (*NetworkManager, error) {
	if cfg.Nodes <= 0 {
		return nil, fmt.Errorf("network needs at least one node")
	}
	if err := ccfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	if cfg.VerifierCache <= 0 {
		cfg.VerifierCache = 1024
	}
	verifier, err := sortition.NewVerifier(cfg.VerifierCache)
	if err != nil {
		return nil, err
	}
	sched := NewScheduler()
	st := stats.NewStats()
	return &NetworkManager{
		cfg:       cfg,
		consensus: ccfg,
		sched:     sched,
		transport: NewSimulatedTransport(sched, cfg.Link, st),
		codec:     codec,
		registry:  keys.NewRegistry(),
		verifier:  verifier,
		archive:   archive,
		stats:     st,
	}, nil
}

func (nm *NetworkManager) Nodes() []*Node             { return nm.nodes }
func (nm *NetworkManager) Scheduler() *Scheduler      { return nm.sched }
func (nm *NetworkManager) NetworkStats() *stats.Stats { return nm.stats }

// CreateNodes 每个节点用 (seed, id) 派生自己的随机源
func (nm *NetworkManager) CreateNodes() error {
	ids := make([]types.NodeID, nm.cfg.Nodes)
	for i := range ids {
		ids[i] = types.NodeID(i)
	}
	for _, id := range ids {
		rng := rand.New(rand.NewSource(nm.cfg.Seed*1_000_003 + int64(id)))
		logger := logs.NewNodeLogger(id.String(), nm.cfg.LogCapacity)
		logger.SetQuiet(nm.cfg.QuietNodes)
		bus := consensus.NewEventBus()

		p, err := consensus.NewParticipant(id, nm.consensus, rng, consensus.Deps{
			Registry: nm.registry,
			Verifier: nm.verifier,
			Events:   bus,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", id, err)
		}
		nm.registry.Register(id, p.Keys())
		if addr, err := p.Keys().Address(); err == nil {
			logger.Debug("[NetworkManager] %s address %s vrf-pk %s", id, addr, hexutil.Encode(p.Keys().VRFPublicKeyBytes()[:8]))
		}
		if nm.archive != nil {
			nm.subscribeArchive(id, bus)
		}

		node := NewNode(p, nm.sched, nm.transport, nm.codec, ids)
		nm.transport.Register(id, node)
		nm.nodes = append(nm.nodes, node)
	}
	return nil
}

func (nm *NetworkManager) subscribeArchive(id types.NodeID, bus interfaces.EventBus) {
	detach := bus.Subscribe(types.EventCheckpointFinalized, func(e interfaces.Event) {
		data, ok := e.Data().(types.FinalizedData)
		if !ok || len(data.Blocks) == 0 {
			return
		}
		if err := nm.archive.Put(id, nm.sched.Now(), data.Blocks...); err != nil {
			nm.mu.Lock()
			nm.archErr = err
			nm.mu.Unlock()
		}
	})
	nm.detaches = append(nm.detaches, detach)
}

// Run 所有节点在 t=0 按编号顺序启动，逐轮推进调度器，每轮结束刷新统计快照
func (nm *NetworkManager) Run(ctx context.Context) error {
	if len(nm.nodes) == 0 {
		if err := nm.CreateNodes(); err != nil {
			return err
		}
	}
	for _, n := range nm.nodes {
		node := n
		nm.sched.ScheduleAt(0, node.Start)
	}

	round := nm.consensus.RoundDuration()
	for r := 1; r <= nm.cfg.Rounds; r++ {
		select {
		case <-ctx.Done():
			nm.stop()
			return ctx.Err()
		default:
		}
		// 每轮边界前留出 1ns，使同一时刻的下一阶段定时器留到下一轮执行
		nm.sched.Run(time.Duration(r)*round - time.Nanosecond)
		nm.refreshSnapshot()
		if r%10 == 0 {
			s := stats.Summarize(nm.consensus.Protocol, nm.Snapshot())
			logs.Verbose("[NetworkManager] %s round %d: height %d..%d finalized>=%d",
				nm.consensus.Protocol, r, s.MinHeight, s.MaxHeight, s.MinFinalizedHeight)
		}
	}
	nm.stop()

	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if nm.archErr != nil {
		return fmt.Errorf("archive: %w", nm.archErr)
	}
	return nil
}

func (nm *NetworkManager) stop() {
	for _, n := range nm.nodes {
		n.Stop()
	}
	for _, detach := range nm.detaches {
		detach()
	}
	nm.detaches = nil
	nm.refreshSnapshot()
}

func (nm *NetworkManager) refreshSnapshot() {
	snap := make([]consensus.NodeStats, 0, len(nm.nodes))
	for _, n := range nm.nodes {
		snap = append(snap, n.participant.Stats())
	}
	nm.mu.Lock()
	nm.snapshot = snap
	nm.mu.Unlock()
}

// Snapshot 最近一次刷新的节点统计，可在其他 goroutine 中读取
func (nm *NetworkManager) Snapshot() []consensus.NodeStats {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	out := make([]consensus.NodeStats, len(nm.snapshot))
	copy(out, nm.snapshot)
	return out
}

// finalizedChain 节点本地视角下从创世到 lastFinalized 的区块
func finalizedChain(p *consensus.Participant) []*types.Block {
	g := p.Gadget()
	if g == nil {
		return nil
	}
	anc := p.Chain().GetAncestors(g.LastFinalized(), 0)
	for i, j := 0, len(anc)-1; i < j; i, j = i+1, j-1 {
		anc[i], anc[j] = anc[j], anc[i]
	}
	return anc
}

// CheckAgreement 任意两个节点的最终化前缀在公共高度上必须一致
func (nm *NetworkManager) CheckAgreement() error {
	var ref []*types.Block
	var refID types.NodeID
	for _, n := range nm.nodes {
		fc := finalizedChain(n.participant)
		common := len(fc)
		if len(ref) < common {
			common = len(ref)
		}
		for h := 0; h < common; h++ {
			if !fc[h].Equal(ref[h]) {
				return fmt.Errorf("finalized chains of %s and %s diverge at height %d: %s vs %s",
					refID, n.ID, h, ref[h].Key(), fc[h].Key())
			}
		}
		if len(fc) > len(ref) {
			ref, refID = fc, n.ID
		}
	}
	return nil
}

func (nm *NetworkManager) Summary() stats.Summary {
	return stats.Summarize(nm.consensus.Protocol, nm.Snapshot())
}

// PrintStatus 打印每个节点的状态和汇总
func (nm *NetworkManager) PrintStatus(w io.Writer) {
	for _, s := range nm.Snapshot() {
		fmt.Fprintf(w, "%-9s height=%-4d blocks=%-4d stale=%-3d fork=%-2d orphans=%-3d finalized=%d/%d (h=%d) proposed=%d votes=%d invalid=%d\n",
			s.Node, s.Height, s.TotalBlocks, s.StaleBlocks, s.LongestFork, s.Orphans,
			s.Finalized, s.Checkpoints, s.FinalizedHeight, s.BlocksProposed, s.VotesCast, s.InvalidSortition)
	}
	nm.Summary().Print(w, nm.stats.GetMessageStats())
	if err := nm.CheckAgreement(); err != nil {
		fmt.Fprintf(w, "agreement: FAILED: %v\n", err)
	} else if nm.Summary().Checkpoints > 0 {
		fmt.Fprintf(w, "agreement: ok\n")
	}
}
