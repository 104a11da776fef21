package consensus

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.dedis.ch/kyber/v3"

	"chainsim/chain"
	"chainsim/finality"
	"chainsim/forkchoice"
	"chainsim/interfaces"
	"chainsim/keys"
	"chainsim/logs"
	"chainsim/sortition"
	"chainsim/types"
)

// 接收路径的错误分类，均可在本地恢复
var (
	ErrMalformed        = errors.New("malformed artifact")
	ErrInvalidSortition = errors.New("invalid sortition")
	ErrDuplicate        = errors.New("duplicate artifact")
	ErrOrphan           = errors.New("orphan block")
)

var (
	errUnknownKey     = errors.New("public key not registered for author")
	errUnexpectedSeed = errors.New("unexpected sortition seed")
)

// Deps 参与者的外部协作者
type Deps struct {
	Registry interfaces.KeyRegistry
	Verifier interfaces.SortitionVerifier // nil 时直接做配对验证
	Events   interfaces.EventBus          // nil 时新建
	Logger   logs.Logger                  // nil 时使用节点日志
}

// 未采用的提案保留的轮数，期间仍可用来补齐迟到子块的父块
const proposalRetention = 8

type directVerifier struct{}

func (directVerifier) Check(pk kyber.Point, proof, seed, claimed []byte, th *uint256.Int) error {
	return sortition.Check(pk, proof, seed, claimed, th)
}

// ============================================
// 参与者状态机
// ============================================

type Participant struct {
	id     types.NodeID
	cfg    *Config
	policy ProtocolPolicy
	rng    *rand.Rand
	keys   *keys.KeyPair
	pubKey []byte

	genesisSeed []byte
	proposalTh  *uint256.Int
	voteTh      *uint256.Int

	registry interfaces.KeyRegistry
	verifier interfaces.SortitionVerifier
	events   interfaces.EventBus
	log      logs.Logger

	chain      *chain.Blockchain
	gadget     *finality.Gadget
	ghost      *forkchoice.HybridLMDGhost
	forkChoice forkchoice.Rule

	phase Phase
	round uint64
	now   time.Duration

	proposals  map[types.BlockKey]*types.Block // 所有验证通过的提案
	candidates map[uint64][]types.BlockKey     // 等待投票阶段裁决的提案
	seenVotes  map[uint64]map[types.NodeID]struct{}

	counters counters
}

// NewParticipant 密钥由参与者自己的随机源生成，调用方需把 Keys() 登记到 Registry
func NewParticipant(id types.NodeID, cfg *Config, rng *rand.Rand, deps Deps) (*Participant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, _ := PolicyFor(cfg.Protocol)
	kp, err := keys.NewKeyPair(rng)
	if err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("participant %s: key registry required", id)
	}
	if deps.Verifier == nil {
		deps.Verifier = directVerifier{}
	}
	if deps.Events == nil {
		deps.Events = NewEventBus()
	}
	if deps.Logger == nil {
		deps.Logger = logs.NewNodeLogger(id.String(), 256)
	}

	epochSize := uint64(0)
	if policy.Finality {
		epochSize = cfg.EpochSize
	}
	bc := chain.New(epochSize)

	p := &Participant{
		id:          id,
		cfg:         cfg,
		policy:      policy,
		rng:         rng,
		keys:        kp,
		pubKey:      kp.VRFPublicKeyBytes(),
		genesisSeed: []byte(cfg.GenesisSeed),
		proposalTh:  sortition.Threshold(cfg.ProposalZeroBits),
		voteTh:      sortition.Threshold(cfg.VoteZeroBits),
		registry:    deps.Registry,
		verifier:    deps.Verifier,
		events:      deps.Events,
		log:         deps.Logger,
		chain:       bc,
		proposals:   make(map[types.BlockKey]*types.Block),
		candidates:  make(map[uint64][]types.BlockKey),
		seenVotes:   make(map[uint64]map[types.NodeID]struct{}),
	}
	if policy.Finality {
		p.gadget = finality.NewGadget(bc, p.log)
	}
	switch policy.ForkChoice {
	case HybridLMDGhostRule:
		p.ghost = forkchoice.NewHybridLMDGhost(bc, p.gadget)
		p.forkChoice = p.ghost
	default:
		p.forkChoice = forkchoice.NewLongestChain(bc, p.gadget)
	}
	return p, nil
}

func (p *Participant) ID() types.NodeID            { return p.id }
func (p *Participant) Keys() *keys.KeyPair         { return p.keys }
func (p *Participant) Chain() *chain.Blockchain    { return p.chain }
func (p *Participant) Gadget() *finality.Gadget    { return p.gadget }
func (p *Participant) Policy() ProtocolPolicy      { return p.policy }
func (p *Participant) Phase() Phase                { return p.phase }
func (p *Participant) Round() uint64               { return p.round }
func (p *Participant) Events() interfaces.EventBus { return p.events }
func (p *Participant) Head() *types.Block          { return p.forkChoice.Head(p.round) }
func (p *Participant) Logger() logs.Logger         { return p.log }

// Tick 状态转移：返回新阶段与需要执行的副作用。停止后任何事件都不产生副作用。
func (p *Participant) Tick(ev Event) (Phase, []Effect) {
	if p.phase == PhaseStopped {
		return p.phase, nil
	}
	p.now = ev.Now

	var effects []Effect
	switch ev.Kind {
	case EventStart:
		if p.phase == PhaseIdle {
			effects = p.enterProposal(1)
		}
	case EventTimer:
		if p.phase == PhaseIdle {
			break
		}
		switch ev.Phase {
		case PhaseProposal:
			effects = p.enterProposal(p.round + 1)
		case PhaseVote:
			effects = p.enterVote()
		}
	case EventMessage:
		effects = p.onMessage(ev.Message)
	case EventStop:
		p.phase = PhaseStopped
		effects = []Effect{CancelTimerEffect{}}
	}
	return p.phase, effects
}

func (p *Participant) enterProposal(round uint64) []Effect {
	p.phase = PhaseProposal
	p.round = round
	if round > 2 {
		p.prune(round - 2)
	}

	var effects []Effect
	if b := p.propose(); b != nil {
		effects = append(effects, BroadcastEffect{Message: &types.Message{Type: types.MsgProposal, From: p.id, Block: b}})
	}
	next := PhaseProposal
	if p.policy.VotePhase {
		next = PhaseVote
	}
	return append(effects, ScheduleEffect{After: p.cfg.ProposalPhase, Phase: next})
}

func (p *Participant) enterVote() []Effect {
	p.phase = PhaseVote

	if best := p.bestCandidate(p.round); best != nil {
		if err := p.insertBlock(best); err != nil && !errors.Is(err, ErrOrphan) {
			p.log.Debug("[Consensus] insert best proposal %s: %v", best, err)
		}
	}
	for r := range p.candidates {
		if r <= p.round {
			delete(p.candidates, r)
		}
	}

	var effects []Effect
	if a := p.attest(); a != nil {
		effects = append(effects, BroadcastEffect{Message: &types.Message{Type: types.MsgVote, From: p.id, Vote: a}})
	}
	return append(effects, ScheduleEffect{After: p.cfg.VotePhase, Phase: PhaseProposal})
}

// propose 出块抽签通过时在链头上构造新块
func (p *Participant) propose() *types.Block {
	seed := sortition.Seed(p.genesisSeed, p.round, sortition.RoleProposer)
	proof, out, err := sortition.Evaluate(p.keys.VRFKey, seed)
	if err != nil {
		p.log.Error("[Consensus] proposer sortition: %v", err)
		return nil
	}
	if !sortition.Selected(out, p.proposalTh) {
		return nil
	}

	head := p.forkChoice.Head(p.round - 1)
	key := types.BlockKey{Height: head.Height + 1, Proposer: p.id}
	if _, ok := p.proposals[key]; ok || p.chain.HasBlock(key.Height, p.id) {
		// 同一高度已经提过一个未被采用的块
		p.log.Trace("[Consensus] round %d: already proposed at height %d", p.round, key.Height)
		return nil
	}

	b := &types.Block{
		ID:                p.rng.Uint64(),
		Height:            key.Height,
		ProposerID:        p.id,
		ParentProposerID:  head.ProposerID,
		SizeBytes:         p.randomBlockSize(),
		CreatedAt:         p.now,
		ProposalRound:     p.round,
		VRFSeed:           seed,
		ProposerPublicKey: p.pubKey,
		VRFProof:          proof,
		VRFOutput:         out,
		ReceivedAt:        p.now,
		ReceivedFrom:      p.id,
	}
	p.counters.blocksProposed++
	p.proposals[key] = b
	p.log.Verbose("[Consensus] round %d: proposing %s vrf=%s", p.round, b, hexutil.Encode(out[:8]))
	p.events.Publish(types.BaseEvent{EventType: types.EventBlockProposed, EventData: b})

	if p.policy.VotePhase {
		p.candidates[p.round] = append(p.candidates[p.round], key)
	} else if err := p.insertBlock(b); err != nil {
		p.log.Debug("[Consensus] insert own block %s: %v", b, err)
	}
	return b
}

func (p *Participant) randomBlockSize() uint64 {
	lo, hi := p.cfg.MinBlockSize, p.cfg.MaxBlockSize
	if hi <= lo {
		return lo
	}
	return lo + p.rng.Uint64()%(hi-lo+1)
}

// bestCandidate 本轮 VRF 输出最小的提案；相同时保留先到的
func (p *Participant) bestCandidate(round uint64) *types.Block {
	var best *types.Block
	for _, k := range p.candidates[round] {
		b := p.proposals[k]
		if best == nil || bytes.Compare(b.VRFOutput, best.VRFOutput) < 0 {
			best = b
		}
	}
	return best
}

// attest 委员会抽签通过时对链头投票；有 FFG 时附带 source→target 链接
func (p *Participant) attest() *types.Attestation {
	seed := sortition.Seed(p.genesisSeed, p.round, sortition.RoleCommittee)
	proof, out, err := sortition.Evaluate(p.keys.VRFKey, seed)
	if err != nil {
		p.log.Error("[Consensus] committee sortition: %v", err)
		return nil
	}
	if !sortition.Selected(out, p.voteTh) {
		return nil
	}

	head := p.forkChoice.Head(p.round - 1)
	a := &types.Attestation{
		Slot:           p.round,
		VoterID:        p.id,
		AttestedHash:   head.Hash(),
		AttestedHeight: head.Height,
		VRFSeed:        seed,
		VoterPublicKey: p.pubKey,
		VRFProof:       proof,
		VRFOutput:      out,
	}
	if p.gadget != nil {
		if src, tgt, ok := p.gadget.FindBestLink(head); ok {
			a.FFG = p.gadget.NewVote(p.id, src, tgt)
		}
	}
	p.counters.votesCast++
	p.acceptVote(a)
	return a
}

// ============================================
// 接收路径
// ============================================

func (p *Participant) onMessage(m *types.Message) []Effect {
	if m == nil || m.Validate() != nil {
		p.counters.malformed++
		p.log.Trace("[Consensus] drop malformed message")
		return nil
	}
	var (
		effects []Effect
		err     error
	)
	switch m.Type {
	case types.MsgProposal:
		m.Block.ReceivedFrom = m.From
		effects, err = p.ProcessReceivedProposedBlock(m.Block)
	case types.MsgVote:
		effects, err = p.ProcessReceivedVote(m.Vote)
	}
	if err != nil && !errors.Is(err, ErrDuplicate) {
		p.log.Trace("[Consensus] %s from %s: %v", m.Type, m.From, err)
	}
	return effects
}

// ProcessReceivedProposedBlock 验证收到的提案。合法且首次见到时返回一次转发；
// 父块未到时仍转发，同时返回 ErrOrphan。
func (p *Participant) ProcessReceivedProposedBlock(b *types.Block) ([]Effect, error) {
	if b == nil || b.Height == 0 || len(b.VRFSeed) == 0 || len(b.ProposerPublicKey) == 0 ||
		len(b.VRFProof) == 0 || len(b.VRFOutput) == 0 {
		p.counters.malformed++
		return nil, ErrMalformed
	}
	key := b.Key()
	if _, ok := p.proposals[key]; ok || p.chain.HasBlock(b.Height, b.ProposerID) || p.expired(b.ProposalRound) {
		p.counters.duplicates++
		return nil, ErrDuplicate
	}
	if err := p.checkSortition(b.ProposerID, b.ProposerPublicKey, b.VRFSeed, b.VRFProof, b.VRFOutput,
		b.ProposalRound, sortition.RoleProposer, p.proposalTh); err != nil {
		p.counters.invalidSortition++
		p.log.Warn("[Consensus] drop proposal %s: %v", b, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSortition, err)
	}

	b = b.Clone()
	b.FinalityState = types.Standard
	b.ReceivedAt = p.now
	p.proposals[key] = b
	relay := p.relay(&types.Message{Type: types.MsgProposal, From: p.id, Block: b})

	if p.policy.VotePhase && (b.ProposalRound > p.round || (b.ProposalRound == p.round && p.phase != PhaseVote)) {
		p.candidates[b.ProposalRound] = append(p.candidates[b.ProposalRound], key)
		return relay, nil
	}
	if err := p.insertBlock(b); err != nil {
		return relay, err
	}
	return relay, nil
}

// ProcessReceivedVote 验证收到的委员会投票；合法且首次见到时缓存并转发一次
func (p *Participant) ProcessReceivedVote(a *types.Attestation) ([]Effect, error) {
	if a == nil || len(a.VRFSeed) == 0 || len(a.VoterPublicKey) == 0 || len(a.VRFProof) == 0 || len(a.VRFOutput) == 0 {
		p.counters.malformed++
		return nil, ErrMalformed
	}
	if a.FFG != nil && (a.FFG.VoterID != a.VoterID || !a.FFG.WellFormed(p.chain.EpochSize())) {
		p.counters.malformed++
		return nil, ErrMalformed
	}
	if _, ok := p.seenVotes[a.Slot][a.VoterID]; ok {
		p.counters.duplicates++
		return nil, ErrDuplicate
	}
	if err := p.checkSortition(a.VoterID, a.VoterPublicKey, a.VRFSeed, a.VRFProof, a.VRFOutput,
		a.Slot, sortition.RoleCommittee, p.voteTh); err != nil {
		p.counters.invalidSortition++
		p.log.Warn("[Consensus] drop vote %s: %v", a, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSortition, err)
	}
	p.counters.votesReceived++
	p.acceptVote(a)
	return p.relay(&types.Message{Type: types.MsgVote, From: p.id, Vote: a}), nil
}

func (p *Participant) checkSortition(author types.NodeID, rawPK, seed, proof, output []byte,
	round uint64, role sortition.Role, th *uint256.Int) error {
	if !p.registry.Matches(author, rawPK) {
		return errUnknownKey
	}
	pk, _ := p.registry.PublicKey(author)
	if !bytes.Equal(seed, sortition.Seed(p.genesisSeed, round, role)) {
		return errUnexpectedSeed
	}
	return p.verifier.Check(pk, proof, seed, output, th)
}

func (p *Participant) acceptVote(a *types.Attestation) {
	voters, ok := p.seenVotes[a.Slot]
	if !ok {
		voters = make(map[types.NodeID]struct{})
		p.seenVotes[a.Slot] = voters
	}
	voters[a.VoterID] = struct{}{}

	if p.ghost != nil {
		p.ghost.AddAttestation(a)
	}
	if p.gadget != nil && a.FFG != nil {
		p.gadget.AddVote(a.FFG)
	}
}

// VotesInRound 该轮已接受的委员会投票数
func (p *Participant) VotesInRound(round uint64) int {
	return len(p.seenVotes[round])
}

// expired 早于保留窗口的提案已被清理，再次收到时按过期重复处理
func (p *Participant) expired(round uint64) bool {
	return p.round > proposalRetention && round < p.round-proposalRetention
}

// prune 丢弃 before 之前各轮的投票记录，以及保留窗口之外的提案
func (p *Participant) prune(before uint64) {
	for slot := range p.seenVotes {
		if slot < before {
			delete(p.seenVotes, slot)
		}
	}
	if p.ghost != nil {
		p.ghost.Prune(before)
	}
	for k, b := range p.proposals {
		if p.expired(b.ProposalRound) {
			delete(p.proposals, k)
		}
	}
}

func (p *Participant) relay(m *types.Message) []Effect {
	p.counters.relayed++
	return []Effect{BroadcastEffect{Message: m}}
}

// ============================================
// 插入与孤块
// ============================================

// insertBlock 父块缺失时先尝试用此前未采用的提案补齐，仍缺失则挂为孤块
func (p *Participant) insertBlock(b *types.Block) error {
	if p.chain.HasBlock(b.Height, b.ProposerID) {
		return nil
	}
	if !p.chain.HasParent(b) {
		if parent, ok := p.proposals[b.ParentKey()]; ok && !p.chain.HasOrphan(parent.Key()) {
			_ = p.insertBlock(parent)
		}
	}
	if !p.chain.HasParent(b) {
		if p.chain.AddOrphan(b) {
			p.log.Debug("[Consensus] orphan %s, waiting for parent %s", b, b.ParentKey())
			p.events.Publish(types.BaseEvent{EventType: types.EventBlockOrphaned, EventData: b})
		}
		return ErrOrphan
	}

	p.link(b)
	queue := []*types.Block{b}
	for len(queue) > 0 {
		x := queue[0]
		queue = queue[1:]
		for _, o := range p.chain.TakeOrphansOf(x) {
			p.link(o)
			queue = append(queue, o)
		}
	}
	return nil
}

func (p *Participant) link(b *types.Block) {
	if p.gadget != nil && types.IsCheckpointHeight(b.Height, p.chain.EpochSize()) {
		for _, out := range p.gadget.OnCheckpoint(b.Height) {
			p.publishOutcome(out)
		}
	}
	if err := p.chain.AddBlock(b); err != nil {
		p.log.Debug("[Consensus] add %s: %v", b, err)
		return
	}
	p.events.Publish(types.BaseEvent{EventType: types.EventBlockAdded, EventData: b})
}

func (p *Participant) publishOutcome(out finality.Outcome) {
	if out.Justified != nil {
		p.events.Publish(types.BaseEvent{EventType: types.EventCheckpointJustified, EventData: out.Justified})
	}
	if out.Finalized != nil {
		p.events.Publish(types.BaseEvent{
			EventType: types.EventCheckpointFinalized,
			EventData: types.FinalizedData{Node: p.id, Checkpoint: out.Finalized, Blocks: out.NewlyFinalized},
		})
	}
}
