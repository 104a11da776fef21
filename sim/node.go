package sim

import (
	"time"

	"chainsim/consensus"
	"chainsim/interfaces"
	"chainsim/logs"
	"chainsim/types"
)

// ============================================
// 节点驱动：把调度器/传输层事件喂给参与者状态机并执行其副作用
// ============================================

type Node struct {
	ID          types.NodeID
	participant *consensus.Participant
	timer       interfaces.Timer
	net         interfaces.Broadcaster
	codec       *Codec
	peers       []types.NodeID
	log         logs.Logger

	pending    interfaces.TimerHandle
	hasPending bool
}

var _ Receiver = (*Node)(nil)

func NewNode(p *consensus.Participant, timer interfaces.Timer, net interfaces.Broadcaster, codec *Codec, peers []types.NodeID) *Node {
	return &Node{
		ID:          p.ID(),
		participant: p,
		timer:       timer,
		net:         net,
		codec:       codec,
		peers:       peers,
		log:         p.Logger(),
	}
}

func (n *Node) Participant() *consensus.Participant { return n.participant }

func (n *Node) Start() {
	n.tick(consensus.Event{Kind: consensus.EventStart})
}

func (n *Node) Stop() {
	n.tick(consensus.Event{Kind: consensus.EventStop})
}

// OnMessage 传输层回调；解码失败按畸形消息交给状态机计数
func (n *Node) OnMessage(kind types.MessageType, payload []byte, from types.NodeID, at time.Duration) {
	m, err := n.codec.Decode(kind, payload)
	if err != nil {
		n.log.Trace("[Node] %v (from %s)", err, from)
		m = nil
	}
	n.tick(consensus.Event{Kind: consensus.EventMessage, Now: at, Message: m})
}

func (n *Node) fire(phase consensus.Phase) {
	n.hasPending = false
	n.tick(consensus.Event{Kind: consensus.EventTimer, Phase: phase})
}

func (n *Node) tick(ev consensus.Event) {
	ev.Now = n.timer.Now()
	_, effects := n.participant.Tick(ev)
	n.apply(effects)
}

func (n *Node) apply(effects []consensus.Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case consensus.BroadcastEffect:
			payload, err := n.codec.Encode(e.Message)
			if err != nil {
				n.log.Error("[Node] encode %s: %v", e.Message.Type, err)
				continue
			}
			n.net.Broadcast(n.ID, n.peers, e.Message.Type, payload)
		case consensus.ScheduleEffect:
			n.cancel()
			phase := e.Phase
			n.pending = n.timer.ScheduleAfter(e.After, func() { n.fire(phase) })
			n.hasPending = true
		case consensus.CancelTimerEffect:
			n.cancel()
		}
	}
}

func (n *Node) cancel() {
	if n.hasPending {
		n.timer.Cancel(n.pending)
		n.hasPending = false
	}
}
