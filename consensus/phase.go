package consensus

import (
	"time"

	"chainsim/types"
)

// Phase 参与者所处阶段：Idle → Proposal → Vote → Proposal → …
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProposal
	PhaseVote
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProposal:
		return "proposal"
	case PhaseVote:
		return "vote"
	case PhaseStopped:
		return "stopped"
	}
	return "unknown"
}

type EventKind int

const (
	EventStart EventKind = iota
	EventTimer
	EventMessage
	EventStop
)

// Event 驱动状态机的输入
type Event struct {
	Kind    EventKind
	Now     time.Duration
	Phase   Phase          // EventTimer：要进入的阶段
	Message *types.Message // EventMessage
}

// ============================================
// 副作用，由调度方执行
// ============================================

type Effect interface {
	effect()
}

// BroadcastEffect 发给所有 peer
type BroadcastEffect struct {
	Message *types.Message
}

// ScheduleEffect After 之后以 EventTimer{Phase} 回调
type ScheduleEffect struct {
	After time.Duration
	Phase Phase
}

// CancelTimerEffect 取消尚未触发的阶段定时器
type CancelTimerEffect struct{}

func (BroadcastEffect) effect()   {}
func (ScheduleEffect) effect()    {}
func (CancelTimerEffect) effect() {}
