package interfaces

import (
	"time"

	"github.com/holiman/uint256"
	"go.dedis.ch/kyber/v3"

	"chainsim/types"
)

// ============================================
// 事件
// ============================================

type Event interface {
	Type() types.EventType
	Data() interface{}
}

type EventHandler func(Event)

type EventBus interface {
	Subscribe(topic types.EventType, handler EventHandler) (unsubscribe func())
	Publish(event Event)
}

// ============================================
// 传输与定时（由模拟器实现）
// ============================================

// Broadcaster 尽力而为地发给每个 peer，投递时序由传输层决定
type Broadcaster interface {
	Broadcast(from types.NodeID, peers []types.NodeID, kind types.MessageType, payload []byte)
}

// TimerHandle 定时器句柄
type TimerHandle uint64

type Timer interface {
	ScheduleAfter(d time.Duration, fn func()) TimerHandle
	Cancel(h TimerHandle)
	Now() time.Duration
}

// ============================================
// 抽签
// ============================================

// KeyRegistry 已登记的抽签公钥
type KeyRegistry interface {
	PublicKey(id types.NodeID) (kyber.Point, bool)
	Matches(id types.NodeID, raw []byte) bool
}

// SortitionVerifier 验证证明、阈值与报文中的输出
type SortitionVerifier interface {
	Check(pk kyber.Point, proof, seed, claimed []byte, threshold *uint256.Int) error
}
