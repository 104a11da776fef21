package types

// ============================================
// 事件系统
// ============================================

type EventType string

const (
	EventBlockAdded          EventType = "block.added"
	EventBlockOrphaned       EventType = "block.orphaned"
	EventBlockProposed       EventType = "block.proposed"
	EventCheckpointJustified EventType = "checkpoint.justified"
	EventCheckpointFinalized EventType = "checkpoint.finalized"
)

type BaseEvent struct {
	EventType EventType
	EventData interface{}
}

func (e BaseEvent) Type() EventType   { return e.EventType }
func (e BaseEvent) Data() interface{} { return e.EventData }

// FinalizedData checkpoint.finalized 事件负载
type FinalizedData struct {
	Node       NodeID
	Checkpoint *Block
	Blocks     []*Block // 本次新标记为 FINALIZED 的区块，按高度升序
}
