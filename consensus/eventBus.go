package consensus

import (
	"sync"

	"chainsim/interfaces"
	"chainsim/types"
)

type subscription struct {
	id      uint64
	handler interfaces.EventHandler
}

// EventBus 节点内的同步事件总线。处理函数在发布者的执行流中运行；
// 处理函数里再次发布的事件排队，等当前事件分发完再按顺序送出。
type EventBus struct {
	mu     sync.Mutex
	subs   map[types.EventType][]subscription
	nextID uint64

	queue       []interfaces.Event
	dispatching bool
}

func NewEventBus() interfaces.EventBus {
	return &EventBus{subs: make(map[types.EventType][]subscription)}
}

// Subscribe 返回的函数用于取消订阅，可重复调用
func (eb *EventBus) Subscribe(topic types.EventType, handler interfaces.EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subs[topic] = append(eb.subs[topic], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		subs := eb.subs[topic]
		for i, s := range subs {
			if s.id == id {
				eb.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (eb *EventBus) Publish(event interfaces.Event) {
	eb.mu.Lock()
	eb.queue = append(eb.queue, event)
	if eb.dispatching {
		eb.mu.Unlock()
		return
	}
	eb.dispatching = true
	for len(eb.queue) > 0 {
		ev := eb.queue[0]
		eb.queue = eb.queue[1:]
		handlers := eb.subs[ev.Type()]
		eb.mu.Unlock()

		for _, s := range handlers {
			s.handler(ev)
		}
		eb.mu.Lock()
	}
	eb.dispatching = false
	eb.mu.Unlock()
}
