// Package sim 离散事件模拟：调度器、模拟网络、节点驱动与网络管理器
package sim

import (
	"container/heap"
	"time"

	"chainsim/interfaces"
)

type scheduled struct {
	at        time.Duration
	seq       uint64
	fn        func()
	cancelled bool
	index     int
}

// eventQueue 按 (时间, 注入顺序) 排序
type eventQueue []*scheduled

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *eventQueue) Push(x interface{}) {
	it := x.(*scheduled)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Scheduler 单线程离散事件调度器。事件按时间非递减执行，同一时刻按注入顺序（FIFO）。
type Scheduler struct {
	now     time.Duration
	seq     uint64
	queue   eventQueue
	pending map[interfaces.TimerHandle]*scheduled
}

var _ interfaces.Timer = (*Scheduler)(nil)

func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[interfaces.TimerHandle]*scheduled)}
}

func (s *Scheduler) Now() time.Duration { return s.now }

func (s *Scheduler) ScheduleAfter(d time.Duration, fn func()) interfaces.TimerHandle {
	if d < 0 {
		d = 0
	}
	return s.ScheduleAt(s.now+d, fn)
}

// ScheduleAt 早于当前时间的事件按当前时间执行
func (s *Scheduler) ScheduleAt(at time.Duration, fn func()) interfaces.TimerHandle {
	if at < s.now {
		at = s.now
	}
	s.seq++
	it := &scheduled{at: at, seq: s.seq, fn: fn}
	heap.Push(&s.queue, it)
	h := interfaces.TimerHandle(s.seq)
	s.pending[h] = it
	return h
}

// Cancel 取消未执行的事件；已执行或未知的句柄忽略
func (s *Scheduler) Cancel(h interfaces.TimerHandle) {
	if it, ok := s.pending[h]; ok {
		it.cancelled = true
		delete(s.pending, h)
	}
}

// Pending 未执行且未取消的事件数
func (s *Scheduler) Pending() int { return len(s.pending) }

// Step 执行下一个事件，队列为空时返回 false
func (s *Scheduler) Step() bool {
	for s.queue.Len() > 0 {
		it := heap.Pop(&s.queue).(*scheduled)
		if it.cancelled {
			continue
		}
		delete(s.pending, interfaces.TimerHandle(it.seq))
		s.now = it.at
		it.fn()
		return true
	}
	return false
}

// Run 执行所有时间不晚于 until 的事件，返回执行数；结束后时钟推进到 until
func (s *Scheduler) Run(until time.Duration) int {
	n := 0
	for s.queue.Len() > 0 {
		next := s.queue[0]
		if next.cancelled {
			heap.Pop(&s.queue)
			continue
		}
		if next.at > until {
			break
		}
		s.Step()
		n++
	}
	if until > s.now {
		s.now = until
	}
	return n
}
