package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerOrdersByTimeThenFIFO(t *testing.T) {
	s := NewScheduler()
	var got []string
	s.ScheduleAfter(2*time.Second, func() { got = append(got, "c") })
	s.ScheduleAfter(time.Second, func() { got = append(got, "a") })
	s.ScheduleAfter(time.Second, func() { got = append(got, "b") })
	s.ScheduleAt(0, func() {
		got = append(got, "start")
		// 同一时刻注入的事件排在已有事件之后
		s.ScheduleAfter(0, func() { got = append(got, "nested") })
	})
	s.ScheduleAt(0, func() { got = append(got, "start2") })

	n := s.Run(10 * time.Second)
	assert.Equal(t, 6, n)
	assert.Equal(t, []string{"start", "start2", "nested", "a", "b", "c"}, got)
	assert.Equal(t, 10*time.Second, s.Now())
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	fired := 0
	h := s.ScheduleAfter(time.Second, func() { fired++ })
	s.ScheduleAfter(2*time.Second, func() { fired += 10 })
	require.Equal(t, 2, s.Pending())
	s.Cancel(h)
	s.Cancel(h)
	assert.Equal(t, 1, s.Pending())

	s.Run(5 * time.Second)
	assert.Equal(t, 10, fired)
	assert.Zero(t, s.Pending())
	assert.False(t, s.Step())
}

func TestSchedulerRunStopsAtBoundary(t *testing.T) {
	s := NewScheduler()
	var at []time.Duration
	for i := 1; i <= 3; i++ {
		s.ScheduleAt(time.Duration(i)*time.Second, func() { at = append(at, s.Now()) })
	}
	s.Run(2 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
	// 过去的时间按当前时间执行
	s.ScheduleAt(0, func() { at = append(at, s.Now()) })
	s.Run(2 * time.Second)
	assert.Equal(t, 2*time.Second, at[2])
	s.Run(3 * time.Second)
	assert.Len(t, at, 4)
}
