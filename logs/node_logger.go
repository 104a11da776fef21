package logs

import (
	"fmt"
	"sync"
)

// ============================================
// 节点日志
// ============================================

// NodeLogger 每个模拟节点一个：行首带节点名，并保留最近 capacity 行
type NodeLogger struct {
	name string

	mu    sync.Mutex
	ring  []string
	next  int
	full  bool
	quiet bool
}

var _ Logger = (*NodeLogger)(nil)

func NewNodeLogger(name string, capacity int) *NodeLogger {
	if capacity <= 0 {
		capacity = 1
	}
	return &NodeLogger{name: name, ring: make([]string, capacity)}
}

// SetQuiet 只保留到内存，不写 zap（大规模模拟时使用）
func (l *NodeLogger) SetQuiet(quiet bool) {
	l.mu.Lock()
	l.quiet = quiet
	l.mu.Unlock()
}

func (l *NodeLogger) record(level int, tag, format string, v ...interface{}) {
	if Level() > level {
		return
	}
	line := fmt.Sprintf("[%s] %s %s", l.name, tag, fmt.Sprintf(format, v...))
	l.mu.Lock()
	l.ring[l.next] = line
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	quiet := l.quiet
	l.mu.Unlock()
	if !quiet {
		emit(level, "%s", line)
	}
}

// Recent 按时间顺序返回缓存的行
func (l *NodeLogger) Recent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]string, l.next)
		copy(out, l.ring[:l.next])
		return out
	}
	out := make([]string, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	out = append(out, l.ring[:l.next]...)
	return out
}

func (l *NodeLogger) Trace(format string, v ...interface{}) {
	l.record(LevelTrace, "TRACE", format, v...)
}
func (l *NodeLogger) Debug(format string, v ...interface{}) {
	l.record(LevelDebug, "DEBUG", format, v...)
}
func (l *NodeLogger) Verbose(format string, v ...interface{}) {
	l.record(LevelVerbose, "VERBOSE", format, v...)
}
func (l *NodeLogger) Info(format string, v ...interface{}) {
	l.record(LevelInfo, "INFO", format, v...)
}
func (l *NodeLogger) Warn(format string, v ...interface{}) {
	l.record(LevelWarning, "WARN", format, v...)
}
func (l *NodeLogger) Error(format string, v ...interface{}) {
	l.record(LevelError, "ERROR", format, v...)
}
