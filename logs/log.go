package logs

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 定义日志级别常量（数值越大，级别越高）
const (
	LevelTrace   = iota // 0（最低，最详细）
	LevelDebug          // 1
	LevelVerbose        // 2
	LevelInfo           // 3
	LevelWarning        // 4
	LevelError          // 5（最高，最严重）
)

// Logger 所有模块共用的打印接口
type Logger interface {
	Trace(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Verbose(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

var (
	mu       sync.RWMutex
	logLevel = LevelInfo
	backend  *zap.SugaredLogger
	atom     = zap.NewAtomicLevelAt(zapcore.DebugLevel)
)

func init() {
	backend = newBackend()
}

func newBackend() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = nil
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(stdout{})), atom)
	return zap.New(core).Sugar()
}

// SetLevel 设置全局日志级别
func SetLevel(level int) {
	mu.Lock()
	logLevel = level
	mu.Unlock()
}

func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// ParseLevel 解析配置中的级别名称
func ParseLevel(name string) (int, error) {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "verbose":
		return LevelVerbose, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// SetBackend 替换底层 zap logger（测试中使用 zaptest/observer）
func SetBackend(l *zap.Logger) {
	mu.Lock()
	backend = l.Sugar()
	mu.Unlock()
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = backend.Sync()
}

func emit(level int, format string, v ...interface{}) {
	mu.RLock()
	enabled := logLevel <= level
	b := backend
	mu.RUnlock()
	if !enabled {
		return
	}
	switch level {
	case LevelTrace, LevelDebug, LevelVerbose:
		b.Debugf(format, v...)
	case LevelInfo:
		b.Infof(format, v...)
	case LevelWarning:
		b.Warnf(format, v...)
	default:
		b.Errorf(format, v...)
	}
}

// 包级别的日志方法
func Trace(format string, v ...interface{})   { emit(LevelTrace, "[TRACE] "+format, v...) }
func Debug(format string, v ...interface{})   { emit(LevelDebug, format, v...) }
func Verbose(format string, v ...interface{}) { emit(LevelVerbose, "[VERBOSE] "+format, v...) }
func Info(format string, v ...interface{})    { emit(LevelInfo, format, v...) }
func Warn(format string, v ...interface{})    { emit(LevelWarning, format, v...) }
func Error(format string, v ...interface{})   { emit(LevelError, format, v...) }
