package logs

import "os"

// stdout 延迟取 os.Stdout，便于测试重定向
type stdout struct{}

func (stdout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
