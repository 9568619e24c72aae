//go:build !linux

package clock

import "time"

var processStart = time.Now()

// bootTimeNanos はプロセス起動時からの単調時刻を返す
func bootTimeNanos() int64 {
	return int64(time.Since(processStart))
}
