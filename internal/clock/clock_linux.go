//go:build linux

package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

var processStart = time.Now()

// bootTimeNanos はCLOCK_BOOTTIMEをナノ秒で返す
func bootTimeNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		// 取得できない環境では単調時刻で代替
		return int64(time.Since(processStart))
	}
	return ts.Nano()
}
