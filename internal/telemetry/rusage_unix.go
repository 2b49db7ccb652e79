//go:build unix

package telemetry

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// cpuAndRSS reads process CPU time and peak RSS from getrusage.
// Maxrss is kilobytes on Linux and bytes on Darwin.
func cpuAndRSS() (userSec, systemSec float64, rssBytes uint64) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, 0, 0
	}

	userSec = float64(ru.Utime.Nano()) / 1e9
	systemSec = float64(ru.Stime.Nano()) / 1e9

	rssBytes = uint64(ru.Maxrss)
	if runtime.GOOS != "darwin" {
		rssBytes *= 1024
	}
	return userSec, systemSec, rssBytes
}
