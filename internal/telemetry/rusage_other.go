//go:build !unix

package telemetry

// cpuAndRSS has no portable source on this platform; the heap numbers
// from runtime.MemStats still cover the snapshot.
func cpuAndRSS() (userSec, systemSec float64, rssBytes uint64) {
	return 0, 0, 0
}
