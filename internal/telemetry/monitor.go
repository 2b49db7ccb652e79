package telemetry

import (
	"context"
	"runtime"
	"time"
)

// snapshotInterval controls how often the monitor writes a
// metrics_snapshot entry.
const snapshotInterval = 30 * time.Second

// Run emits a metrics_snapshot every 30 seconds and a memory_limit
// entry whenever the heap crosses memoryLimitBytes. It blocks until
// ctx is canceled. A zero memoryLimitBytes disables the heap check.
func (t *Telemetry) Run(ctx context.Context, memoryLimitBytes int64) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.WriteSnapshot()
			if memoryLimitBytes > 0 {
				t.checkMemory(memoryLimitBytes)
			}
		}
	}
}

// WriteSnapshot writes one metrics_snapshot entry immediately.
func (t *Telemetry) WriteSnapshot() {
	t.write(metricsSnapshotEntry{
		header:   newHeader(EntryMetricsSnapshot),
		Snapshot: t.Snapshot(),
	})
}

func (t *Telemetry) checkMemory(limit int64) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	if int64(mem.HeapAlloc) <= limit {
		return
	}
	t.logger.Warnw("Memory limit exceeded",
		"heap_alloc_bytes", mem.HeapAlloc,
		"limit_bytes", limit)
	t.write(memoryLimitEntry{
		header:         newHeader(EntryMemoryLimit),
		HeapAllocBytes: mem.HeapAlloc,
		LimitBytes:     uint64(limit),
	})
}
