// Package telemetry writes the proxy's decision log: one JSON line per
// significant event, appended to a size-rotated file. It also keeps the
// in-process counters and inspection-latency summaries that back the
// periodic metrics_snapshot entry and the on-demand /proxy/metrics
// snapshot. Writes are serialized so lines never interleave; posting to
// a remote collector is best-effort and never blocks a caller.
package telemetry

import (
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/complyze/complyze-proxy/internal/classify"
)

// Rotation shape of the telemetry file.
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
)

// Options configures the telemetry writer.
type Options struct {
	// Path is the telemetry file location (proxy-telemetry.jsonl).
	Path string

	// RemoteURL, when set, enables batched posting of entries to a
	// remote collector.
	RemoteURL string

	// MaxSizeMB and MaxBackups override the rotation shape; zero means
	// the defaults (10 MB, 5 files).
	MaxSizeMB  int
	MaxBackups int
}

// Telemetry is the decision log plus the counters behind it. One
// instance per process; all methods are safe for concurrent use.
type Telemetry struct {
	mu  sync.Mutex
	out *lumberjack.Logger

	remote  *RemoteSink
	latency *LatencyTracker
	logger  *zap.SugaredLogger

	counters Counters
	start    time.Time
}

// New creates the telemetry writer. The file is created lazily on the
// first entry, so construction never fails on a read-only probe.
func New(opts Options, logger *zap.SugaredLogger) *Telemetry {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	t := &Telemetry{
		out: &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		},
		latency: NewLatencyTracker(),
		logger:  logger,
		start:   time.Now(),
	}
	if opts.RemoteURL != "" {
		t.remote = NewRemoteSink(opts.RemoteURL, logger)
	}
	return t
}

// Close flushes the remote sink and closes the telemetry file.
func (t *Telemetry) Close() error {
	if t.remote != nil {
		t.remote.Stop()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.Close()
}

// Counters exposes the event counters for callers that increment them
// directly (tunnel byte accounting, route counts).
func (t *Telemetry) Counters() *Counters {
	return &t.counters
}

// Latency exposes the inspection-latency tracker.
func (t *Telemetry) Latency() *LatencyTracker {
	return t.latency
}

// write marshals one entry, appends it as a single line, and tees it to
// the remote sink. Marshal failures are logged and dropped; telemetry
// must never take the proxy down.
func (t *Telemetry) write(entry any) {
	data, err := json.Marshal(entry)
	if err != nil {
		t.logger.Warnw("Failed to encode telemetry entry", "error", err)
		return
	}

	t.mu.Lock()
	_, werr := t.out.Write(append(data, '\n'))
	t.mu.Unlock()
	if werr != nil {
		t.logger.Warnw("Failed to write telemetry entry", "error", werr)
	}

	if t.remote != nil {
		t.remote.Enqueue(data)
	}
}

// ProxyStart records process startup.
func (t *Telemetry) ProxyStart(port int, monitorMode string, failOpen bool) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	t.write(proxyStartEntry{
		header:      newHeader(EntryProxyStart),
		OS:          runtime.GOOS,
		Hostname:    hostname,
		ProxyPort:   port,
		MonitorMode: monitorMode,
		FailOpen:    failOpen,
	})
}

// EnforcementDecision records the policy outcome for one sensitive
// request.
func (t *Telemetry) EnforcementDecision(hostname, path string, result *classify.Result, reuScore float64, mode, action string) {
	t.write(enforcementDecisionEntry{
		header:            newHeader(EntryEnforcementDecision),
		Hostname:          hostname,
		Path:              path,
		DetectionResult:   result,
		REUScore:          reuScore,
		EnforcementMode:   mode,
		EnforcementAction: action,
	})
}

// InspectionError records a classifier failure or timeout and the
// fail-open/fail-closed action taken.
func (t *Telemetry) InspectionError(requestID, hostname string, size int64, errMsg string, elapsed time.Duration, failOpen bool, action string) {
	t.counters.InspectionErrors.Add(1)
	t.write(inspectionErrorEntry{
		header:       newHeader(EntryInspectionError),
		RequestID:    requestID,
		Hostname:     hostname,
		FileSize:     size,
		ErrorMessage: errMsg,
		InspectionMS: elapsed.Milliseconds(),
		FailOpen:     failOpen,
		Action:       action,
	})
}

// BodyTooLarge records a declared body length over the hard cap.
func (t *Telemetry) BodyTooLarge(hostname string, declared, limit int64) {
	t.counters.SizeLimitHits.Add(1)
	t.write(sizeLimitEntry{
		header:        newHeader(EntrySizeLimit),
		Kind:          SizeLimitBody,
		Hostname:      hostname,
		DeclaredBytes: declared,
		LimitBytes:    limit,
	})
}

// AttachmentSizeLimit records a multipart body too large to inspect
// that was streamed through instead.
func (t *Telemetry) AttachmentSizeLimit(hostname string, declared, limit int64) {
	t.counters.SizeLimitHits.Add(1)
	t.write(sizeLimitEntry{
		header:        newHeader(EntrySizeLimit),
		Kind:          SizeLimitAttachment,
		Hostname:      hostname,
		DeclaredBytes: declared,
		LimitBytes:    limit,
	})
}

// PinningDetected records a host demotion after a pinning-signature
// TLS failure.
func (t *Telemetry) PinningDetected(hostname, signature string, strict bool) {
	t.counters.PinningDetections.Add(1)
	t.write(pinningDetectedEntry{
		header:     newHeader(EntryPinningDetected),
		Hostname:   hostname,
		Signature:  signature,
		StrictMode: strict,
	})
}

// ObserveInspection folds one inspection latency into the summaries and
// emits a warning line when it crossed the slow threshold.
func (t *Telemetry) ObserveInspection(bucket Bucket, elapsed time.Duration) {
	if !t.latency.Observe(bucket, elapsed) {
		return
	}
	t.logger.Warnw("Slow inspection",
		"bucket", bucket,
		"elapsed_ms", elapsed.Milliseconds(),
		"threshold_ms", SlowInspectionThreshold.Milliseconds())
	t.write(slowInspectionEntry{
		header:      newHeader(EntrySlowInspection),
		Bucket:      bucket,
		ElapsedMS:   elapsed.Milliseconds(),
		ThresholdMS: SlowInspectionThreshold.Milliseconds(),
	})
}

// Counters are the monotonic event counts reported in snapshots.
type Counters struct {
	ConnectsTotal     atomic.Uint64
	TunnelsPlain      atomic.Uint64
	TunnelsMetadata   atomic.Uint64
	RequestsInspected atomic.Uint64
	RequestsForwarded atomic.Uint64
	RequestsBlocked   atomic.Uint64
	RequestsWarned    atomic.Uint64
	RequestsRedacted  atomic.Uint64
	InspectionErrors  atomic.Uint64
	SizeLimitHits     atomic.Uint64
	PinningDetections atomic.Uint64
	TunnelBytesUp     atomic.Uint64
	TunnelBytesDown   atomic.Uint64
	PreciseTokens     atomic.Uint64
}

// CounterSnapshot is the JSON view of Counters.
type CounterSnapshot struct {
	ConnectsTotal     uint64 `json:"connects_total"`
	TunnelsPlain      uint64 `json:"tunnels_plain"`
	TunnelsMetadata   uint64 `json:"tunnels_metadata"`
	RequestsInspected uint64 `json:"requests_inspected"`
	RequestsForwarded uint64 `json:"requests_forwarded"`
	RequestsBlocked   uint64 `json:"requests_blocked"`
	RequestsWarned    uint64 `json:"requests_warned"`
	RequestsRedacted  uint64 `json:"requests_redacted"`
	InspectionErrors  uint64 `json:"inspection_errors"`
	SizeLimitHits     uint64 `json:"size_limit_hits"`
	PinningDetections uint64 `json:"pinning_detections"`
	TunnelBytesUp     uint64 `json:"tunnel_bytes_up"`
	TunnelBytesDown   uint64 `json:"tunnel_bytes_down"`
	PreciseTokens     uint64 `json:"precise_tokens"`
}

func (c *Counters) snapshot() CounterSnapshot {
	return CounterSnapshot{
		ConnectsTotal:     c.ConnectsTotal.Load(),
		TunnelsPlain:      c.TunnelsPlain.Load(),
		TunnelsMetadata:   c.TunnelsMetadata.Load(),
		RequestsInspected: c.RequestsInspected.Load(),
		RequestsForwarded: c.RequestsForwarded.Load(),
		RequestsBlocked:   c.RequestsBlocked.Load(),
		RequestsWarned:    c.RequestsWarned.Load(),
		RequestsRedacted:  c.RequestsRedacted.Load(),
		InspectionErrors:  c.InspectionErrors.Load(),
		SizeLimitHits:     c.SizeLimitHits.Load(),
		PinningDetections: c.PinningDetections.Load(),
		TunnelBytesUp:     c.TunnelBytesUp.Load(),
		TunnelBytesDown:   c.TunnelBytesDown.Load(),
		PreciseTokens:     c.PreciseTokens.Load(),
	}
}

// Snapshot is the point-in-time process view served by /proxy/metrics
// and written as metrics_snapshot.
type Snapshot struct {
	UptimeSeconds    float64                   `json:"uptime_seconds"`
	CPUUserSeconds   float64                   `json:"cpu_user_seconds"`
	CPUSystemSeconds float64                   `json:"cpu_system_seconds"`
	RSSBytes         uint64                    `json:"rss_bytes"`
	HeapAllocBytes   uint64                    `json:"heap_alloc_bytes"`
	HeapSysBytes     uint64                    `json:"heap_sys_bytes"`
	Goroutines       int                       `json:"goroutines"`
	Counters         CounterSnapshot           `json:"counters"`
	SlowInspections  uint64                    `json:"slow_inspections"`
	Latency          map[Bucket]LatencySummary `json:"inspection_latency"`
}

// Snapshot builds the current process snapshot.
func (t *Telemetry) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	user, system, rss := cpuAndRSS()

	return Snapshot{
		UptimeSeconds:    time.Since(t.start).Seconds(),
		CPUUserSeconds:   user,
		CPUSystemSeconds: system,
		RSSBytes:         rss,
		HeapAllocBytes:   mem.HeapAlloc,
		HeapSysBytes:     mem.HeapSys,
		Goroutines:       runtime.NumGoroutine(),
		Counters:         t.counters.snapshot(),
		SlowInspections:  t.latency.SlowCount(),
		Latency:          t.latency.Summaries(),
	}
}
