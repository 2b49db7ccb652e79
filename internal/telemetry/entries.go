package telemetry

import (
	"time"

	"github.com/complyze/complyze-proxy/internal/classify"
)

// Entry types. Dashboards and the log shipper key on these strings.
const (
	EntryProxyStart          = "proxy_start"
	EntryEnforcementDecision = "enforcement_decision"
	EntryInspectionError     = "inspection_error"
	EntrySizeLimit           = "size_limit"
	EntryMetricsSnapshot     = "metrics_snapshot"
	EntryMemoryLimit         = "memory_limit"
	EntrySlowInspection      = "slow_inspection"
	EntryPinningDetected     = "pinning_detected"
)

// Size-limit kinds.
const (
	SizeLimitBody       = "body_too_large"
	SizeLimitAttachment = "attachment_size_limit"
)

// header is embedded in every entry so each JSON line opens with the
// entry type and timestamp.
type header struct {
	Entry string `json:"entry"`
	Time  string `json:"ts"`
}

func newHeader(entry string) header {
	return header{Entry: entry, Time: time.Now().UTC().Format(time.RFC3339Nano)}
}

type proxyStartEntry struct {
	header
	OS          string `json:"os"`
	Hostname    string `json:"hostname"`
	ProxyPort   int    `json:"proxy_port"`
	MonitorMode string `json:"monitor_mode"`
	FailOpen    bool   `json:"fail_open"`
}

type enforcementDecisionEntry struct {
	header
	Hostname          string           `json:"hostname"`
	Path              string           `json:"path"`
	DetectionResult   *classify.Result `json:"detection_result"`
	REUScore          float64          `json:"reu_score"`
	EnforcementMode   string           `json:"enforcement_mode"`
	EnforcementAction string           `json:"enforcement_action"`
}

type inspectionErrorEntry struct {
	header
	RequestID    string `json:"request_id"`
	Hostname     string `json:"hostname"`
	FileSize     int64  `json:"file_size"`
	ErrorMessage string `json:"error_message"`
	InspectionMS int64  `json:"inspection_ms"`
	FailOpen     bool   `json:"fail_open"`
	Action       string `json:"action"`
}

type sizeLimitEntry struct {
	header
	Kind          string `json:"kind"`
	Hostname      string `json:"hostname"`
	DeclaredBytes int64  `json:"declared_bytes"`
	LimitBytes    int64  `json:"limit_bytes"`
}

type memoryLimitEntry struct {
	header
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	LimitBytes     uint64 `json:"limit_bytes"`
}

type slowInspectionEntry struct {
	header
	Bucket      Bucket `json:"bucket"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	ThresholdMS int64  `json:"threshold_ms"`
}

type pinningDetectedEntry struct {
	header
	Hostname   string `json:"hostname"`
	Signature  string `json:"signature"`
	StrictMode bool   `json:"strict_mode"`
}

type metricsSnapshotEntry struct {
	header
	Snapshot
}
