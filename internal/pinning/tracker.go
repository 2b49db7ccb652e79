package pinning

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/complyze/complyze-proxy/internal/storage"
)

// Mode says how the CONNECT router should treat a host.
type Mode string

const (
	// ModeDeepInspect terminates TLS and runs the inspection pipeline.
	ModeDeepInspect Mode = "deep-inspect"
	// ModeMetadataOnly tunnels bytes and records only connection metadata.
	ModeMetadataOnly Mode = "metadata-only"
)

// HostState is the runtime pinning state for one hostname.
type HostState struct {
	Mode           Mode
	Detections     uint64
	Reason         string
	LastDetectedAt time.Time
}

// Tracker keeps per-host pinning state in memory and mirrors it to the
// bolt store so demotions survive restarts. All methods are safe for
// concurrent use; the router reads on every CONNECT.
type Tracker struct {
	mu     sync.RWMutex
	hosts  map[string]*HostState
	db     *storage.BoltDB
	logger *zap.SugaredLogger

	// strict records failures without demoting, for environments that
	// would rather break a pinned client than lose inspection.
	strict bool
}

// NewTracker builds a Tracker hydrated from previously persisted
// records. db may be nil in tests; the tracker then runs memory-only.
func NewTracker(db *storage.BoltDB, strict bool, logger *zap.SugaredLogger) (*Tracker, error) {
	t := &Tracker{
		hosts:  make(map[string]*HostState),
		db:     db,
		logger: logger,
		strict: strict,
	}

	if db != nil {
		records, err := db.ListPinnedHosts()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			t.hosts[rec.Host] = &HostState{
				Mode:           ModeMetadataOnly,
				Detections:     rec.Failures,
				Reason:         rec.Signature,
				LastDetectedAt: rec.LastSeen,
			}
		}
		if len(records) > 0 {
			logger.Infow("Restored pinned hosts", "count", len(records))
		}
	}

	return t, nil
}

// ShouldInspect reports whether host may be deep-inspected. Hosts in
// metadata-only state are tunneled, unless strict mode keeps inspection
// on regardless of recorded failures.
func (t *Tracker) ShouldInspect(host string) bool {
	if t.strict {
		return true
	}

	t.mu.RLock()
	state, ok := t.hosts[host]
	t.mu.RUnlock()

	return !ok || state.Mode != ModeMetadataOnly
}

// State returns a copy of the host's pinning state, or nil when the
// host has never failed a handshake.
func (t *Tracker) State(host string) *HostState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, ok := t.hosts[host]
	if !ok {
		return nil
	}
	copied := *state
	return &copied
}

// RecordFailure classifies err and, when it matches a pinning
// signature, demotes host to metadata-only. It returns the matched
// signature and whether this call was the host's first demotion (the
// caller posts a control-plane event only once per host).
func (t *Tracker) RecordFailure(host, tool string, err error) (signature string, firstDetection bool) {
	signature, ok := Classify(err)
	if !ok {
		return "", false
	}

	t.mu.Lock()
	state, existed := t.hosts[host]
	if !existed {
		state = &HostState{Mode: ModeMetadataOnly, Reason: signature}
		if t.strict {
			// Strict mode records the detection but keeps inspecting.
			state.Mode = ModeDeepInspect
		}
		t.hosts[host] = state
	}
	state.Detections++
	state.LastDetectedAt = time.Now().UTC()
	t.mu.Unlock()

	if t.db != nil {
		if _, dbErr := t.db.RecordPinnedHost(host, tool, signature); dbErr != nil {
			t.logger.Warnw("Failed to persist pinned host", "host", host, "error", dbErr)
		}
	}

	if !existed {
		t.logger.Warnw("Certificate pinning detected, demoting host to metadata-only tunneling",
			"host", host,
			"signature", signature,
			"strict_pin_mode", t.strict)
	}
	return signature, !existed
}

// Reset clears the state for host so its next CONNECT is inspected
// again.
func (t *Tracker) Reset(host string) {
	t.mu.Lock()
	delete(t.hosts, host)
	t.mu.Unlock()

	if t.db != nil {
		if err := t.db.DeletePinnedHost(host); err != nil {
			t.logger.Warnw("Failed to delete pinned host record", "host", host, "error", err)
		}
	}
}

// Snapshot returns all host states keyed by hostname.
func (t *Tracker) Snapshot() map[string]HostState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]HostState, len(t.hosts))
	for host, state := range t.hosts {
		out[host] = *state
	}
	return out
}
