package storage

import (
	"encoding/json"
	"time"
)

// bbolt bucket names.
const (
	MetaBucket        = "meta"
	DeviceBucket      = "device"
	PinnedHostsBucket = "pinned_hosts"
)

// SchemaVersionKey is the meta-bucket key holding the schema version.
const SchemaVersionKey = "schema"

// CurrentSchemaVersion is bumped whenever the stored layout changes.
const CurrentSchemaVersion = 1

// DeviceRecord identifies this proxy installation across restarts.
// Heartbeats and events carry its ID so the control plane can group
// traffic per device.
type DeviceRecord struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	OS        string    `json:"os"`
	CreatedAt time.Time `json:"created_at"`
}

// PinnedHostRecord tracks a host whose TLS clients refused the
// interception certificate. Once recorded, traffic to the host is
// tunneled with metadata-only logging instead of being inspected.
type PinnedHostRecord struct {
	Host      string    `json:"host"`
	Tool      string    `json:"tool,omitempty"`
	Signature string    `json:"signature"`
	Failures  uint64    `json:"failures"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Records are stored as JSON so a schema bump can migrate them by key.

func (d *DeviceRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(d)
}

func (d *DeviceRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, d)
}

func (p *PinnedHostRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(p)
}

func (p *PinnedHostRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, p)
}
