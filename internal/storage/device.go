package storage

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const deviceRecordKey = "identity"

// DeviceIdentity returns this installation's device record, creating
// and persisting one on first run. The ID is stable across restarts so
// the control plane sees one device, not one per launch.
func (b *BoltDB) DeviceIdentity() (*DeviceRecord, error) {
	var record *DeviceRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(DeviceBucket))
		data := bucket.Get([]byte(deviceRecordKey))
		if data == nil {
			return nil
		}
		record = &DeviceRecord{}
		return record.UnmarshalBinary(data)
	})
	if err != nil {
		return nil, fmt.Errorf("reading device identity: %w", err)
	}
	if record != nil {
		return record, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	record = &DeviceRecord{
		ID:        uuid.NewString(),
		Hostname:  hostname,
		OS:        runtime.GOOS,
		CreatedAt: time.Now().UTC(),
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(DeviceBucket))

		// Another process may have won the race while we were outside
		// the transaction.
		if data := bucket.Get([]byte(deviceRecordKey)); data != nil {
			return record.UnmarshalBinary(data)
		}

		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(deviceRecordKey), data)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting device identity: %w", err)
	}

	b.logger.Infow("Device identity ready", "device_id", record.ID, "hostname", record.Hostname)
	return record, nil
}
