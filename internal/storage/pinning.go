package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// RecordPinnedHost upserts a pinning record for host. A repeat failure
// bumps the counter and the last-seen timestamp; the original signature
// and first-seen time are preserved.
func (b *BoltDB) RecordPinnedHost(host, tool, signature string) (*PinnedHostRecord, error) {
	var record PinnedHostRecord

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(PinnedHostsBucket))

		now := time.Now().UTC()
		if data := bucket.Get([]byte(host)); data != nil {
			if err := record.UnmarshalBinary(data); err != nil {
				return err
			}
		} else {
			record = PinnedHostRecord{
				Host:      host,
				Tool:      tool,
				Signature: signature,
				FirstSeen: now,
			}
		}

		record.Failures++
		record.LastSeen = now

		data, err := record.MarshalBinary()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(host), data)
	})
	if err != nil {
		return nil, fmt.Errorf("recording pinned host %s: %w", host, err)
	}

	return &record, nil
}

// GetPinnedHost returns the pinning record for host, or nil when the
// host has never failed a handshake.
func (b *BoltDB) GetPinnedHost(host string) (*PinnedHostRecord, error) {
	var record *PinnedHostRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(PinnedHostsBucket))
		data := bucket.Get([]byte(host))
		if data == nil {
			return nil
		}
		record = &PinnedHostRecord{}
		return record.UnmarshalBinary(data)
	})

	return record, err
}

// ListPinnedHosts returns all pinning records.
func (b *BoltDB) ListPinnedHosts() ([]*PinnedHostRecord, error) {
	var records []*PinnedHostRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(PinnedHostsBucket))
		return bucket.ForEach(func(_, v []byte) error {
			record := &PinnedHostRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})

	return records, err
}

// DeletePinnedHost removes a pinning record, re-enabling inspection for
// the host on its next connection.
func (b *BoltDB) DeletePinnedHost(host string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(PinnedHostsBucket))
		return bucket.Delete([]byte(host))
	})
}
