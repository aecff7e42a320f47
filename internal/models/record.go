package models

import (
	"encoding/json"
	"time"
)

// SyncStatus is local-only bookkeeping and is never transmitted remotely
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// TimestampLayout is fixed-width so that lexicographic order equals chronological order
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// EpochZero seeds the first pull when the local store is empty
var EpochZero = time.Unix(0, 0).UTC()

// Record is one attendance registration as held by the local durable queue
type Record struct {
	ID         int64           `db:"id"` // local key, never leaves the device
	UUID       string          `db:"uuid"`
	UpdatedAt  time.Time       `db:"updated_at"`
	Payload    json.RawMessage `db:"payload"`
	SyncStatus SyncStatus      `db:"sync_status"`
	SyncedAt   *time.Time      `db:"synced_at"`
}

// RemoteRecord is the shape exchanged with the remote store
type RemoteRecord struct {
	UUID      string          `json:"uuid"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Remote strips the local-only fields
func (r Record) Remote() RemoteRecord {
	return RemoteRecord{
		UUID:      r.UUID,
		UpdatedAt: r.UpdatedAt,
		Payload:   r.Payload,
	}
}

// Local builds the local representation of a record received from the remote store
func (r RemoteRecord) Local(status SyncStatus) Record {
	return Record{
		UUID:       r.UUID,
		UpdatedAt:  NormalizeTime(r.UpdatedAt),
		Payload:    r.Payload,
		SyncStatus: status,
	}
}

// Now returns the current write timestamp in the precision shared by every store
func Now() time.Time {
	return NormalizeTime(time.Now())
}

// NormalizeTime converts to UTC microseconds, the precision of Postgres timestamptz
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FormatTimestamp renders t with TimestampLayout
func FormatTimestamp(t time.Time) string {
	return NormalizeTime(t).Format(TimestampLayout)
}

// ParseTimestamp accepts TimestampLayout as well as any RFC3339 variant
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return NormalizeTime(t), nil
}
