// Package models provides data model definitions for the sync engine.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for id type safety.
// Holds either a remote-issued id or a local_ prefixed temporary id.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// SyncStatus represents a record's synchronization state.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusConflict is terminal until an explicit resolution action
	// transitions the record back to pending or synced.
	SyncStatusConflict SyncStatus = "conflict"
)

// Record is a syncable unit of structured business data.
// Timestamps are unix seconds; 0 means unset.
type Record struct {
	ID              UUID       `db:"id" json:"id"`
	OwnerRef        string     `db:"owner_ref" json:"owner_ref"`
	ParentRef       UUID       `db:"parent_ref" json:"parent_ref,omitempty"`
	Payload         Payload    `db:"payload" json:"payload"`
	SyncStatus      SyncStatus `db:"sync_status" json:"sync_status"`
	LocalUpdatedAt  int64      `db:"local_updated_at" json:"local_updated_at"`
	ServerUpdatedAt int64      `db:"server_updated_at" json:"server_updated_at,omitempty"`
	LastSyncedAt    int64      `db:"last_synced_at" json:"last_synced_at,omitempty"`
	IsDeleted       bool       `db:"is_deleted" json:"is_deleted"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "records"
}

// HasPendingEdit reports whether the record carries a local edit that has
// not reached the remote authority.
func (r *Record) HasPendingEdit() bool {
	if r.SyncStatus != SyncStatusPending {
		return false
	}
	return r.LastSyncedAt == 0 || r.LocalUpdatedAt > r.LastSyncedAt
}

// Touch updates the LocalUpdatedAt timestamp and marks the record pending.
func (r *Record) Touch() {
	r.LocalUpdatedAt = time.Now().Unix()
	r.SyncStatus = SyncStatusPending
}

// LocalUpdatedAtTime returns LocalUpdatedAt as time.Time.
func (r *Record) LocalUpdatedAtTime() time.Time {
	return time.Unix(r.LocalUpdatedAt, 0)
}
