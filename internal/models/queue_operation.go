// Package models provides data model definitions for the sync engine.
package models

import (
	"encoding/json"
	"time"
)

// OperationType represents a queued sync operation type.
type OperationType string

const (
	OperationCreate         OperationType = "create"
	OperationUpdate         OperationType = "update"
	OperationDelete         OperationType = "delete"
	OperationUploadMedia    OperationType = "uploadMedia"
	OperationFinalizeParent OperationType = "finalizeParent"
)

// EntityType identifies what a queue operation targets.
type EntityType string

const (
	EntityRecord EntityType = "record"
	EntityMedia  EntityType = "media"
)

// QueueOperation is a unit of work awaiting a sync pass. Operations are
// created on every local mutation and destroyed on terminal success or
// non-retryable failure.
type QueueOperation struct {
	ID            UUID            `db:"id" json:"id"`
	OperationType OperationType   `db:"operation_type" json:"operation_type"`
	EntityType    EntityType      `db:"entity_type" json:"entity_type"`
	EntityID      UUID            `db:"entity_id" json:"entity_id"`
	Payload       json.RawMessage `db:"payload" json:"payload,omitempty"`
	Priority      int             `db:"priority" json:"priority"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	MaxRetries    int             `db:"max_retries" json:"max_retries"`
	LastError     string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
	LastAttemptAt int64           `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
}

// TableName returns the table name for QueueOperation.
func (QueueOperation) TableName() string {
	return "sync_queue"
}

// Coalescable reports whether a new enqueue of this type folds into an
// existing queued operation for the same entity. Only updates coalesce;
// create, delete and uploadMedia are never collapsed.
func (t OperationType) Coalescable() bool {
	return t == OperationUpdate
}

// CreatedAtTime returns CreatedAt as time.Time.
func (o *QueueOperation) CreatedAtTime() time.Time {
	return time.Unix(o.CreatedAt, 0)
}
