// Package queue provides the typed layer over persisted sync operations:
// operation constructors, drain priorities and the retry backoff policy.
package queue

import (
	"encoding/json"
	"time"

	"github.com/fieldvault/fieldsync/internal/models"
)

// Drain priorities. Higher drains first; ties break on creation time.
// Deletes go first so tombstones propagate before dependent writes,
// creates before updates so parents exist when children push.
const (
	PriorityDelete         = 40
	PriorityCreate         = 30
	PriorityUpdate         = 20
	PriorityUploadMedia    = 10
	PriorityFinalizeParent = 5
)

// DefaultMaxRetries bounds transient retry attempts per operation.
const DefaultMaxRetries = 5

// NewCreate builds a create operation for a record.
func NewCreate(recordID models.UUID, payload json.RawMessage) *models.QueueOperation {
	return newOperation(models.OperationCreate, models.EntityRecord, recordID, payload, PriorityCreate)
}

// NewUpdate builds an update operation for a record. Enqueueing coalesces
// with any queued update for the same record.
func NewUpdate(recordID models.UUID, payload json.RawMessage) *models.QueueOperation {
	return newOperation(models.OperationUpdate, models.EntityRecord, recordID, payload, PriorityUpdate)
}

// NewDelete builds a delete operation for a record.
func NewDelete(recordID models.UUID) *models.QueueOperation {
	return newOperation(models.OperationDelete, models.EntityRecord, recordID, nil, PriorityDelete)
}

// NewUploadMedia builds an upload operation for a media asset.
func NewUploadMedia(assetID models.UUID) *models.QueueOperation {
	return newOperation(models.OperationUploadMedia, models.EntityMedia, assetID, nil, PriorityUploadMedia)
}

// NewFinalizeParent builds a finalize operation for a parent record.
func NewFinalizeParent(recordID models.UUID, payload json.RawMessage) *models.QueueOperation {
	return newOperation(models.OperationFinalizeParent, models.EntityRecord, recordID, payload, PriorityFinalizeParent)
}

func newOperation(opType models.OperationType, entityType models.EntityType,
	entityID models.UUID, payload json.RawMessage, priority int) *models.QueueOperation {
	return &models.QueueOperation{
		OperationType: opType,
		EntityType:    entityType,
		EntityID:      entityID,
		Payload:       payload,
		Priority:      priority,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     time.Now().Unix(),
	}
}

// BackoffPolicy controls transient retry pacing: base × multiplier^retries,
// capped at MaxDelay.
type BackoffPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultBackoffPolicy returns the default exponential backoff:
// 1 minute doubling up to 1 hour.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  time.Minute,
		Multiplier: 2,
		MaxDelay:   time.Hour,
	}
}

// Delay returns the wait before the attempt following retryCount failures.
func (p BackoffPolicy) Delay(retryCount int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 0; i < retryCount; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Due reports whether an operation is eligible for an attempt at now.
// A never-attempted operation is always due; a previously failed one
// waits out its backoff delay.
func (p BackoffPolicy) Due(op *models.QueueOperation, now time.Time) bool {
	if op.LastAttemptAt == 0 || op.RetryCount == 0 {
		return true
	}
	next := time.Unix(op.LastAttemptAt, 0).Add(p.Delay(op.RetryCount))
	return !now.Before(next)
}

// Exhausted reports whether an operation has spent all its retries.
func Exhausted(op *models.QueueOperation) bool {
	return op.RetryCount >= op.MaxRetries
}
