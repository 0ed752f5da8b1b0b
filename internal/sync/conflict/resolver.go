// Package conflict provides conflict detection and resolution for
// bidirectional synchronization between the local store and the server.
package conflict

import (
	"encoding/json"
	"time"

	"github.com/fieldvault/fieldsync/internal/logging"
	"github.com/fieldvault/fieldsync/internal/models"
)

// Disposition classifies what the pull phase should do with a record
// after comparing local and remote state.
type Disposition string

const (
	// DispositionPushLocal means the remote copy has not changed since the
	// last sync; local pending edits (if any) win and are pushed as usual.
	DispositionPushLocal Disposition = "push_local"
	// DispositionAdoptRemote means the remote copy changed and the local
	// record carries no pending edit; the remote payload is applied.
	DispositionAdoptRemote Disposition = "adopt_remote"
	// DispositionConflict means both sides changed since the last sync.
	DispositionConflict Disposition = "conflict"
)

// Resolution identifies how a detected conflict was (or is to be) settled.
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keepLocal"
	ResolutionKeepServer Resolution = "keepServer"
	ResolutionMerge      Resolution = "merge"
	ResolutionManual     Resolution = "manual"
)

// Conflict captures both sides of a concurrent edit on one record.
type Conflict struct {
	RecordID        models.UUID
	Local           *models.Record
	RemotePayload   *models.Payload
	LocalTimestamp  int64
	RemoteTimestamp int64
	DetectedAt      int64
}

// Outcome is the result of applying a Policy to a Conflict.
// Payload is the version to persist locally; it is nil when the policy
// defers to manual review and the local copy stays untouched.
type Outcome struct {
	Resolution Resolution
	Payload    *models.Payload
	Log        *models.ConflictLog
}

// Detect compares a local record against the remote copy's updatedAt and
// returns the disposition for the pull phase. remoteUpdatedAt is the
// server's timestamp for the record as returned by the list endpoint.
func Detect(local *models.Record, remoteUpdatedAt int64) Disposition {
	// Remote unchanged since we last synced: any local edit wins and
	// flows out through the push queue.
	if remoteUpdatedAt <= local.LastSyncedAt {
		return DispositionPushLocal
	}

	// Remote changed, local clean: take the remote version wholesale.
	if !local.HasPendingEdit() {
		return DispositionAdoptRemote
	}

	logging.Warn("Concurrent edit detected",
		map[string]interface{}{
			"record_id":        local.ID,
			"local_timestamp":  local.LocalUpdatedAt,
			"remote_timestamp": remoteUpdatedAt,
		})

	return DispositionConflict
}

// NewConflict builds a Conflict from a local record and the remote payload.
func NewConflict(local *models.Record, remotePayload *models.Payload, remoteUpdatedAt int64) *Conflict {
	return &Conflict{
		RecordID:        local.ID,
		Local:           local,
		RemotePayload:   remotePayload,
		LocalTimestamp:  local.LocalUpdatedAt,
		RemoteTimestamp: remoteUpdatedAt,
		DetectedAt:      time.Now().Unix(),
	}
}

// Policy decides the outcome of a detected conflict.
type Policy interface {
	Resolve(c *Conflict) (*Outcome, error)
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: local record and remote payload must be non-nil"}
	ErrNoFieldResolver = &ConflictError{Message: "merge policy requires a field resolver"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// =====================================================================
// Manual policy
// =====================================================================

// ManualPolicy surfaces conflicts to the user instead of auto-resolving.
// The local copy stays visible and editable; the record is flagged until
// the user picks a side.
type ManualPolicy struct{}

// Resolve flags the conflict for review. The returned outcome has no
// winning payload; the caller marks the record and records the log entry.
func (ManualPolicy) Resolve(c *Conflict) (*Outcome, error) {
	if c == nil || c.Local == nil || c.RemotePayload == nil {
		return nil, ErrInvalidConflict
	}

	logging.Warn("Conflict queued for manual review",
		map[string]interface{}{
			"record_id":        c.RecordID,
			"local_timestamp":  c.LocalTimestamp,
			"remote_timestamp": c.RemoteTimestamp,
		})

	return &Outcome{
		Resolution: ResolutionManual,
		Log:        newLog(c, ResolutionManual),
	}, nil
}

// =====================================================================
// Last-writer-wins policy
// =====================================================================

// LastWriterWinsPolicy auto-resolves by timestamp: the side with the newer
// update wins. Ties keep local so the user's copy is never silently lost.
type LastWriterWinsPolicy struct{}

// Resolve picks the newer side and returns its payload.
func (LastWriterWinsPolicy) Resolve(c *Conflict) (*Outcome, error) {
	if c == nil || c.Local == nil || c.RemotePayload == nil {
		return nil, ErrInvalidConflict
	}

	resolution := ResolutionKeepLocal
	payload := &c.Local.Payload
	if c.RemoteTimestamp > c.LocalTimestamp {
		resolution = ResolutionKeepServer
		payload = c.RemotePayload
	}

	logging.Info("Conflict resolved by last-writer-wins",
		map[string]interface{}{
			"record_id":        c.RecordID,
			"local_timestamp":  c.LocalTimestamp,
			"remote_timestamp": c.RemoteTimestamp,
			"resolution":       resolution,
		})

	return &Outcome{
		Resolution: resolution,
		Payload:    payload,
		Log:        newLog(c, resolution),
	}, nil
}

// =====================================================================
// Field-merge policy
// =====================================================================

// FieldResolver picks a winning value for one payload field given both
// sides. It is only consulted for fields present on both sides with
// differing values.
type FieldResolver func(field string, local, remote interface{}) interface{}

// MergePolicy combines both payloads field by field. Fields present on
// only one side are kept; fields that differ on both sides go through
// the FieldResolver. Photo lists are unioned.
type MergePolicy struct {
	Resolver FieldResolver
}

// Resolve produces a merged payload.
func (p MergePolicy) Resolve(c *Conflict) (*Outcome, error) {
	if c == nil || c.Local == nil || c.RemotePayload == nil {
		return nil, ErrInvalidConflict
	}
	if p.Resolver == nil {
		return nil, ErrNoFieldResolver
	}

	merged := c.Local.Payload.Clone()

	for field, remoteVal := range c.RemotePayload.Fields {
		localVal, exists := merged.Fields[field]
		if !exists {
			merged.Fields[field] = remoteVal
			continue
		}
		if !valuesEqual(localVal, remoteVal) {
			merged.Fields[field] = p.Resolver(field, localVal, remoteVal)
		}
	}

	merged.Photos = unionPhotos(c.Local.Payload.Photos, c.RemotePayload.Photos)

	logging.Info("Conflict resolved by field merge",
		map[string]interface{}{
			"record_id":        c.RecordID,
			"local_timestamp":  c.LocalTimestamp,
			"remote_timestamp": c.RemoteTimestamp,
		})

	return &Outcome{
		Resolution: ResolutionMerge,
		Payload:    &merged,
		Log:        newLog(c, ResolutionMerge),
	}, nil
}

// PreferNewer is a FieldResolver that picks the remote value when the
// remote copy is newer and the local value otherwise. It closes over the
// conflict's timestamps, so build it per conflict.
func PreferNewer(c *Conflict) FieldResolver {
	return func(field string, local, remote interface{}) interface{} {
		if c.RemoteTimestamp > c.LocalTimestamp {
			return remote
		}
		return local
	}
}

func newLog(c *Conflict, resolution Resolution) *models.ConflictLog {
	return &models.ConflictLog{
		RecordID:        c.RecordID,
		LocalTimestamp:  c.LocalTimestamp,
		RemoteTimestamp: c.RemoteTimestamp,
		Resolution:      string(resolution),
		DetectedAt:      c.DetectedAt,
	}
}

func valuesEqual(a, b interface{}) bool {
	// Payload fields come out of JSON, so scalar comparison covers the
	// common cases. Composite values fall back to re-marshalling.
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}

func unionPhotos(local, remote []string) []string {
	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]string, 0, len(local)+len(remote))
	for _, p := range local {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range remote {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
