// Package sync implements the single-flight orchestrator that reconciles
// the local store with the remote authority: it drains the operation
// queue (media first, then records), consults the conflict resolver when
// remote state has moved, and pulls remote entity lists back into the
// local store.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/fieldvault/fieldsync/internal/db"
	apperrors "github.com/fieldvault/fieldsync/internal/errors"
	"github.com/fieldvault/fieldsync/internal/logging"
	"github.com/fieldvault/fieldsync/internal/models"
	"github.com/fieldvault/fieldsync/internal/remote"
	"github.com/fieldvault/fieldsync/internal/sync/conflict"
	"github.com/fieldvault/fieldsync/internal/sync/media"
	"github.com/fieldvault/fieldsync/internal/sync/queue"
	"github.com/fieldvault/fieldsync/internal/uuid"
)

// RemoteClient is the slice of the remote API the orchestrator uses.
// *remote.Client satisfies it; tests substitute fakes.
type RemoteClient interface {
	Online(ctx context.Context) bool
	ListEntities(ctx context.Context, owner, parent string) ([]remote.Entity, error)
	GetEntity(ctx context.Context, id string) (*remote.Entity, error)
	CreateEntity(ctx context.Context, owner, parent string, payload json.RawMessage) (*remote.CreateResult, error)
	UpdateEntity(ctx context.Context, id string, payload json.RawMessage) (int64, error)
	DeleteEntity(ctx context.Context, id string) error
}

// Status summarizes the orchestrator's current state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// Result reports the work performed by one sync pass.
type Result struct {
	// Skipped is set when the pass did no work: another pass was already
	// in flight, or the device was offline.
	Skipped bool
	// Offline is set when the connectivity check failed.
	Offline bool
	// AuthAborted is set when a 401/403 aborted the pass; the caller must
	// reauthenticate before syncing again.
	AuthAborted bool

	Uploaded  int // media assets uploaded
	Pushed    int // queue operations applied remotely
	Pulled    int // records inserted or overwritten from the remote list
	Failed    int // units that failed this pass (retryable or not)
	Cancelled int // operations cascade-cancelled under a terminal parent
	Conflicts int // conflicts detected or resolved during the pull phase

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// Config carries the orchestrator's tunables.
type Config struct {
	// Owner scopes every pass to the acting user/session.
	Owner string
	// Policy resolves conflicts detected during the pull phase.
	// Defaults to manual resolution.
	Policy conflict.Policy
	// Backoff gates retry attempts for queued operations.
	Backoff queue.BackoffPolicy
}

// Engine is the sync orchestrator. At most one pass runs at a time
// process-wide; concurrent Sync calls return a zero-work result.
type Engine struct {
	repo   *db.Repository
	remote RemoteClient
	media  *media.Pipeline

	owner   string
	policy  conflict.Policy
	backoff queue.BackoffPolicy

	running atomic.Bool
	notifier

	mu       gosync.Mutex
	lastSync *time.Time
	lastErr  error
}

// NewEngine creates an Engine. A nil Policy defaults to manual resolution
// and a zero Backoff to the default exponential policy.
func NewEngine(repo *db.Repository, client RemoteClient, pipeline *media.Pipeline, cfg Config) *Engine {
	policy := cfg.Policy
	if policy == nil {
		policy = conflict.ManualPolicy{}
	}
	backoff := cfg.Backoff
	if backoff.BaseDelay == 0 {
		backoff = queue.DefaultBackoffPolicy()
	}
	return &Engine{
		repo:    repo,
		remote:  client,
		media:   pipeline,
		owner:   cfg.Owner,
		policy:  policy,
		backoff: backoff,
	}
}

// Status returns the orchestrator's current state.
func (e *Engine) Status() Status {
	if e.running.Load() {
		return StatusSyncing
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr != nil {
		return StatusFailed
	}
	return StatusIdle
}

// LastSync returns when the last successful pass finished, or nil.
func (e *Engine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// LastError returns the error from the most recent pass, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// PendingChanges returns the number of queued operations.
func (e *Engine) PendingChanges() int {
	n, err := e.repo.QueueSize()
	if err != nil {
		return 0
	}
	return n
}

// Sync runs one full pass: connectivity check, media uploads, queue
// drain, then remote-list reconciliation. A call arriving while a pass
// is in flight returns immediately with a zero-work result.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return &Result{Skipped: true}, nil
	}
	defer e.running.Store(false)

	result := &Result{StartTime: time.Now()}
	var passErr error
	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)

		e.mu.Lock()
		e.lastErr = passErr
		if passErr == nil && !result.Skipped {
			e.lastSync = &result.EndTime
		}
		e.mu.Unlock()
	}()

	// Connectivity is checked before any mutation; offline is a normal
	// zero-work outcome, not an error.
	if !e.remote.Online(ctx) {
		result.Skipped = true
		result.Offline = true
		logging.Info("Sync skipped: offline")
		return result, nil
	}

	ops, err := e.repo.DequeueAll()
	if err != nil {
		passErr = err
		return result, err
	}
	uploadable, err := e.repo.ListUploadableMediaAssets()
	if err != nil {
		passErr = err
		return result, err
	}

	prog := Progress{Phase: PhaseMedia, Total: len(ops) + len(uploadable)}
	e.publish(prog)

	logging.Info("Sync pass started",
		map[string]interface{}{
			"owner":        e.owner,
			"queued_ops":   len(ops),
			"media_assets": len(uploadable),
		})

	// Phase A.1: media uploads, bounded concurrency, per-asset isolation.
	mres, err := e.media.UploadAll(ctx)
	if err != nil {
		passErr = err
		return result, err
	}
	result.Uploaded = mres.Uploaded
	result.Failed += mres.Failed
	prog.Completed += mres.Uploaded
	prog.Failed += mres.Failed
	if mres.AuthFailed {
		result.AuthAborted = true
		passErr = apperrors.New(apperrors.ErrAuthFailed, "reauthentication required")
		e.publishDone(prog)
		return result, passErr
	}

	// Phase A.2: drain the queue in priority order.
	prog.Phase = PhasePush
	now := time.Now()
	cancelled := make(map[string]bool)
	parents := make(map[string]*remote.Entity)

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			passErr = err
			e.publishDone(prog)
			return result, err
		}
		if cancelled[string(op.EntityID)] {
			continue
		}
		if !e.backoff.Due(op, now) {
			continue
		}

		prog.CurrentOperation = fmt.Sprintf("%s %s", op.OperationType, op.EntityID)
		e.publish(prog)

		err := e.processOperation(ctx, op, cancelled, parents, result, &prog)
		if apperrors.IsAuthFailure(err) {
			// Record the failure on the attempted operation without
			// touching its retry count, leave everything else queued,
			// and abort the pass.
			op.LastError = err.Error()
			op.LastAttemptAt = time.Now().Unix()
			if uerr := e.repo.UpdateQueueOperation(op); uerr != nil {
				logging.Error("Failed to record auth failure on operation", uerr,
					map[string]interface{}{"operation_id": op.ID})
			}
			result.AuthAborted = true
			passErr = err
			e.publishDone(prog)
			return result, err
		}
	}

	// Phase B: pull the authoritative lists and reconcile.
	prog.Phase = PhasePull
	prog.CurrentOperation = "reconciling remote entities"
	e.publish(prog)

	if err := e.pull(ctx, result); err != nil {
		passErr = err
		e.publishDone(prog)
		return result, err
	}

	e.publishDone(prog)
	logging.Info("Sync pass complete",
		map[string]interface{}{
			"uploaded":  result.Uploaded,
			"pushed":    result.Pushed,
			"pulled":    result.Pulled,
			"failed":    result.Failed,
			"cancelled": result.Cancelled,
			"conflicts": result.Conflicts,
		})

	return result, nil
}

func (e *Engine) publishDone(prog Progress) {
	prog.Phase = PhaseDone
	prog.CurrentOperation = ""
	e.publish(prog)
}

// =====================================================================
// Phase A: push
// =====================================================================

func (e *Engine) processOperation(ctx context.Context, op *models.QueueOperation,
	cancelled map[string]bool, parents map[string]*remote.Entity,
	result *Result, prog *Progress) error {

	var err error
	switch op.OperationType {
	case models.OperationCreate, models.OperationUpdate, models.OperationFinalizeParent:
		err = e.pushRecord(ctx, op, cancelled, parents, result)
	case models.OperationDelete:
		err = e.pushDelete(ctx, op, result)
	case models.OperationUploadMedia:
		err = e.settleMediaOperation(op, result)
	default:
		logging.Warn("Removing operation of unknown type",
			map[string]interface{}{"operation_id": op.ID, "type": op.OperationType})
		err = e.repo.RemoveFromQueue(string(op.ID))
	}

	switch {
	case err == nil:
		prog.Completed++
	case apperrors.IsAuthFailure(err):
		return err
	default:
		prog.Failed++
	}
	e.publish(*prog)
	return err
}

// pushRecord sends a create, update, or finalize for one record. The
// record's row is read fresh so id reconciliation and media rewrites
// from earlier in the pass are visible.
func (e *Engine) pushRecord(ctx context.Context, op *models.QueueOperation,
	cancelled map[string]bool, parents map[string]*remote.Entity, result *Result) error {

	rec, err := e.repo.GetRecord(string(op.EntityID))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			// Record vanished locally; the operation has nothing to do.
			return e.repo.RemoveFromQueue(string(op.ID))
		}
		return err
	}

	if rec.ParentRef != "" {
		if uuid.IsLocal(string(rec.ParentRef)) {
			// Parent creation has not succeeded yet; leave this queued
			// untouched for a later pass.
			return nil
		}
		terminal, err := e.parentTerminal(ctx, string(rec.ParentRef), parents)
		if err != nil {
			return e.recordFailure(op, rec, err, result)
		}
		if terminal {
			return e.cascadeCancel(string(rec.ParentRef), cancelled, result)
		}
	}

	// Rewrite uploaded photo references to server URLs. Unresolved local
	// references are preserved, never dropped; the record stays pending
	// until a later pass resolves them.
	payload := rec.Payload.Clone()
	unresolved, err := e.media.RewriteRefs(&payload, rec.ID)
	if err != nil {
		return err
	}
	wire, err := payload.MarshalWire()
	if err != nil {
		return err
	}

	var serverID string
	var updatedAt int64
	switch op.OperationType {
	case models.OperationCreate:
		res, cerr := e.remote.CreateEntity(ctx, rec.OwnerRef, string(rec.ParentRef), wire)
		if cerr != nil {
			return e.recordFailure(op, rec, cerr, result)
		}
		serverID = res.ID
		updatedAt = res.UpdatedAt
	default:
		updatedAt, err = e.remote.UpdateEntity(ctx, string(rec.ID), wire)
		if err != nil {
			return e.recordFailure(op, rec, err, result)
		}
		serverID = string(rec.ID)
	}

	if op.OperationType == models.OperationCreate {
		if err := e.repo.ReconcileID(string(rec.ID), serverID); err != nil {
			return err
		}
	}

	rec, err = e.repo.GetRecord(serverID)
	if err != nil {
		return err
	}
	rec.Payload = payload
	rec.ServerUpdatedAt = updatedAt
	rec.LastSyncedAt = updatedAt
	if unresolved == 0 {
		rec.SyncStatus = models.SyncStatusSynced
	} else {
		rec.SyncStatus = models.SyncStatusPending
	}
	if err := e.repo.UpsertRecord(rec); err != nil {
		return err
	}
	if err := e.repo.RemoveFromQueue(string(op.ID)); err != nil {
		return err
	}

	if unresolved > 0 {
		// Re-push once the remaining photos upload.
		if _, err := e.repo.Enqueue(queue.NewUpdate(rec.ID, wire)); err != nil {
			return err
		}
	}

	result.Pushed++
	return nil
}

// pushDelete propagates a local tombstone. Records created offline and
// deleted before ever reaching the server are purged without a network
// call, along with any queued operations for them.
func (e *Engine) pushDelete(ctx context.Context, op *models.QueueOperation, result *Result) error {
	id := string(op.EntityID)

	if uuid.IsLocal(id) {
		if _, err := e.repo.RemoveOperationsForEntities([]string{id}); err != nil {
			return err
		}
		if err := e.repo.PurgeRecord(id); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		result.Pushed++
		return nil
	}

	err := e.remote.DeleteEntity(ctx, id)
	if err != nil && !apperrors.Is(err, apperrors.ErrEntityGone) {
		return e.recordFailure(op, nil, err, result)
	}

	// Confirmed on both sides: the tombstone has propagated.
	if err := e.repo.PurgeRecord(id); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if err := e.repo.RemoveFromQueue(string(op.ID)); err != nil {
		return err
	}
	result.Pushed++
	return nil
}

// settleMediaOperation reconciles an uploadMedia queue entry against the
// asset state left by the media phase. Uploads themselves happen in
// UploadAll; the queue entry only carries retry bookkeeping.
func (e *Engine) settleMediaOperation(op *models.QueueOperation, result *Result) error {
	asset, err := e.repo.GetMediaAsset(string(op.EntityID))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return e.repo.RemoveFromQueue(string(op.ID))
		}
		return err
	}

	if asset.UploadStatus == models.UploadStatusUploaded {
		return e.repo.RemoveFromQueue(string(op.ID))
	}

	// Still pending or failed after the media phase: count a retry.
	// The failed attempt itself is already in Result.Failed via the
	// media phase; only the queue entry is settled here.
	op.RetryCount++
	op.LastError = asset.LastError
	op.LastAttemptAt = time.Now().Unix()
	if queue.Exhausted(op) {
		logging.Warn("Media upload retries exhausted",
			map[string]interface{}{"asset_id": asset.ID, "last_error": asset.LastError})
		return e.repo.RemoveFromQueue(string(op.ID))
	}
	if err := e.repo.UpdateQueueOperation(op); err != nil {
		return err
	}
	return apperrors.New(apperrors.ErrTransient, "media upload still pending")
}

// parentTerminal checks (and caches for the pass) whether a record's
// remote parent is finalized or gone.
func (e *Engine) parentTerminal(ctx context.Context, parentID string, parents map[string]*remote.Entity) (bool, error) {
	if ent, ok := parents[parentID]; ok {
		return ent == nil || ent.Terminal(), nil
	}
	ent, err := e.remote.GetEntity(ctx, parentID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrEntityGone) {
			parents[parentID] = nil
			return true, nil
		}
		return false, err
	}
	parents[parentID] = ent
	return ent.Terminal(), nil
}

// cascadeCancel removes every queued operation under a terminal parent
// and marks the affected records conflict. None of them are retried.
func (e *Engine) cascadeCancel(parentID string, cancelled map[string]bool, result *Result) error {
	children, err := e.repo.ListRecordsByParent(parentID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(children)+1)
	ids = append(ids, parentID)
	for _, child := range children {
		ids = append(ids, string(child.ID))
	}

	removed, err := e.repo.RemoveOperationsForEntities(ids)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	for _, child := range children {
		if child.SyncStatus == models.SyncStatusSynced && !child.HasPendingEdit() {
			continue
		}
		if err := e.repo.SetSyncStatus(string(child.ID), models.SyncStatusConflict); err != nil {
			return err
		}
		cl := &models.ConflictLog{
			RecordID:        child.ID,
			LocalTimestamp:  child.LocalUpdatedAt,
			RemoteTimestamp: 0,
			Resolution:      "parent_terminal",
			DetectedAt:      now,
		}
		if err := e.repo.CreateConflictLog(cl); err != nil {
			return err
		}
	}

	for _, id := range ids {
		cancelled[id] = true
	}
	result.Cancelled += removed

	logging.Warn("Cascade-cancelled operations under terminal parent",
		map[string]interface{}{"parent_id": parentID, "removed": removed})

	return nil
}

// recordFailure applies the retry taxonomy to one failed send:
// transient errors stay queued with backoff, non-retryable ones are
// removed after this single attempt and the record is marked conflict.
func (e *Engine) recordFailure(op *models.QueueOperation, rec *models.Record, err error, result *Result) error {
	result.Failed++

	if apperrors.IsAuthFailure(err) {
		return err
	}

	if apperrors.IsNonRetryable(err) {
		if rerr := e.repo.RemoveFromQueue(string(op.ID)); rerr != nil {
			return rerr
		}
		if rec != nil {
			if serr := e.repo.SetSyncStatus(string(rec.ID), models.SyncStatusConflict); serr != nil {
				return serr
			}
			cl := &models.ConflictLog{
				RecordID:        rec.ID,
				LocalTimestamp:  rec.LocalUpdatedAt,
				RemoteTimestamp: rec.ServerUpdatedAt,
				Resolution:      "server_rejected",
				DetectedAt:      time.Now().Unix(),
			}
			if lerr := e.repo.CreateConflictLog(cl); lerr != nil {
				return lerr
			}
		}
		logging.Warn("Operation rejected by server, not retrying",
			map[string]interface{}{
				"operation_id": op.ID,
				"entity_id":    op.EntityID,
				"error":        err.Error(),
			})
		return err
	}

	// Transient: stay queued with incremented retry count, unless
	// retries are exhausted.
	op.RetryCount++
	op.LastError = err.Error()
	op.LastAttemptAt = time.Now().Unix()
	if queue.Exhausted(op) {
		if rerr := e.repo.RemoveFromQueue(string(op.ID)); rerr != nil {
			return rerr
		}
		if rec != nil {
			if serr := e.repo.SetSyncStatus(string(rec.ID), models.SyncStatusConflict); serr != nil {
				return serr
			}
		}
		logging.Warn("Operation retries exhausted",
			map[string]interface{}{"operation_id": op.ID, "entity_id": op.EntityID})
		return err
	}
	if uerr := e.repo.UpdateQueueOperation(op); uerr != nil {
		return uerr
	}
	return err
}

// =====================================================================
// Phase B: pull
// =====================================================================

func (e *Engine) pull(ctx context.Context, result *Result) error {
	entities, err := e.remote.ListEntities(ctx, e.owner, "")
	if err != nil {
		return err
	}

	locals, err := e.repo.ListRecords(e.owner)
	if err != nil {
		return err
	}
	topLevel := make([]*models.Record, 0, len(locals))
	for _, rec := range locals {
		if rec.ParentRef == "" {
			topLevel = append(topLevel, rec)
		}
	}

	if err := e.reconcileList(ctx, entities, "", topLevel, result); err != nil {
		return err
	}

	// Recurse into children per remote parent using the same rules.
	for _, ent := range entities {
		if ent.Deleted {
			continue
		}
		children, err := e.remote.ListEntities(ctx, e.owner, ent.ID)
		if err != nil {
			return err
		}
		localChildren, err := e.repo.ListRecordsByParent(ent.ID)
		if err != nil {
			return err
		}
		if err := e.reconcileList(ctx, children, ent.ID, localChildren, result); err != nil {
			return err
		}
	}

	return nil
}

// reconcileList applies the three pull rules to one scope (top-level or
// one parent's children): insert absent entities as synced, overwrite
// clean local copies when the remote moved, and hand concurrent edits to
// the conflict policy. Local synced records missing from the remote list
// are tombstoned.
func (e *Engine) reconcileList(ctx context.Context, entities []remote.Entity,
	parentRef string, locals []*models.Record, result *Result) error {

	seen := make(map[string]bool, len(entities))

	for _, ent := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ent.Deleted {
			// Treated like an absent entity: the absentee rule below
			// tombstones any local copy.
			continue
		}
		seen[ent.ID] = true

		local, err := e.repo.GetRecord(ent.ID)
		if apperrors.Is(err, apperrors.ErrNotFound) {
			if err := e.insertRemote(ent, parentRef); err != nil {
				return err
			}
			result.Pulled++
			continue
		}
		if err != nil {
			return err
		}

		if local.IsDeleted {
			// A local tombstone wins over remote changes; the queued
			// delete propagates it on a later drain.
			continue
		}
		if local.SyncStatus == models.SyncStatusConflict {
			// Terminal until an explicit resolution action; nothing
			// overwrites the record behind the user's back.
			continue
		}

		switch conflict.Detect(local, ent.UpdatedAt) {
		case conflict.DispositionPushLocal:
			// Local pending edit proceeds through the queue; nothing to
			// pull for this record.
		case conflict.DispositionAdoptRemote:
			if err := e.adoptRemote(local, ent); err != nil {
				return err
			}
			result.Pulled++
		case conflict.DispositionConflict:
			if err := e.resolvePullConflict(local, ent, result); err != nil {
				return err
			}
		}
	}

	// Remote deletions propagate as local tombstones.
	for _, local := range locals {
		if seen[string(local.ID)] {
			continue
		}
		if uuid.IsLocal(string(local.ID)) {
			// Never created remotely yet.
			continue
		}
		if local.SyncStatus == models.SyncStatusSynced && !local.IsDeleted {
			if err := e.tombstoneAbsent(string(local.ID), result); err != nil {
				return err
			}
		}
	}

	return nil
}

// tombstoneAbsent marks a record deleted and applies the same absence
// rule to its synced children, so a remote parent deletion does not
// leave live orphans behind.
func (e *Engine) tombstoneAbsent(id string, result *Result) error {
	if err := e.repo.Tombstone(id); err != nil {
		return err
	}
	result.Pulled++
	logging.Info("Tombstoned record absent from remote list",
		map[string]interface{}{"record_id": id})

	children, err := e.repo.ListRecordsByParent(id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.SyncStatus != models.SyncStatusSynced {
			continue
		}
		if err := e.tombstoneAbsent(string(child.ID), result); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) insertRemote(ent remote.Entity, parentRef string) error {
	payload, err := models.ParsePayload(ent.Payload)
	if err != nil {
		logging.Warn("Skipping remote entity with unreadable payload",
			map[string]interface{}{"entity_id": ent.ID, "error": err.Error()})
		return nil
	}
	rec := &models.Record{
		ID:              models.UUID(ent.ID),
		OwnerRef:        e.owner,
		ParentRef:       models.UUID(parentRef),
		Payload:         payload,
		SyncStatus:      models.SyncStatusSynced,
		LocalUpdatedAt:  ent.UpdatedAt,
		ServerUpdatedAt: ent.UpdatedAt,
		LastSyncedAt:    ent.UpdatedAt,
	}
	return e.repo.UpsertRecord(rec)
}

func (e *Engine) adoptRemote(local *models.Record, ent remote.Entity) error {
	payload, err := models.ParsePayload(ent.Payload)
	if err != nil {
		logging.Warn("Skipping remote entity with unreadable payload",
			map[string]interface{}{"entity_id": ent.ID, "error": err.Error()})
		return nil
	}
	local.Payload = payload
	local.SyncStatus = models.SyncStatusSynced
	local.ServerUpdatedAt = ent.UpdatedAt
	local.LastSyncedAt = ent.UpdatedAt
	local.LocalUpdatedAt = ent.UpdatedAt
	local.IsDeleted = false
	return e.repo.UpsertRecord(local)
}

func (e *Engine) resolvePullConflict(local *models.Record, ent remote.Entity, result *Result) error {
	remotePayload, err := models.ParsePayload(ent.Payload)
	if err != nil {
		logging.Warn("Skipping conflict with unreadable remote payload",
			map[string]interface{}{"entity_id": ent.ID, "error": err.Error()})
		return nil
	}

	c := conflict.NewConflict(local, &remotePayload, ent.UpdatedAt)
	outcome, err := e.policy.Resolve(c)
	if err != nil {
		return err
	}
	result.Conflicts++

	if outcome.Log != nil {
		if err := e.repo.CreateConflictLog(outcome.Log); err != nil {
			return err
		}
	}

	switch outcome.Resolution {
	case conflict.ResolutionManual:
		// Conflict is terminal until explicitly resolved; any queued
		// operation for the record must not push behind its back.
		if _, err := e.repo.RemoveOperationsForEntities([]string{string(local.ID)}); err != nil {
			return err
		}
		return e.repo.SetSyncStatus(string(local.ID), models.SyncStatusConflict)
	case conflict.ResolutionKeepServer:
		if _, err := e.repo.RemoveOperationsForEntities([]string{string(local.ID)}); err != nil {
			return err
		}
		return e.adoptRemote(local, ent)
	case conflict.ResolutionKeepLocal:
		// Track the remote's new version so the next push wins cleanly,
		// then re-push the local payload.
		local.ServerUpdatedAt = ent.UpdatedAt
		local.LastSyncedAt = ent.UpdatedAt
		local.SyncStatus = models.SyncStatusPending
		if err := e.repo.UpsertRecord(local); err != nil {
			return err
		}
		return e.enqueueUpdate(local)
	case conflict.ResolutionMerge:
		// A merge result is a fresh local edit.
		local.Payload = *outcome.Payload
		local.ServerUpdatedAt = ent.UpdatedAt
		local.LastSyncedAt = ent.UpdatedAt
		local.Touch()
		if err := e.repo.UpsertRecord(local); err != nil {
			return err
		}
		return e.enqueueUpdate(local)
	}
	return nil
}

func (e *Engine) enqueueUpdate(rec *models.Record) error {
	wire, err := rec.Payload.MarshalWire()
	if err != nil {
		return err
	}
	_, err = e.repo.Enqueue(queue.NewUpdate(rec.ID, wire))
	return err
}
