// Package db provides CRUD repository operations for the sync engine's models.
package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/fieldvault/fieldsync/internal/errors"
	"github.com/fieldvault/fieldsync/internal/models"
	"github.com/fieldvault/fieldsync/internal/uuid"
)

// Repository provides CRUD operations for records, media assets and the
// sync queue. Writes to a single logical entity are serialized by SQLite's
// single-writer connection; operations on distinct entities interleave.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB}
}

// PrepareStmt gets or creates a prepared statement from cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Record Operations
// =====================================================

const recordColumns = `id, owner_ref, parent_ref, payload, sync_status,
	local_updated_at, server_updated_at, last_synced_at, is_deleted`

// scanRecord reads a record row.
func scanRecord(scan func(dest ...interface{}) error) (*models.Record, error) {
	var rec models.Record
	err := scan(
		&rec.ID, &rec.OwnerRef, &rec.ParentRef, &rec.Payload, &rec.SyncStatus,
		&rec.LocalUpdatedAt, &rec.ServerUpdatedAt, &rec.LastSyncedAt, &rec.IsDeleted,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertRecord inserts or replaces a record by id. The payload is swapped
// wholesale; partial field updates are not supported.
func (r *Repository) UpsertRecord(rec *models.Record) error {
	if rec.ID == "" {
		rec.ID = models.UUID(uuid.NewLocal())
	}
	if rec.LocalUpdatedAt == 0 {
		rec.LocalUpdatedAt = time.Now().Unix()
	}
	if rec.SyncStatus == "" {
		rec.SyncStatus = models.SyncStatusPending
	}

	query := `
	INSERT INTO records (id, owner_ref, parent_ref, payload, sync_status,
		local_updated_at, server_updated_at, last_synced_at, is_deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_ref = excluded.owner_ref,
		parent_ref = excluded.parent_ref,
		payload = excluded.payload,
		sync_status = excluded.sync_status,
		local_updated_at = excluded.local_updated_at,
		server_updated_at = excluded.server_updated_at,
		last_synced_at = excluded.last_synced_at,
		is_deleted = excluded.is_deleted
	`
	_, err := r.db.Exec(query, rec.ID, rec.OwnerRef, rec.ParentRef, rec.Payload,
		rec.SyncStatus, rec.LocalUpdatedAt, rec.ServerUpdatedAt, rec.LastSyncedAt,
		rec.IsDeleted)
	return err
}

// GetRecord retrieves a record by id, tombstones included. The sync
// orchestrator needs to see soft-deleted rows to propagate deletions.
func (r *Repository) GetRecord(id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rec, err := scanRecord(stmt.QueryRow(id).Scan)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("record not found: %s", id))
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords returns all non-deleted records scoped to an owner.
// Owner scoping prevents cross-account leakage on shared devices.
func (r *Repository) ListRecords(ownerRef string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + `
	FROM records WHERE owner_ref = ? AND is_deleted = 0
	ORDER BY local_updated_at DESC`
	return r.queryRecords(query, ownerRef)
}

// ListRecordsByParent returns all non-deleted children of a record.
func (r *Repository) ListRecordsByParent(parentRef string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + `
	FROM records WHERE parent_ref = ? AND is_deleted = 0
	ORDER BY local_updated_at DESC`
	return r.queryRecords(query, parentRef)
}

// ListTombstonedRecords returns an owner's soft-deleted records. The pull
// phase purges these once the remote authority no longer lists them.
func (r *Repository) ListTombstonedRecords(ownerRef string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + `
	FROM records WHERE owner_ref = ? AND is_deleted = 1
	ORDER BY local_updated_at DESC`
	return r.queryRecords(query, ownerRef)
}

func (r *Repository) queryRecords(query string, args ...interface{}) ([]*models.Record, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Tombstone soft-deletes a record. The row survives until the deletion is
// confirmed both locally and remotely.
func (r *Repository) Tombstone(id string) error {
	query := `UPDATE records SET is_deleted = 1, local_updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, time.Now().Unix(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("record not found: %s", id))
	}
	return nil
}

// SetSyncStatus updates only a record's sync status.
func (r *Repository) SetSyncStatus(id string, status models.SyncStatus) error {
	result, err := r.db.Exec(`UPDATE records SET sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("record not found: %s", id))
	}
	return nil
}

// PurgeRecord hard-deletes a record and its media asset rows. Called only
// after tombstone propagation is confirmed on both sides.
func (r *Repository) PurgeRecord(id string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM media_assets WHERE parent_record_ref = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM records WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// ReconcileID swaps a temporary record id for the remote-issued one as a
// single atomic unit.
//
// If no record owns serverID, the temp row is renamed and all media assets
// are repointed. If a record already owns serverID (a retried create the
// server accepted once), media assets are repointed, the existing row's
// fields are refreshed from the temp row, and the temp row is deleted.
// Either path leaves exactly one record with the final id and zero
// dangling media asset references.
func (r *Repository) ReconcileID(tempID, serverID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM records WHERE id = ?`, serverID).Scan(&existing); err != nil {
		return err
	}

	if existing == 0 {
		if _, err := tx.Exec(`UPDATE records SET id = ? WHERE id = ?`, serverID, tempID); err != nil {
			return err
		}
	} else {
		// Duplicate creation: merge into the existing row, refreshing its
		// fields from the latest successful write.
		var temp models.Record
		err := tx.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, tempID).Scan(
			&temp.ID, &temp.OwnerRef, &temp.ParentRef, &temp.Payload, &temp.SyncStatus,
			&temp.LocalUpdatedAt, &temp.ServerUpdatedAt, &temp.LastSyncedAt, &temp.IsDeleted,
		)
		if err == sql.ErrNoRows {
			return errors.New(errors.ErrNotFound, fmt.Sprintf("record not found: %s", tempID))
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(`UPDATE records SET payload = ?, sync_status = ?,
			local_updated_at = ?, server_updated_at = ?, last_synced_at = ?
			WHERE id = ?`,
			temp.Payload, temp.SyncStatus, temp.LocalUpdatedAt,
			temp.ServerUpdatedAt, temp.LastSyncedAt, serverID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM records WHERE id = ?`, tempID); err != nil {
			return err
		}
	}

	// Repoint media assets, any children still referencing the temp id,
	// and queued operations that target it.
	if _, err := tx.Exec(`UPDATE media_assets SET parent_record_ref = ? WHERE parent_record_ref = ?`, serverID, tempID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE records SET parent_ref = ? WHERE parent_ref = ?`, serverID, tempID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE sync_queue SET entity_id = ? WHERE entity_id = ?`, serverID, tempID); err != nil {
		return err
	}

	return tx.Commit()
}

// =====================================================
// Media Asset Operations
// =====================================================

const mediaColumns = `id, local_path, server_url, parent_record_ref,
	upload_status, file_size, mime_type, last_error, created_at, uploaded_at`

func scanMediaAsset(scan func(dest ...interface{}) error) (*models.MediaAsset, error) {
	var a models.MediaAsset
	err := scan(
		&a.ID, &a.LocalPath, &a.ServerURL, &a.ParentRecordRef,
		&a.UploadStatus, &a.FileSize, &a.MimeType, &a.LastError,
		&a.CreatedAt, &a.UploadedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpsertMediaAsset inserts or replaces a media asset by id.
func (r *Repository) UpsertMediaAsset(a *models.MediaAsset) error {
	if a.ID == "" {
		a.ID = models.UUID(uuid.New())
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	if a.UploadStatus == "" {
		a.UploadStatus = models.UploadStatusPending
	}

	query := `
	INSERT INTO media_assets (id, local_path, server_url, parent_record_ref,
		upload_status, file_size, mime_type, last_error, created_at, uploaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		local_path = excluded.local_path,
		server_url = excluded.server_url,
		parent_record_ref = excluded.parent_record_ref,
		upload_status = excluded.upload_status,
		file_size = excluded.file_size,
		mime_type = excluded.mime_type,
		last_error = excluded.last_error,
		uploaded_at = excluded.uploaded_at
	`
	_, err := r.db.Exec(query, a.ID, a.LocalPath, a.ServerURL, a.ParentRecordRef,
		a.UploadStatus, a.FileSize, a.MimeType, a.LastError, a.CreatedAt, a.UploadedAt)
	return err
}

// GetMediaAsset retrieves a media asset by id.
func (r *Repository) GetMediaAsset(id string) (*models.MediaAsset, error) {
	query := `SELECT ` + mediaColumns + ` FROM media_assets WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	a, err := scanMediaAsset(stmt.QueryRow(id).Scan)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, fmt.Sprintf("media asset not found: %s", id))
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListMediaAssets returns all media assets attached to a record.
func (r *Repository) ListMediaAssets(parentRef string) ([]*models.MediaAsset, error) {
	query := `SELECT ` + mediaColumns + `
	FROM media_assets WHERE parent_record_ref = ? ORDER BY created_at ASC`
	return r.queryMediaAssets(query, parentRef)
}

// ListUploadableMediaAssets returns every asset awaiting an upload attempt,
// pending and previously failed alike.
func (r *Repository) ListUploadableMediaAssets() ([]*models.MediaAsset, error) {
	query := `SELECT ` + mediaColumns + `
	FROM media_assets WHERE upload_status IN ('pending', 'failed')
	ORDER BY created_at ASC`
	return r.queryMediaAssets(query)
}

func (r *Repository) queryMediaAssets(query string, args ...interface{}) ([]*models.MediaAsset, error) {
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*models.MediaAsset
	for rows.Next() {
		a, err := scanMediaAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// =====================================================
// Queue Operations
// =====================================================

const queueColumns = `id, operation_type, entity_type, entity_id, payload,
	priority, retry_count, max_retries, last_error, created_at, last_attempt_at`

func scanQueueOperation(scan func(dest ...interface{}) error) (*models.QueueOperation, error) {
	var op models.QueueOperation
	var payload string
	err := scan(
		&op.ID, &op.OperationType, &op.EntityType, &op.EntityID, &payload,
		&op.Priority, &op.RetryCount, &op.MaxRetries, &op.LastError,
		&op.CreatedAt, &op.LastAttemptAt,
	)
	if err != nil {
		return nil, err
	}
	if payload != "" {
		op.Payload = []byte(payload)
	}
	return &op, nil
}

// Enqueue adds an operation to the sync queue. A new update for an entity
// that already has a queued update coalesces into it, replacing the
// payload; create, delete and uploadMedia operations are never coalesced.
// Returns the queued operation, which is the pre-existing one when
// coalescing occurred.
func (r *Repository) Enqueue(op *models.QueueOperation) (*models.QueueOperation, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if op.OperationType.Coalescable() {
		existing, err := scanQueueOperation(tx.QueryRow(
			`SELECT `+queueColumns+` FROM sync_queue
			WHERE operation_type = ? AND entity_type = ? AND entity_id = ?`,
			op.OperationType, op.EntityType, op.EntityID,
		).Scan)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		if err == nil {
			_, err = tx.Exec(`UPDATE sync_queue SET payload = ? WHERE id = ?`,
				string(op.Payload), existing.ID)
			if err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			existing.Payload = op.Payload
			return existing, nil
		}
	}

	if op.ID == "" {
		op.ID = models.UUID(uuid.New())
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().Unix()
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = 5
	}

	_, err = tx.Exec(`
	INSERT INTO sync_queue (id, operation_type, entity_type, entity_id, payload,
		priority, retry_count, max_retries, last_error, created_at, last_attempt_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.OperationType, op.EntityType, op.EntityID, string(op.Payload),
		op.Priority, op.RetryCount, op.MaxRetries, op.LastError,
		op.CreatedAt, op.LastAttemptAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return op, nil
}

// DequeueAll returns every queued operation ordered by priority descending,
// then creation time ascending. rowid breaks ties between operations
// enqueued within the same second. Operations stay queued until explicitly
// removed; the orchestrator owns their lifecycle.
func (r *Repository) DequeueAll() ([]*models.QueueOperation, error) {
	query := `SELECT ` + queueColumns + `
	FROM sync_queue ORDER BY priority DESC, created_at ASC, rowid ASC`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.QueueOperation
	for rows.Next() {
		op, err := scanQueueOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ListOperationsForEntity returns queued operations targeting one entity.
func (r *Repository) ListOperationsForEntity(entityID string) ([]*models.QueueOperation, error) {
	query := `SELECT ` + queueColumns + `
	FROM sync_queue WHERE entity_id = ? ORDER BY created_at ASC`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.QueueOperation
	for rows.Next() {
		op, err := scanQueueOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// RemoveFromQueue deletes a queued operation by id.
func (r *Repository) RemoveFromQueue(id string) error {
	result, err := r.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("queue operation not found: %s", id))
	}
	return nil
}

// RemoveOperationsForEntities deletes all queued operations targeting any
// of the given entity ids. Used by cascade-cancel when a parent turns
// terminal remotely. Returns the number of removed operations.
func (r *Repository) RemoveOperationsForEntities(entityIDs []string) (int, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	removed := 0
	for _, id := range entityIDs {
		result, err := tx.Exec(`DELETE FROM sync_queue WHERE entity_id = ?`, id)
		if err != nil {
			return 0, err
		}
		n, _ := result.RowsAffected()
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// UpdateQueueOperation persists retry bookkeeping for a queued operation.
func (r *Repository) UpdateQueueOperation(op *models.QueueOperation) error {
	result, err := r.db.Exec(`
	UPDATE sync_queue SET payload = ?, retry_count = ?, last_error = ?, last_attempt_at = ?
	WHERE id = ?`,
		string(op.Payload), op.RetryCount, op.LastError, op.LastAttemptAt, op.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("queue operation not found: %s", op.ID))
	}
	return nil
}

// QueueSize returns the number of queued operations.
func (r *Repository) QueueSize() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sync_queue`).Scan(&n)
	return n, err
}

// =====================================================
// Conflict Log Operations
// =====================================================

// CreateConflictLog records a resolved conflict for user awareness.
func (r *Repository) CreateConflictLog(cl *models.ConflictLog) error {
	if cl.ID == "" {
		cl.ID = models.UUID(uuid.New())
	}
	if cl.DetectedAt == 0 {
		cl.DetectedAt = time.Now().Unix()
	}

	_, err := r.db.Exec(`
	INSERT INTO conflict_log (id, record_id, local_timestamp, remote_timestamp, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		cl.ID, cl.RecordID, cl.LocalTimestamp, cl.RemoteTimestamp, cl.Resolution, cl.DetectedAt)
	return err
}

// ListConflictLogs returns all recorded conflicts, newest first.
func (r *Repository) ListConflictLogs() ([]*models.ConflictLog, error) {
	rows, err := r.db.Query(`
	SELECT id, record_id, local_timestamp, remote_timestamp, resolution, detected_at
	FROM conflict_log ORDER BY detected_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var cl models.ConflictLog
		err := rows.Scan(&cl.ID, &cl.RecordID, &cl.LocalTimestamp,
			&cl.RemoteTimestamp, &cl.Resolution, &cl.DetectedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, &cl)
	}
	return logs, rows.Err()
}
