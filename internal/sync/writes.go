package sync

import (
	"context"
	"time"

	apperrors "github.com/fieldvault/fieldsync/internal/errors"
	"github.com/fieldvault/fieldsync/internal/models"
	"github.com/fieldvault/fieldsync/internal/sync/conflict"
	"github.com/fieldvault/fieldsync/internal/sync/queue"
	"github.com/fieldvault/fieldsync/internal/uuid"
)

// The write API below is what the application layer calls on every local
// mutation: each write lands in the local store first and enqueues the
// matching operation, so the device is fully usable offline and the next
// sync pass drains the backlog.

// CreateRecord stores a new record under a temporary local id and queues
// its remote creation. parentRef may be empty for top-level records.
func (e *Engine) CreateRecord(parentRef models.UUID, payload models.Payload) (*models.Record, error) {
	if err := payload.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "invalid payload", err)
	}

	now := time.Now().Unix()
	rec := &models.Record{
		ID:             models.UUID(uuid.NewLocal()),
		OwnerRef:       e.owner,
		ParentRef:      parentRef,
		Payload:        payload,
		SyncStatus:     models.SyncStatusPending,
		LocalUpdatedAt: now,
	}
	if err := e.repo.UpsertRecord(rec); err != nil {
		return nil, err
	}

	wire, err := payload.MarshalWire()
	if err != nil {
		return nil, err
	}
	if _, err := e.repo.Enqueue(queue.NewCreate(rec.ID, wire)); err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateRecord swaps a record's payload wholesale and queues the update.
// Repeated updates before a drain coalesce into one queued operation
// carrying the latest payload.
func (e *Engine) UpdateRecord(id models.UUID, payload models.Payload) (*models.Record, error) {
	if err := payload.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "invalid payload", err)
	}

	rec, err := e.repo.GetRecord(string(id))
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	rec.Touch()
	if err := e.repo.UpsertRecord(rec); err != nil {
		return nil, err
	}

	wire, err := payload.MarshalWire()
	if err != nil {
		return nil, err
	}
	if uuid.IsLocal(string(id)) {
		// The create operation has not drained yet; it will send the
		// latest row state, so no separate update is queued.
		return rec, nil
	}
	if _, err := e.repo.Enqueue(queue.NewUpdate(id, wire)); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecord tombstones a record and queues the remote delete. The row
// survives until the deletion is confirmed on both sides.
func (e *Engine) DeleteRecord(id models.UUID) error {
	if err := e.repo.Tombstone(string(id)); err != nil {
		return err
	}
	_, err := e.repo.Enqueue(queue.NewDelete(id))
	return err
}

// AttachPhoto stages a photo into durable storage, appends its staged
// path to the record's payload, and queues the upload. The original file
// may be moved or deleted immediately after this returns.
func (e *Engine) AttachPhoto(recordID models.UUID, sourcePath string) (*models.MediaAsset, error) {
	rec, err := e.repo.GetRecord(string(recordID))
	if err != nil {
		return nil, err
	}

	asset, err := e.media.Stage(recordID, sourcePath)
	if err != nil {
		return nil, err
	}

	rec.Payload.Photos = append(rec.Payload.Photos, asset.LocalPath)
	rec.Touch()
	if err := e.repo.UpsertRecord(rec); err != nil {
		return nil, err
	}

	if _, err := e.repo.Enqueue(queue.NewUploadMedia(asset.ID)); err != nil {
		return nil, err
	}
	if !uuid.IsLocal(string(recordID)) {
		// Existing remote record: the new photo reference rides out on a
		// coalesced update once the upload resolves.
		wire, err := rec.Payload.MarshalWire()
		if err != nil {
			return nil, err
		}
		if _, err := e.repo.Enqueue(queue.NewUpdate(recordID, wire)); err != nil {
			return nil, err
		}
	}
	return asset, nil
}

// FinalizeRecord marks a parent record terminal and queues the finalize.
// After the server accepts it, writes under this parent are refused and
// pending child operations cascade-cancel.
func (e *Engine) FinalizeRecord(id models.UUID) error {
	rec, err := e.repo.GetRecord(string(id))
	if err != nil {
		return err
	}
	if rec.Payload.Fields == nil {
		rec.Payload.Fields = make(map[string]interface{})
	}
	rec.Payload.Fields["finalized"] = true
	rec.Touch()
	if err := e.repo.UpsertRecord(rec); err != nil {
		return err
	}

	wire, err := rec.Payload.MarshalWire()
	if err != nil {
		return err
	}
	_, err = e.repo.Enqueue(queue.NewFinalizeParent(id, wire))
	return err
}

// ResolveConflict settles a record stuck in conflict. keepLocal re-pushes
// the local payload; keepServer adopts the remote copy; merge combines
// both using the given field resolver and re-pushes the result.
func (e *Engine) ResolveConflict(ctx context.Context, id models.UUID, choice conflict.Resolution, resolver conflict.FieldResolver) error {
	rec, err := e.repo.GetRecord(string(id))
	if err != nil {
		return err
	}
	if rec.SyncStatus != models.SyncStatusConflict {
		return apperrors.New(apperrors.ErrInternal, "record is not in conflict")
	}

	switch choice {
	case conflict.ResolutionKeepLocal:
		rec.SyncStatus = models.SyncStatusPending
		if err := e.repo.UpsertRecord(rec); err != nil {
			return err
		}
		return e.enqueueUpdate(rec)

	case conflict.ResolutionKeepServer:
		ent, err := e.remote.GetEntity(ctx, string(id))
		if err != nil {
			return err
		}
		// The local edit is discarded; nothing queued should resend it.
		if _, err := e.repo.RemoveOperationsForEntities([]string{string(id)}); err != nil {
			return err
		}
		return e.adoptRemote(rec, *ent)

	case conflict.ResolutionMerge:
		ent, err := e.remote.GetEntity(ctx, string(id))
		if err != nil {
			return err
		}
		remotePayload, err := models.ParsePayload(ent.Payload)
		if err != nil {
			return err
		}
		c := conflict.NewConflict(rec, &remotePayload, ent.UpdatedAt)
		if resolver == nil {
			resolver = conflict.PreferNewer(c)
		}
		outcome, err := conflict.MergePolicy{Resolver: resolver}.Resolve(c)
		if err != nil {
			return err
		}
		rec.Payload = *outcome.Payload
		rec.ServerUpdatedAt = ent.UpdatedAt
		rec.LastSyncedAt = ent.UpdatedAt
		rec.Touch()
		if err := e.repo.UpsertRecord(rec); err != nil {
			return err
		}
		return e.enqueueUpdate(rec)
	}

	return apperrors.New(apperrors.ErrInternal, "unknown resolution choice")
}
