// Package media implements the photo attachment pipeline: staging files
// into durable engine-owned storage, uploading them with partial-failure
// isolation, and rewriting local references to server URLs.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/fieldvault/fieldsync/internal/errors"
	"github.com/fieldvault/fieldsync/internal/logging"
	"github.com/fieldvault/fieldsync/internal/models"
	"github.com/fieldvault/fieldsync/internal/sync/storage"
	"github.com/fieldvault/fieldsync/internal/uuid"
)

// DefaultWorkers is the upload concurrency for a sync pass.
const DefaultWorkers = 3

// Uploader sends one staged file to the server and returns its URL.
type Uploader interface {
	UploadMedia(ctx context.Context, localPath, mimeType string) (string, error)
}

// Store persists media asset rows.
type Store interface {
	UpsertMediaAsset(a *models.MediaAsset) error
	GetMediaAsset(id string) (*models.MediaAsset, error)
	ListMediaAssets(parentRef string) ([]*models.MediaAsset, error)
	ListUploadableMediaAssets() ([]*models.MediaAsset, error)
}

// Pipeline stages and uploads media assets. Uploads are independent of
// the structured-data queue: one failed photo never blocks the rest of
// a sync pass.
type Pipeline struct {
	store    Store
	blobs    *storage.BlobStore
	uploader Uploader
	workers  int
}

// NewPipeline creates a Pipeline with the default worker count.
func NewPipeline(store Store, blobs *storage.BlobStore, uploader Uploader) *Pipeline {
	return &Pipeline{
		store:    store,
		blobs:    blobs,
		uploader: uploader,
		workers:  DefaultWorkers,
	}
}

// Stage copies sourcePath into engine-owned storage, sniffs its MIME
// type, and persists a pending MediaAsset for the given record. The
// returned asset's LocalPath is the staged copy, so the caller can
// discard or move the original immediately.
func (p *Pipeline) Stage(parentRef models.UUID, sourcePath string) (*models.MediaAsset, error) {
	stagedPath, hash, size, err := p.blobs.Stage(sourcePath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorageUnavailable, "failed to stage media file", err)
	}

	mtype, err := mimetype.DetectFile(stagedPath)
	mime := "application/octet-stream"
	if err == nil {
		mime = mtype.String()
	}

	asset := &models.MediaAsset{
		ID:              models.UUID(uuid.NewLocal()),
		LocalPath:       stagedPath,
		ParentRecordRef: parentRef,
		UploadStatus:    models.UploadStatusPending,
		FileSize:        size,
		MimeType:        mime,
		CreatedAt:       time.Now().Unix(),
	}

	if err := p.store.UpsertMediaAsset(asset); err != nil {
		return nil, err
	}

	logging.Info("Staged media asset",
		map[string]interface{}{
			"asset_id":  asset.ID,
			"record_id": parentRef,
			"hash":      hash,
			"size":      size,
			"mime_type": mime,
		})

	return asset, nil
}

// Upload pushes one asset to the server. Already-uploaded assets are
// skipped, so retrying after a partial failure re-sends nothing.
// Failures are recorded on the asset and returned.
func (p *Pipeline) Upload(ctx context.Context, asset *models.MediaAsset) error {
	if asset.UploadStatus == models.UploadStatusUploaded {
		return nil
	}

	asset.UploadStatus = models.UploadStatusUploading
	if err := p.store.UpsertMediaAsset(asset); err != nil {
		return err
	}

	url, err := p.uploader.UploadMedia(ctx, asset.LocalPath, asset.MimeType)
	if err != nil {
		asset.UploadStatus = models.UploadStatusFailed
		asset.LastError = err.Error()
		if storeErr := p.store.UpsertMediaAsset(asset); storeErr != nil {
			logging.Error("Failed to record upload failure", storeErr,
				map[string]interface{}{"asset_id": asset.ID})
		}
		logging.Warn("Media upload failed",
			map[string]interface{}{
				"asset_id": asset.ID,
				"error":    err.Error(),
			})
		return err
	}

	asset.ServerURL = url
	asset.UploadStatus = models.UploadStatusUploaded
	asset.LastError = ""
	asset.UploadedAt = time.Now().Unix()
	if err := p.store.UpsertMediaAsset(asset); err != nil {
		return err
	}

	logging.Info("Uploaded media asset",
		map[string]interface{}{
			"asset_id":   asset.ID,
			"server_url": url,
		})

	return nil
}

// UploadResult reports the outcome of an UploadAll pass.
type UploadResult struct {
	Uploaded int
	Failed   int
	// AuthFailed is set when any upload hit an auth failure; the caller
	// aborts the rest of the sync pass.
	AuthFailed bool
}

// UploadAll uploads every pending or previously failed asset using a
// bounded worker pool. Each asset fails or succeeds on its own.
func (p *Pipeline) UploadAll(ctx context.Context) (*UploadResult, error) {
	assets, err := p.store.ListUploadableMediaAssets()
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return &UploadResult{}, nil
	}

	jobs := make(chan *models.MediaAsset)
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := &UploadResult{}

	workers := p.workers
	if workers > len(assets) {
		workers = len(assets)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for asset := range jobs {
				err := p.Upload(ctx, asset)
				mu.Lock()
				if err != nil {
					result.Failed++
					if apperrors.IsAuthFailure(err) {
						result.AuthFailed = true
					}
				} else {
					result.Uploaded++
				}
				mu.Unlock()
			}
		}()
	}

	for _, asset := range assets {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return result, ctx.Err()
		case jobs <- asset:
		}
	}
	close(jobs)
	wg.Wait()

	logging.Info("Media upload pass complete",
		map[string]interface{}{
			"uploaded": result.Uploaded,
			"failed":   result.Failed,
		})

	return result, nil
}

// RewriteRefs replaces local staging paths in a payload's photo list
// with the assets' server URLs. References whose asset has not finished
// uploading are left as-is; the unresolved count is returned so the
// caller can decide whether the record is fully syncable.
func (p *Pipeline) RewriteRefs(payload *models.Payload, parentRef models.UUID) (int, error) {
	if len(payload.Photos) == 0 {
		return 0, nil
	}

	assets, err := p.store.ListMediaAssets(string(parentRef))
	if err != nil {
		return 0, err
	}

	byPath := make(map[string]*models.MediaAsset, len(assets))
	for _, a := range assets {
		byPath[a.LocalPath] = a
	}

	unresolved := 0
	for i, ref := range payload.Photos {
		asset, ok := byPath[ref]
		if !ok {
			// Already a server URL, or an asset this store never saw.
			continue
		}
		if asset.UploadStatus == models.UploadStatusUploaded && asset.ServerURL != "" {
			payload.Photos[i] = asset.ServerURL
		} else {
			unresolved++
		}
	}

	return unresolved, nil
}
