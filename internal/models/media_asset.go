// Package models provides data model definitions for the sync engine.
package models

import "time"

// UploadStatus represents a media asset's upload state.
type UploadStatus string

const (
	UploadStatusPending   UploadStatus = "pending"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusFailed    UploadStatus = "failed"
)

// MediaAsset is a staged file attached to a Record. LocalPath is durable
// storage owned by the engine, never a transient OS cache location.
type MediaAsset struct {
	ID              UUID         `db:"id" json:"id"`
	LocalPath       string       `db:"local_path" json:"local_path"`
	ServerURL       string       `db:"server_url" json:"server_url,omitempty"`
	ParentRecordRef UUID         `db:"parent_record_ref" json:"parent_record_ref"`
	UploadStatus    UploadStatus `db:"upload_status" json:"upload_status"`
	FileSize        int64        `db:"file_size" json:"file_size"`
	MimeType        string       `db:"mime_type" json:"mime_type"`
	LastError       string       `db:"last_error" json:"last_error,omitempty"`
	CreatedAt       int64        `db:"created_at" json:"created_at"`
	UploadedAt      int64        `db:"uploaded_at" json:"uploaded_at,omitempty"`
}

// TableName returns the table name for MediaAsset.
func (MediaAsset) TableName() string {
	return "media_assets"
}

// Uploadable reports whether the asset still needs an upload attempt.
func (a *MediaAsset) Uploadable() bool {
	return a.UploadStatus == UploadStatusPending || a.UploadStatus == UploadStatusFailed
}

// CreatedAtTime returns CreatedAt as time.Time.
func (a *MediaAsset) CreatedAtTime() time.Time {
	return time.Unix(a.CreatedAt, 0)
}
