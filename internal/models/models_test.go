// Package models provides unit tests for the data models.
package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUUIDScanValue(t *testing.T) {
	var u UUID
	if err := u.Scan([]byte("srv_123")); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if u.String() != "srv_123" {
		t.Errorf("Expected srv_123, got %s", u)
	}

	if err := u.Scan("local_abc"); err != nil {
		t.Fatalf("Scan from string failed: %v", err)
	}
	if u != "local_abc" {
		t.Errorf("Expected local_abc, got %s", u)
	}

	v, err := u.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != "local_abc" {
		t.Errorf("Expected local_abc, got %v", v)
	}
}

func TestUUIDScanNil(t *testing.T) {
	u := UUID("something")
	if err := u.Scan(nil); err != nil {
		t.Fatalf("Scan nil failed: %v", err)
	}
	if u != "" {
		t.Errorf("Expected empty UUID, got %s", u)
	}
}

func TestRecordHasPendingEdit(t *testing.T) {
	now := time.Now().Unix()

	tests := []struct {
		name   string
		record Record
		want   bool
	}{
		{
			name:   "never synced pending",
			record: Record{SyncStatus: SyncStatusPending, LocalUpdatedAt: now},
			want:   true,
		},
		{
			name:   "edited after last sync",
			record: Record{SyncStatus: SyncStatusPending, LocalUpdatedAt: now, LastSyncedAt: now - 60},
			want:   true,
		},
		{
			name:   "synced record",
			record: Record{SyncStatus: SyncStatusSynced, LocalUpdatedAt: now, LastSyncedAt: now},
			want:   false,
		},
		{
			name:   "conflict record",
			record: Record{SyncStatus: SyncStatusConflict, LocalUpdatedAt: now},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.HasPendingEdit(); got != tt.want {
				t.Errorf("HasPendingEdit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordTouch(t *testing.T) {
	r := Record{SyncStatus: SyncStatusSynced}
	r.Touch()

	if r.SyncStatus != SyncStatusPending {
		t.Errorf("Expected pending after Touch, got %s", r.SyncStatus)
	}
	if r.LocalUpdatedAt == 0 {
		t.Error("Expected LocalUpdatedAt to be set")
	}
}

func TestPayloadValidate(t *testing.T) {
	valid := Payload{Kind: KindInspection, SchemaVersion: 1}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid payload: %v", err)
	}

	unknownKind := Payload{Kind: "widget", SchemaVersion: 1}
	if err := unknownKind.Validate(); err == nil {
		t.Error("Expected error for unknown kind")
	}

	badVersion := Payload{Kind: KindEntry, SchemaVersion: 0}
	if err := badVersion.Validate(); err == nil {
		t.Error("Expected error for zero schema version")
	}
}

func TestPayloadClone(t *testing.T) {
	p := Payload{
		Kind:          KindEntry,
		SchemaVersion: 1,
		Fields:        map[string]interface{}{"note": "draft1"},
		Photos:        []string{"/media/ab/cd/abcd"},
	}

	clone := p.Clone()
	clone.Fields["note"] = "changed"
	clone.Photos[0] = "https://cdn/p1.jpg"

	if p.Fields["note"] != "draft1" {
		t.Error("Clone mutation leaked into original fields")
	}
	if p.Photos[0] != "/media/ab/cd/abcd" {
		t.Error("Clone mutation leaked into original photos")
	}
}

func TestPayloadEqual(t *testing.T) {
	a := Payload{Kind: KindEntry, SchemaVersion: 1, Fields: map[string]interface{}{"note": "x"}}
	b := a.Clone()

	if !a.Equal(b) {
		t.Error("Expected identical payloads to be equal")
	}

	b.Fields["note"] = "y"
	if a.Equal(b) {
		t.Error("Expected differing payloads to be unequal")
	}
}

func TestPayloadSQLRoundTrip(t *testing.T) {
	p := Payload{
		Kind:          KindInspection,
		SchemaVersion: 2,
		Fields:        map[string]interface{}{"address": "12 Main St"},
		Photos:        []string{"https://cdn/p1.jpg"},
	}

	v, err := p.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var out Payload
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if !p.Equal(out) {
		t.Errorf("Round trip mismatch: %+v vs %+v", p, out)
	}
}

func TestParsePayload(t *testing.T) {
	data := []byte(`{"kind":"entry","schema_version":1,"fields":{"note":"draft1"},"photos":["p1"]}`)

	p, err := ParsePayload(data)
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	if p.Kind != KindEntry {
		t.Errorf("Expected entry kind, got %s", p.Kind)
	}
	if len(p.Photos) != 1 || p.Photos[0] != "p1" {
		t.Errorf("Expected photos [p1], got %v", p.Photos)
	}

	if _, err := ParsePayload([]byte("{broken")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestOperationTypeCoalescable(t *testing.T) {
	if !OperationUpdate.Coalescable() {
		t.Error("Expected update to coalesce")
	}
	for _, op := range []OperationType{OperationCreate, OperationDelete, OperationUploadMedia, OperationFinalizeParent} {
		if op.Coalescable() {
			t.Errorf("Expected %s to never coalesce", op)
		}
	}
}

func TestMediaAssetUploadable(t *testing.T) {
	tests := []struct {
		status UploadStatus
		want   bool
	}{
		{UploadStatusPending, true},
		{UploadStatusFailed, true},
		{UploadStatusUploading, false},
		{UploadStatusUploaded, false},
	}

	for _, tt := range tests {
		a := MediaAsset{UploadStatus: tt.status}
		if got := a.Uploadable(); got != tt.want {
			t.Errorf("Uploadable(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTableNames(t *testing.T) {
	if (Record{}).TableName() != "records" {
		t.Error("Unexpected records table name")
	}
	if (MediaAsset{}).TableName() != "media_assets" {
		t.Error("Unexpected media_assets table name")
	}
	if (QueueOperation{}).TableName() != "sync_queue" {
		t.Error("Unexpected sync_queue table name")
	}
	if (ConflictLog{}).TableName() != "conflict_log" {
		t.Error("Unexpected conflict_log table name")
	}
}

func TestQueueOperationJSON(t *testing.T) {
	op := QueueOperation{
		ID:            "op-1",
		OperationType: OperationCreate,
		EntityType:    EntityRecord,
		EntityID:      "local_abc",
		Payload:       json.RawMessage(`{"kind":"entry","schema_version":1}`),
		Priority:      10,
		MaxRetries:    5,
		CreatedAt:     time.Now().Unix(),
	}

	data, err := json.Marshal(op)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out QueueOperation
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.OperationType != OperationCreate || out.EntityID != "local_abc" {
		t.Errorf("Round trip mismatch: %+v", out)
	}
}
