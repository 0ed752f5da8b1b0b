// Package remote provides unit tests for the remote API client.
package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fieldvault/fieldsync/internal/errors"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient(&Config{BaseURL: server.URL, AuthToken: "token-1"})
	return client, server
}

func TestListEntities(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/entities" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("owner") != "user-1" {
			t.Errorf("Expected owner query param, got %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer token-1" {
			t.Errorf("Expected bearer auth, got %s", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode([]Entity{
			{ID: "srv_1", UpdatedAt: 100},
			{ID: "srv_2", UpdatedAt: 200, Finalized: true},
		})
	}))
	defer server.Close()

	entities, err := client.ListEntities(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(entities))
	}
	if !entities[1].Terminal() {
		t.Error("Expected finalized entity to be terminal")
	}
}

func TestListEntitiesWithParent(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("parent") != "srv_1" {
			t.Errorf("Expected parent query param, got %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]Entity{})
	}))
	defer server.Close()

	if _, err := client.ListEntities(context.Background(), "user-1", "srv_1"); err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
}

func TestCreateEntity(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Owner != "user-1" {
			t.Errorf("Expected owner user-1, got %s", req.Owner)
		}
		json.NewEncoder(w).Encode(CreateResult{ID: "srv_123", UpdatedAt: 500})
	}))
	defer server.Close()

	result, err := client.CreateEntity(context.Background(), "user-1", "", json.RawMessage(`{"note":"draft1"}`))
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if result.ID != "srv_123" || result.UpdatedAt != 500 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestUpdateEntity(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("Expected PATCH, got %s", r.Method)
		}
		if r.URL.Path != "/entities/srv_123" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]int64{"updatedAt": 900})
	}))
	defer server.Close()

	updatedAt, err := client.UpdateEntity(context.Background(), "srv_123", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}
	if updatedAt != 900 {
		t.Errorf("Expected updatedAt 900, got %d", updatedAt)
	}
}

func TestDeleteEntity(t *testing.T) {
	called := false
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodDelete {
			t.Errorf("Expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := client.DeleteEntity(context.Background(), "srv_123"); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}
	if !called {
		t.Error("Expected delete request to be sent")
	}
}

func TestUploadMedia(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Expected multipart body: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Expected file part: %v", err)
		}
		defer file.Close()
		if header.Filename != "photo.jpg" {
			t.Errorf("Expected filename photo.jpg, got %s", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn/p1.jpg"})
	}))
	defer server.Close()

	url, err := client.UploadMedia(context.Background(), path, "image/jpeg")
	if err != nil {
		t.Fatalf("UploadMedia failed: %v", err)
	}
	if url != "https://cdn/p1.jpg" {
		t.Errorf("Expected cdn URL, got %s", url)
	}
}

func TestStatusCodeClassification(t *testing.T) {
	tests := []struct {
		status int
		want   errors.ErrorCode
	}{
		{http.StatusUnauthorized, errors.ErrAuthFailed},
		{http.StatusForbidden, errors.ErrAuthFailed},
		{http.StatusNotFound, errors.ErrEntityGone},
		{http.StatusConflict, errors.ErrVersionConflict},
		{http.StatusRequestEntityTooLarge, errors.ErrPayloadTooLarge},
		{http.StatusUnprocessableEntity, errors.ErrInvalidPayload},
		{http.StatusInternalServerError, errors.ErrTransient},
		{http.StatusBadGateway, errors.ErrTransient},
	}

	for _, tt := range tests {
		client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		_, err := client.GetEntity(context.Background(), "srv_123")
		server.Close()

		if err == nil {
			t.Fatalf("Expected error for status %d", tt.status)
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("Status %d: expected %s, got %v", tt.status, tt.want, err)
		}
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	_, err := client.GetEntity(context.Background(), "srv_123")
	if !errors.IsTransient(err) {
		t.Errorf("Expected transient classification for network error, got %v", err)
	}
}

func TestOnline(t *testing.T) {
	client, server := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	if !client.Online(context.Background()) {
		t.Error("Expected online when server responds")
	}

	server.Close()
	if client.Online(context.Background()) {
		t.Error("Expected offline when server is unreachable")
	}
}
