package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fieldvault/fieldsync/internal/errors"
)

func TestTokenStore_RoundTrip(t *testing.T) {
	store := NewTokenStore(t.TempDir(), "test-machine")

	if err := store.Store("bearer-abc123"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	token, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if token != "bearer-abc123" {
		t.Errorf("Load() = %q, want %q", token, "bearer-abc123")
	}
}

func TestTokenStore_FileIsEncrypted(t *testing.T) {
	dir := t.TempDir()
	store := NewTokenStore(dir, "test-machine")

	if err := store.Store("bearer-abc123"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "secure", "server.cred"))
	if err != nil {
		t.Fatalf("reading token file: %v", err)
	}
	if strings.Contains(string(raw), "bearer-abc123") {
		t.Error("token file contains the plaintext token")
	}
}

func TestTokenStore_LoadMissing(t *testing.T) {
	store := NewTokenStore(t.TempDir(), "test-machine")

	_, err := store.Load()
	if errors.Code(err) != errors.ErrNotFound {
		t.Errorf("Load() error code = %v, want ErrNotFound", errors.Code(err))
	}
}

func TestTokenStore_WrongMachine(t *testing.T) {
	dir := t.TempDir()
	if err := NewTokenStore(dir, "machine-a").Store("bearer-abc123"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if _, err := NewTokenStore(dir, "machine-b").Load(); err == nil {
		t.Error("Load() with a different machine key succeeded, want error")
	}
}

func TestTokenStore_Delete(t *testing.T) {
	store := NewTokenStore(t.TempDir(), "test-machine")

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() of absent token error = %v", err)
	}

	if err := store.Store("bearer-abc123"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(); errors.Code(err) != errors.ErrNotFound {
		t.Error("Load() after Delete() should report ErrNotFound")
	}
}
