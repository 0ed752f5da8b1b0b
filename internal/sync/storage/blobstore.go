// Package storage provides content-addressed staging for media blobs.
// Staged copies survive the source file being moved or deleted by the
// camera roll, and identical photos are stored only once.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore stores media files by their SHA-256 content hash under
// baseDir/{hash[0:2]}/{hash[2:4]}/{hash}. The two-level fan-out keeps
// directories small on filesystems that degrade with many entries.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates a BlobStore rooted at baseDir.
func NewBlobStore(baseDir string) *BlobStore {
	return &BlobStore{baseDir: baseDir}
}

// HashReader calculates the SHA-256 hash of a stream.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile calculates the SHA-256 hash of a file's content.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return HashReader(file)
}

// Stage copies a source file into the store and returns the staged path,
// the content hash, and the size in bytes. Re-staging identical content
// is a no-op that returns the existing copy.
func (s *BlobStore) Stage(sourcePath string) (string, string, int64, error) {
	hash, err := HashFile(sourcePath)
	if err != nil {
		return "", "", 0, err
	}

	destPath := s.Path(hash)
	if info, err := os.Stat(destPath); err == nil {
		// Already staged (deduplication).
		return destPath, hash, info.Size(), nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", "", 0, fmt.Errorf("failed to create directory: %w", err)
	}

	size, err := s.copyFile(sourcePath, destPath)
	if err != nil {
		return "", "", 0, err
	}

	return destPath, hash, size, nil
}

// Path returns the store path for a content hash. The file may not exist.
func (s *BlobStore) Path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}

// Exists reports whether a blob with the given hash is staged.
func (s *BlobStore) Exists(hash string) bool {
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Open opens a staged blob for reading.
func (s *BlobStore) Open(hash string) (*os.File, error) {
	file, err := os.Open(s.Path(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	return file, nil
}

// Remove deletes a staged blob. Missing blobs are not an error.
func (s *BlobStore) Remove(hash string) error {
	err := os.Remove(s.Path(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob %s: %w", hash, err)
	}
	return nil
}

// copyFile copies src to a temp file in dest's directory and renames it
// into place, so a crash mid-copy never leaves a truncated blob at the
// content-addressed path.
func (s *BlobStore) copyFile(src, dest string) (int64, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".staging-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmpFile.Name()

	size, err := io.Copy(tmpFile, srcFile)
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to finalize blob: %w", err)
	}

	return size, nil
}
