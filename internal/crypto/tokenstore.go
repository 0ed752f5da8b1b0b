package crypto

import (
	"os"
	"path/filepath"

	"github.com/fieldvault/fieldsync/internal/errors"
)

const tokenFile = "server.cred"

// TokenStore persists the server auth token under the config directory,
// encrypted with the machine key.
type TokenStore struct {
	dir       string
	machineID string
}

// NewTokenStore creates a TokenStore rooted at configDir. machineID may
// be empty; the per-device identifier is derived automatically.
func NewTokenStore(configDir, machineID string) *TokenStore {
	return &TokenStore{dir: configDir, machineID: machineID}
}

func (s *TokenStore) path() string {
	return filepath.Join(s.dir, "secure", tokenFile)
}

// Store seals and writes the token. The secure directory and the file
// are restricted to the owning user.
func (s *TokenStore) Store(token string) error {
	secureDir := filepath.Join(s.dir, "secure")
	if err := os.MkdirAll(secureDir, 0700); err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "failed to create secure directory", err)
	}

	sealed, err := Seal([]byte(token), MachineKey(s.machineID))
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encrypt token", err)
	}

	if err := os.WriteFile(s.path(), []byte(sealed), 0600); err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, "failed to write token file", err)
	}
	return nil
}

// Load reads and unseals the token. Returns ErrNotFound when no token
// has been stored on this device.
func (s *TokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.New(errors.ErrNotFound, "no stored credential")
		}
		return "", errors.Wrap(errors.ErrStorageUnavailable, "failed to read token file", err)
	}

	token, err := Open(string(data), MachineKey(s.machineID))
	if err != nil {
		return "", errors.Wrap(errors.ErrInternal, "failed to decrypt token", err)
	}
	return string(token), nil
}

// Delete removes the stored token. Deleting an absent token is not an
// error.
func (s *TokenStore) Delete() error {
	if err := os.Remove(s.path()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrStorageUnavailable, "failed to delete token file", err)
	}
	return nil
}
