package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists accounts as a JSON file under the data directory,
// the same way OAuth tokens are stored.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements SessionStore. A missing file is an empty account set.
func (f *FileStore) Load() ([]Account, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return accounts, nil
}

// Save implements SessionStore. The file is written 0600 since it may carry
// credential material.
func (f *FileStore) Save(accounts []Account) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create accounts dir: %w", err)
	}

	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}

	return os.WriteFile(f.path, data, 0600)
}
