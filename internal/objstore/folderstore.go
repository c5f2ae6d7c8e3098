package objstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FolderStore implements ObjectStore on a local directory. PutAtomic stages
// under tmp/<unique>.partial, fsyncs and renames into place.
type FolderStore struct {
	root string
}

// NewFolderStore returns a FolderStore rooted at dir.
func NewFolderStore(root string) *FolderStore {
	return &FolderStore{root: root}
}

func stagingName() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b) + ".partial"
}

// List returns keys under prefix, relative to the store root. The tmp/
// staging directory is never listed.
func (f *FolderStore) List(prefix string) ([]string, error) {
	dir := filepath.Join(f.root, prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		full := filepath.Join(prefix, e.Name())
		if e.Name() == "tmp" {
			continue
		}
		if e.IsDir() {
			sub, err := f.List(full)
			if err != nil {
				return nil, err
			}
			keys = append(keys, sub...)
		} else {
			keys = append(keys, filepath.ToSlash(full))
		}
	}
	return keys, nil
}

// Get reads the object at key. Returns ErrNotFound if missing.
func (f *FolderStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// PutAtomic writes data so that readers never see a partial object.
func (f *FolderStore) PutAtomic(key string, data []byte) error {
	finalPath := filepath.Join(f.root, filepath.FromSlash(key))
	tmpPath := filepath.Join(f.root, "tmp", stagingName())
	if err := os.MkdirAll(filepath.Dir(tmpPath), 0o755); err != nil {
		return fmt.Errorf("mkdir tmp: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("mkdir objects: %w", err)
	}

	fh, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
