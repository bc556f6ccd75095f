// Package state persists the ledger and kill switch snapshots. Writes are
// atomic (temp file + rename) with a rolling backup of the previous snapshot,
// and fsynced before the rename so a transition is never exposed before it is
// durable.
package state

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	agenterrors "github.com/ducminhle1904/futures-exec-agent/internal/errors"
)

// Store reads and writes named JSON snapshots under a state directory
type Store struct {
	dir string
}

// NewStore creates the state directory if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save durably writes a snapshot. Any failure is a PersistenceError: the
// caller must treat it as fatal, never as a condition to continue past.
func (s *Store) Save(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return agenterrors.NewPersistenceError("state", "marshal "+name, err)
	}

	target := s.path(name)
	backup := filepath.Join(s.dir, name+"_backup.json")

	// Keep the previous snapshot as a backup before replacing it
	if _, err := os.Stat(target); err == nil {
		if err := copyFile(target, backup); err != nil {
			return agenterrors.NewPersistenceError("state", "backup "+name, err)
		}
	}

	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return agenterrors.NewPersistenceError("state", "open temp for "+name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return agenterrors.NewPersistenceError("state", "write "+name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return agenterrors.NewPersistenceError("state", "sync "+name, err)
	}
	if err := f.Close(); err != nil {
		return agenterrors.NewPersistenceError("state", "close "+name, err)
	}

	if err := os.Rename(tmp, target); err != nil {
		return agenterrors.NewPersistenceError("state", "rename "+name, err)
	}
	return nil
}

// Load reads a snapshot into v. Returns found=false when no snapshot exists.
func (s *Store) Load(name string, v interface{}) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, agenterrors.NewPersistenceError("state", "read "+name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, agenterrors.NewPersistenceError("state", "parse "+name, err)
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
