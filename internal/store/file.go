package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/processor"
)

// FileBackend keeps the snapshot as one JSON document, encrypted as a
// whole when the codec has a key.
type FileBackend struct {
	path  string
	codec *processor.Codec
}

// NewFileBackend creates the parent directory if needed.
func NewFileBackend(path string, codec *processor.Codec) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileBackend{path: path, codec: codec}, nil
}

// Path is the snapshot file location.
func (f *FileBackend) Path() string { return f.path }

func (f *FileBackend) Load(ctx context.Context) (*Snapshot, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	plain, err := f.codec.Decrypt(b)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot()
	if err := json.Unmarshal(plain, snap); err != nil {
		return nil, hamerr.Wrap(hamerr.KindSerialization, "store.load", err)
	}
	return snap, nil
}

// Save writes to a temp file and renames it over the snapshot.
func (f *FileBackend) Save(ctx context.Context, snap *Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return hamerr.Wrap(hamerr.KindSerialization, "store.save", err)
	}
	sealed, err := f.codec.Encrypt(b)
	if err != nil {
		return fmt.Errorf("encrypt snapshot: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *FileBackend) Usage() (int64, error) {
	st, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (f *FileBackend) Close() error { return nil }
