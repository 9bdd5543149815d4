package cart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// Store persists cart state. Save is called after every mutation and Load
// once when the cart is created.
type Store interface {
	Load() (State, error)
	Save(State) error
}

// FileStore keeps the cart in a single CBOR file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path)}
}

func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("failed to read cart: %w", err)
	}
	var s State
	if err := cbor.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("failed to decode cart: %w", err)
	}
	return s, nil
}

// Save writes to a temporary file and renames it over the cart, so a crash
// leaves either the old or the new cart on disk.
func (f *FileStore) Save(s State) error {
	data, err := cbor.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create cart dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".cart-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cart: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cart: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace cart: %w", err)
	}
	return nil
}
