package prefs

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned by a Backend for a missing key.
var ErrNotFound = errors.New("prefs: key not found")

// Backend is the key/value mechanism preferences are stored in.
type Backend interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// PebbleBackend keeps preferences in a pebble database.
type PebbleBackend struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database at path.
func OpenPebble(path string) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences db at %s: %w", path, err)
	}
	return &PebbleBackend{db: db}, nil
}

// OpenInMemory opens a pebble database on an in-memory filesystem. Nothing
// survives Close.
func OpenInMemory() (*PebbleBackend, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory preferences db: %w", err)
	}
	return &PebbleBackend{db: db}, nil
}

func (b *PebbleBackend) Get(key string) ([]byte, error) {
	val, closer, err := b.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (b *PebbleBackend) Set(key string, value []byte) error {
	return b.db.Set([]byte(key), value, pebble.Sync)
}

func (b *PebbleBackend) Delete(key string) error {
	return b.db.Delete([]byte(key), pebble.Sync)
}

func (b *PebbleBackend) Close() error { return b.db.Close() }
