// Package cursor persists the last delivered event id of each named
// stream so a restarted daemon resumes its id sequence instead of
// rewinding to zero.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

const (
	storeVersion = 1

	bktMeta    = "meta"
	bktCursors = "cursors"

	keyVersion = "version"
)

// ErrNotFound reports that no cursor is stored under the given name.
var ErrNotFound = errors.New("cursor not found")

// Store is a bbolt-backed cursor database. A nil Store is valid and
// behaves as an empty, write-discarding store so the daemon can run
// without persistence configured.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the cursor database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cursor store %s: %w", path, err)
	}

	store := &Store{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(bktMeta))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bktCursors)); err != nil {
			return err
		}

		raw := meta.Get([]byte(keyVersion))
		if raw == nil {
			return meta.Put([]byte(keyVersion), encodeID(storeVersion))
		}
		version, err := decodeID(raw)
		if err != nil {
			return fmt.Errorf("cursor store version: %w", err)
		}
		if version != storeVersion {
			return fmt.Errorf("unsupported cursor store version %d", version)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored id for name, or ErrNotFound.
func (s *Store) Get(name string) (uint64, error) {
	if s == nil {
		return 0, ErrNotFound
	}
	var id uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bktCursors))
		if bkt == nil {
			return bbolt.ErrBucketNotFound
		}
		raw := bkt.Get([]byte(name))
		if raw == nil {
			return ErrNotFound
		}
		decoded, err := decodeID(raw)
		if err != nil {
			return fmt.Errorf("cursor %q: %w", name, err)
		}
		id = decoded
		return nil
	})
	return id, err
}

// Set stores id under name, replacing any previous value.
func (s *Store) Set(name string, id uint64) error {
	if s == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bktCursors))
		if bkt == nil {
			return bbolt.ErrBucketNotFound
		}
		return bkt.Put([]byte(name), encodeID(id))
	})
}

// Delete removes the cursor for name. Missing names are not an error.
func (s *Store) Delete(name string) error {
	if s == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bktCursors))
		if bkt == nil {
			return bbolt.ErrBucketNotFound
		}
		return bkt.Delete([]byte(name))
	})
}

// All returns every stored cursor keyed by stream name.
func (s *Store) All() (map[string]uint64, error) {
	cursors := make(map[string]uint64)
	if s == nil {
		return cursors, nil
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bktCursors))
		if bkt == nil {
			return bbolt.ErrBucketNotFound
		}
		return bkt.ForEach(func(key, value []byte) error {
			id, err := decodeID(value)
			if err != nil {
				return fmt.Errorf("cursor %q: %w", string(key), err)
			}
			cursors[string(key)] = id
			return nil
		})
	})
	return cursors, err
}

func encodeID(id uint64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, id)
	return raw
}

func decodeID(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("malformed value of %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
