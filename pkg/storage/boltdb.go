package storage

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/digest/pkg/types"
)

var (
	// Bucket names
	bucketGroups = []byte("groups")
)

// DBFileName is the database file created inside the data directory
const DBFileName = "digest.db"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFileName)

	// A second process holding the file lock makes Open fail after the timeout
	// instead of blocking forever.
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketGroups); err != nil {
			return errors.Wrapf(err, "failed to create bucket %s", bucketGroups)
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetGroup returns the stored configuration for a group
func (s *BoltStore) GetGroup(id types.GroupID) (*types.GroupConfig, error) {
	var cfg types.GroupConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return errors.Wrapf(ErrNotFound, "group %s", id)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return errors.Wrapf(err, "failed to decode group %s", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PutGroup creates or replaces a group configuration (upsert).
// CreatedAt of an existing record is preserved.
func (s *BoltStore) PutGroup(id types.GroupID, cfg *types.GroupConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrapf(err, "invalid config for group %s", id)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		key := []byte(id.String())
		now := s.now().UTC()

		record := *cfg
		if existing := b.Get(key); existing != nil {
			var prev types.GroupConfig
			if err := json.Unmarshal(existing, &prev); err == nil && !prev.CreatedAt.IsZero() {
				record.CreatedAt = prev.CreatedAt
			}
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		record.UpdatedAt = now

		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// DeleteGroup removes a group configuration. Deleting a missing group is not an error.
func (s *BoltStore) DeleteGroup(id types.GroupID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGroups).Delete([]byte(id.String()))
	})
}

// ListGroups returns every valid group configuration. Invalid records are skipped.
func (s *BoltStore) ListGroups() (map[types.GroupID]*types.GroupConfig, error) {
	groups := make(map[types.GroupID]*types.GroupConfig)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		return b.ForEach(func(k, v []byte) error {
			id, cfg, ok := decodeRecord(k, v)
			if !ok {
				return nil
			}
			groups[id] = cfg
			return nil
		})
	})
	return groups, err
}

// ListGroupKeys returns all keys in the groups bucket in sorted order
func (s *BoltStore) ListGroupKeys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	sort.Strings(keys)
	return keys, err
}

// CleanupInvalidGroups removes records whose key is not a group ID or whose
// value does not decode into a valid configuration
func (s *BoltStore) CleanupInvalidGroups() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)

		var invalid [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if _, _, ok := decodeRecord(k, v); !ok {
				// Keys are only valid for the life of the transaction
				invalid = append(invalid, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range invalid {
			if err := b.Delete(k); err != nil {
				return errors.Wrapf(err, "failed to delete invalid group %q", k)
			}
		}
		removed = len(invalid)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func decodeRecord(k, v []byte) (types.GroupID, *types.GroupConfig, bool) {
	id, err := types.ParseGroupID(string(k))
	if err != nil {
		return 0, nil, false
	}
	var cfg types.GroupConfig
	if err := json.Unmarshal(v, &cfg); err != nil {
		return 0, nil, false
	}
	if err := cfg.Validate(); err != nil {
		return 0, nil, false
	}
	return id, &cfg, true
}
