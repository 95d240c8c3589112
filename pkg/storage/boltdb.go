package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/herdctl/herd/pkg/types"
)

var bucketRuns = []byte("runs")

// BoltStore implements Store on a single-file BoltDB database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "herd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveRun upserts the snapshot under its identity.
func (s *BoltStore) SaveRun(snap *types.InstanceSnapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		return tx.Bucket(bucketRuns).Put(runKey(snap.Identity()), data)
	})
}

// GetRun returns the last saved snapshot for identity.
func (s *BoltStore) GetRun(identity types.Identity) (*types.InstanceSnapshot, error) {
	var snap types.InstanceSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get(runKey(identity))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, identity)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListRuns returns every saved snapshot.
func (s *BoltStore) ListRuns() ([]*types.InstanceSnapshot, error) {
	var snaps []*types.InstanceSnapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, data []byte) error {
			var snap types.InstanceSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return err
			}
			snaps = append(snaps, &snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// DeleteRun removes the snapshot for identity.
func (s *BoltStore) DeleteRun(identity types.Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Delete(runKey(identity))
	})
}

func runKey(identity types.Identity) []byte {
	return []byte(identity.String())
}
