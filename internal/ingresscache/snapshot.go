package ingresscache

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// bucketName is the single bbolt bucket holding the warm-start snapshot.
const bucketName = "ingress_cache"

// Snapshot is an optional disk-backed mirror of the cache, used to warm-start
// ingress attribution during the gap between process boot and the
// watcher's first completed list. This is not event persistence — it is a
// cache optimization, and a missing or stale snapshot never prevents normal
// operation.
type Snapshot struct {
	db *bolt.DB
}

// OpenSnapshot opens (creating if necessary) a bbolt file at path.
func OpenSnapshot(path string) (*Snapshot, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, err
	}
	return &Snapshot{db: db}, nil
}

// LoadInto populates c with every record held in the snapshot. Unreadable
// or malformed entries are skipped rather than failing the whole load —
// warm-start is a best-effort optimization, not a correctness requirement.
func (s *Snapshot) LoadInto(c *Cache) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(host, value []byte) error {
			var info AppInfo
			if err := json.Unmarshal(value, &info); err != nil {
				return nil
			}
			c.Insert(string(host), info)
			return nil
		})
	})
}

// Save mirrors one (host, info) insert to disk.
func (s *Snapshot) Save(host string, info AppInfo) error {
	value, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(host), value)
	})
}

// Close releases the underlying bbolt file handle.
func (s *Snapshot) Close() error {
	return s.db.Close()
}
