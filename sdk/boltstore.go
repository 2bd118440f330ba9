package sdk

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	kvBucket   = []byte("kv")
	intBucket  = []byte("ints")
	blobBucket = []byte("blobs")
)

// BoltStore is a file-backed Store and BlobStore built on bbolt. It gives
// the SDK durable config caching, session restore and offline queue spill
// across process restarts with a single local file.
//
// Example:
//
//	store, err := sdk.NewBoltStore(filepath.Join(dataDir, "flagnest.db"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	config := sdk.DefaultConfig().WithStore(store)
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{kvBucket, intBucket, blobBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// GetString returns the value for key
func (s *BoltStore) GetString(key string) (string, bool, error) {
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(kvBucket).Get([]byte(key)); v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	return value, found, err
}

// SetString stores a value under key
func (s *BoltStore) SetString(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), []byte(value))
	})
}

// GetInt64 returns the integer value for key
func (s *BoltStore) GetInt64(key string) (int64, bool, error) {
	var value int64
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(intBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		parsed, perr := strconv.ParseInt(string(v), 10, 64)
		if perr != nil {
			return perr
		}
		value = parsed
		found = true
		return nil
	})
	return value, found, err
}

// SetInt64 stores an integer value under key
func (s *BoltStore) SetInt64(key string, value int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(intBucket).Put([]byte(key), []byte(strconv.FormatInt(value, 10)))
	})
}

// Remove deletes key from both the string and integer namespaces
func (s *BoltStore) Remove(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(kvBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(intBucket).Delete([]byte(key))
	})
}

// KeysWithPrefix returns all string keys starting with prefix
func (s *BoltStore) KeysWithPrefix(prefix string) ([]string, error) {
	var keys []string
	p := []byte(prefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(kvBucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// GetBlob returns the blob for key
func (s *BoltStore) GetBlob(key string) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(blobBucket).Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
			found = true
		}
		return nil
	})
	return data, found, err
}

// SetBlob stores a blob under key
func (s *BoltStore) SetBlob(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobBucket).Put([]byte(key), data)
	})
}

// RemoveBlob deletes the blob for key
func (s *BoltStore) RemoveBlob(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blobBucket).Delete([]byte(key))
	})
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
