package sdk

import (
	"strings"
	"sync"
)

// Store is the durable key/value adapter the SDK persists through: config
// cache entries, settings validators, session records and offline queue
// spill all go through this interface. Implementations must be safe for
// concurrent use.
//
// The SDK ships two implementations: MemoryStore (ephemeral, default) and
// BoltStore (file-backed, survives restart).
type Store interface {
	// GetString returns the value for key. The second return is false when
	// the key is absent.
	GetString(key string) (string, bool, error)

	// SetString stores a value under key, replacing any previous value.
	SetString(key, value string) error

	// GetInt64 returns the integer value for key.
	GetInt64(key string) (int64, bool, error)

	// SetInt64 stores an integer value under key.
	SetInt64(key string, value int64) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// KeysWithPrefix returns all keys starting with prefix.
	KeysWithPrefix(prefix string) ([]string, error)
}

// BlobStore holds oversized values referenced from Store entries, keeping
// the primary key/value store free of outsized payloads.
type BlobStore interface {
	// GetBlob returns the blob for key. The second return is false when
	// the key is absent.
	GetBlob(key string) ([]byte, bool, error)

	// SetBlob stores a blob under key.
	SetBlob(key string, data []byte) error

	// RemoveBlob deletes the blob for key.
	RemoveBlob(key string) error
}

// MemoryStore is an in-process Store and BlobStore. It is the default
// backing store and the one tests use; nothing survives process exit.
//
// Example:
//
//	store := sdk.NewMemoryStore()
//	config := sdk.DefaultConfig().WithStore(store)
type MemoryStore struct {
	mu    sync.RWMutex
	kv    map[string]string
	ints  map[string]int64
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string]string),
		ints:  make(map[string]int64),
		blobs: make(map[string][]byte),
	}
}

// GetString returns the value for key
func (s *MemoryStore) GetString(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

// SetString stores a value under key
func (s *MemoryStore) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

// GetInt64 returns the integer value for key
func (s *MemoryStore) GetInt64(key string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.ints[key]
	return v, ok, nil
}

// SetInt64 stores an integer value under key
func (s *MemoryStore) SetInt64(key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ints[key] = value
	return nil
}

// Remove deletes key from both the string and integer namespaces
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	delete(s.ints, key)
	return nil
}

// KeysWithPrefix returns all string keys starting with prefix
func (s *MemoryStore) KeysWithPrefix(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// GetBlob returns the blob for key
func (s *MemoryStore) GetBlob(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

// SetBlob stores a blob under key
func (s *MemoryStore) SetBlob(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := make([]byte, len(data))
	copy(b, data)
	s.blobs[key] = b
	return nil
}

// RemoveBlob deletes the blob for key
func (s *MemoryStore) RemoveBlob(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}
