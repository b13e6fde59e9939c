package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/utils"
)

const kvBucket = "kv"

// BoltStore wraps bbolt with an in-memory front so reads never hit
// disk on the hot path. Values are optionally gzip-compressed before
// hitting either tier.
type BoltStore struct {
	db                 *bolt.DB
	memCache           sync.Map
	dbPath             string
	compressionEnabled bool
}

type boltEntry struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

func (e boltEntry) expired() bool {
	return e.ExpiresAt > 0 && time.Now().Unix() >= e.ExpiresAt
}

// NewBoltStore opens (or creates) the store at dbPath and preloads all
// live entries into memory.
func NewBoltStore(dbPath string, compressionEnabled bool) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %v", err)
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open kv database: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(kvBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv bucket: %v", err)
	}

	s := &BoltStore{
		db:                 db,
		dbPath:             dbPath,
		compressionEnabled: compressionEnabled,
	}
	if err := s.loadToMemory(); err != nil {
		log.Warnf("%s Failed to preload kv store to memory: %v", logcolors.LogCache, err)
	}

	log.Infof("%s KV store initialized at %s (compression: %v)", logcolors.LogCacheInit, dbPath, compressionEnabled)
	return s, nil
}

func (s *BoltStore) loadToMemory() error {
	count, expired := 0, 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kvBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				log.Warnf("%s Failed to unmarshal entry for key %s: %v", logcolors.LogCache, string(k), err)
				return nil
			}
			if entry.expired() {
				expired++
				return nil
			}
			s.memCache.Store(string(k), entry)
			count++
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Infof("%s Loaded %d entries from disk to memory (%d expired skipped)", logcolors.LogCache, count, expired)
	return nil
}

// Get returns the decompressed value for key, or false when the key is
// absent or expired. Expired entries are lazily removed.
func (s *BoltStore) Get(_ context.Context, key string) (string, bool) {
	raw, ok := s.memCache.Load(key)
	if !ok {
		return "", false
	}
	entry := raw.(boltEntry)
	if entry.expired() {
		s.memCache.Delete(key)
		s.db.Update(func(tx *bolt.Tx) error {
			if b := tx.Bucket([]byte(kvBucket)); b != nil {
				return b.Delete([]byte(key))
			}
			return nil
		})
		return "", false
	}

	if s.compressionEnabled {
		decompressed, err := utils.DecompressValue(entry.Value)
		if err != nil {
			log.Errorf("%s Error decompressing value for key %s: %v", logcolors.LogCache, key, err)
			return "", false
		}
		return decompressed, true
	}
	return entry.Value, true
}

// Set stores a value in both tiers. A ttl of zero means no expiry.
func (s *BoltStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	stored := value
	if s.compressionEnabled {
		compressed, err := utils.CompressValue(value)
		if err != nil {
			log.Errorf("%s Error compressing value for key %s: %v", logcolors.LogCache, key, err)
			return err
		}
		stored = compressed
	}

	entry := boltEntry{Value: stored}
	if ttl > 0 {
		entry.ExpiresAt = time.Now().Add(ttl).Unix()
	}
	s.memCache.Store(key, entry)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kvBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Delete removes a key from both tiers.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	s.memCache.Delete(key)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kvBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(key))
	})
}

// Clear removes every entry.
func (s *BoltStore) Clear() error {
	s.memCache.Range(func(key, _ interface{}) bool {
		s.memCache.Delete(key)
		return true
	})
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(kvBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(kvBucket))
		return err
	})
}

// Range iterates live entries with decompressed values.
func (s *BoltStore) Range(fn func(key, value string) bool) {
	s.memCache.Range(func(k, v interface{}) bool {
		entry := v.(boltEntry)
		if entry.expired() {
			return true
		}
		value := entry.Value
		if s.compressionEnabled {
			decompressed, err := utils.DecompressValue(value)
			if err != nil {
				return true
			}
			value = decompressed
		}
		return fn(k.(string), value)
	})
}

// Stats returns the number of live keys and their stored size.
func (s *BoltStore) Stats() (numKeys int, sizeInKB int) {
	s.memCache.Range(func(k, v interface{}) bool {
		entry := v.(boltEntry)
		if entry.expired() {
			return true
		}
		numKeys++
		sizeInKB += len(k.(string)) + len(entry.Value)
		return true
	})
	sizeInKB = sizeInKB / 1024
	return
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
