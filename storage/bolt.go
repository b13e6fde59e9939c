package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"lyricsplus-api-go/logcolors"
)

const (
	filesBucket = "files"
	metaBucket  = "meta"
)

// BoltStore keeps file contents and metadata in two bbolt buckets,
// both keyed by a generated UUID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the file store at dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %v", err)
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage database: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{filesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create storage buckets: %v", err)
	}

	log.Infof("%s File store initialized at %s", logcolors.LogCacheInit, dbPath)
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Upload(_ context.Context, name, mimeType string, content []byte) (*FileInfo, error) {
	now := time.Now().UTC()
	info := &FileInfo{
		ID:        uuid.NewString(),
		Name:      name,
		MimeType:  mimeType,
		Size:      int64(len(content)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		meta, err := json.Marshal(info)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(metaBucket)).Put([]byte(info.ID), meta); err != nil {
			return err
		}
		return tx.Bucket([]byte(filesBucket)).Put([]byte(info.ID), content)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *BoltStore) Update(_ context.Context, id string, content []byte) (*FileInfo, error) {
	var info FileInfo
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket)).Get([]byte(id))
		if meta == nil {
			return fmt.Errorf("file not found: %s", id)
		}
		if err := json.Unmarshal(meta, &info); err != nil {
			return err
		}
		info.Size = int64(len(content))
		info.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&info)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(metaBucket)).Put([]byte(id), updated); err != nil {
			return err
		}
		return tx.Bucket([]byte(filesBucket)).Put([]byte(id), content)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *BoltStore) Download(_ context.Context, id string) ([]byte, error) {
	var content []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(filesBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("file not found: %s", id)
		}
		content = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// SearchByKeywords returns files whose name contains every keyword,
// case-insensitive.
func (s *BoltStore) SearchByKeywords(_ context.Context, keywords []string) ([]FileInfo, error) {
	var results []FileInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(metaBucket)).ForEach(func(_, v []byte) error {
			var info FileInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return nil
			}
			name := strings.ToLower(info.Name)
			for _, kw := range keywords {
				if !strings.Contains(name, strings.ToLower(kw)) {
					return nil
				}
			}
			results = append(results, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(metaBucket)).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(filesBucket)).Delete([]byte(id))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
