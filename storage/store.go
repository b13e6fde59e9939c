// Package storage persists resolved lyric payloads as named files so
// later requests for the same song can be served without re-querying
// providers. File names are reversible fingerprints of the song
// identity (see fingerprint.go).
package storage

import (
	"context"
	"time"
)

// FileInfo is the stored metadata for one file.
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a flat file store searchable by name keywords.
type Store interface {
	Upload(ctx context.Context, name, mimeType string, content []byte) (*FileInfo, error)
	Update(ctx context.Context, id string, content []byte) (*FileInfo, error)
	Download(ctx context.Context, id string) ([]byte, error)
	SearchByKeywords(ctx context.Context, keywords []string) ([]FileInfo, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
