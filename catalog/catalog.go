// Package catalog maintains the list of songs whose lyrics landed in
// the file store, kept as one JSON array in the kv layer so it can be
// searched without touching file fingerprints.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/kv"
	"lyricsplus-api-go/logcolors"
)

const catalogKey = "song_catalog"

// Entry is one catalogued song.
type Entry struct {
	ID        string `json:"id"`
	Artist    string `json:"artist"`
	TrackName string `json:"track_name"`
	Album     string `json:"album,omitempty"`
	FileID    string `json:"fileId,omitempty"`
	Source    string `json:"source"`
}

// Catalog serializes read-modify-write cycles on the stored list.
type Catalog struct {
	store kv.Store
	mu    sync.Mutex
}

func New(store kv.Store) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) load(ctx context.Context) []Entry {
	raw, ok := c.store.Get(ctx, catalogKey)
	if !ok {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Warnf("%s Corrupt song catalog, starting fresh: %v", logcolors.LogCache, err)
		return nil
	}
	return entries
}

func (c *Catalog) save(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, catalogKey, string(data), 0)
}

// matches compares two entries by song identity: track name and artist
// always, album only when both sides carry one.
func matches(a, b Entry) bool {
	if !strings.EqualFold(a.TrackName, b.TrackName) || !strings.EqualFold(a.Artist, b.Artist) {
		return false
	}
	if a.Album != "" && b.Album != "" {
		return strings.EqualFold(a.Album, b.Album)
	}
	return true
}

// Upsert replaces an existing entry for the same song or appends a new
// one. A missing ID is generated.
func (c *Catalog) Upsert(ctx context.Context, entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	entries := c.load(ctx)
	for i, existing := range entries {
		if matches(existing, entry) {
			entry.ID = existing.ID
			entries[i] = entry
			return c.save(ctx, entries)
		}
	}
	return c.save(ctx, append(entries, entry))
}

// Search returns entries whose track name, artist, or album contains
// the query, case-insensitive. An empty query returns everything.
func (c *Catalog) Search(ctx context.Context, query string) ([]Entry, error) {
	entries := c.load(ctx)
	if strings.TrimSpace(query) == "" {
		return entries, nil
	}

	q := strings.ToLower(query)
	var results []Entry
	for _, entry := range entries {
		if strings.Contains(strings.ToLower(entry.TrackName), q) ||
			strings.Contains(strings.ToLower(entry.Artist), q) ||
			strings.Contains(strings.ToLower(entry.Album), q) {
			results = append(results, entry)
		}
	}
	return results, nil
}

// Size returns the number of catalogued songs.
func (c *Catalog) Size(ctx context.Context) int {
	return len(c.load(ctx))
}
