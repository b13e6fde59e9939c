package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"lyricsplus-api-go/kv"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	store, err := kv.NewBoltStore(filepath.Join(t.TempDir(), "kv.db"), false)
	if err != nil {
		t.Fatalf("Failed to create kv store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestCatalog_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	err := c.Upsert(ctx, Entry{Artist: "Coldplay", TrackName: "Yellow", Album: "Parachutes", Source: "Apple"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := c.Upsert(ctx, Entry{Artist: "Queen", TrackName: "Bohemian Rhapsody", Source: "Apple"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	results, err := c.Search(ctx, "yellow")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].TrackName != "Yellow" {
		t.Fatalf("Expected Yellow, got %v", results)
	}
	if results[0].ID == "" {
		t.Error("Expected generated entry ID")
	}

	all, _ := c.Search(ctx, "")
	if len(all) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(all))
	}
}

func TestCatalog_UpsertReplacesSameSong(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	c.Upsert(ctx, Entry{Artist: "Coldplay", TrackName: "Yellow", FileID: "file-1", Source: "Apple"})
	c.Upsert(ctx, Entry{Artist: "coldplay", TrackName: "YELLOW", FileID: "file-2", Source: "Apple"})

	results, _ := c.Search(ctx, "yellow")
	if len(results) != 1 {
		t.Fatalf("Expected case-insensitive upsert to replace, got %d entries", len(results))
	}
	if results[0].FileID != "file-2" {
		t.Errorf("Expected replacement file ID, got %q", results[0].FileID)
	}
}

func TestCatalog_AlbumDistinguishes(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	c.Upsert(ctx, Entry{Artist: "Artist", TrackName: "Song", Album: "First", Source: "Apple"})
	c.Upsert(ctx, Entry{Artist: "Artist", TrackName: "Song", Album: "Second", Source: "Apple"})

	if c.Size(ctx) != 2 {
		t.Errorf("Expected different albums to coexist, got %d entries", c.Size(ctx))
	}
}

func TestCatalog_SearchByArtist(t *testing.T) {
	ctx := context.Background()
	c := newTestCatalog(t)

	c.Upsert(ctx, Entry{Artist: "Coldplay", TrackName: "Yellow", Source: "Apple"})
	c.Upsert(ctx, Entry{Artist: "Coldplay", TrackName: "Clocks", Source: "Apple"})

	results, _ := c.Search(ctx, "coldplay")
	if len(results) != 2 {
		t.Errorf("Expected 2 results by artist, got %d", len(results))
	}
}
