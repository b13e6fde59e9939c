package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileNameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ref  SongRef
	}{
		{
			"Full identity",
			SongRef{Title: "Yellow", Artist: "Coldplay", Album: "Parachutes", Duration: 266.73, ISRC: "GBAYE0000813", PlatformID: "track123"},
		},
		{
			"No album or duration",
			SongRef{Title: "Imagine", Artist: "John Lennon", ISRC: "GBAYE7100014"},
		},
		{
			"No identifiers",
			SongRef{Title: "Song", Artist: "Artist", Duration: 180},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := ParseName(FileName(tt.ref))
			if parsed.Title != tt.ref.Title || parsed.Artist != tt.ref.Artist || parsed.Album != tt.ref.Album {
				t.Errorf("Identity not preserved: %+v", parsed)
			}
			if parsed.ISRC != tt.ref.ISRC || parsed.PlatformID != tt.ref.PlatformID {
				t.Errorf("Identifiers not preserved: %+v", parsed)
			}
			if parsed.Duration != 0 && tt.ref.Duration != 0 {
				diff := parsed.Duration - tt.ref.Duration
				if diff > 0.01 || diff < -0.01 {
					t.Errorf("Duration drifted: %f vs %f", parsed.Duration, tt.ref.Duration)
				}
			}
		})
	}
}

func TestParseName_WithExtension(t *testing.T) {
	ref := ParseName("Coldplay - Yellow [Parachutes] (266.00) <null::track123>.json")
	if ref.Artist != "Coldplay" || ref.Title != "Yellow" || ref.Album != "Parachutes" {
		t.Errorf("Unexpected parse: %+v", ref)
	}
	if ref.ISRC != "" {
		t.Errorf("Expected null ISRC to parse as empty, got %q", ref.ISRC)
	}
	if ref.PlatformID != "track123" {
		t.Errorf("Expected platform ID track123, got %q", ref.PlatformID)
	}
}

func TestFileName_StripsUnsafeChars(t *testing.T) {
	name := FileName(SongRef{Title: `What "Is" <This>?`, Artist: "A/B\\C"})
	for _, c := range `"/\|?*` {
		if containsRune(name, c) {
			t.Errorf("Unsafe character %q survived in %q", c, name)
		}
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}

func TestKeywords(t *testing.T) {
	keywords := Keywords(SongRef{
		Title:  "Bohemian Rhapsody Opera Section",
		Artist: "Queen",
		Album:  "A Night at the Opera",
	})

	expected := []string{"Bohemian", "Rhapsody", "Queen", "Night", "Opera"}
	if len(keywords) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, keywords)
	}
	for i, kw := range expected {
		if keywords[i] != kw {
			t.Errorf("Keyword %d: expected %q, got %q", i, kw, keywords[i])
		}
	}
}

func TestBoltStore_UploadSearchDownload(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	name := FileName(SongRef{Title: "Yellow", Artist: "Coldplay", Duration: 266})
	info, err := store.Upload(ctx, name+".json", "application/json", []byte(`{"type":"Line"}`))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if info.ID == "" {
		t.Fatal("Expected generated file ID")
	}

	files, err := store.SearchByKeywords(ctx, []string{"yellow", "coldplay"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(files) != 1 || files[0].ID != info.ID {
		t.Fatalf("Expected uploaded file in search results, got %v", files)
	}

	content, err := store.Download(ctx, info.ID)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(content) != `{"type":"Line"}` {
		t.Errorf("Unexpected content: %s", content)
	}

	updated, err := store.Update(ctx, info.ID, []byte(`{"type":"Word"}`))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Size != int64(len(`{"type":"Word"}`)) {
		t.Errorf("Expected updated size, got %d", updated.Size)
	}

	if _, err := store.Update(ctx, "missing-id", nil); err == nil {
		t.Error("Expected error updating missing file")
	}
}

func TestFindExisting(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	stored := SongRef{Title: "Yellow", Artist: "Coldplay", Duration: 266, PlatformID: "track123"}
	if _, err := store.Upload(ctx, FileName(stored)+".json", "application/json", []byte("{}")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	t.Run("Exact platform ID", func(t *testing.T) {
		found, err := FindExisting(ctx, store, SongRef{Title: "Yellow", Artist: "Coldplay", PlatformID: "track123"})
		if err != nil {
			t.Fatalf("FindExisting failed: %v", err)
		}
		if found == nil {
			t.Fatal("Expected a match by platform ID")
		}
	})

	t.Run("Fuzzy metadata", func(t *testing.T) {
		found, err := FindExisting(ctx, store, SongRef{Title: "Yellow", Artist: "Coldplay", Duration: 267})
		if err != nil {
			t.Fatalf("FindExisting failed: %v", err)
		}
		if found == nil {
			t.Fatal("Expected a fuzzy match")
		}
	})

	t.Run("No match", func(t *testing.T) {
		found, err := FindExisting(ctx, store, SongRef{Title: "Clocks", Artist: "Coldplay"})
		if err != nil {
			t.Fatalf("FindExisting failed: %v", err)
		}
		if found != nil {
			t.Errorf("Expected no match, got %s", found.Name)
		}
	})
}
