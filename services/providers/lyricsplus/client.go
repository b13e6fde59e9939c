// Package lyricsplus serves community-submitted lyrics out of the
// document store. Documents arrive through the proof-of-work upload
// flow and are fingerprinted by song identity, so lookups go through
// the same fuzzy matching as the upstream catalogs.
package lyricsplus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/storage"
)

// ErrAlreadyExists is returned by Submit when the song already has a
// stored document and the caller did not ask to replace it.
var ErrAlreadyExists = errors.New("lyrics already stored for this song")

type Client struct {
	store storage.Store
}

func New(store storage.Store) *Client {
	return &Client{store: store}
}

func (c *Client) Name() string {
	return "lyricsplus"
}

// Fetch looks the song up in the document store.
func (c *Client) Fetch(ctx context.Context, query providers.Query, opts providers.Options) (*providers.Outcome, error) {
	ref := query.SongRef()

	info, err := storage.FindExisting(ctx, c.store, ref)
	if err != nil {
		return nil, providers.NewProviderError("lyricsplus", "store lookup failed", err)
	}
	if info == nil {
		return providers.NotFound("lyricsplus", "no stored document for this song"), nil
	}

	data, err := c.store.Download(ctx, info.ID)
	if err != nil {
		return nil, providers.NewProviderError("lyricsplus", "document download failed", err)
	}

	doc, err := storage.DecodeDocument(info, data)
	if err != nil {
		log.Warnf("%s %v", logcolors.LogWarning, err)
		return providers.NotFound("lyricsplus", "stored document is not usable"), nil
	}
	doc.Cached = lyrics.CachedFile
	if doc.Metadata.Source == "" {
		doc.Metadata.Source = "Lyrics+"
	}

	parsed := storage.ParseName(info.Name)
	log.Infof("%s Resolved %q by %q from stored document %s", logcolors.LogSuccess,
		parsed.Title, parsed.Artist, info.ID)

	return &providers.Outcome{
		Status:  providers.StatusFound,
		Source:  "lyricsplus",
		Data:    doc,
		Raw:     data,
		RawMime: info.MimeType,
		Exact: &providers.ExactMetadata{
			Title:      parsed.Title,
			Artist:     parsed.Artist,
			Album:      parsed.Album,
			DurationMs: int(parsed.Duration * 1000),
			ISRC:       parsed.ISRC,
			PlatformID: parsed.PlatformID,
			Score:      1.0,
		},
	}, nil
}

// Submit stores an uploaded document under the song's fingerprint.
// Existing documents are only replaced when force is set.
func (c *Client) Submit(ctx context.Context, ref storage.SongRef, payload []byte, force bool) (*storage.FileInfo, error) {
	var doc lyrics.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("payload is not a valid lyric document: %w", err)
	}
	if doc.Empty() {
		return nil, fmt.Errorf("payload has no lyric lines")
	}

	existing, err := storage.FindExisting(ctx, c.store, ref)
	if err != nil {
		return nil, fmt.Errorf("store lookup failed: %w", err)
	}
	if existing != nil {
		if !force {
			return nil, ErrAlreadyExists
		}
		info, err := c.store.Update(ctx, existing.ID, payload)
		if err != nil {
			return nil, fmt.Errorf("document update failed: %w", err)
		}
		log.Infof("%s Replaced stored document %s", logcolors.LogLyrics, existing.Name)
		return info, nil
	}

	info, err := c.store.Upload(ctx, storage.FileName(ref)+".json", "application/json", payload)
	if err != nil {
		return nil, fmt.Errorf("document upload failed: %w", err)
	}
	log.Infof("%s Stored new document %s", logcolors.LogLyrics, info.Name)
	return info, nil
}
