package providers

import (
	"context"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/storage"
)

// StoredLookup checks the document store for lyrics already persisted
// under this song's fingerprint, letting a source answer without
// repeating its upstream search. A nil result means the caller should
// continue upstream; store trouble is logged and treated the same way.
func StoredLookup(ctx context.Context, store storage.Store, source string, ref storage.SongRef) *Outcome {
	if store == nil {
		return nil
	}

	info, err := storage.FindExisting(ctx, store, ref)
	if err != nil {
		log.Warnf("%s Store lookup for %s failed: %v", logcolors.LogWarning, source, err)
		return nil
	}
	if info == nil {
		return nil
	}

	data, err := store.Download(ctx, info.ID)
	if err != nil {
		log.Warnf("%s Download of stored document %s failed: %v", logcolors.LogWarning, info.ID, err)
		return nil
	}
	doc, err := storage.DecodeDocument(info, data)
	if err != nil {
		log.Warnf("%s %v", logcolors.LogWarning, err)
		return nil
	}
	doc.Cached = lyrics.CachedFile

	parsed := storage.ParseName(info.Name)
	log.Infof("%s %s answered %q by %q from the document store", logcolors.LogCacheLyrics,
		source, parsed.Title, parsed.Artist)

	return &Outcome{
		Status:  StatusFound,
		Source:  source,
		Data:    doc,
		Raw:     data,
		RawMime: info.MimeType,
		Exact: &ExactMetadata{
			Title:      parsed.Title,
			Artist:     parsed.Artist,
			Album:      parsed.Album,
			DurationMs: int(parsed.Duration * 1000),
			ISRC:       parsed.ISRC,
			PlatformID: parsed.PlatformID,
			Score:      1.0,
		},
	}
}
