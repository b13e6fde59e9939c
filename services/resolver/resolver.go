// Package resolver fans a lyric query out across the registered
// sources, picks the best result by sync quality, and persists fresh
// upstream lyrics into the document store in the background.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/catalog"
	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/storage"
)

const persistTimeout = 30 * time.Second

type Resolver struct {
	registry *providers.Registry
	store    storage.Store
	catalog  *catalog.Catalog

	persistWG sync.WaitGroup
}

// New builds a resolver. The store and catalog may be nil, which
// disables background persistence.
func New(registry *providers.Registry, store storage.Store, cat *catalog.Catalog) *Resolver {
	return &Resolver{registry: registry, store: store, catalog: cat}
}

// Result is one resolved lyric document plus where it came from.
type Result struct {
	Document    *lyrics.Document
	Source      string
	Score       float64
	Fingerprint string
}

// NotFoundError reports that no searched source had the song.
type NotFoundError struct {
	Query           providers.Query
	SearchedSources []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lyrics not found in sources: %s", strings.Join(e.SearchedSources, ", "))
}

// Resolve queries the named sources concurrently and reduces the
// results. Word-synced lyrics beat line-synced ones; among equals the
// earliest source in the list wins. A failing source is treated as a
// miss so one broken upstream never sinks the request.
func (r *Resolver) Resolve(ctx context.Context, query providers.Query, opts providers.Options, sources []string) (*Result, error) {
	if len(sources) == 0 {
		sources = providers.DefaultSources
	}

	outcomes := make([]*providers.Outcome, len(sources))
	var wg sync.WaitGroup
	for i, name := range sources {
		provider, err := r.registry.Get(name)
		if err != nil {
			log.Warnf("%s Skipping unknown source %q", logcolors.LogFallback, name)
			continue
		}

		wg.Add(1)
		go func(i int, p providers.Provider) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Errorf("%s Source %s panicked: %v", logcolors.LogFallback, p.Name(), rec)
				}
			}()

			outcome, err := p.Fetch(ctx, query, opts)
			if err != nil {
				log.Warnf("%s Source %s failed: %v", logcolors.LogFallback, p.Name(), err)
				return
			}
			outcomes[i] = outcome
		}(i, provider)
	}
	wg.Wait()

	best := -1
	bestPriority := 0
	for i, outcome := range outcomes {
		if outcome == nil || outcome.Status != providers.StatusFound {
			continue
		}
		if outcome.Data == nil || outcome.Data.Empty() {
			continue
		}
		if priority := syncPriority(sources[i], outcome.Data); priority > bestPriority {
			best, bestPriority = i, priority
		}
	}
	if best == -1 {
		return nil, &NotFoundError{Query: query, SearchedSources: sources}
	}

	outcome := outcomes[best]
	doc := outcome.Data
	ref := resolvedRef(query, outcome)

	doc.Metadata.Title = ref.Title
	doc.Metadata.Artist = ref.Artist
	doc.Metadata.Album = ref.Album
	doc.Metadata.ISRC = ref.ISRC
	doc.Metadata.PlatformID = ref.PlatformID
	if ref.Duration > 0 {
		doc.Metadata.DurationMs = int(ref.Duration * 1000)
	}
	if doc.Metadata.SongWriters == nil {
		doc.Metadata.SongWriters = []string{}
	}

	fingerprint := storage.FileName(ref)
	log.Infof("%s Resolved %q via %s (priority %d)", logcolors.LogMatch,
		fingerprint, outcome.Source, bestPriority)

	if r.shouldPersist(outcome) {
		r.persistWG.Add(1)
		go r.persist(ref, outcome)
	}

	result := &Result{
		Document:    doc,
		Source:      outcome.Source,
		Fingerprint: fingerprint,
	}
	if outcome.Exact != nil {
		result.Score = outcome.Exact.Score
	}
	return result, nil
}

// Wait blocks until all background persistence has finished. Called
// on shutdown and by tests.
func (r *Resolver) Wait() {
	r.persistWG.Wait()
}

// syncPriority ranks a document's sync quality. The musixmatch and
// spotify payloads declare their sync type up front; the catalog
// sources are judged by whether syllable timing actually survived
// parsing.
func syncPriority(source string, doc *lyrics.Document) int {
	if strings.Contains(source, "musixmatch") || strings.Contains(source, "spotify") {
		if doc.Type == lyrics.SyncWord {
			return 3
		}
		return 2
	}
	if doc.HasSyllableSync() {
		return 3
	}
	return 2
}

// resolvedRef merges song identity with precedence: the matched
// track's exact metadata, then whatever the parsed document carried,
// then the caller's query.
func resolvedRef(query providers.Query, outcome *providers.Outcome) storage.SongRef {
	exact := outcome.Exact
	if exact == nil {
		exact = &providers.ExactMetadata{}
	}
	meta := outcome.Data.Metadata

	ref := storage.SongRef{
		Title:      firstNonEmpty(exact.Title, meta.Title, query.Title),
		Artist:     firstNonEmpty(exact.Artist, meta.Artist, query.Artist),
		Album:      firstNonEmpty(exact.Album, meta.Album, query.Album),
		ISRC:       firstNonEmpty(exact.ISRC, meta.ISRC, query.ISRC),
		PlatformID: firstNonEmpty(exact.PlatformID, meta.PlatformID, query.PlatformID),
	}
	switch {
	case exact.DurationMs > 0:
		ref.Duration = float64(exact.DurationMs) / 1000
	case meta.DurationMs > 0:
		ref.Duration = float64(meta.DurationMs) / 1000
	default:
		ref.Duration = query.Duration
	}
	return ref
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// shouldPersist is true for fresh upstream lyrics with a raw body.
// Documents that came out of the store or the cache stay put.
func (r *Resolver) shouldPersist(outcome *providers.Outcome) bool {
	if r.store == nil || len(outcome.Raw) == 0 {
		return false
	}
	cached := outcome.Data.Cached
	return cached != lyrics.CachedFile && cached != lyrics.CachedKV
}

func (r *Resolver) persist(ref storage.SongRef, outcome *providers.Outcome) {
	defer r.persistWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	payload := outcome.Raw
	mime := outcome.RawMime
	ext := extensionFor(mime)

	// Vendor JSON payloads are stored in the canonical document form so
	// any source can read them back later. TTML and LRC bodies keep
	// their original markup.
	if ext == ".json" {
		converted, err := json.Marshal(outcome.Data)
		if err != nil {
			log.Warnf("%s Failed to encode document for %s: %v", logcolors.LogWarning, outcome.Source, err)
			return
		}
		payload = converted
		mime = "application/json"
	}

	name := storage.FileName(ref) + ext

	var info *storage.FileInfo
	existing, err := storage.FindExisting(ctx, r.store, ref)
	switch {
	case err != nil:
	case existing != nil:
		// Never clobber a stored document of a different format, such as
		// a community JSON submission, with this source's body.
		if !strings.EqualFold(path.Ext(existing.Name), ext) {
			log.Debugf("%s Keeping stored %s over fresh %s from %s",
				logcolors.LogCacheLyrics, existing.Name, name, outcome.Source)
			return
		}
		info, err = r.store.Update(ctx, existing.ID, payload)
	default:
		info, err = r.store.Upload(ctx, name, mime, payload)
	}
	if err != nil {
		log.Warnf("%s Failed to persist %s: %v", logcolors.LogWarning, name, err)
		return
	}
	log.Infof("%s Persisted %s from %s", logcolors.LogCacheLyrics, name, outcome.Source)

	if outcome.Source == "apple" && r.catalog != nil {
		entry := catalog.Entry{
			Artist:    ref.Artist,
			TrackName: ref.Title,
			Album:     ref.Album,
			FileID:    info.ID,
			Source:    "Apple",
		}
		if err := r.catalog.Upsert(ctx, entry); err != nil {
			log.Warnf("%s Failed to update song catalog: %v", logcolors.LogWarning, err)
		}
	}
}

func extensionFor(mime string) string {
	switch mime {
	case "application/ttml+xml":
		return ".ttml"
	case "text/plain":
		return ".lrc"
	default:
		return ".json"
	}
}
