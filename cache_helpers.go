package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/services/resolver"
)

const (
	lyricsCachePrefix   = "lyrics:"
	negativeCachePrefix = "no_lyrics:"
)

// Resolution cache operations

// getCachedResolution retrieves and parses a cached resolution.
func getCachedResolution(ctx context.Context, key string) (*Resolution, bool) {
	cached, ok := kvStore.Get(ctx, key)
	if !ok {
		return nil, false
	}

	var res Resolution
	if err := json.Unmarshal([]byte(cached), &res); err != nil || res.Document.Empty() {
		// A corrupt entry would otherwise shadow the real lyrics forever.
		kvStore.Delete(ctx, key)
		return nil, false
	}
	return &res, true
}

// setCachedResolution stores a resolution under the query's cache key.
func setCachedResolution(ctx context.Context, key string, res *Resolution) {
	data, err := json.Marshal(res)
	if err != nil {
		log.Errorf("%s Error marshaling cached resolution: %v", logcolors.LogCacheLyrics, err)
		return
	}

	ttl := time.Duration(conf.Configuration.LyricsCacheTTLInSeconds) * time.Second
	if err := kvStore.Set(ctx, key, string(data), ttl); err != nil {
		log.Errorf("%s Error setting cache value: %v", logcolors.LogCacheLyrics, err)
	}
}

// Negative cache operations

// getNegativeCache checks if a request is in the negative cache (no lyrics available)
// Returns the reason and true if found, empty string and false otherwise
func getNegativeCache(ctx context.Context, key string) (string, bool) {
	cached, ok := kvStore.Get(ctx, negativeCachePrefix+key)
	if !ok {
		return "", false
	}

	var entry NegativeCacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		return "", false
	}
	return entry.Reason, true
}

// setNegativeCache stores a failed lookup in the negative cache
func setNegativeCache(ctx context.Context, key, reason string) {
	entry := NegativeCacheEntry{
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Errorf("%s Error marshaling negative cache entry: %v", logcolors.LogCacheNegative, err)
		return
	}

	ttl := time.Duration(conf.Configuration.NegativeCacheTTLInDays) * 24 * time.Hour
	if err := kvStore.Set(ctx, negativeCachePrefix+key, string(data), ttl); err != nil {
		log.Errorf("%s Error setting negative cache: %v", logcolors.LogCacheNegative, err)
		return
	}
	log.Infof("%s Cached 'no lyrics' for key: %s (reason: %s)", logcolors.LogCacheNegative, key, reason)
}

// shouldNegativeCache determines if an error should be stored in negative cache
// Only permanent "no lyrics" type outcomes should be cached, not transient failures
func shouldNegativeCache(err error) bool {
	var notFound *resolver.NotFoundError
	return errors.As(err, &notFound)
}

// Cache key builders

// buildNormalizedCacheKey creates a consistent, normalized cache key.
// This ensures cache hits regardless of input casing or whitespace variations.
func buildNormalizedCacheKey(title, artist, album, durationStr string) string {
	// Normalize: trim whitespace and convert to lowercase
	song := strings.ToLower(strings.TrimSpace(title))
	performer := strings.ToLower(strings.TrimSpace(artist))
	record := strings.ToLower(strings.TrimSpace(album))

	// Build query without trailing spaces for empty values
	query := song + " " + performer
	if record != "" {
		query += " " + record
	}
	if durationStr != "" {
		query += " " + durationStr + "s"
	}

	return fmt.Sprintf("%s%s", lyricsCachePrefix, query)
}

// buildFallbackCacheKeys returns a list of cache keys to try when resolution fails.
// Keys are ordered from most specific to least specific, excluding the original key.
func buildFallbackCacheKeys(title, artist, album, durationStr, originalKey string) []string {
	var keys []string

	// Fallback: without album (if album was provided)
	if album != "" {
		noAlbum := buildNormalizedCacheKey(title, artist, "", durationStr)
		if noAlbum != originalKey {
			keys = append(keys, noAlbum)
		}
	}

	// Fallback: without duration, least specific
	if durationStr != "" {
		noDuration := buildNormalizedCacheKey(title, artist, album, "")
		if noDuration != originalKey {
			keys = append(keys, noDuration)
		}
	}

	return keys
}

// invalidateResolutionCache drops the cached resolution and any negative
// entry for a song, used after a fresh community submission.
func invalidateResolutionCache(ctx context.Context, title, artist, album, durationStr string) {
	key := buildNormalizedCacheKey(title, artist, album, durationStr)
	keys := append([]string{key}, buildFallbackCacheKeys(title, artist, album, durationStr, key)...)
	for _, k := range keys {
		kvStore.Delete(ctx, k)
		kvStore.Delete(ctx, negativeCachePrefix+k)
	}
}
