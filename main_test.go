package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lyricsplus-api-go/catalog"
	"lyricsplus-api-go/kv"
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/pow"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/services/providers/lyricsplus"
	"lyricsplus-api-go/services/resolver"
	"lyricsplus-api-go/storage"
)

// mockProvider is a registry entry with a canned outcome.
type mockProvider struct {
	name    string
	outcome *providers.Outcome
	err     error
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Fetch(ctx context.Context, query providers.Query, opts providers.Options) (*providers.Outcome, error) {
	return m.outcome, m.err
}

func wordDocument(language string) *lyrics.Document {
	return &lyrics.Document{
		Type: lyrics.SyncWord,
		Metadata: lyrics.Metadata{
			Source:   "Test",
			Language: language,
		},
		Lines: []lyrics.Line{
			{
				Text: "Look at the stars",
				Syllables: []lyrics.Syllable{
					{Time: 1000, Duration: 300, Text: "Look "},
					{Time: 1300, Duration: 200, Text: "at "},
					{Time: 1500, Duration: 200, Text: "the "},
					{Time: 1700, Duration: 400, Text: "stars"},
				},
			},
		},
		Cached: lyrics.CachedNone,
	}
}

func foundOutcome(source string, doc *lyrics.Document) *providers.Outcome {
	return &providers.Outcome{
		Status: providers.StatusFound,
		Source: source,
		Data:   doc,
	}
}

// setupTestEnvironment wires the package globals to throwaway stores
// and an empty provider registry, returning the registry so tests can
// install mocks.
func setupTestEnvironment(t *testing.T) *providers.Registry {
	t.Helper()
	dir := t.TempDir()

	var err error
	kvStore, err = kv.NewBoltStore(filepath.Join(dir, "kv.db"), false)
	if err != nil {
		t.Fatalf("Failed to open kv store: %v", err)
	}
	t.Cleanup(func() { kvStore.Close() })

	docStore, err = storage.NewBoltStore(filepath.Join(dir, "docs.db"))
	if err != nil {
		t.Fatalf("Failed to open document store: %v", err)
	}
	t.Cleanup(func() { docStore.Close() })

	songCatalog = catalog.New(kvStore)
	lpClient = lyricsplus.New(docStore)
	appleClient = nil

	registry := providers.NewRegistry()
	lyricsResolver = resolver.New(registry, nil, nil)

	powIssuer, err = pow.New("test-secret", 0, 5*time.Minute)
	if err != nil {
		t.Fatalf("Failed to build challenge issuer: %v", err)
	}

	// Entries linger for a second after a resolution, long enough to
	// leak into the next test reusing the same song.
	inFlightReqs.Range(func(key, value interface{}) bool {
		inFlightReqs.Delete(key)
		return true
	})

	return registry
}

func TestParseLyricsQuery(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid minimal", "/v2/lyrics/get?title=Yellow&artist=Coldplay", false},
		{"valid full", "/v2/lyrics/get?title=Yellow&artist=Coldplay&album=Parachutes&duration=266.8&isrc=GBAYE0000521&platformId=abc", false},
		{"missing title", "/v2/lyrics/get?artist=Coldplay", true},
		{"missing artist", "/v2/lyrics/get?title=Yellow", true},
		{"whitespace only title", "/v2/lyrics/get?title=%20%20&artist=Coldplay", true},
		{"negative duration", "/v2/lyrics/get?title=Yellow&artist=Coldplay&duration=-5", true},
		{"non-numeric duration", "/v2/lyrics/get?title=Yellow&artist=Coldplay&duration=abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			_, err := parseLyricsQuery(r)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseLyricsQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLyricsQuery_Sources(t *testing.T) {
	r := httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=apple,%20musixmatch,,spotify", nil)
	lq, err := parseLyricsQuery(r)
	if err != nil {
		t.Fatalf("parseLyricsQuery() error = %v", err)
	}

	want := []string{"apple", "musixmatch", "spotify"}
	if len(lq.sources) != len(want) {
		t.Fatalf("Expected %d sources, got %d", len(want), len(lq.sources))
	}
	for i, name := range want {
		if lq.sources[i] != name {
			t.Errorf("sources[%d] = %q, want %q", i, lq.sources[i], name)
		}
	}
}

func TestParseLyricsQuery_ForceReload(t *testing.T) {
	tests := []struct {
		name  string
		param string
		want  bool
	}{
		{"explicit true", "forceReload=true", true},
		{"explicit false", "forceReload=false", false},
		{"absent", "", false},
		{"other value", "forceReload=1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/v2/lyrics/get?title=Yellow&artist=Coldplay"
			if tt.param != "" {
				url += "&" + tt.param
			}
			lq, err := parseLyricsQuery(httptest.NewRequest("GET", url, nil))
			if err != nil {
				t.Fatalf("parseLyricsQuery() error = %v", err)
			}
			if lq.forceReload != tt.want {
				t.Errorf("forceReload = %v, want %v", lq.forceReload, tt.want)
			}
		})
	}
}

func TestBuildNormalizedCacheKey(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		artist   string
		album    string
		duration string
		expected string
	}{
		{
			name:     "basic key",
			title:    "Yellow",
			artist:   "Coldplay",
			expected: "lyrics:yellow coldplay",
		},
		{
			name:     "casing and whitespace normalized",
			title:    "  YELLOW ",
			artist:   " ColdPlay",
			expected: "lyrics:yellow coldplay",
		},
		{
			name:     "with album",
			title:    "Yellow",
			artist:   "Coldplay",
			album:    "Parachutes",
			expected: "lyrics:yellow coldplay parachutes",
		},
		{
			name:     "with album and duration",
			title:    "Yellow",
			artist:   "Coldplay",
			album:    "Parachutes",
			duration: "266",
			expected: "lyrics:yellow coldplay parachutes 266s",
		},
		{
			name:     "duration without album",
			title:    "Yellow",
			artist:   "Coldplay",
			duration: "266",
			expected: "lyrics:yellow coldplay 266s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildNormalizedCacheKey(tt.title, tt.artist, tt.album, tt.duration)
			if got != tt.expected {
				t.Errorf("buildNormalizedCacheKey() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBuildFallbackCacheKeys(t *testing.T) {
	original := buildNormalizedCacheKey("Yellow", "Coldplay", "Parachutes", "266")
	keys := buildFallbackCacheKeys("Yellow", "Coldplay", "Parachutes", "266", original)

	want := []string{
		"lyrics:yellow coldplay 266s",
		"lyrics:yellow coldplay parachutes",
	}
	if len(keys) != len(want) {
		t.Fatalf("Expected %d fallback keys, got %d: %v", len(want), len(keys), keys)
	}
	for i, key := range want {
		if keys[i] != key {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], key)
		}
	}
}

func TestBuildFallbackCacheKeys_NoVariants(t *testing.T) {
	original := buildNormalizedCacheKey("Yellow", "Coldplay", "", "")
	keys := buildFallbackCacheKeys("Yellow", "Coldplay", "", "", original)
	if len(keys) != 0 {
		t.Errorf("Expected no fallback keys, got %v", keys)
	}
}

func TestShouldNegativeCache(t *testing.T) {
	notFound := &resolver.NotFoundError{SearchedSources: []string{"apple"}}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not found error", notFound, true},
		{"wrapped not found error", fmt.Errorf("resolving: %w", notFound), true},
		{"generic error", errors.New("connection refused"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldNegativeCache(tt.err); got != tt.want {
				t.Errorf("shouldNegativeCache(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNegativeCacheRoundTrip(t *testing.T) {
	setupTestEnvironment(t)
	ctx := context.Background()

	key := buildNormalizedCacheKey("Unknown Song", "Nobody", "", "")
	if _, ok := getNegativeCache(ctx, key); ok {
		t.Fatal("Expected empty negative cache")
	}

	setNegativeCache(ctx, key, "lyrics not found in sources: apple")

	reason, ok := getNegativeCache(ctx, key)
	if !ok {
		t.Fatal("Expected negative cache hit")
	}
	if reason != "lyrics not found in sources: apple" {
		t.Errorf("reason = %q, want %q", reason, "lyrics not found in sources: apple")
	}
}

func TestCachedResolutionRoundTrip(t *testing.T) {
	setupTestEnvironment(t)
	ctx := context.Background()

	key := buildNormalizedCacheKey("Yellow", "Coldplay", "", "")
	if _, ok := getCachedResolution(ctx, key); ok {
		t.Fatal("Expected cache miss on empty store")
	}

	setCachedResolution(ctx, key, &Resolution{
		Document: wordDocument("en"),
		Source:   "apple",
		Score:    0.97,
	})

	res, ok := getCachedResolution(ctx, key)
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if res.Source != "apple" {
		t.Errorf("Source = %q, want %q", res.Source, "apple")
	}
	if res.Score != 0.97 {
		t.Errorf("Score = %v, want %v", res.Score, 0.97)
	}
	if len(res.Document.Lines) != 1 {
		t.Errorf("Expected 1 line, got %d", len(res.Document.Lines))
	}
}

func TestGetCachedResolution_DeletesCorruptEntry(t *testing.T) {
	setupTestEnvironment(t)
	ctx := context.Background()

	key := buildNormalizedCacheKey("Yellow", "Coldplay", "", "")
	if err := kvStore.Set(ctx, key, "{not json", 0); err != nil {
		t.Fatalf("Failed to seed corrupt entry: %v", err)
	}

	if _, ok := getCachedResolution(ctx, key); ok {
		t.Fatal("Expected miss for corrupt entry")
	}
	if _, ok := kvStore.Get(ctx, key); ok {
		t.Error("Expected corrupt entry to be deleted")
	}
}

func TestInvalidateResolutionCache(t *testing.T) {
	setupTestEnvironment(t)
	ctx := context.Background()

	key := buildNormalizedCacheKey("Yellow", "Coldplay", "Parachutes", "266")
	setCachedResolution(ctx, key, &Resolution{Document: wordDocument("en"), Source: "apple"})
	setNegativeCache(ctx, buildNormalizedCacheKey("Yellow", "Coldplay", "", ""), "gone")

	invalidateResolutionCache(ctx, "Yellow", "Coldplay", "Parachutes", "266")

	if _, ok := getCachedResolution(ctx, key); ok {
		t.Error("Expected cached resolution to be invalidated")
	}
	if _, ok := getNegativeCache(ctx, buildNormalizedCacheKey("Yellow", "Coldplay", "", "")); ok {
		t.Error("Expected negative entry for the fallback key to be invalidated")
	}
}

func TestHandleLyrics_MissingParams(t *testing.T) {
	setupTestEnvironment(t)

	w := httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want %q", got, "no-store")
	}
}

func TestHandleLyricsV2_MissThenHit(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", wordDocument("en")),
	})

	// First request resolves upstream.
	w := httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=mock", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := w.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Errorf("X-Cache-Status = %q, want %q", got, "MISS")
	}
	if got := w.Header().Get("X-Source"); got != "mock" {
		t.Errorf("X-Source = %q, want %q", got, "mock")
	}
	if got := w.Header().Get("Cache-Control"); got != cacheControlImmutable {
		t.Errorf("Cache-Control = %q, want %q", got, cacheControlImmutable)
	}

	var first LyricsResponse
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if first.Type != lyrics.SyncWord {
		t.Errorf("type = %q, want %q", first.Type, lyrics.SyncWord)
	}
	if first.Metadata.Title != "Yellow" || first.Metadata.Artist != "Coldplay" {
		t.Errorf("metadata = %q by %q, want query identity", first.Metadata.Title, first.Metadata.Artist)
	}
	if first.IsRTLLanguage {
		t.Error("Expected isRtlLanguage false for English")
	}
	if len(first.Lines) != 1 {
		t.Errorf("Expected 1 line, got %d", len(first.Lines))
	}

	// Second request is served from the response cache.
	w = httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=mock", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Errorf("X-Cache-Status = %q, want %q", got, "HIT")
	}

	var second LyricsResponse
	if err := json.NewDecoder(w.Body).Decode(&second); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if second.Cached != lyrics.CachedKV {
		t.Errorf("cached = %q, want %q", second.Cached, lyrics.CachedKV)
	}
}

func TestHandleLyrics_NotFoundIsNegativeCached(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: providers.NotFound("mock", "no match"),
	})

	w := httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Nope&artist=Nobody&source=mock", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := w.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Errorf("X-Cache-Status = %q, want %q", got, "MISS")
	}

	// The miss is now negative cached, second request short-circuits.
	w = httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Nope&artist=Nobody&source=mock", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
	if got := w.Header().Get("X-Cache-Status"); got != "NEGATIVE_HIT" {
		t.Errorf("X-Cache-Status = %q, want %q", got, "NEGATIVE_HIT")
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["reason"] == "" {
		t.Error("Expected a reason in the negative hit response")
	}
}

func TestHandleLyricsV1_FlatFormat(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", wordDocument("en")),
	})

	w := httptest.NewRecorder()
	getLyricsV1(w, httptest.NewRequest("GET", "/v1/lyrics/get?title=Yellow&artist=Coldplay&source=mock", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp FlatLyricsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Type != "syllable" {
		t.Errorf("type = %q, want %q", resp.Type, "syllable")
	}
	// 4 syllables flatten into 4 segments, the last one line-ending.
	if len(resp.Segments) != 4 {
		t.Fatalf("Expected 4 segments, got %d", len(resp.Segments))
	}
	if resp.Segments[3].IsLineEnding != 1 {
		t.Error("Expected last segment to carry the line ending marker")
	}
}

func TestHandleLyricsTTML(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", wordDocument("en")),
	})

	w := httptest.NewRecorder()
	getLyricsTTML(w, httptest.NewRequest("GET", "/v1/ttml/get?title=Yellow&artist=Coldplay&source=mock", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/ttml+xml" {
		t.Errorf("Content-Type = %q, want %q", got, "application/ttml+xml")
	}
	if !strings.Contains(w.Body.String(), "<tt") {
		t.Errorf("Expected a TTML document, got %q", w.Body.String())
	}
}

func TestHandleLyricsV2_FormatOverride(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", wordDocument("en")),
	})

	w := httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=mock&format=ttml", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/ttml+xml" {
		t.Errorf("Content-Type = %q, want %q", got, "application/ttml+xml")
	}

	w = httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=mock&format=v1", nil))

	var flat FlatLyricsResponse
	if err := json.NewDecoder(w.Body).Decode(&flat); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if flat.Type != "syllable" {
		t.Errorf("type = %q, want %q", flat.Type, "syllable")
	}
}

func TestHandleLyrics_RTLLanguage(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", wordDocument("ar")),
	})

	w := httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Song&artist=Artist&source=mock", nil))

	var resp LyricsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.IsRTLLanguage {
		t.Error("Expected isRtlLanguage true for Arabic")
	}
}

func TestHandleLyrics_CacheOnlyTierRejected(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", wordDocument("en")),
	})

	r := httptest.NewRequest("GET", "/v2/lyrics/get?title=Uncached&artist=Nobody&source=mock", nil)
	r = r.WithContext(context.WithValue(r.Context(), cacheOnlyModeKey, true))

	w := httptest.NewRecorder()
	getLyricsV2(w, r)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want %q", got, "60")
	}
	if got := w.Header().Get("X-Cache-Status"); got != "MISS" {
		t.Errorf("X-Cache-Status = %q, want %q", got, "MISS")
	}
}

func TestHandleLyrics_CacheOnlyTierServesCached(t *testing.T) {
	registry := setupTestEnvironment(t)
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", wordDocument("en")),
	})

	// Populate the cache with a normal-tier request first.
	w := httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=mock", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("seed request failed with %d", w.Code)
	}

	r := httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=mock", nil)
	r = r.WithContext(context.WithValue(r.Context(), cacheOnlyModeKey, true))

	w = httptest.NewRecorder()
	getLyricsV2(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Errorf("X-Cache-Status = %q, want %q", got, "HIT")
	}
}

func TestGetMetadata_CachedResolution(t *testing.T) {
	registry := setupTestEnvironment(t)
	doc := wordDocument("en")
	doc.Metadata.Title = "Yellow"
	doc.Metadata.Album = "Parachutes"
	registry.Register(&mockProvider{
		name:    "mock",
		outcome: foundOutcome("mock", doc),
	})

	// Resolve once so the shared resolution cache holds the document.
	w := httptest.NewRecorder()
	getLyricsV2(w, httptest.NewRequest("GET", "/v2/lyrics/get?title=Yellow&artist=Coldplay&source=mock", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("seed request failed with %d", w.Code)
	}

	w = httptest.NewRecorder()
	getMetadata(w, httptest.NewRequest("GET", "/v1/metadata/get?title=Yellow&artist=Coldplay", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := w.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Errorf("X-Cache-Status = %q, want %q", got, "HIT")
	}

	var resp MetadataResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Metadata.Title != "Yellow" {
		t.Errorf("title = %q, want %q", resp.Metadata.Title, "Yellow")
	}
	if resp.Metadata.Album != "Parachutes" {
		t.Errorf("album = %q, want %q", resp.Metadata.Album, "Parachutes")
	}
	if resp.Source != "mock" {
		t.Errorf("source = %q, want %q", resp.Source, "mock")
	}
}

func TestGetMetadata_UnavailableWithoutCatalog(t *testing.T) {
	setupTestEnvironment(t)

	w := httptest.NewRecorder()
	getMetadata(w, httptest.NewRequest("GET", "/v1/metadata/get?title=Yellow&artist=Coldplay", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestSearchSonglist(t *testing.T) {
	setupTestEnvironment(t)
	ctx := context.Background()

	entries := []catalog.Entry{
		{Artist: "Coldplay", TrackName: "Yellow", Album: "Parachutes", Source: "Apple"},
		{Artist: "Coldplay", TrackName: "Clocks", Album: "A Rush of Blood to the Head", Source: "Apple"},
		{Artist: "Radiohead", TrackName: "Creep", Source: "Apple"},
	}
	for _, e := range entries {
		if err := songCatalog.Upsert(ctx, e); err != nil {
			t.Fatalf("Failed to seed catalog: %v", err)
		}
	}

	w := httptest.NewRecorder()
	searchSonglist(w, httptest.NewRequest("GET", "/v1/songlist/search?q=coldplay", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Count   int             `json:"count"`
		Results []catalog.Entry `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want %d", resp.Count, 2)
	}
}

func TestSearchSonglist_MissingQuery(t *testing.T) {
	setupTestEnvironment(t)

	w := httptest.NewRecorder()
	searchSonglist(w, httptest.NewRequest("GET", "/v1/songlist/search", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func submissionBody(t *testing.T, challenge, nonce string, force bool) *bytes.Buffer {
	t.Helper()
	payload, err := json.Marshal(wordDocument("en"))
	if err != nil {
		t.Fatalf("Failed to marshal lyrics: %v", err)
	}
	body, err := json.Marshal(SubmissionRequest{
		Challenge: challenge,
		Nonce:     nonce,
		Title:     "Yellow",
		Artist:    "Coldplay",
		Album:     "Parachutes",
		Duration:  266.8,
		Force:     force,
		Lyrics:    payload,
	})
	if err != nil {
		t.Fatalf("Failed to marshal submission: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestChallengeAndSubmitFlow(t *testing.T) {
	setupTestEnvironment(t)

	w := httptest.NewRecorder()
	getChallenge(w, httptest.NewRequest("GET", "/v1/lyricsplus/challenge", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("challenge status = %d, want %d", w.Code, http.StatusOK)
	}

	var challenge struct {
		Challenge  string `json:"challenge"`
		Difficulty int    `json:"difficulty"`
	}
	if err := json.NewDecoder(w.Body).Decode(&challenge); err != nil {
		t.Fatalf("Failed to decode challenge: %v", err)
	}
	if challenge.Challenge == "" {
		t.Fatal("Expected a challenge token")
	}

	// Difficulty zero accepts any nonce.
	w = httptest.NewRecorder()
	submitLyrics(w, httptest.NewRequest("POST", "/v1/lyricsplus/submit", submissionBody(t, challenge.Challenge, "nonce", false)))

	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, want %d, body %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created["id"] == "" || created["id"] == nil {
		t.Error("Expected a document id in the response")
	}

	// A duplicate without force is refused.
	w = httptest.NewRecorder()
	submitLyrics(w, httptest.NewRequest("POST", "/v1/lyricsplus/submit", submissionBody(t, challenge.Challenge, "nonce", false)))
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate submit status = %d, want %d", w.Code, http.StatusConflict)
	}

	// Force replaces the stored lyrics.
	w = httptest.NewRecorder()
	submitLyrics(w, httptest.NewRequest("POST", "/v1/lyricsplus/submit", submissionBody(t, challenge.Challenge, "nonce", true)))
	if w.Code != http.StatusCreated {
		t.Errorf("forced submit status = %d, want %d, body %s", w.Code, http.StatusCreated, w.Body.String())
	}
}

func TestSubmit_InvalidProofOfWork(t *testing.T) {
	setupTestEnvironment(t)

	// A real difficulty makes an arbitrary nonce overwhelmingly unlikely
	// to pass.
	var err error
	powIssuer, err = pow.New("test-secret", 6, 5*time.Minute)
	if err != nil {
		t.Fatalf("Failed to build issuer: %v", err)
	}
	token, err := powIssuer.Challenge()
	if err != nil {
		t.Fatalf("Failed to issue challenge: %v", err)
	}

	w := httptest.NewRecorder()
	submitLyrics(w, httptest.NewRequest("POST", "/v1/lyricsplus/submit", submissionBody(t, token, "nonce", false)))

	if w.Code != http.StatusForbidden {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestSubmit_Validation(t *testing.T) {
	setupTestEnvironment(t)

	t.Run("rejects GET", func(t *testing.T) {
		w := httptest.NewRecorder()
		submitLyrics(w, httptest.NewRequest("GET", "/v1/lyricsplus/submit", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		w := httptest.NewRecorder()
		submitLyrics(w, httptest.NewRequest("POST", "/v1/lyricsplus/submit", strings.NewReader("{not json")))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		body, _ := json.Marshal(SubmissionRequest{Title: "Yellow"})
		w := httptest.NewRecorder()
		submitLyrics(w, httptest.NewRequest("POST", "/v1/lyricsplus/submit", bytes.NewBuffer(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestSubmissionsDisabledWithoutIssuer(t *testing.T) {
	setupTestEnvironment(t)
	powIssuer = nil

	w := httptest.NewRecorder()
	getChallenge(w, httptest.NewRequest("GET", "/v1/lyricsplus/challenge", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("challenge status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	w = httptest.NewRecorder()
	submitLyrics(w, httptest.NewRequest("POST", "/v1/lyricsplus/submit", submissionBody(t, "", "", false)))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("submit status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestGetHealthStatus(t *testing.T) {
	setupTestEnvironment(t)

	w := httptest.NewRecorder()
	getHealthStatus(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Checks["kv"] != "ok" {
		t.Errorf("kv check = %q, want %q", resp.Checks["kv"], "ok")
	}
	if resp.Checks["documents"] != "ok" {
		t.Errorf("documents check = %q, want %q", resp.Checks["documents"], "ok")
	}
}

func TestStatsEndpointAuth(t *testing.T) {
	setupTestEnvironment(t)

	original := conf.Configuration.CacheAccessToken
	t.Cleanup(func() { conf.Configuration.CacheAccessToken = original })

	t.Run("unauthorized when no token configured", func(t *testing.T) {
		conf.Configuration.CacheAccessToken = ""
		w := httptest.NewRecorder()
		getStats(w, httptest.NewRequest("GET", "/stats", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("unauthorized with wrong token", func(t *testing.T) {
		conf.Configuration.CacheAccessToken = "secret-token"
		r := httptest.NewRequest("GET", "/stats", nil)
		r.Header.Set("Authorization", "wrong")
		w := httptest.NewRecorder()
		getStats(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("authorized with configured token", func(t *testing.T) {
		conf.Configuration.CacheAccessToken = "secret-token"
		r := httptest.NewRequest("GET", "/stats", nil)
		r.Header.Set("Authorization", "secret-token")
		w := httptest.NewRecorder()
		getStats(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
		}

		var snapshot map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&snapshot); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if _, ok := snapshot["catalog"]; !ok {
			t.Error("Expected catalog section in stats")
		}
	})
}

func TestGetCacheDump(t *testing.T) {
	setupTestEnvironment(t)
	ctx := context.Background()

	original := conf.Configuration.CacheAccessToken
	conf.Configuration.CacheAccessToken = "secret-token"
	t.Cleanup(func() { conf.Configuration.CacheAccessToken = original })

	setCachedResolution(ctx,
		buildNormalizedCacheKey("Yellow", "Coldplay", "", ""),
		&Resolution{Document: wordDocument("en"), Source: "apple"})

	t.Run("unauthorized without token", func(t *testing.T) {
		w := httptest.NewRecorder()
		getCacheDump(w, httptest.NewRequest("GET", "/cache", nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("counts keys", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/cache", nil)
		r.Header.Set("Authorization", "secret-token")
		w := httptest.NewRecorder()
		getCacheDump(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
		}

		var resp CacheDumpResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp.NumberOfKeys < 1 {
			t.Errorf("number_of_keys = %d, want at least 1", resp.NumberOfKeys)
		}
		if resp.Cache != nil {
			t.Error("Expected no values without include_values")
		}
	})

	t.Run("includes values on request", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/cache?include_values=true", nil)
		r.Header.Set("Authorization", "secret-token")
		w := httptest.NewRecorder()
		getCacheDump(w, r)

		var resp CacheDumpResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if len(resp.Cache) < 1 {
			t.Error("Expected cache values in the dump")
		}
	})
}

func TestHelpHandler(t *testing.T) {
	setupTestEnvironment(t)

	w := httptest.NewRecorder()
	helpHandler(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Service   string            `json:"service"`
		Endpoints map[string]string `json:"endpoints"`
		Sources   []string          `json:"sources"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Service != "lyricsplus-api" {
		t.Errorf("service = %q, want %q", resp.Service, "lyricsplus-api")
	}
	if len(resp.Sources) != len(providers.DefaultSources) {
		t.Errorf("Expected %d sources, got %d", len(providers.DefaultSources), len(resp.Sources))
	}
}
