package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/kv"
	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/services/providers/lyricsplus"
	"lyricsplus-api-go/stats"
	"lyricsplus-api-go/storage"
)

const (
	cacheControlImmutable = "public, max-age=3600, immutable"
	maxSubmissionBytes    = 1 << 20
)

// inFlightReqs deduplicates concurrent resolutions of the same song so
// one upstream fetch serves every waiting client.
var inFlightReqs sync.Map

// lyricsQuery is everything the lyrics endpoints read off the URL.
type lyricsQuery struct {
	title       string
	artist      string
	album       string
	durationStr string
	query       providers.Query
	sources     []string
	forceReload bool
}

func parseLyricsQuery(r *http.Request) (*lyricsQuery, error) {
	q := r.URL.Query()

	title := strings.TrimSpace(q.Get("title"))
	artist := strings.TrimSpace(q.Get("artist"))
	if title == "" || artist == "" {
		return nil, fmt.Errorf("title and artist parameters are required")
	}

	lq := &lyricsQuery{
		title:       title,
		artist:      artist,
		album:       strings.TrimSpace(q.Get("album")),
		durationStr: strings.TrimSpace(q.Get("duration")),
		forceReload: q.Get("forceReload") == "true",
	}

	var duration float64
	if lq.durationStr != "" {
		parsed, err := strconv.ParseFloat(lq.durationStr, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("duration must be a non-negative number of seconds")
		}
		duration = parsed
	}

	lq.query = providers.Query{
		Title:      title,
		Artist:     artist,
		Album:      lq.album,
		Duration:   duration,
		ISRC:       strings.TrimSpace(q.Get("isrc")),
		PlatformID: strings.TrimSpace(q.Get("platformId")),
	}

	if raw := q.Get("source"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				lq.sources = append(lq.sources, name)
			}
		}
	}

	return lq, nil
}

// Lyrics endpoints

func getLyricsV2(w http.ResponseWriter, r *http.Request) {
	handleLyrics(w, r, "v2")
}

func getLyricsV1(w http.ResponseWriter, r *http.Request) {
	handleLyrics(w, r, "v1")
}

func getLyricsTTML(w http.ResponseWriter, r *http.Request) {
	handleLyrics(w, r, "ttml")
}

// handleLyrics is the shared flow behind all three lyrics endpoints:
// cache lookup, in-flight deduplication, resolution, then rendering in
// the requested format.
func handleLyrics(w http.ResponseWriter, r *http.Request, format string) {
	start := time.Now()
	ctx := r.Context()

	lq, err := parseLyricsQuery(r)
	if err != nil {
		Respond(w, r).Error(http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// The v2 endpoint can render the other formats on request.
	if f := r.URL.Query().Get("format"); format == "v2" && (f == "v1" || f == "ttml") {
		format = f
	}

	cacheKey := buildNormalizedCacheKey(lq.title, lq.artist, lq.album, lq.durationStr)

	if !lq.forceReload {
		if reason, ok := getNegativeCache(ctx, cacheKey); ok {
			stats.Get().RecordNegativeCacheHit()
			Respond(w, r).SetCacheStatus("NEGATIVE_HIT").Error(http.StatusNotFound, map[string]string{
				"error":  "No lyrics found for this song",
				"reason": reason,
			})
			return
		}

		if res, ok := getCachedResolution(ctx, cacheKey); ok {
			stats.Get().RecordCacheHit()
			res.Document.Cached = lyrics.CachedKV
			writeLyrics(w, r, format, res, "HIT", start)
			return
		}
	}

	// Past this point the request needs upstream work. Clients in the
	// cached-only rate limit tier are turned away instead.
	cacheOnly, _ := ctx.Value(cacheOnlyModeKey).(bool)
	if cacheOnly || conf.FeatureFlags.CacheOnlyMode {
		w.Header().Set("Retry-After", "60")
		Respond(w, r).SetCacheStatus("MISS").Error(http.StatusTooManyRequests, map[string]string{
			"error": "Rate limit allows cached responses only, and this song is not cached",
		})
		return
	}
	stats.Get().RecordCacheMiss()

	res, err := resolveDeduplicated(r, lq, cacheKey)
	if err != nil {
		if shouldNegativeCache(err) {
			setNegativeCache(ctx, cacheKey, err.Error())
			Respond(w, r).SetCacheStatus("MISS").Error(http.StatusNotFound, map[string]string{
				"error": "No lyrics found for this song",
			})
			return
		}

		// Backend trouble. Serve a near-match from cache if one exists.
		for _, key := range buildFallbackCacheKeys(lq.title, lq.artist, lq.album, lq.durationStr, cacheKey) {
			if stale, ok := getCachedResolution(ctx, key); ok {
				stats.Get().RecordStaleCacheHit()
				log.Warnf("%s Serving fallback cache entry %s after backend error: %v",
					logcolors.LogFallback, key, err)
				stale.Document.Cached = lyrics.CachedKV
				writeLyrics(w, r, format, stale, "STALE", start)
				return
			}
		}

		log.Errorf("%s Resolution failed for %q by %q: %v", logcolors.LogWarning, lq.title, lq.artist, err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]string{
			"error": "Failed to fetch lyrics",
		})
		return
	}

	setCachedResolution(ctx, cacheKey, res)
	stats.Get().RecordSourceHit(res.Source)
	writeLyrics(w, r, format, res, "MISS", start)
}

// resolveDeduplicated collapses concurrent requests for the same cache
// key into a single resolver call.
func resolveDeduplicated(r *http.Request, lq *lyricsQuery, cacheKey string) (*Resolution, error) {
	req := &InFlightRequest{}
	req.wg.Add(1)

	if actual, loaded := inFlightReqs.LoadOrStore(cacheKey, req); loaded {
		existing := actual.(*InFlightRequest)
		existing.wg.Wait()
		return existing.resolution, existing.err
	}

	result, err := lyricsResolver.Resolve(r.Context(), lq.query, providers.Options{
		ForceReload: lq.forceReload,
	}, lq.sources)
	if err == nil {
		req.resolution = &Resolution{
			Document: result.Document,
			Source:   result.Source,
			Score:    result.Score,
		}
	}
	req.err = err
	req.wg.Done()

	// Keep the entry briefly so stragglers still coalesce, then let the
	// response cache take over.
	time.AfterFunc(1*time.Second, func() {
		inFlightReqs.Delete(cacheKey)
	})

	return req.resolution, req.err
}

func writeLyrics(w http.ResponseWriter, r *http.Request, format string, res *Resolution, cacheStatus string, start time.Time) {
	resp := Respond(w, r).
		SetCacheStatus(cacheStatus).
		SetSource(res.Source).
		SetCacheControl(cacheControlImmutable)

	pt := ProcessingTime{
		TimeElapsed:   time.Since(start).String(),
		LastProcessed: time.Now().UTC().Format(time.RFC3339),
	}
	isRTL := providers.IsRTLLanguage(res.Document.Metadata.Language)

	if format == "ttml" {
		ttml, err := lyrics.SerializeTTML(res.Document)
		if err != nil {
			// Degrade to the canonical JSON form rather than failing.
			log.Warnf("%s TTML serialization failed, returning JSON: %v", logcolors.LogWarning, err)
			format = "v2"
		} else {
			resp.Raw("application/ttml+xml", []byte(ttml))
			return
		}
	}

	if format == "v1" {
		resp.JSON(FlatLyricsResponse{
			FlatDocument:   lyrics.V2ToV1(res.Document),
			Source:         res.Source,
			Score:          res.Score,
			IsRTLLanguage:  isRTL,
			ProcessingTime: pt,
		})
		return
	}

	resp.JSON(LyricsResponse{
		Document:       res.Document,
		Source:         res.Source,
		Score:          res.Score,
		IsRTLLanguage:  isRTL,
		ProcessingTime: pt,
	})
}

// Metadata endpoint

// getMetadata resolves song identity from the Apple catalog without
// fetching lyrics, widening the search until something matches. A
// cached lyric resolution for the same song answers first.
func getMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lq, err := parseLyricsQuery(r)
	if err != nil {
		Respond(w, r).Error(http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	cacheKey := buildNormalizedCacheKey(lq.title, lq.artist, lq.album, lq.durationStr)

	if !lq.forceReload {
		if res, ok := getCachedResolution(ctx, cacheKey); ok {
			Respond(w, r).
				SetCacheStatus("HIT").
				SetSource(res.Source).
				SetCacheControl(cacheControlImmutable).
				JSON(MetadataResponse{
					Metadata:      res.Document.Metadata,
					Source:        res.Source,
					Score:         res.Score,
					IsRTLLanguage: providers.IsRTLLanguage(res.Document.Metadata.Language),
				})
			return
		}
	}

	if appleClient == nil {
		Respond(w, r).Error(http.StatusServiceUnavailable, map[string]string{
			"error": "Metadata search is not available on this server",
		})
		return
	}

	exact, err := appleClient.SearchMetadata(ctx, lq.query)
	if err != nil {
		log.Errorf("%s Metadata search failed for %q by %q: %v", logcolors.LogWarning, lq.title, lq.artist, err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]string{
			"error": "Failed to search metadata",
		})
		return
	}
	if exact == nil {
		Respond(w, r).SetCacheStatus("MISS").Error(http.StatusNotFound, map[string]string{
			"error": "No metadata found for this song",
		})
		return
	}

	Respond(w, r).
		SetCacheStatus("MISS").
		SetSource("apple").
		SetCacheControl(cacheControlImmutable).
		JSON(MetadataResponse{
			Metadata: lyrics.Metadata{
				Source:      "Apple Music",
				Title:       exact.Title,
				Artist:      exact.Artist,
				Album:       exact.Album,
				DurationMs:  exact.DurationMs,
				ISRC:        exact.ISRC,
				PlatformID:  exact.PlatformID,
				SongWriters: []string{},
			},
			Source: "apple",
			Score:  exact.Score,
		})
}

// Song catalog search

func searchSonglist(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		Respond(w, r).Error(http.StatusBadRequest, map[string]string{
			"error": "q parameter is required",
		})
		return
	}

	entries, err := songCatalog.Search(r.Context(), query)
	if err != nil {
		log.Errorf("%s Catalog search failed: %v", logcolors.LogSearch, err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]string{
			"error": "Catalog search failed",
		})
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"count":   len(entries),
		"results": entries,
	})
}

// Community submission flow

func getChallenge(w http.ResponseWriter, r *http.Request) {
	if powIssuer == nil {
		Respond(w, r).Error(http.StatusServiceUnavailable, map[string]string{
			"error": "Submissions are not enabled on this server",
		})
		return
	}

	token, err := powIssuer.Challenge()
	if err != nil {
		Respond(w, r).Error(http.StatusInternalServerError, map[string]string{
			"error": "Failed to issue challenge",
		})
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"challenge":  token,
		"difficulty": powIssuer.Difficulty(),
	})
}

// SubmissionRequest is the POST body for /v1/lyricsplus/submit.
type SubmissionRequest struct {
	Challenge  string          `json:"challenge"`
	Nonce      string          `json:"nonce"`
	Title      string          `json:"title"`
	Artist     string          `json:"artist"`
	Album      string          `json:"album"`
	Duration   float64         `json:"duration"`
	ISRC       string          `json:"isrc"`
	PlatformID string          `json:"platformId"`
	Force      bool            `json:"force"`
	Lyrics     json.RawMessage `json:"lyrics"`
}

func submitLyrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Respond(w, r).Error(http.StatusMethodNotAllowed, map[string]string{
			"error": "POST required",
		})
		return
	}
	if powIssuer == nil {
		Respond(w, r).Error(http.StatusServiceUnavailable, map[string]string{
			"error": "Submissions are not enabled on this server",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmissionBytes))
	if err != nil {
		Respond(w, r).Error(http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}

	var sub SubmissionRequest
	if err := json.Unmarshal(body, &sub); err != nil {
		Respond(w, r).Error(http.StatusBadRequest, map[string]string{"error": "Request body is not valid JSON"})
		return
	}
	if sub.Title == "" || sub.Artist == "" || len(sub.Lyrics) == 0 {
		Respond(w, r).Error(http.StatusBadRequest, map[string]string{
			"error": "title, artist, and lyrics are required",
		})
		return
	}

	if err := powIssuer.Verify(sub.Challenge, sub.Nonce); err != nil {
		log.Warnf("%s Rejected submission from %s: %v", logcolors.LogWarning, r.RemoteAddr, err)
		Respond(w, r).Error(http.StatusForbidden, map[string]string{
			"error": "Proof of work verification failed",
		})
		return
	}

	ref := storage.SongRef{
		Title:      sub.Title,
		Artist:     sub.Artist,
		Album:      sub.Album,
		Duration:   sub.Duration,
		ISRC:       sub.ISRC,
		PlatformID: sub.PlatformID,
	}

	info, err := lpClient.Submit(r.Context(), ref, sub.Lyrics, sub.Force)
	if err != nil {
		if errors.Is(err, lyricsplus.ErrAlreadyExists) {
			Respond(w, r).Error(http.StatusConflict, map[string]string{
				"error": "Lyrics already exist for this song, set force to replace them",
			})
			return
		}
		Respond(w, r).Error(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
		return
	}

	var durationStr string
	if sub.Duration > 0 {
		durationStr = strconv.FormatFloat(sub.Duration, 'f', -1, 64)
	}
	invalidateResolutionCache(r.Context(), sub.Title, sub.Artist, sub.Album, durationStr)

	log.Infof("%s Accepted submission %q from %s", logcolors.LogLyrics, info.Name, r.RemoteAddr)
	Respond(w, r).Error(http.StatusCreated, map[string]interface{}{
		"id":   info.ID,
		"name": info.Name,
	})
}

// Operational endpoints

func getHealthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"
	checks := make(map[string]string)

	if err := kvStore.Set(ctx, "health:ping", "1", time.Minute); err != nil {
		checks["kv"] = fmt.Sprintf("error: %v", err)
		status = "unhealthy"
	} else {
		checks["kv"] = "ok"
	}

	if _, err := docStore.SearchByKeywords(ctx, []string{"health"}); err != nil {
		checks["documents"] = fmt.Sprintf("error: %v", err)
		if status == "ok" {
			status = "degraded"
		}
	} else {
		checks["documents"] = "ok"
	}

	if appleClient != nil {
		state, failures, retry := appleClient.BreakerStats()
		checks["apple"] = state
		if state != "closed" {
			checks["apple"] = fmt.Sprintf("%s (%d failures, retry in %v)", state, failures, retry.Round(time.Second))
			if status == "ok" {
				status = "degraded"
			}
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	Respond(w, r).Error(code, map[string]interface{}{
		"status": status,
		"uptime": stats.Get().Uptime().String(),
		"checks": checks,
	})
}

func getStats(w http.ResponseWriter, r *http.Request) {
	if conf.Configuration.CacheAccessToken == "" ||
		r.Header.Get("Authorization") != conf.Configuration.CacheAccessToken {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	snapshot := stats.Get().Snapshot()
	snapshot["catalog"] = map[string]interface{}{
		"songs": songCatalog.Size(r.Context()),
	}
	Respond(w, r).JSON(snapshot)
}

func getCacheDump(w http.ResponseWriter, r *http.Request) {
	if conf.Configuration.CacheAccessToken == "" ||
		r.Header.Get("Authorization") != conf.Configuration.CacheAccessToken {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s := stats.Get()
	response := CacheDumpResponse{
		Performance: CachePerformance{
			Hits:         s.CacheHits.Load(),
			Misses:       s.CacheMisses.Load(),
			NegativeHits: s.NegativeCacheHits.Load(),
			StaleHits:    s.StaleCacheHits.Load(),
			HitRate:      s.CacheHitRate(),
		},
	}

	// Key enumeration needs backend support; Redis deployments only get
	// the performance counters.
	if dumper, ok := kvStore.(kv.Dumper); ok {
		numKeys, sizeKB := dumper.Stats()
		response.NumberOfKeys = numKeys
		response.SizeInKB = sizeKB
		response.SizeInMB = float64(sizeKB) / 1024

		if r.URL.Query().Get("include_values") == "true" {
			response.Cache = make(map[string]string)
			dumper.Range(func(key, value string) bool {
				response.Cache[key] = value
				return true
			})
		}
	}

	Respond(w, r).JSON(response)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"service": "lyricsplus-api",
		"endpoints": map[string]string{
			"GET /v2/lyrics/get":           "Resolve lyrics (canonical grouped format). Params: title, artist, album, duration, isrc, platformId, source, forceReload",
			"GET /v1/lyrics/get":           "Resolve lyrics (flat segment format)",
			"GET /v1/ttml/get":             "Resolve lyrics as a TTML document",
			"GET /v1/metadata/get":         "Resolve song metadata only",
			"GET /v1/songlist/search":      "Search the stored song catalog. Params: q",
			"GET /v1/lyricsplus/challenge": "Get a proof-of-work challenge for submissions",
			"POST /v1/lyricsplus/submit":   "Submit community lyrics (requires solved challenge)",
			"GET /health":                  "Service health",
			"GET /stats":                   "Server statistics (requires Authorization)",
			"GET /cache":                   "Cache statistics (requires Authorization)",
		},
		"sources": providers.DefaultSources,
	})
}
