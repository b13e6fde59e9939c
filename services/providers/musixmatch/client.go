// Package musixmatch resolves lyrics through the Musixmatch desktop
// API: word-synced richsync bodies when available, LRC subtitles as
// the fallback. The same client serves both the "musixmatch" and the
// word-sync-only "musixmatch-word" sources.
package musixmatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/kv"
	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/similarity"
	"lyricsplus-api-go/storage"
)

const (
	baseURL = "https://apic-desktop.musixmatch.com/ws/1.1"
	appID   = "web-desktop-app-v1.0"

	tokenCacheKey = "musixmatch_token"
	tokenTTL      = time.Hour

	searchPageSize = 5
	defaultTimeout = 10 * time.Second
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Client implements the musixmatch provider. With wordSyncOnly set it
// registers as "musixmatch-word" and refuses subtitle-only tracks.
type Client struct {
	http         *http.Client
	store        kv.Store
	docs         storage.Store
	name         string
	wordSyncOnly bool
}

func New(store kv.Store, docs storage.Store, wordSyncOnly bool) *Client {
	name := "musixmatch"
	if wordSyncOnly {
		name = "musixmatch-word"
	}
	return &Client{
		http:         &http.Client{Timeout: defaultTimeout},
		store:        store,
		docs:         docs,
		name:         name,
		wordSyncOnly: wordSyncOnly,
	}
}

// storedLookup consults the document store, honoring the word-sync
// restriction of the musixmatch-word variant.
func (c *Client) storedLookup(ctx context.Context, ref storage.SongRef) *providers.Outcome {
	stored := providers.StoredLookup(ctx, c.docs, c.name, ref)
	if stored == nil {
		return nil
	}
	if c.wordSyncOnly && !stored.Data.HasSyllableSync() {
		return nil
	}
	return stored
}

func (c *Client) Name() string {
	return c.name
}

type apiEnvelope struct {
	Message struct {
		Header struct {
			StatusCode int `json:"status_code"`
		} `json:"header"`
		Body json.RawMessage `json:"body"`
	} `json:"message"`
}

type track struct {
	TrackID     int64  `json:"track_id"`
	TrackName   string `json:"track_name"`
	ArtistName  string `json:"artist_name"`
	AlbumName   string `json:"album_name"`
	TrackLength int    `json:"track_length"`
	TrackISRC   string `json:"track_isrc"`
}

// Fetch resolves lyrics for the query, matching search results with
// the similarity engine before downloading any lyric body.
func (c *Client) Fetch(ctx context.Context, query providers.Query, opts providers.Options) (*providers.Outcome, error) {
	if !opts.ForceReload {
		if stored := c.storedLookup(ctx, query.SongRef()); stored != nil {
			return stored, nil
		}
	}

	token, err := c.userToken(ctx, opts.ForceReload)
	if err != nil {
		return nil, providers.NewProviderError(c.name, "failed to obtain user token", err)
	}

	tracks, err := c.search(ctx, token, query.Title+" "+query.Artist)
	if err != nil {
		return nil, providers.NewProviderError(c.name, "track search failed", err)
	}
	if len(tracks) == 0 && query.Artist != "" {
		// Widen to title-only before giving up.
		tracks, err = c.search(ctx, token, query.Title)
		if err != nil {
			return nil, providers.NewProviderError(c.name, "track search failed", err)
		}
	}
	if len(tracks) == 0 {
		return providers.NotFound(c.name, "no search results"), nil
	}

	candidates := make([]similarity.Candidate, len(tracks))
	for i, t := range tracks {
		candidates[i] = similarity.Candidate{
			Title:    t.TrackName,
			Artist:   t.ArtistName,
			Album:    t.AlbumName,
			Duration: float64(t.TrackLength),
		}
	}
	match := similarity.FindBestMatch(query.Candidate(), candidates)
	if match == nil {
		return providers.NotFound(c.name, "no track matched the query"), nil
	}
	matched := tracks[match.Index]

	exact := &providers.ExactMetadata{
		Title:      matched.TrackName,
		Artist:     matched.ArtistName,
		Album:      matched.AlbumName,
		DurationMs: matched.TrackLength * 1000,
		ISRC:       matched.TrackISRC,
		PlatformID: strconv.FormatInt(matched.TrackID, 10),
		Score:      match.Result.Score,
	}

	if !opts.ForceReload {
		stored := c.storedLookup(ctx, storage.SongRef{
			Title:      matched.TrackName,
			Artist:     matched.ArtistName,
			Album:      matched.AlbumName,
			Duration:   float64(matched.TrackLength),
			ISRC:       matched.TrackISRC,
			PlatformID: exact.PlatformID,
		})
		if stored != nil {
			return stored, nil
		}
	}

	doc, raw, rawMime := c.fetchBody(ctx, token, matched.TrackID)
	if doc == nil {
		return providers.NotFound(c.name, "matched track has no usable lyrics"), nil
	}
	if c.wordSyncOnly && !doc.HasSyllableSync() {
		return providers.NotFound(c.name, "no word-synced lyrics for matched track"), nil
	}

	doc.Metadata = lyrics.Metadata{
		Source:     "Musixmatch",
		Title:      matched.TrackName,
		Artist:     matched.ArtistName,
		Album:      matched.AlbumName,
		DurationMs: matched.TrackLength * 1000,
		ISRC:       matched.TrackISRC,
		PlatformID: exact.PlatformID,
	}
	if writers := c.songwriters(ctx, token, matched.TrackID); len(writers) > 0 {
		doc.Metadata.SongWriters = writers
	}

	log.Infof("%s Resolved %q by %q via %s (%s sync)", logcolors.LogSuccess,
		matched.TrackName, matched.ArtistName, c.name, doc.Type)

	return &providers.Outcome{
		Status:  providers.StatusFound,
		Source:  c.name,
		Data:    doc,
		Raw:     raw,
		RawMime: rawMime,
		Exact:   exact,
	}, nil
}

// fetchBody downloads richsync first, falling back to the subtitle
// body when richsync is missing and word sync is not required.
func (c *Client) fetchBody(ctx context.Context, token string, trackID int64) (*lyrics.Document, []byte, string) {
	body, err := c.call(ctx, "track.richsync.get", token, url.Values{
		"track_id": {strconv.FormatInt(trackID, 10)},
	})
	if err == nil {
		var payload struct {
			Richsync struct {
				RichsyncBody string `json:"richsync_body"`
			} `json:"richsync"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Richsync.RichsyncBody != "" {
			if doc := ParseRichsync(payload.Richsync.RichsyncBody, c.wordSyncOnly); doc != nil {
				return doc, []byte(payload.Richsync.RichsyncBody), "application/json"
			}
		}
	}
	if c.wordSyncOnly {
		return nil, nil, ""
	}

	body, err = c.call(ctx, "track.subtitle.get", token, url.Values{
		"track_id":        {strconv.FormatInt(trackID, 10)},
		"subtitle_format": {"lrc"},
	})
	if err != nil {
		return nil, nil, ""
	}
	var payload struct {
		Subtitle struct {
			SubtitleBody string `json:"subtitle_body"`
		} `json:"subtitle"`
	}
	if json.Unmarshal(body, &payload) != nil || payload.Subtitle.SubtitleBody == "" {
		return nil, nil, ""
	}
	if doc := ParseSubtitle(payload.Subtitle.SubtitleBody); doc != nil {
		return doc, []byte(payload.Subtitle.SubtitleBody), "text/plain"
	}
	return nil, nil, ""
}

// songwriters is best-effort; failures only cost the credit line.
func (c *Client) songwriters(ctx context.Context, token string, trackID int64) []string {
	body, err := c.call(ctx, "track.lyrics.get", token, url.Values{
		"track_id": {strconv.FormatInt(trackID, 10)},
	})
	if err != nil {
		return nil
	}
	var payload struct {
		Lyrics struct {
			LyricsCopyright string `json:"lyrics_copyright"`
		} `json:"lyrics"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return nil
	}
	return ExtractSongwriters(payload.Lyrics.LyricsCopyright)
}

func (c *Client) search(ctx context.Context, token, q string) ([]track, error) {
	body, err := c.call(ctx, "track.search", token, url.Values{
		"q":            {strings.TrimSpace(q)},
		"page_size":    {strconv.Itoa(searchPageSize)},
		"f_has_lyrics": {"1"},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		TrackList []struct {
			Track track `json:"track"`
		} `json:"track_list"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	tracks := make([]track, 0, len(payload.TrackList))
	for _, item := range payload.TrackList {
		tracks = append(tracks, item.Track)
	}
	log.Debugf("%s %d results for %q", logcolors.LogSearch, len(tracks), q)
	return tracks, nil
}

// userToken returns a cached desktop-app token or requests a new one.
// Tokens flagged UpgradeOnly are rejected, they cannot read lyrics.
func (c *Client) userToken(ctx context.Context, forceReload bool) (string, error) {
	if !forceReload {
		if token, ok := c.store.Get(ctx, tokenCacheKey); ok && token != "" {
			return token, nil
		}
	}

	body, err := c.call(ctx, "token.get", "", nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		UserToken string `json:"user_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if payload.UserToken == "" || strings.Contains(payload.UserToken, "UpgradeOnly") {
		return "", fmt.Errorf("no usable user token issued")
	}

	if err := c.store.Set(ctx, tokenCacheKey, payload.UserToken, tokenTTL); err != nil {
		log.Warnf("%s Failed to cache user token: %v", logcolors.LogBearerToken, err)
	}
	return payload.UserToken, nil
}

// call performs one API request and unwraps the response envelope.
func (c *Client) call(ctx context.Context, endpoint, token string, params url.Values) (json.RawMessage, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("app_id", appID)
	if token != "" {
		params.Set("usertoken", token)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response envelope: %w", err)
	}
	if code := envelope.Message.Header.StatusCode; code != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d from %s", code, endpoint)
	}
	return envelope.Message.Body, nil
}
