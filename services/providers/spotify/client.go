// Package spotify resolves lyrics through the Spotify web player
// endpoints: the public search API under client-credentials auth, and
// the color-lyrics endpoint under a web player token minted from an
// account cookie.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"

	"lyricsplus-api-go/kv"
	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/similarity"
	"lyricsplus-api-go/storage"
)

const (
	searchURL   = "https://api.spotify.com/v1/search"
	tokenURL    = "https://accounts.spotify.com/api/token"
	webTokenURL = "https://open.spotify.com/get_access_token?reason=transport&productType=web_player"
	lyricsURL   = "https://spclient.wg.spotify.com/color-lyrics/v2/track/%s?format=json&market=from_token"

	webTokenCacheKey = "spotify_web_token"
	webTokenTTL      = 30 * time.Minute

	searchLimit    = 10
	defaultTimeout = 10 * time.Second
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Client implements the spotify provider. Search runs under OAuth
// client credentials; lyric fetches need the sp_dc account cookie.
type Client struct {
	search *http.Client
	http   *http.Client
	store  kv.Store
	docs   storage.Store
	spDC   string
}

func New(store kv.Store, docs storage.Store, clientID, clientSecret, spDC string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &Client{
		search: cfg.Client(context.Background()),
		http:   &http.Client{Timeout: defaultTimeout},
		store:  store,
		docs:   docs,
		spDC:   spDC,
	}
}

func (c *Client) Name() string {
	return "spotify"
}

type searchTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	DurationMs  int `json:"duration_ms"`
	ExternalIDs struct {
		ISRC string `json:"isrc"`
	} `json:"external_ids"`
}

func (t searchTrack) artistNames() string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

// Fetch searches the catalog, matches a track, and downloads its
// color-lyrics payload.
func (c *Client) Fetch(ctx context.Context, query providers.Query, opts providers.Options) (*providers.Outcome, error) {
	if !opts.ForceReload {
		if stored := providers.StoredLookup(ctx, c.docs, "spotify", query.SongRef()); stored != nil {
			return stored, nil
		}
	}

	tracks, err := c.searchTracks(ctx, query)
	if err != nil {
		return nil, providers.NewProviderError("spotify", "track search failed", err)
	}
	if len(tracks) == 0 {
		return providers.NotFound("spotify", "no search results"), nil
	}

	candidates := make([]similarity.Candidate, len(tracks))
	for i, t := range tracks {
		candidates[i] = similarity.Candidate{
			Title:    t.Name,
			Artist:   t.artistNames(),
			Album:    t.Album.Name,
			Duration: float64(t.DurationMs) / 1000,
		}
	}
	match := similarity.FindBestMatch(query.Candidate(), candidates)
	if match == nil {
		return providers.NotFound("spotify", "no track matched the query"), nil
	}
	matched := tracks[match.Index]

	if !opts.ForceReload {
		stored := providers.StoredLookup(ctx, c.docs, "spotify", storage.SongRef{
			Title:      matched.Name,
			Artist:     matched.artistNames(),
			Album:      matched.Album.Name,
			Duration:   float64(matched.DurationMs) / 1000,
			ISRC:       matched.ExternalIDs.ISRC,
			PlatformID: matched.ID,
		})
		if stored != nil {
			return stored, nil
		}
	}

	raw, err := c.fetchLyrics(ctx, matched.ID, opts.ForceReload)
	if err != nil {
		return nil, providers.NewProviderError("spotify", "lyrics fetch failed", err)
	}
	if raw == nil {
		return providers.NotFound("spotify", "matched track has no lyrics"), nil
	}

	doc := Parse(raw)
	if doc == nil {
		return providers.NotFound("spotify", "lyrics payload had no usable lines"), nil
	}

	doc.Metadata.Title = matched.Name
	doc.Metadata.Artist = matched.artistNames()
	doc.Metadata.Album = matched.Album.Name
	doc.Metadata.DurationMs = matched.DurationMs
	doc.Metadata.ISRC = matched.ExternalIDs.ISRC
	doc.Metadata.PlatformID = matched.ID

	log.Infof("%s Resolved %q by %q via spotify (%s sync)", logcolors.LogSuccess,
		matched.Name, doc.Metadata.Artist, doc.Type)

	return &providers.Outcome{
		Status:  providers.StatusFound,
		Source:  "spotify",
		Data:    doc,
		Raw:     raw,
		RawMime: "application/json",
		Exact: &providers.ExactMetadata{
			Title:      matched.Name,
			Artist:     doc.Metadata.Artist,
			Album:      matched.Album.Name,
			DurationMs: matched.DurationMs,
			ISRC:       matched.ExternalIDs.ISRC,
			PlatformID: matched.ID,
			Score:      match.Result.Score,
		},
	}, nil
}

func (c *Client) searchTracks(ctx context.Context, query providers.Query) ([]searchTrack, error) {
	q := query.Title
	if query.Artist != "" {
		q += " artist:" + query.Artist
	}
	params := url.Values{
		"q":     {q},
		"type":  {"track"},
		"limit": {fmt.Sprint(searchLimit)},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.search.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Tracks struct {
			Items []searchTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	log.Debugf("%s %d results for %q", logcolors.LogSearch, len(payload.Tracks.Items), q)
	return payload.Tracks.Items, nil
}

// fetchLyrics returns the raw color-lyrics payload, or nil when the
// track simply has none (404).
func (c *Client) fetchLyrics(ctx context.Context, trackID string, forceReload bool) ([]byte, error) {
	token, err := c.webToken(ctx, forceReload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf(lyricsURL, trackID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("App-Platform", "WebPlayer")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lyrics API returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// webToken exchanges the sp_dc account cookie for a web player access
// token, cached until shortly before it expires.
func (c *Client) webToken(ctx context.Context, forceReload bool) (string, error) {
	if !forceReload {
		if token, ok := c.store.Get(ctx, webTokenCacheKey); ok && token != "" {
			return token, nil
		}
	}
	if c.spDC == "" {
		return "", fmt.Errorf("no account cookie configured")
	}

	req, err := http.NewRequestWithContext(ctx, "GET", webTokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.AddCookie(&http.Cookie{Name: "sp_dc", Value: c.spDC})

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
		IsAnonymous bool   `json:"isAnonymous"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if payload.AccessToken == "" || payload.IsAnonymous {
		return "", fmt.Errorf("account cookie did not yield an authenticated token")
	}

	if err := c.store.Set(ctx, webTokenCacheKey, payload.AccessToken, webTokenTTL); err != nil {
		log.Warnf("%s Failed to cache web token: %v", logcolors.LogBearerToken, err)
	}
	return payload.AccessToken, nil
}
