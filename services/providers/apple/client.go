// Package apple resolves syllable-synced lyrics from the Apple Music
// catalog. Requests authenticate with a scraped developer token plus a
// media user token, rotate across configured accounts, and run behind
// a circuit breaker. Rate-limited accounts sit out a quarantine.
package apple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/circuitbreaker"
	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/similarity"
	"lyricsplus-api-go/storage"
)

const (
	apiBaseURL   = "https://amp-api.music.apple.com"
	webPlayerURL = "https://music.apple.com"

	searchPath = "/v1/catalog/%s/search?term=%s&types=songs&limit=%d"
	lyricsPath = "/v1/catalog/%s/songs/%s/syllable-lyrics"

	defaultStorefront = "us"
	searchLimit       = 10
	defaultTimeout    = 15 * time.Second
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// errNoLyrics marks a clean catalog miss, as opposed to a request
// failure that should count against the circuit breaker.
var errNoLyrics = errors.New("no lyrics for track")

type Config struct {
	Accounts         []MusicAccount
	Storefront       string
	TokenSourceURL   string        // defaults to the web player
	Documents        storage.Store // optional, answers from stored lyrics first
	BreakerThreshold int           // per account, scaled by account count
	BreakerCooldown  time.Duration
}

type Client struct {
	http       *http.Client
	accounts   *accountManager
	tokens     *tokenSource
	breaker    *circuitbreaker.CircuitBreaker
	docs       storage.Store
	apiBase    string
	storefront string
}

func New(cfg Config) *Client {
	storefront := cfg.Storefront
	if storefront == "" {
		storefront = defaultStorefront
	}
	tokenURL := cfg.TokenSourceURL
	if tokenURL == "" {
		tokenURL = webPlayerURL
	}

	httpClient := &http.Client{Timeout: defaultTimeout}

	// With round-robin each account fails independently, so the
	// threshold scales with the account count.
	threshold := cfg.BreakerThreshold * max(len(cfg.Accounts), 1)

	return &Client{
		http:     httpClient,
		accounts: newAccountManager(cfg.Accounts),
		tokens: &tokenSource{
			http:       httpClient,
			baseURL:    tokenURL,
			storefront: storefront,
		},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:      "apple",
			Threshold: threshold,
			Cooldown:  cfg.BreakerCooldown,
		}),
		docs:       cfg.Documents,
		apiBase:    apiBaseURL,
		storefront: storefront,
	}
}

func (c *Client) Name() string {
	return "apple"
}

// BreakerStats exposes circuit breaker state for monitoring.
func (c *Client) BreakerStats() (state string, failures int, timeUntilRetry time.Duration) {
	s, f, _ := c.breaker.Stats()
	return s.String(), f, c.breaker.TimeUntilRetry()
}

type appleTrack struct {
	ID         string `json:"id"`
	Attributes struct {
		Name             string `json:"name"`
		ArtistName       string `json:"artistName"`
		AlbumName        string `json:"albumName"`
		DurationInMillis int    `json:"durationInMillis"`
		ISRC             string `json:"isrc"`
		HasLyrics        bool   `json:"hasLyrics"`
	} `json:"attributes"`
}

// Fetch searches the catalog, matches a track, and parses its
// syllable-synced TTML body. Lyrics already persisted under the song's
// fingerprint short-circuit the upstream round trip, once for the raw
// query and again with the matched track's exact identity.
func (c *Client) Fetch(ctx context.Context, query providers.Query, opts providers.Options) (*providers.Outcome, error) {
	if !opts.ForceReload {
		if stored := providers.StoredLookup(ctx, c.docs, "apple", query.SongRef()); stored != nil {
			return stored, nil
		}
	}

	tracks, err := c.search(ctx, query)
	if err != nil {
		return nil, providers.NewProviderError("apple", "catalog search failed", err)
	}
	if len(tracks) == 0 {
		return providers.NotFound("apple", "no search results"), nil
	}

	candidates := make([]similarity.Candidate, len(tracks))
	for i, t := range tracks {
		candidates[i] = similarity.Candidate{
			Title:    t.Attributes.Name,
			Artist:   t.Attributes.ArtistName,
			Album:    t.Attributes.AlbumName,
			Duration: float64(t.Attributes.DurationInMillis) / 1000,
		}
	}
	match := similarity.FindBestMatch(query.Candidate(), candidates)
	if match == nil {
		return providers.NotFound("apple", "no track matched the query"), nil
	}
	matched := tracks[match.Index]
	if !matched.Attributes.HasLyrics {
		return providers.NotFound("apple", "matched track has no lyrics"), nil
	}

	if !opts.ForceReload {
		stored := providers.StoredLookup(ctx, c.docs, "apple", storage.SongRef{
			Title:      matched.Attributes.Name,
			Artist:     matched.Attributes.ArtistName,
			Album:      matched.Attributes.AlbumName,
			Duration:   float64(matched.Attributes.DurationInMillis) / 1000,
			ISRC:       matched.Attributes.ISRC,
			PlatformID: matched.ID,
		})
		if stored != nil {
			return stored, nil
		}
	}

	ttml, err := c.fetchTTML(ctx, matched.ID)
	if errors.Is(err, errNoLyrics) {
		return providers.NotFound("apple", "matched track has no lyrics"), nil
	}
	if err != nil {
		return nil, providers.NewProviderError("apple", "lyrics fetch failed", err)
	}

	doc := lyrics.ParseTTML(ttml, 0, false)
	if doc == nil || doc.Empty() {
		return providers.NotFound("apple", "TTML body had no usable lines"), nil
	}

	doc.Metadata.Title = matched.Attributes.Name
	doc.Metadata.Artist = matched.Attributes.ArtistName
	doc.Metadata.Album = matched.Attributes.AlbumName
	doc.Metadata.DurationMs = matched.Attributes.DurationInMillis
	doc.Metadata.ISRC = matched.Attributes.ISRC
	doc.Metadata.PlatformID = matched.ID

	log.Infof("%s Resolved %q by %q via apple (%s sync)", logcolors.LogSuccess,
		matched.Attributes.Name, matched.Attributes.ArtistName, doc.Type)

	return &providers.Outcome{
		Status:  providers.StatusFound,
		Source:  "apple",
		Data:    doc,
		Raw:     []byte(ttml),
		RawMime: "application/ttml+xml",
		Exact: &providers.ExactMetadata{
			Title:      matched.Attributes.Name,
			Artist:     matched.Attributes.ArtistName,
			Album:      matched.Attributes.AlbumName,
			DurationMs: matched.Attributes.DurationInMillis,
			ISRC:       matched.Attributes.ISRC,
			PlatformID: matched.ID,
			Score:      match.Result.Score,
		},
	}, nil
}

// SearchMetadata resolves a song's catalog identity without touching
// the lyrics endpoint. The search ladder widens step by step, dropping
// the album and then reordering down to a bare title, until a
// candidate matches. Returns nil without error when nothing matched.
func (c *Client) SearchMetadata(ctx context.Context, query providers.Query) (*providers.ExactMetadata, error) {
	var lastErr error
	for _, term := range metadataSearchTerms(query) {
		tracks, err := c.searchTerm(ctx, term)
		if err != nil {
			lastErr = err
			continue
		}
		if len(tracks) == 0 {
			continue
		}

		candidates := make([]similarity.Candidate, len(tracks))
		for i, t := range tracks {
			candidates[i] = similarity.Candidate{
				Title:    t.Attributes.Name,
				Artist:   t.Attributes.ArtistName,
				Album:    t.Attributes.AlbumName,
				Duration: float64(t.Attributes.DurationInMillis) / 1000,
			}
		}
		match := similarity.FindBestMatch(query.Candidate(), candidates)
		if match == nil {
			continue
		}
		matched := tracks[match.Index]
		return &providers.ExactMetadata{
			Title:      matched.Attributes.Name,
			Artist:     matched.Attributes.ArtistName,
			Album:      matched.Attributes.AlbumName,
			DurationMs: matched.Attributes.DurationInMillis,
			ISRC:       matched.Attributes.ISRC,
			PlatformID: matched.ID,
			Score:      match.Result.Score,
		}, nil
	}
	return nil, lastErr
}

// metadataSearchTerms builds the ladder of search terms, most to least
// specific, with duplicates collapsed.
func metadataSearchTerms(q providers.Query) []string {
	combos := [][]string{
		{q.Title, q.Artist, q.Album},
		{q.Title, q.Artist},
		{q.Artist, q.Title},
		{q.Title},
	}
	seen := map[string]bool{}
	var terms []string
	for _, combo := range combos {
		term := strings.Join(strings.Fields(strings.Join(combo, " ")), " ")
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
	}
	return terms
}

func (c *Client) search(ctx context.Context, query providers.Query) ([]appleTrack, error) {
	return c.searchTerm(ctx, strings.TrimSpace(query.Title+" "+query.Artist))
}

func (c *Client) searchTerm(ctx context.Context, term string) ([]appleTrack, error) {
	if term == "" {
		return nil, fmt.Errorf("empty search term")
	}

	u := c.apiBase + fmt.Sprintf(searchPath, c.storefront, url.QueryEscape(term), searchLimit)
	body, err := c.do(ctx, u)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results struct {
			Songs struct {
				Data []appleTrack `json:"data"`
			} `json:"songs"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	log.Debugf("%s %d results for %q", logcolors.LogSearch, len(payload.Results.Songs.Data), term)
	return payload.Results.Songs.Data, nil
}

// fetchTTML downloads the syllable-lyrics body for a track. A catalog
// miss surfaces as errNoLyrics.
func (c *Client) fetchTTML(ctx context.Context, trackID string) (string, error) {
	u := c.apiBase + fmt.Sprintf(lyricsPath, c.storefront, trackID)
	body, err := c.do(ctx, u)
	if err != nil {
		return "", err
	}

	var payload struct {
		Data []struct {
			Attributes struct {
				TTML              string `json:"ttml"`
				TTMLLocalizations string `json:"ttmlLocalizations"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse lyrics response: %w", err)
	}
	if len(payload.Data) == 0 {
		return "", errNoLyrics
	}

	ttml := payload.Data[0].Attributes.TTML
	if ttml == "" {
		ttml = payload.Data[0].Attributes.TTMLLocalizations
	}
	if ttml == "" {
		return "", errNoLyrics
	}
	return ttml, nil
}

// do performs one authenticated catalog request, rotating accounts on
// rate limits and auth rejections. Only transport errors and 5xx
// responses count against the circuit breaker.
func (c *Client) do(ctx context.Context, urlStr string) ([]byte, error) {
	maxAttempts := min(c.accounts.count(), 3) + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !c.breaker.Allow() {
			return nil, fmt.Errorf("%w (retry in %v)",
				circuitbreaker.ErrCircuitOpen, c.breaker.TimeUntilRetry())
		}

		account, ok := c.accounts.next()
		if !ok {
			return nil, fmt.Errorf("no usable catalog accounts")
		}

		body, status, err := c.request(ctx, urlStr, account)
		if err != nil {
			c.breaker.RecordFailure()
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			c.breaker.RecordSuccess()
			c.accounts.clearQuarantine(account)
			return body, nil

		case status == http.StatusNotFound:
			c.breaker.RecordSuccess()
			c.accounts.clearQuarantine(account)
			return nil, errNoLyrics

		case status == http.StatusTooManyRequests:
			c.accounts.quarantine(account)
			if c.accounts.availableCount() == 0 {
				c.breaker.Trip()
			}
			lastErr = fmt.Errorf("catalog API returned status 429")
			log.Warnf("%s 429 on %s, rotating accounts (attempt %d/%d)",
				logcolors.LogRateLimit, logcolors.Account(account.NameID), attempt, maxAttempts)

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			c.accounts.disable(account)
			lastErr = fmt.Errorf("catalog API returned status %d", status)

		default:
			c.breaker.RecordFailure()
			return nil, fmt.Errorf("catalog API returned status %d", status)
		}
	}
	return nil, lastErr
}

func (c *Client) request(ctx context.Context, urlStr string, account MusicAccount) ([]byte, int, error) {
	bearer, err := c.tokens.bearer(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get developer token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", webPlayerURL)
	req.Header.Set("Referer", webPlayerURL)
	if account.MediaUserToken != "" {
		req.Header.Set("media-user-token", account.MediaUserToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed via %s: %w", account.NameID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
