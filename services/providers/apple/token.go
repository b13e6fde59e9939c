package apple

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
)

const (
	tokenRefreshThreshold = 5 * time.Minute
	defaultTokenTTL       = time.Hour
)

var (
	jsBundleRegex = regexp.MustCompile(`/assets/index[~\-][a-zA-Z0-9]+\.js`)
	es256JWTRegex = regexp.MustCompile(`"(eyJhbGciOiJFUzI1NiIsInR5cCI6IkpXVCIsImtpZCI6[^"]+)"`)
	anyJWTRegex   = regexp.MustCompile(`"(eyJ[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,})"`)
)

// tokenSource scrapes the web player's developer token out of its JS
// bundle and caches it until shortly before the embedded expiry.
type tokenSource struct {
	http       *http.Client
	baseURL    string
	storefront string

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

func (s *tokenSource) bearer(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.token != "" && !s.expiringSoon() {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx)
}

// expiringSoon must be called with at least a read lock held.
func (s *tokenSource) expiringSoon() bool {
	if s.expiry.IsZero() {
		return true
	}
	return time.Now().Add(tokenRefreshThreshold).After(s.expiry)
}

func (s *tokenSource) refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if s.token != "" && !s.expiringSoon() {
		return s.token, nil
	}

	log.Infof("%s Refreshing developer token...", logcolors.LogBearerToken)

	token, err := s.scrape(ctx)
	if err != nil {
		return "", err
	}

	expiry, err := parseJWTExpiry(token)
	if err != nil {
		log.Warnf("%s Could not parse token expiry, using %v default: %v",
			logcolors.LogBearerToken, defaultTokenTTL, err)
		expiry = time.Now().Add(defaultTokenTTL)
	}

	s.token = token
	s.expiry = expiry
	log.Infof("%s Developer token refreshed, expires in %v",
		logcolors.LogBearerToken, time.Until(expiry).Round(time.Minute))
	return token, nil
}

// scrape loads the web player's browse page, locates its JS bundle,
// and pulls the embedded developer token out of the bundle source.
func (s *tokenSource) scrape(ctx context.Context) (string, error) {
	browseURL := s.baseURL + "/" + s.storefront + "/browse"

	req, err := http.NewRequestWithContext(ctx, "GET", browseURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch token source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token source returned status %d", resp.StatusCode)
	}

	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token source: %w", err)
	}

	jsPath := jsBundleRegex.FindString(string(html))
	if jsPath == "" {
		return "", fmt.Errorf("could not find JS bundle path in page")
	}
	log.Debugf("%s Found JS bundle: %s", logcolors.LogBearerToken, jsPath)

	jsReq, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+jsPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	jsReq.Header.Set("User-Agent", userAgent)

	jsResp, err := s.http.Do(jsReq)
	if err != nil {
		return "", fmt.Errorf("failed to fetch JS bundle: %w", err)
	}
	defer jsResp.Body.Close()

	jsContent, err := io.ReadAll(jsResp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read JS bundle: %w", err)
	}

	if match := es256JWTRegex.FindStringSubmatch(string(jsContent)); len(match) > 1 {
		return match[1], nil
	}
	if match := anyJWTRegex.FindStringSubmatch(string(jsContent)); len(match) > 1 {
		log.Debugf("%s Extracted fallback JWT from JS bundle", logcolors.LogBearerToken)
		return match[1], nil
	}
	return "", fmt.Errorf("could not extract developer token from JS bundle")
}

// parseJWTExpiry extracts the exp claim from an unverified JWT.
func parseJWTExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid JWT format: expected 3 parts, got %d", len(parts))
	}

	decoded, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse JWT claims: %w", err)
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("JWT has no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}
