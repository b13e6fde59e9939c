package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/kv"
	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/middleware"
	"lyricsplus-api-go/pow"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/services/providers/apple"
	"lyricsplus-api-go/services/providers/lyricsplus"
	"lyricsplus-api-go/services/providers/musixmatch"
	"lyricsplus-api-go/services/providers/spotify"
	"lyricsplus-api-go/stats"
	"lyricsplus-api-go/storage"
)

// openKVStore picks the key-value backend from configuration.
func openKVStore() (kv.Store, error) {
	switch conf.Store.KVBackend {
	case "redis":
		if conf.Store.RedisURL == "" {
			return nil, fmt.Errorf("KV_BACKEND is redis but REDIS_URL is not set")
		}
		store, err := kv.NewRedisStore(conf.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Infof("%s Using Redis key-value backend", logcolors.LogSuccess)
		return store, nil
	case "bolt", "":
		store, err := kv.NewBoltStore(conf.Store.KVDBPath, conf.FeatureFlags.CacheCompression)
		if err != nil {
			return nil, err
		}
		log.Infof("%s Using embedded key-value backend at %s", logcolors.LogSuccess, conf.Store.KVDBPath)
		return store, nil
	}
	return nil, fmt.Errorf("unknown KV_BACKEND %q", conf.Store.KVBackend)
}

// registerProviders wires every configured source into the registry.
// Returns the Apple client so health checks can inspect its breaker.
func registerProviders(registry *providers.Registry, kvStore kv.Store, docStore storage.Store) *apple.Client {
	lpClient = lyricsplus.New(docStore)
	registry.Register(lpClient)

	registry.Register(musixmatch.New(kvStore, docStore, false))
	registry.Register(musixmatch.New(kvStore, docStore, true))

	if conf.Providers.SpotifyClientID != "" || conf.Providers.SpotifySPDC != "" {
		registry.Register(spotify.New(kvStore, docStore,
			conf.Providers.SpotifyClientID,
			conf.Providers.SpotifyClientSecret,
			conf.Providers.SpotifySPDC))
	} else {
		log.Warnf("%s Spotify credentials not configured, source disabled", logcolors.LogWarning)
	}

	accounts, err := conf.GetAppleAccounts()
	if err != nil {
		log.Errorf("%s Invalid Apple account configuration: %v", logcolors.LogAuthError, err)
	}
	if len(accounts) == 0 {
		log.Warnf("%s No Apple accounts configured, source disabled", logcolors.LogWarning)
		return nil
	}

	musicAccounts := make([]apple.MusicAccount, len(accounts))
	for i, acc := range accounts {
		musicAccounts[i] = apple.MusicAccount{
			NameID:         acc.Name,
			MediaUserToken: acc.MediaUserToken,
		}
	}
	client := apple.New(apple.Config{
		Accounts:         musicAccounts,
		Storefront:       conf.Providers.AppleStorefront,
		TokenSourceURL:   conf.Providers.AppleTokenSourceURL,
		Documents:        docStore,
		BreakerThreshold: conf.Configuration.CircuitBreakerThreshold,
		BreakerCooldown:  time.Duration(conf.Configuration.CircuitBreakerCooldownSecs) * time.Second,
	})
	registry.Register(client)
	log.Infof("%s Apple source enabled with %d account(s)", logcolors.LogSuccess, len(accounts))
	return client
}

// newPowIssuer builds the submission challenge issuer, or nil when no
// secret is configured.
func newPowIssuer() *pow.Issuer {
	issuer, err := pow.New(conf.Challenge.Secret,
		conf.Challenge.Difficulty,
		time.Duration(conf.Challenge.TTLSeconds)*time.Second)
	if err != nil {
		log.Warnf("%s Submissions disabled: %v", logcolors.LogWarning, err)
		return nil
	}
	return issuer
}

// limitMiddleware enforces the two-tier per-IP rate limit. Requests
// that only fit in the cached tier are flagged so the lyrics handlers
// refuse to do upstream work for them.
func limitMiddleware(next http.Handler, limiter *middleware.IPRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check for API key to bypass rate limits
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" && conf.Configuration.APIKey != "" && apiKey == conf.Configuration.APIKey {
			w.Header().Set("X-RateLimit-Bypass", "true")
			ctx := context.WithValue(r.Context(), rateLimitTypeKey, "bypass")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		limiters := limiter.GetLimiter(r.RemoteAddr)

		// Try normal tier first
		if limiters.Normal.Allow() {
			stats.Get().RecordRateLimit("normal")
			remainingNormal := limiters.GetNormalTokens()
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.GetNormalLimit()))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remainingNormal))
			w.Header().Set("X-RateLimit-Type", "normal")
			ctx := context.WithValue(r.Context(), rateLimitTypeKey, "normal")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Normal tier exceeded, try cached tier
		if limiters.Cached.Allow() {
			stats.Get().RecordRateLimit("cached")
			remainingCached := limiters.GetCachedTokens()
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.GetCachedLimit()))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remainingCached))
			w.Header().Set("X-RateLimit-Type", "cached")
			log.Debugf("%s IP %s exceeded normal tier, using cached tier", logcolors.LogRateLimit, r.RemoteAddr)
			ctx := context.WithValue(r.Context(), cacheOnlyModeKey, true)
			ctx = context.WithValue(ctx, rateLimitTypeKey, "cached")
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		// Both tiers exceeded
		stats.Get().RecordRateLimit("exceeded")
		log.Warnf("%s IP %s exceeded both rate limit tiers", logcolors.LogRateLimit, r.RemoteAddr)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.GetCachedLimit()))
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Type", "exceeded")
		w.Header().Set("Retry-After", "1")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
}

// statsMiddleware records request counts, status codes and response
// times for every request.
func statsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := middleware.NewResponseRecorder(w)

		next.ServeHTTP(recorder, r)

		s := stats.Get()
		s.RecordRequest(r.URL.Path)
		s.RecordStatusCode(recorder.StatusCode)
		s.RecordResponseTime(time.Since(start), r.URL.Path)
	})
}
