package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Server struct {
		Port               string `envconfig:"PORT" default:"8787"`
		CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	}

	Configuration struct {
		RateLimitPerSecond        int `envconfig:"RATE_LIMIT_PER_SECOND" default:"2"`
		RateLimitBurstLimit       int `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"5"`
		CachedRateLimitPerSecond  int `envconfig:"CACHED_RATE_LIMIT_PER_SECOND" default:"10"`
		CachedRateLimitBurstLimit int `envconfig:"CACHED_RATE_LIMIT_BURST_LIMIT" default:"20"`
		LyricsCacheTTLInSeconds   int `envconfig:"LYRICS_CACHE_TTL_IN_SECONDS" default:"86400"`
		NegativeCacheTTLInDays    int `envconfig:"NEGATIVE_CACHE_TTL_DAYS" default:"7"` // TTL for caching "no lyrics found" responses

		CacheAccessToken string `envconfig:"CACHE_ACCESS_TOKEN" default:""`
		APIKey           string `envconfig:"API_KEY" default:""`
		APIKeyRequired   bool   `envconfig:"API_KEY_REQUIRED" default:"false"`

		CircuitBreakerThreshold    int `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`       // Consecutive failures before circuit opens
		CircuitBreakerCooldownSecs int `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"300"` // Seconds to wait before retrying
	}

	Store struct {
		KVBackend       string `envconfig:"KV_BACKEND" default:"bolt"` // bolt or redis
		RedisURL        string `envconfig:"REDIS_URL" default:""`
		KVDBPath        string `envconfig:"KV_DB_PATH" default:"data/kv.db"`
		DocumentsDBPath string `envconfig:"DOCUMENTS_DB_PATH" default:"data/documents.db"`
		StatsDBPath     string `envconfig:"STATS_DB_PATH" default:"data/stats.db"`
	}

	Providers struct {
		// Apple catalog. Multiple media-user-tokens rotate on rate limits;
		// names are optional labels used in logs.
		AppleMediaUserTokens string `envconfig:"APPLE_MEDIA_USER_TOKENS" default:""`
		AppleAccountNames    string `envconfig:"APPLE_ACCOUNT_NAMES" default:""`
		AppleStorefront      string `envconfig:"APPLE_STOREFRONT" default:"us"`
		AppleTokenSourceURL  string `envconfig:"APPLE_TOKEN_SOURCE_URL" default:""`

		SpotifyClientID     string `envconfig:"SPOTIFY_CLIENT_ID" default:""`
		SpotifyClientSecret string `envconfig:"SPOTIFY_CLIENT_SECRET" default:""`
		SpotifySPDC         string `envconfig:"SPOTIFY_SP_DC" default:""`
	}

	Challenge struct {
		Secret     string `envconfig:"CHALLENGE_SECRET" default:""`
		Difficulty int    `envconfig:"CHALLENGE_DIFFICULTY" default:"4"`
		TTLSeconds int    `envconfig:"CHALLENGE_TTL_SECONDS" default:"300"`
	}

	FeatureFlags struct {
		CacheCompression bool `envconfig:"FF_CACHE_COMPRESSION" default:"true"`
		CacheOnlyMode    bool `envconfig:"FF_CACHE_ONLY_MODE" default:"false"`
	}
}

// AppleAccount is one catalog account parsed out of the environment.
type AppleAccount struct {
	Name           string
	MediaUserToken string
}

// GetAppleAccounts parses the comma-separated token list into accounts,
// skipping entries with an empty token. Names come from
// APPLE_ACCOUNT_NAMES by position, falling back to "account-N".
func (c Config) GetAppleAccounts() ([]AppleAccount, error) {
	raw := strings.TrimSpace(c.Providers.AppleMediaUserTokens)
	if raw == "" {
		return nil, nil
	}

	tokens := strings.Split(raw, ",")
	var names []string
	if c.Providers.AppleAccountNames != "" {
		names = strings.Split(c.Providers.AppleAccountNames, ",")
		if len(names) != len(tokens) {
			return nil, fmt.Errorf("APPLE_ACCOUNT_NAMES has %d entries, expected %d", len(names), len(tokens))
		}
	}

	var accounts []AppleAccount
	for i, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name := fmt.Sprintf("account-%d", i+1)
		if names != nil && strings.TrimSpace(names[i]) != "" {
			name = strings.TrimSpace(names[i])
		}
		accounts = append(accounts, AppleAccount{Name: name, MediaUserToken: token})
	}
	return accounts, nil
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Warnf("Error loading env config: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}
