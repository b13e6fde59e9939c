package main

import (
	"sync"

	"lyricsplus-api-go/lyrics"
)

type contextKey string

const (
	cacheOnlyModeKey contextKey = "cacheOnlyMode"
	rateLimitTypeKey contextKey = "rateLimitType"
)

// Resolution is what the response cache stores per song: the canonical
// document plus where it came from and how well it matched.
type Resolution struct {
	Document *lyrics.Document `json:"document"`
	Source   string           `json:"source"`
	Score    float64          `json:"score,omitempty"`
}

// ProcessingTime reports how long a request took and when the lyrics
// were last resolved upstream.
type ProcessingTime struct {
	TimeElapsed   string `json:"timeElapsed"`
	LastProcessed string `json:"lastProcessed"`
}

// LyricsResponse is the v2 lyrics payload.
type LyricsResponse struct {
	*lyrics.Document
	Source         string         `json:"source"`
	Score          float64        `json:"matchScore,omitempty"`
	IsRTLLanguage  bool           `json:"isRtlLanguage"`
	ProcessingTime ProcessingTime `json:"processingTime"`
}

// FlatLyricsResponse is the v1 lyrics payload built from the flat
// segment form.
type FlatLyricsResponse struct {
	*lyrics.FlatDocument
	Source         string         `json:"source"`
	Score          float64        `json:"matchScore,omitempty"`
	IsRTLLanguage  bool           `json:"isRtlLanguage"`
	ProcessingTime ProcessingTime `json:"processingTime"`
}

// MetadataResponse is the /v1/metadata/get payload.
type MetadataResponse struct {
	Metadata      lyrics.Metadata `json:"metadata"`
	Source        string          `json:"source"`
	Score         float64         `json:"matchScore,omitempty"`
	IsRTLLanguage bool            `json:"isRtlLanguage"`
}

// InFlightRequest tracks concurrent requests for the same query
type InFlightRequest struct {
	wg         sync.WaitGroup
	resolution *Resolution
	err        error
}

// NegativeCacheEntry stores info about failed lyrics lookups
type NegativeCacheEntry struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// CachePerformance contains cache hit/miss statistics
type CachePerformance struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	NegativeHits int64   `json:"negative_hits"`
	StaleHits    int64   `json:"stale_hits"`
	HitRate      float64 `json:"hit_rate_percent"`
}

// CacheDumpResponse is the response format for /cache endpoint
type CacheDumpResponse struct {
	NumberOfKeys int               `json:"number_of_keys"`
	SizeInKB     int               `json:"size_kb"`
	SizeInMB     float64           `json:"size_mb"`
	Performance  CachePerformance  `json:"performance"`
	Cache        map[string]string `json:"cache,omitempty"`
}
