package main

import (
	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes for the API
func setupRoutes(router *mux.Router) {
	// Lyrics resolution endpoints
	router.HandleFunc("/v2/lyrics/get", getLyricsV2)
	router.HandleFunc("/v1/lyrics/get", getLyricsV1)
	router.HandleFunc("/v1/ttml/get", getLyricsTTML)

	// Metadata and catalog endpoints
	router.HandleFunc("/v1/metadata/get", getMetadata)
	router.HandleFunc("/v1/songlist/search", searchSonglist)

	// Community submission endpoints
	router.HandleFunc("/v1/lyricsplus/challenge", getChallenge)
	router.HandleFunc("/v1/lyricsplus/submit", submitLyrics)

	// Health, stats and cache endpoints
	router.HandleFunc("/health", getHealthStatus)
	router.HandleFunc("/stats", getStats)
	router.HandleFunc("/cache", getCacheDump)

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}
