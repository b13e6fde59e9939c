package providers

import (
	"lyricsplus-api-go/lyrics"
	"lyricsplus-api-go/similarity"
	"lyricsplus-api-go/storage"
)

// Query identifies the song being resolved. Duration is in seconds;
// zero means unknown. ISRC and PlatformID are optional exact
// identifiers that strengthen matching when present.
type Query struct {
	Title      string
	Artist     string
	Album      string
	Duration   float64
	ISRC       string
	PlatformID string
}

// Candidate converts the query for the similarity engine.
func (q Query) Candidate() similarity.Candidate {
	return similarity.Candidate{
		Title:    q.Title,
		Artist:   q.Artist,
		Album:    q.Album,
		Duration: q.Duration,
	}
}

// SongRef converts the query for file fingerprinting.
func (q Query) SongRef() storage.SongRef {
	return storage.SongRef{
		Title:      q.Title,
		Artist:     q.Artist,
		Album:      q.Album,
		Duration:   q.Duration,
		ISRC:       q.ISRC,
		PlatformID: q.PlatformID,
	}
}

// Options tune a single fetch.
type Options struct {
	// ForceReload bypasses any provider-side caches.
	ForceReload bool
	// WordSyncOnly rejects results without per-syllable timing.
	WordSyncOnly bool
}

// Status is the coarse outcome of one provider fetch.
type Status string

const (
	StatusFound    Status = "found"
	StatusNotFound Status = "notfound"
)

// ExactMetadata is the matched track's own identity as reported by the
// provider's catalog, which is more trustworthy than the query.
type ExactMetadata struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album,omitempty"`
	DurationMs int     `json:"durationMs,omitempty"`
	ISRC       string  `json:"isrc,omitempty"`
	PlatformID string  `json:"platformId,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// Outcome is the standardized result from any provider.
type Outcome struct {
	Status Status
	// Reason explains a not-found outcome.
	Reason string
	// Source is the provider name to report, which can be more
	// specific than the registry name.
	Source string
	// Data is the converted canonical document; nil when not found.
	Data *lyrics.Document
	// Raw is the provider's original payload, kept for persistence.
	Raw []byte
	// RawMime describes Raw (e.g. "application/ttml+xml").
	RawMime string
	// Exact carries the matched track's catalog identity.
	Exact *ExactMetadata
}

// NotFound builds a not-found outcome with a reason.
func NotFound(source, reason string) *Outcome {
	return &Outcome{Status: StatusNotFound, Source: source, Reason: reason}
}

// ProviderError represents an error from a provider with additional context
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Provider + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Provider + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError
func NewProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// IsRTLLanguage checks if a language code is right-to-left
func IsRTLLanguage(langCode string) bool {
	rtlLanguages := map[string]bool{
		"ar": true, // Arabic
		"fa": true, // Persian (Farsi)
		"he": true, // Hebrew
		"ur": true, // Urdu
		"ps": true, // Pashto
		"sd": true, // Sindhi
		"ug": true, // Uyghur
		"yi": true, // Yiddish
		"ku": true, // Kurdish (some dialects)
		"dv": true, // Divehi (Maldivian)
	}
	return rtlLanguages[langCode]
}
