package lyrics

// SyncType is the timing granularity of a lyric document.
type SyncType string

const (
	// SyncLine means one timestamp per rendered line.
	SyncLine SyncType = "Line"
	// SyncWord means per-syllable timestamps inside each line.
	SyncWord SyncType = "Word"
)

// CacheState records where a document was served from. It is provenance
// only and never affects document identity.
type CacheState string

const (
	CachedNone CacheState = "None"
	CachedFile CacheState = "File"
	CachedKV   CacheState = "KV"
)

// Agent describes a singing voice declared in the document head.
type Agent struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

// Metadata carries song identity and document-level attributes.
type Metadata struct {
	Source         string           `json:"source,omitempty"`
	Title          string           `json:"title,omitempty"`
	Artist         string           `json:"artist,omitempty"`
	Album          string           `json:"album,omitempty"`
	DurationMs     int              `json:"durationMs,omitempty"`
	ISRC           string           `json:"isrc,omitempty"`
	PlatformID     string           `json:"platformId,omitempty"`
	Language       string           `json:"language,omitempty"`
	LeadingSilence string           `json:"leadingSilence,omitempty"`
	TotalDuration  string           `json:"totalDuration,omitempty"`
	SongWriters    []string         `json:"songWriters"`
	Agents         map[string]Agent `json:"agents,omitempty"`
}

// Syllable is a single timed text fragment inside a Word-synced line.
type Syllable struct {
	Time         int    `json:"time"`
	Duration     int    `json:"duration"`
	Text         string `json:"text"`
	IsBackground bool   `json:"isBackground,omitempty"`
}

// End returns the syllable's end timestamp in milliseconds.
func (s Syllable) End() int {
	return s.Time + s.Duration
}

// Element identifies a line's position and voice within the song.
type Element struct {
	Key      string `json:"key"`
	SongPart string `json:"songPart"`
	Singer   string `json:"singer"`
}

// SideText is a per-line translation or transliteration channel.
type SideText struct {
	Lang      string     `json:"lang,omitempty"`
	Text      string     `json:"text"`
	Syllables []Syllable `json:"syllables,omitempty"`
}

// Line is one rendered lyric line. For Word-synced documents the line's
// Time/Duration are derived from its syllables, never authored directly.
type Line struct {
	Time            int        `json:"time"`
	Duration        int        `json:"duration"`
	Text            string     `json:"text"`
	Syllables       []Syllable `json:"syllables"`
	Element         Element    `json:"element"`
	Translation     *SideText  `json:"translation,omitempty"`
	Transliteration *SideText  `json:"transliteration,omitempty"`
}

// Document is the canonical, format-agnostic lyric representation that
// every converter targets. Documents are built once per request and are
// never mutated after construction.
type Document struct {
	Type     SyncType   `json:"type"`
	Tools    string     `json:"tools,omitempty"`
	Metadata Metadata   `json:"metadata"`
	Lines    []Line     `json:"lyrics"`
	Cached   CacheState `json:"cached"`
}

// HasSyllableSync reports whether the document carries sub-line timing.
func (d *Document) HasSyllableSync() bool {
	return d != nil && d.Type == SyncWord
}

// Empty reports whether the document has no usable lyric content.
func (d *Document) Empty() bool {
	return d == nil || len(d.Lines) == 0
}

// DeriveTiming computes a line's start and duration from its syllables:
// start is the earliest syllable start, duration spans to the latest
// syllable end. Returns zeros for an empty slice.
func DeriveTiming(syllables []Syllable) (timeMs, durationMs int) {
	if len(syllables) == 0 {
		return 0, 0
	}
	earliest := syllables[0].Time
	latest := syllables[0].End()
	for _, s := range syllables[1:] {
		if s.Time < earliest {
			earliest = s.Time
		}
		if s.End() > latest {
			latest = s.End()
		}
	}
	return earliest, latest - earliest
}
