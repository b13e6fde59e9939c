package spotify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"lyricsplus-api-go/lyrics"
)

const (
	defaultLineDurationMs     = 3000
	defaultSyllableDurationMs = 500

	// Gap between syllables treated as a word boundary.
	wordGapMs = 100
)

// flexMs decodes a millisecond timestamp that the API serializes
// either as a number or a string.
type flexMs int

func (m *flexMs) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*m = 0
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = flexMs(v + 0.5)
	return nil
}

type payloadSyllable struct {
	StartTimeMs flexMs `json:"startTimeMs"`
	EndTimeMs   flexMs `json:"endTimeMs"`
	Text        string `json:"text"`
}

type payloadLine struct {
	StartTimeMs flexMs            `json:"startTimeMs"`
	EndTimeMs   flexMs            `json:"endTimeMs"`
	Words       string            `json:"words"`
	Syllables   []payloadSyllable `json:"syllables"`
}

type payload struct {
	Lyrics struct {
		SyncType            string        `json:"syncType"`
		Lines               []payloadLine `json:"lines"`
		Provider            string        `json:"provider"`
		ProviderDisplayName string        `json:"providerDisplayName"`
		Language            string        `json:"language"`
	} `json:"lyrics"`
}

var songParts = []string{"verse", "chorus", "bridge", "intro", "outro"}

// detectSongPart spots section markers in a line's text.
func detectSongPart(words string) string {
	lower := strings.ToLower(words)
	for _, part := range songParts {
		if strings.Contains(lower, part) {
			return strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return ""
}

// shouldAddSpace decides whether a syllable needs a trailing space:
// real gaps between syllables, a capitalized next syllable, or
// punctuation boundaries all separate words.
func shouldAddSpace(syllables []payloadSyllable, i int) bool {
	if i >= len(syllables)-1 {
		return false
	}
	cur, next := syllables[i], syllables[i+1]
	if int(next.StartTimeMs)-int(cur.EndTimeMs) > wordGapMs {
		return true
	}
	if next.Text != "" {
		first := []rune(next.Text)[0]
		if unicode.IsUpper(first) || strings.ContainsRune(".,!?", first) {
			return true
		}
	}
	if cur.Text != "" {
		last := []rune(cur.Text)[len([]rune(cur.Text))-1]
		if strings.ContainsRune(".,!?", last) {
			return true
		}
	}
	return false
}

// Parse converts a color-lyrics payload into a canonical document:
// word-synced when any line carries syllables, line-synced otherwise.
// Returns nil when the payload has no usable lines.
func Parse(body []byte) *lyrics.Document {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}

	kept := make([]payloadLine, 0, len(p.Lyrics.Lines))
	hasDetailedTiming := false
	for _, line := range p.Lyrics.Lines {
		text := strings.TrimSpace(line.Words)
		if text == "" || text == "♪" {
			continue
		}
		if len(line.Syllables) > 0 {
			hasDetailedTiming = true
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return nil
	}

	source := p.Lyrics.ProviderDisplayName
	if source == "" {
		source = "Spotify"
	}
	doc := &lyrics.Document{
		Cached: lyrics.CachedNone,
		Metadata: lyrics.Metadata{
			Source:         source,
			Language:       p.Lyrics.Language,
			LeadingSilence: "0.000",
		},
	}

	if hasDetailedTiming {
		doc.Type = lyrics.SyncWord
	} else {
		doc.Type = lyrics.SyncLine
	}

	for i, line := range kept {
		text := strings.TrimSpace(line.Words)
		element := lyrics.Element{
			Key:      fmt.Sprintf("L%d", i+1),
			SongPart: detectSongPart(text),
		}
		if doc.Type == lyrics.SyncWord {
			element.Singer = "v1"
		}

		start := int(line.StartTimeMs)
		duration := 0
		switch {
		case int(line.EndTimeMs) > start:
			duration = int(line.EndTimeMs) - start
		case i+1 < len(kept):
			duration = int(kept[i+1].StartTimeMs) - start
		default:
			duration = defaultLineDurationMs
		}

		l := lyrics.Line{
			Time:      start,
			Duration:  duration,
			Text:      text,
			Syllables: []lyrics.Syllable{},
			Element:   element,
		}

		if doc.Type == lyrics.SyncWord {
			if len(line.Syllables) > 0 {
				for j, syl := range line.Syllables {
					sylStart := int(syl.StartTimeMs)
					sylDuration := defaultSyllableDurationMs
					if int(syl.EndTimeMs) > sylStart {
						sylDuration = int(syl.EndTimeMs) - sylStart
					}
					sylText := syl.Text
					if shouldAddSpace(line.Syllables, j) {
						sylText += " "
					}
					l.Syllables = append(l.Syllables, lyrics.Syllable{
						Time:     sylStart,
						Duration: sylDuration,
						Text:     sylText,
					})
				}
				l.Time, l.Duration = lyrics.DeriveTiming(l.Syllables)
			} else {
				// Mixed payload: line without syllables becomes one
				// spanning syllable.
				l.Syllables = []lyrics.Syllable{{Time: start, Duration: duration, Text: text}}
			}
		}

		doc.Lines = append(doc.Lines, l)
	}

	return doc
}
