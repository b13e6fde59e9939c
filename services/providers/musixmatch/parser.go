package musixmatch

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"lyricsplus-api-go/lyrics"
)

const defaultLineDurationMs = 3000

// richsyncLine is one line of the richsync body: ts/te are line start
// and end in seconds, l holds the words with their offsets from ts,
// and x is the full line text.
type richsyncLine struct {
	TimeStart float64 `json:"ts"`
	TimeEnd   float64 `json:"te"`
	Words     []struct {
		Chars  string  `json:"c"`
		Offset float64 `json:"o"`
	} `json:"l"`
	Text string `json:"x"`
}

var (
	subtitleLineRegex = regexp.MustCompile(`\[(\d{2}):(\d{2}\.\d{2})\](.*)`)
	songwritersRegex  = regexp.MustCompile(`(?i)writer\(s\):\s*([^\n]+)`)
)

// ParseRichsync converts a richsync body into a document. With
// wordSync set each word becomes a syllable whose end time is the next
// word's start, or the line end for the last word; otherwise the body
// yields one line-synced entry per ts/te pair. Returns nil when the
// body doesn't decode or holds no usable lines.
func ParseRichsync(body string, wordSync bool) *lyrics.Document {
	var rich []richsyncLine
	if err := json.Unmarshal([]byte(body), &rich); err != nil {
		return nil
	}

	syncType := lyrics.SyncLine
	if wordSync {
		syncType = lyrics.SyncWord
	}

	doc := &lyrics.Document{Type: syncType, Cached: lyrics.CachedNone}
	for _, line := range rich {
		if strings.TrimSpace(line.Text) == "" || len(line.Words) == 0 {
			continue
		}

		lineStart := int(math.Round(line.TimeStart * 1000))
		lineEnd := int(math.Round(line.TimeEnd * 1000))

		if !wordSync {
			doc.Lines = append(doc.Lines, lyrics.Line{
				Time:      lineStart,
				Duration:  lineEnd - lineStart,
				Text:      strings.TrimSpace(line.Text),
				Syllables: []lyrics.Syllable{},
				Element:   lyrics.Element{Key: fmt.Sprintf("L%d", len(doc.Lines)+1), Singer: "v1"},
			})
			continue
		}

		var syllables []lyrics.Syllable
		for i, word := range line.Words {
			if strings.TrimSpace(word.Chars) == "" {
				continue
			}
			start := lineStart + int(math.Round(word.Offset*1000))
			end := lineEnd
			if i+1 < len(line.Words) {
				end = lineStart + int(math.Round(line.Words[i+1].Offset*1000))
			}
			if end < start {
				end = start
			}
			text := word.Chars
			if i+1 < len(line.Words) && !strings.HasSuffix(text, " ") {
				text += " "
			}
			syllables = append(syllables, lyrics.Syllable{
				Time:     start,
				Duration: end - start,
				Text:     text,
			})
		}
		if len(syllables) == 0 {
			continue
		}

		l := lyrics.Line{
			Text:      strings.TrimSpace(line.Text),
			Syllables: syllables,
			Element:   lyrics.Element{Key: fmt.Sprintf("L%d", len(doc.Lines)+1), Singer: "v1"},
		}
		l.Time, l.Duration = lyrics.DeriveTiming(syllables)
		doc.Lines = append(doc.Lines, l)
	}

	if len(doc.Lines) == 0 {
		return nil
	}
	return doc
}

// ParseSubtitle converts an LRC-formatted subtitle body into a
// line-synced document. Line durations span to the next marker, with a
// fixed fallback for the last line.
func ParseSubtitle(body string) *lyrics.Document {
	doc := &lyrics.Document{Type: lyrics.SyncLine, Cached: lyrics.CachedNone}

	for _, raw := range strings.Split(body, "\n") {
		m := subtitleLineRegex.FindStringSubmatch(strings.TrimRight(raw, "\r"))
		if m == nil {
			continue
		}
		minutes, _ := strconv.Atoi(m[1])
		seconds, _ := strconv.ParseFloat(m[2], 64)
		text := strings.TrimSpace(m[3])
		if text == "" {
			continue
		}

		doc.Lines = append(doc.Lines, lyrics.Line{
			Time:      int(math.Round((float64(minutes)*60 + seconds) * 1000)),
			Text:      text,
			Syllables: []lyrics.Syllable{},
			Element:   lyrics.Element{Key: fmt.Sprintf("L%d", len(doc.Lines)+1)},
		})
	}

	for i := range doc.Lines {
		if i+1 < len(doc.Lines) {
			doc.Lines[i].Duration = doc.Lines[i+1].Time - doc.Lines[i].Time
		} else {
			doc.Lines[i].Duration = defaultLineDurationMs
		}
	}

	if len(doc.Lines) == 0 {
		return nil
	}
	return doc
}

// ExtractSongwriters pulls writer credits out of a lyrics copyright
// blob ("Writer(s): A, B"). Always returns a non-nil slice so the
// credit list serializes as an empty array rather than null.
func ExtractSongwriters(text string) []string {
	writers := []string{}
	m := songwritersRegex.FindStringSubmatch(text)
	if m == nil {
		return writers
	}
	for _, name := range strings.Split(m[1], ",") {
		if name = strings.TrimSpace(name); name != "" {
			writers = append(writers, name)
		}
	}
	return writers
}
