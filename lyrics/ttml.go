package lyrics

import (
	"bytes"
	"encoding/xml"
	"math"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"lyricsplus-api-go/logcolors"
)

// Word-synced timed-text markup (TTML). The document skeleton is
// unmarshalled with struct tags; paragraph contents are re-walked
// token by token so that text nodes trailing a span (which belong to
// that span, not the next one) survive the conversion.

type ttmlDoc struct {
	XMLName xml.Name `xml:"tt"`
	Timing  string   `xml:"timing,attr"`
	Lang    string   `xml:"lang,attr"`
	Head    ttmlHead `xml:"head"`
	Body    ttmlBody `xml:"body"`
}

type ttmlHead struct {
	Agents []ttmlAgent    `xml:"metadata>agent"`
	Title  string         `xml:"metadata>title"`
	ITunes *ttmlItunesMeta `xml:"metadata>iTunesMetadata"`
}

type ttmlAgent struct {
	ID   string `xml:"id,attr"`
	Type string `xml:"type,attr"`
	Name string `xml:"name"`
}

type ttmlItunesMeta struct {
	LeadingSilence   string        `xml:"leadingSilence,attr"`
	Songwriters      []string      `xml:"songwriters>songwriter"`
	Translations     []ttmlSideSet `xml:"translations>translation"`
	Transliterations []ttmlSideSet `xml:"transliterations>transliteration"`
}

type ttmlSideSet struct {
	Lang  string          `xml:"lang,attr"`
	Texts []ttmlKeyedText `xml:"text"`
}

type ttmlKeyedText struct {
	For   string `xml:"for,attr"`
	Inner []byte `xml:",innerxml"`
}

type ttmlBody struct {
	Dur  string    `xml:"dur,attr"`
	Divs []ttmlDiv `xml:"div"`
}

type ttmlDiv struct {
	SongPart   string          `xml:"song-part,attr"`
	Paragraphs []ttmlParagraph `xml:"p"`
}

type ttmlParagraph struct {
	Begin string `xml:"begin,attr"`
	End   string `xml:"end,attr"`
	Key   string `xml:"key,attr"`
	Agent string `xml:"agent,attr"`
	Inner []byte `xml:",innerxml"`
}

// ParseTTML converts timed-text markup into a canonical document.
// offsetMs shifts every timestamp; separate disables folding trailing
// text nodes into the preceding span. Returns nil when the markup
// cannot be parsed at all; individual malformed lines are skipped.
func ParseTTML(ttml string, offsetMs int, separate bool) *Document {
	var parsed ttmlDoc
	if err := xml.Unmarshal([]byte(ttml), &parsed); err != nil {
		log.Warnf("%s Failed to parse TTML document: %v", logcolors.LogTTMLParser, err)
		return nil
	}

	timing := parsed.Timing
	if timing == "" {
		timing = string(SyncWord)
	}

	doc := &Document{
		Type:   SyncType(timing),
		Cached: CachedNone,
		Metadata: Metadata{
			Source:        "Apple Music",
			Title:         strings.TrimSpace(parsed.Head.Title),
			Language:      parsed.Lang,
			TotalDuration: parsed.Body.Dur,
			SongWriters:   []string{},
			Agents:        map[string]Agent{},
		},
	}

	for _, a := range parsed.Head.Agents {
		if a.ID == "" {
			continue
		}
		agentType := a.Type
		if agentType == "" {
			agentType = "person"
		}
		doc.Metadata.Agents[a.ID] = Agent{
			Type:  agentType,
			Name:  strings.TrimSpace(a.Name),
			Alias: strings.Replace(a.ID, "voice", "v", 1),
		}
	}

	translations := map[string]*SideText{}
	transliterations := map[string]*SideText{}
	if meta := parsed.Head.ITunes; meta != nil {
		doc.Metadata.LeadingSilence = meta.LeadingSilence
		for _, sw := range meta.Songwriters {
			if name := strings.TrimSpace(sw); name != "" {
				doc.Metadata.SongWriters = append(doc.Metadata.SongWriters, name)
			}
		}
		for _, set := range meta.Translations {
			for _, text := range set.Texts {
				if text.For == "" {
					continue
				}
				_, plain := walkSpans(text.Inner, offsetMs, separate)
				translations[text.For] = &SideText{Lang: set.Lang, Text: strings.TrimSpace(plain)}
			}
		}
		for _, set := range meta.Transliterations {
			for _, text := range set.Texts {
				if text.For == "" {
					continue
				}
				syllables, plain := walkSpans(text.Inner, offsetMs, separate)
				if len(syllables) == 0 {
					continue
				}
				transliterations[text.For] = &SideText{
					Lang:      set.Lang,
					Text:      strings.TrimSpace(plain),
					Syllables: syllables,
				}
			}
		}
	}

	for _, div := range parsed.Body.Divs {
		for _, p := range div.Paragraphs {
			line := Line{
				Syllables: []Syllable{},
				Element:   Element{Key: p.Key, SongPart: div.SongPart, Singer: strings.Replace(p.Agent, "voice", "v", 1)},
			}

			syllables, plain := walkSpans(p.Inner, offsetMs, separate)
			if len(syllables) > 0 && doc.Type == SyncWord {
				line.Syllables = syllables
				var text strings.Builder
				for _, s := range syllables {
					text.WriteString(s.Text)
				}
				line.Text = text.String()
			} else if p.Begin != "" && p.End != "" {
				// Paragraph-level timing only: one syllable spanning the line.
				text := strings.TrimSpace(plain)
				if text != "" {
					begin := parseTTMLTime(p.Begin) + offsetMs
					line.Syllables = []Syllable{{
						Time:     begin,
						Duration: parseTTMLTime(p.End) + offsetMs - begin,
						Text:     text,
					}}
					line.Text = text
				}
			}

			if len(line.Syllables) == 0 {
				continue
			}

			line.Time, line.Duration = DeriveTiming(line.Syllables)
			if p.Key != "" {
				line.Translation = translations[p.Key]
				line.Transliteration = transliterations[p.Key]
			}
			doc.Lines = append(doc.Lines, line)
		}
	}

	return doc
}

// walkSpans tokenizes paragraph (or side-channel) markup, emitting one
// syllable per timed leaf span. Text nodes directly after a timed span
// fold into it unless separate is requested; spans under an x-bg role
// are flagged as background vocals whether or not the wrapper carries
// its own timing. plain accumulates every text node for line-level
// extraction.
func walkSpans(inner []byte, offsetMs int, separate bool) ([]Syllable, string) {
	type openSpan struct {
		timed      bool
		background bool
		nested     bool
		begin, end string
		text       strings.Builder
	}

	dec := xml.NewDecoder(bytes.NewReader(inner))
	var stack []*openSpan
	var syllables []Syllable
	var tailHadSpace []bool
	var plain strings.Builder
	tailTarget := -1

	bgActive := func() bool {
		for _, s := range stack {
			if s.background {
				return true
			}
		}
		return false
	}
	innermostTimed := func() *openSpan {
		if len(stack) > 0 && stack[len(stack)-1].timed {
			return stack[len(stack)-1]
		}
		return nil
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "span" {
				tailTarget = -1
				continue
			}
			span := &openSpan{}
			for _, attr := range t.Attr {
				switch attr.Name.Local {
				case "begin":
					span.begin = attr.Value
				case "end":
					span.end = attr.Value
				case "role":
					if attr.Value == "x-bg" {
						span.background = true
					}
				}
			}
			span.timed = span.begin != ""
			span.background = span.background || bgActive()
			if len(stack) > 0 {
				stack[len(stack)-1].nested = true
			}
			stack = append(stack, span)
			tailTarget = -1

		case xml.EndElement:
			if t.Name.Local != "span" || len(stack) == 0 {
				tailTarget = -1
				continue
			}
			span := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if span.timed && !span.nested {
				begin := parseTTMLTime(span.begin) + offsetMs
				syllables = append(syllables, Syllable{
					Time:         begin,
					Duration:     parseTTMLTime(span.end) + offsetMs - begin,
					Text:         span.text.String(),
					IsBackground: span.background,
				})
				tailHadSpace = append(tailHadSpace, false)
				if separate {
					tailTarget = -1
				} else {
					tailTarget = len(syllables) - 1
				}
			} else {
				tailTarget = -1
			}

		case xml.CharData:
			text := string(t)
			plain.WriteString(text)
			if span := innermostTimed(); span != nil {
				span.text.WriteString(text)
			} else if tailTarget >= 0 {
				syllables[tailTarget].Text += text
				if strings.Contains(text, " ") {
					tailHadSpace[tailTarget] = true
				}
			}
		}
	}

	// Drop whitespace-only syllables unless their trailing text carried
	// a real word separator.
	kept := syllables[:0]
	for i, s := range syllables {
		if strings.TrimSpace(s.Text) == "" && !tailHadSpace[i] {
			continue
		}
		kept = append(kept, s)
	}
	return kept, plain.String()
}

// parseTTMLTime converts H:MM:SS.mmm, MM:SS.mmm, or SS.mmm to integer
// milliseconds, detecting the format by colon count.
func parseTTMLTime(value string) int {
	if value == "" {
		return 0
	}
	parts := strings.Split(value, ":")
	var seconds float64
	switch len(parts) {
	case 3:
		h, _ := strconv.ParseFloat(parts[0], 64)
		m, _ := strconv.ParseFloat(parts[1], 64)
		s, _ := strconv.ParseFloat(parts[2], 64)
		seconds = h*3600 + m*60 + s
	case 2:
		m, _ := strconv.ParseFloat(parts[0], 64)
		s, _ := strconv.ParseFloat(parts[1], 64)
		seconds = m*60 + s
	default:
		seconds, _ = strconv.ParseFloat(parts[0], 64)
	}
	return int(math.Round(seconds * 1000))
}
